// Copyright (C) 2019-2024, Lux Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package log

import (
	"github.com/luxfi/log"
)

// Logger is a re-export of the logging interface every package in this
// module takes as a dependency, so callers never need to import
// github.com/luxfi/log directly.
type Logger = log.Logger

// Default returns the logger used when a caller passes nil: a no-op
// sink, matching NoLog below.
func Default() Logger {
	return NewNoOpLogger()
}
