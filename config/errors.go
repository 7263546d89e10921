// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import "errors"

var (
	ErrInvalidCacheCapacity     = errors.New("config: cache capacity must be >= 1")
	ErrInvalidCipherKind        = errors.New("config: unsupported cipher kind")
	ErrInvalidMaxWrappedKeySize = errors.New("config: max wrapped key size out of range")
)
