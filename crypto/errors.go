// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"fmt"

	"github.com/luxfi/sbd/sbderr"
)

func unsupported(k Kind) error {
	return sbderr.New(fmt.Sprintf("crypto.New(%s)", k), sbderr.Unsupported)
}

func cryptoInit(op string, err error) error {
	return sbderr.Wrap(op, sbderr.CryptoInit, err)
}

func cryptoFail(op string, err error) error {
	return sbderr.Wrap(op, sbderr.CryptoFail, err)
}

func tagMismatch(op string) error {
	return sbderr.New(op, sbderr.TagMismatch)
}

func illegalParam(op string) error {
	return sbderr.New(op, sbderr.IllegalParam)
}
