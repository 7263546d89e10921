// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package header implements the versioned header block (spec §4.4): the
// device's size, wrapped data key and cipher choice, sealed under the
// caller-supplied master key so a wrong key or a tampered header is
// rejected before any data block is touched.
package header

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/luxfi/sbd/crypto"
	"github.com/luxfi/sbd/layout"
	"github.com/luxfi/sbd/sbderr"
)

var magic = [8]byte{'S', 'B', 'D', 'I', 'v', '1', 0, 0}

// Version is the current on-disk header format version.
const Version uint32 = 1

// keyWrapAAD and headerTagAAD domain-separate the per-field key-wrap
// operation from the whole-header integrity tag, even though both use
// the same master Capability.
var keyWrapAAD = []byte("sbd-header-key-v1")
var headerTagAAD = []byte("sbd-header-tag-v1")

// Header is the decoded contents of the device's header block.
type Header struct {
	Cipher crypto.Kind
	Key    []byte // unwrapped data key
	Size   uint64 // logical byte size
	Nonce  []byte // HKDF salt used to derive Key
}

// Encode seals h into a layout.BlockSize-byte block using mctx (always
// an AES-SIV-256 Capability from crypto.NewMasterContext). The wrapped
// key is authenticated-and-encrypted; everything else is authenticated
// in the clear so a reader can size its buffers before it has the
// master key.
func Encode(mctx crypto.Capability, h *Header) ([]byte, error) {
	const op = "header.Encode"
	if len(h.Key) == 0 || len(h.Key) > 64 {
		return nil, sbderr.New(op, sbderr.IllegalParam)
	}

	wrappedKey, keyTag, err := mctx.Encrypt(crypto.Zero, keyWrapAAD, h.Key)
	if err != nil {
		return nil, sbderr.Wrap(op, sbderr.CryptoFail, err)
	}
	wrapped := append(append([]byte(nil), wrappedKey...), keyTag...)

	var buf bytes.Buffer
	buf.Write(magic[:])
	_ = binary.Write(&buf, binary.LittleEndian, Version)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(h.Cipher))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(wrapped)))
	buf.Write(wrapped)
	_ = binary.Write(&buf, binary.LittleEndian, h.Size)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(h.Nonce)))
	buf.Write(h.Nonce)

	body := buf.Bytes()
	_, tag, err := mctx.Encrypt(crypto.Zero, appendAAD(headerTagAAD, body), nil)
	if err != nil {
		return nil, sbderr.Wrap(op, sbderr.CryptoFail, err)
	}

	out := make([]byte, layout.BlockSize)
	n := copy(out, body)
	n += copy(out[n:], tag)
	if n > layout.BlockSize {
		return nil, sbderr.New(op, sbderr.IllegalParam)
	}
	return out, nil
}

// Decode verifies and parses a header block. maxWrappedKeySize bounds
// the wrapped-key length field (config.Config.MaxWrappedKeySize) so a
// header claiming an oversized key is rejected before the proportional
// allocation at wrapped := make([]byte, wrappedLen), rather than only
// being bounded by layout.BlockSize. A tag mismatch (wrong master key,
// corruption, or a block that was never a valid header) returns
// sbderr.Kind TagMismatch. A block that reads back as all zeroes (never
// written) returns sbderr.Kind MissingBlock.
func Decode(mctx crypto.Capability, block []byte, maxWrappedKeySize int) (*Header, error) {
	const op = "header.Decode"
	if len(block) != layout.BlockSize {
		return nil, sbderr.New(op, sbderr.IllegalParam)
	}
	if isAllZero(block) {
		return nil, sbderr.New(op, sbderr.MissingBlock)
	}

	r := bytes.NewReader(block)
	var gotMagic [8]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil || gotMagic != magic {
		return nil, sbderr.New(op, sbderr.TagMismatch)
	}

	var version, cipher, wrappedLen uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, sbderr.New(op, sbderr.TagMismatch)
	}
	if err := binary.Read(r, binary.LittleEndian, &cipher); err != nil {
		return nil, sbderr.New(op, sbderr.TagMismatch)
	}
	if err := binary.Read(r, binary.LittleEndian, &wrappedLen); err != nil {
		return nil, sbderr.New(op, sbderr.TagMismatch)
	}
	if version != Version || int(wrappedLen) > maxWrappedKeySize+layout.TagSize || int(wrappedLen) > layout.BlockSize {
		return nil, sbderr.New(op, sbderr.TagMismatch)
	}

	wrapped := make([]byte, wrappedLen)
	if _, err := io.ReadFull(r, wrapped); err != nil {
		return nil, sbderr.New(op, sbderr.TagMismatch)
	}

	var size uint64
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, sbderr.New(op, sbderr.TagMismatch)
	}

	var nonceLen uint32
	if err := binary.Read(r, binary.LittleEndian, &nonceLen); err != nil {
		return nil, sbderr.New(op, sbderr.TagMismatch)
	}
	nonce := make([]byte, nonceLen)
	if nonceLen > 0 {
		if _, err := io.ReadFull(r, nonce); err != nil {
			return nil, sbderr.New(op, sbderr.TagMismatch)
		}
	}

	bodyLen := len(block) - r.Len()
	body := block[:bodyLen]
	tag := make([]byte, layout.TagSize)
	if _, err := io.ReadFull(r, tag); err != nil {
		return nil, sbderr.New(op, sbderr.TagMismatch)
	}

	if _, err := mctx.Decrypt(crypto.Zero, appendAAD(headerTagAAD, body), nil, tag); err != nil {
		return nil, sbderr.New(op, sbderr.TagMismatch)
	}

	if int(wrappedLen) < layout.TagSize {
		return nil, sbderr.New(op, sbderr.TagMismatch)
	}
	keyCiphertext := wrapped[:len(wrapped)-layout.TagSize]
	keyTag := wrapped[len(wrapped)-layout.TagSize:]
	key, err := mctx.Decrypt(crypto.Zero, keyWrapAAD, keyCiphertext, keyTag)
	if err != nil {
		return nil, sbderr.New(op, sbderr.TagMismatch)
	}

	return &Header{
		Cipher: crypto.Kind(cipher),
		Key:    key,
		Size:   size,
		Nonce:  nonce,
	}, nil
}

func appendAAD(label, body []byte) []byte {
	out := make([]byte, 0, len(label)+len(body))
	out = append(out, label...)
	out = append(out, body...)
	return out
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
