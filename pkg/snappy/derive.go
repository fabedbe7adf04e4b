// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package snappy

import (
	"encoding/binary"
	"math/bits"
)

// Mixing constants, shared with device firmware.
const (
	mixGamma = 0x9e3779b9
	mixOr    = 0x85ebca6b
	mixMul   = 0xc2b2ae35
)

// NormalizeIdentity narrows a device serial number to the identity bytes
// used for key derivation. At most 16 characters are consumed; the rest of
// the serial is ignored. No padding is applied.
func NormalizeIdentity(serial string) []byte {
	id := make([]byte, 0, identityLen)
	for _, r := range serial {
		if len(id) == identityLen {
			break
		}
		id = append(id, byte(r))
	}
	return id
}

// DeriveKey computes the 32-byte symmetric key for a device identity.
//
// The key vector seeds an 8-word state. Each identity byte, offset by its
// position, is folded into one word round-robin, and the words are then
// serialized little-endian in a fixed permuted order. Equal identities
// always derive equal keys, so callers may cache the result per serial.
func DeriveKey(vector KeyVector, identity []byte) [KeySize]byte {
	state := vector
	for i, b := range identity {
		mix(&state[i%keyWords], uint32(b)+uint32(i))
	}
	var key [KeySize]byte
	for i := 0; i < keyWords; i++ {
		binary.LittleEndian.PutUint32(key[i*4:], state[(i*5)%keyWords])
	}
	return key
}

// mix folds one input word into one state word. All arithmetic wraps.
func mix(x *uint32, y uint32) {
	v := *x
	v ^= (y + mixGamma) * (v | mixOr)
	*x = bits.RotateLeft32(v, 13) * mixMul
}
