// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package snappy

import (
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// Device firmware derives its cipher nonce from the session key itself, so
// the key supplies both inputs. The counter starts at zero for every frame
// and a fresh cipher instance is used per frame.

// Encrypt XORs the device keystream over buf in place. The transform is
// self-inverse; Decrypt is the identical operation. key must be KeySize
// bytes.
func Encrypt(key []byte, counter uint32, buf []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("cipher init: key must be %d bytes, got %d", KeySize, len(key))
	}
	return xorKeyStream(key, key[:chacha20.NonceSize], counter, buf)
}

// Decrypt recovers a frame body in place. See Encrypt.
func Decrypt(key []byte, counter uint32, buf []byte) error {
	return Encrypt(key, counter, buf)
}

func xorKeyStream(key, nonce []byte, counter uint32, buf []byte) error {
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return fmt.Errorf("cipher init: %w", err)
	}
	c.SetCounter(counter)
	c.XORKeyStream(buf, buf)
	return nil
}
