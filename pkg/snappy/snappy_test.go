// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package snappy

import (
	"bytes"
	"testing"
)

// ============================================================
// Key Derivation Tests
// ============================================================

func TestDeriveKey_Deterministic(t *testing.T) {
	id := NormalizeIdentity("SN-00042")
	k1 := DeriveKey(DefaultKeyVector, id)
	k2 := DeriveKey(DefaultKeyVector, id)
	if k1 != k2 {
		t.Errorf("Derivation should be deterministic:\n%x\n%x", k1, k2)
	}
}

func TestDeriveKey_EmptyIdentity(t *testing.T) {
	// With no input bytes the state is untouched, so the key is the key
	// vector serialized little-endian in the permuted word order
	// 0, 5, 2, 7, 4, 1, 6, 3.
	expected := []byte{
		0x44, 0x6d, 0x2f, 0x9c,
		0xe7, 0x92, 0x0b, 0x4f,
		0x0a, 0xbe, 0xc1, 0xf2,
		0xa8, 0x2f, 0x13, 0xe6,
		0x6b, 0x8d, 0x11, 0x3e,
		0x79, 0x31, 0x8b, 0xa6,
		0x5c, 0x78, 0xac, 0x1d,
		0xf1, 0xc3, 0x54, 0x7d,
	}
	key := DeriveKey(DefaultKeyVector, nil)
	if !bytes.Equal(key[:], expected) {
		t.Errorf("Key mismatch:\nexpected %x\ngot      %x", expected, key)
	}
}

func TestDeriveKey_IdentitySensitivity(t *testing.T) {
	k1 := DeriveKey(DefaultKeyVector, NormalizeIdentity("SN-00042"))
	k2 := DeriveKey(DefaultKeyVector, NormalizeIdentity("SN-00043"))
	if k1 == k2 {
		t.Error("Distinct identities must not derive the same key")
	}
}

func TestDeriveKey_VectorSensitivity(t *testing.T) {
	vector := DefaultKeyVector
	vector[0]++
	id := NormalizeIdentity("SN-00042")
	if DeriveKey(DefaultKeyVector, id) == DeriveKey(vector, id) {
		t.Error("Distinct key vectors must not derive the same key")
	}
}

func TestDeriveKey_PositionSensitivity(t *testing.T) {
	// Same bytes in a different order reach different state words with
	// different offsets.
	k1 := DeriveKey(DefaultKeyVector, []byte{0x01, 0x02})
	k2 := DeriveKey(DefaultKeyVector, []byte{0x02, 0x01})
	if k1 == k2 {
		t.Error("Byte order must affect the derived key")
	}
}

func TestNormalizeIdentity(t *testing.T) {
	tests := []struct {
		name     string
		serial   string
		expected []byte
	}{
		{
			name:     "short serial passes through",
			serial:   "SNAP01",
			expected: []byte("SNAP01"),
		},
		{
			name:     "long serial truncated to 16",
			serial:   "0123456789ABCDEF0123",
			expected: []byte("0123456789ABCDEF"),
		},
		{
			name:     "empty serial",
			serial:   "",
			expected: []byte{},
		},
		{
			name:     "non-ascii narrowed to low byte",
			serial:   "Sé",
			expected: []byte{'S', 0xe9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeIdentity(tt.serial)
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("Identity mismatch: expected %x, got %x", tt.expected, got)
			}
		})
	}
}

// ============================================================
// Cipher Tests
// ============================================================

func TestCipher_RoundTrip(t *testing.T) {
	key := DeriveKey(DefaultKeyVector, NormalizeIdentity("SN-00042"))
	original := []byte("the quick brown fox jumps over the lazy dog")

	buf := append([]byte(nil), original...)
	if err := Encrypt(key[:], 0, buf); err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}
	if bytes.Equal(buf, original) {
		t.Fatal("Ciphertext should differ from plaintext")
	}
	if err := Decrypt(key[:], 0, buf); err != nil {
		t.Fatalf("Decrypt error: %v", err)
	}
	if !bytes.Equal(buf, original) {
		t.Errorf("Round trip mismatch:\nexpected %x\ngot      %x", original, buf)
	}
}

func TestCipher_Deterministic(t *testing.T) {
	key := DeriveKey(DefaultKeyVector, NormalizeIdentity("SN-00042"))
	b1 := []byte("payload payload payload")
	b2 := append([]byte(nil), b1...)

	if err := Encrypt(key[:], 0, b1); err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}
	if err := Encrypt(key[:], 0, b2); err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Error("Keystream must be deterministic for a fixed key and counter")
	}
}

func TestCipher_CounterAdvancesKeystream(t *testing.T) {
	key := DeriveKey(DefaultKeyVector, NormalizeIdentity("SN-00042"))
	b1 := make([]byte, 32)
	b2 := make([]byte, 32)

	if err := Encrypt(key[:], 0, b1); err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}
	if err := Encrypt(key[:], 1, b2); err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}
	if bytes.Equal(b1, b2) {
		t.Error("Distinct counters must produce distinct keystream")
	}
}

func TestCipher_KeystreamKnownVector(t *testing.T) {
	// All-zero key and nonce at counter 0: the canonical ChaCha20 first
	// keystream block.
	expected := []byte{
		0x76, 0xb8, 0xe0, 0xad, 0xa0, 0xf1, 0x3d, 0x90,
		0x40, 0x5d, 0x6a, 0xe5, 0x53, 0x86, 0xbd, 0x28,
		0xbd, 0xd2, 0x19, 0xb8, 0xa0, 0x8d, 0xed, 0x1a,
		0xa8, 0x36, 0xef, 0xcc, 0x8b, 0x77, 0x0d, 0xc7,
		0xda, 0x41, 0x59, 0x7c, 0x51, 0x57, 0x48, 0x8d,
		0x77, 0x24, 0xe0, 0x3f, 0xb8, 0xd8, 0x4a, 0x37,
		0x6a, 0x43, 0xb8, 0xf4, 0x15, 0x18, 0xa1, 0x1c,
		0xc3, 0x87, 0xb6, 0x69, 0xb2, 0xee, 0x65, 0x86,
	}

	key := make([]byte, KeySize)
	nonce := make([]byte, 12)
	buf := make([]byte, 64)
	if err := xorKeyStream(key, nonce, 0, buf); err != nil {
		t.Fatalf("xorKeyStream error: %v", err)
	}
	if !bytes.Equal(buf, expected) {
		t.Errorf("Keystream mismatch:\nexpected %x\ngot      %x", expected, buf)
	}
}

func TestCipher_KeySuppliesNonce(t *testing.T) {
	// Two keys sharing the first 12 bytes but differing afterwards must
	// still produce distinct keystream, proving the whole key matters and
	// not just the nonce-providing head.
	k1 := make([]byte, KeySize)
	k2 := make([]byte, KeySize)
	k2[20] = 0xff

	b1 := make([]byte, 32)
	b2 := make([]byte, 32)
	if err := Encrypt(k1, 0, b1); err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}
	if err := Encrypt(k2, 0, b2); err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}
	if bytes.Equal(b1, b2) {
		t.Error("Key tail must affect the keystream")
	}
}

func TestCipher_RejectsShortKey(t *testing.T) {
	if err := Encrypt(make([]byte, 16), 0, make([]byte, 8)); err == nil {
		t.Error("Expected error for short key")
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecodeFrame_KnownValue(t *testing.T) {
	frame := []byte{
		0x53, 0x4e, 0x41, 0x50, 0x50, 0x59, 0x3a,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06,
		0x00, 0x2a,
	}
	m, ok := DecodeFrame(frame)
	if !ok {
		t.Fatal("Expected a decoded measurement")
	}
	if m.MAC != "01:02:03:04:05:06" {
		t.Errorf("MAC mismatch: expected 01:02:03:04:05:06, got %s", m.MAC)
	}
	if m.Value != 42 {
		t.Errorf("Value mismatch: expected 42, got %d", m.Value)
	}
}

func TestDecodeFrame_ValueBigEndian(t *testing.T) {
	frame := make([]byte, MinFrameLen)
	copy(frame, FramePrefix)
	frame[13] = 0x12
	frame[14] = 0x34
	m, ok := DecodeFrame(frame)
	if !ok {
		t.Fatal("Expected a decoded measurement")
	}
	if m.Value != 0x1234 {
		t.Errorf("Value mismatch: expected 0x1234, got 0x%04x", m.Value)
	}
}

func TestDecodeFrame_MACFormatting(t *testing.T) {
	frame := make([]byte, MinFrameLen)
	copy(frame, FramePrefix)
	copy(frame[7:13], []byte{0xde, 0xad, 0xbe, 0xef, 0x0a, 0xb0})
	m, ok := DecodeFrame(frame)
	if !ok {
		t.Fatal("Expected a decoded measurement")
	}
	if m.MAC != "de:ad:be:ef:0a:b0" {
		t.Errorf("MAC mismatch: expected de:ad:be:ef:0a:b0, got %s", m.MAC)
	}
}

func TestDecodeFrame_TooShort(t *testing.T) {
	// Prefix present so the length check alone rejects.
	for length := 0; length < MinFrameLen; length++ {
		frame := make([]byte, length)
		copy(frame, FramePrefix)
		if _, ok := DecodeFrame(frame); ok {
			t.Errorf("Length %d should not decode", length)
		}
	}
}

func TestDecodeFrame_RejectsWrongPrefix(t *testing.T) {
	frame := make([]byte, MinFrameLen)
	copy(frame, FramePrefix)
	frame[0] ^= 0xff
	if _, ok := DecodeFrame(frame); ok {
		t.Error("Corrupted prefix should not decode")
	}
	if _, ok := DecodeFrame(make([]byte, MinFrameLen)); ok {
		t.Error("Missing prefix should not decode")
	}
}

func TestDecodeFrame_TrailingBytesIgnored(t *testing.T) {
	frame := make([]byte, 24)
	copy(frame, FramePrefix)
	copy(frame[7:13], []byte{1, 2, 3, 4, 5, 6})
	frame[13] = 0x00
	frame[14] = 0x07
	m, ok := DecodeFrame(frame)
	if !ok {
		t.Fatal("Expected a decoded measurement")
	}
	if m.MAC != "01:02:03:04:05:06" || m.Value != 7 {
		t.Errorf("Unexpected decode: %+v", m)
	}
}
