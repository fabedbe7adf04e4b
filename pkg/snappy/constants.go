// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package snappy implements the wire protocol of the Snappy measurement device.
//
// Snappy devices stream CRLF-delimited ciphertext frames over a serial port
// or a USB bulk endpoint. Every frame carries a magic prefix, is encrypted
// with a ChaCha20 keystream keyed from the device serial number, and decodes
// to a probe MAC address and a measurement value. This package provides key
// derivation, frame decryption, stream reassembly, and record decoding.
package snappy

// USB identifiers
const (
	VendorID = 0xb1b0

	ProductIDLegacy = 0x5508
	ProductIDRevB   = 0x8055
)

// ProductIDs lists every product id the agent binds to. Both revisions
// speak the same frame layout.
var ProductIDs = []uint16{ProductIDLegacy, ProductIDRevB}

// DeviceName is the display name reported in connection events.
const DeviceName = "Snappy"

// Frame layout
const (
	MaxAccumulate = 4096 // runaway ceiling for delimiter-free input
	MinFrameLen   = 15   // value field ends at offset 15

	macOffset   = 7
	macLen      = 6
	valueOffset = 13
)

// FramePrefix opens every frame once decrypted. Frames whose plaintext
// does not begin with it are noise and are discarded.
var FramePrefix = []byte("SNAPPY:")

// FrameDelimiter terminates every frame.
var FrameDelimiter = []byte("\r\n")

// Key material sizes
const (
	KeySize     = 32 // derived symmetric key bytes
	keyWords    = 8  // derivation state words
	identityLen = 16 // serial characters consumed by derivation
)

// KeyVector is the 8-word initial state for key derivation.
type KeyVector [keyWords]uint32

// DefaultKeyVector seeds key derivation when no vector is configured. It
// must match the vector compiled into device firmware.
var DefaultKeyVector = KeyVector{
	0x9c2f6d44, 0xa68b3179, 0xf2c1be0a, 0x7d54c3f1,
	0x3e118d6b, 0x4f0b92e7, 0x1dac785c, 0xe6132fa8,
}
