// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package snappy

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Measurement is one decoded probe reading.
type Measurement struct {
	MAC   string
	Value uint16
}

// DecodeFrame parses a decrypted frame. The magic prefix occupies bytes 0
// through 6, the probe MAC bytes 7 through 12 and the big-endian value
// bytes 13 and 14. ok is false when the frame is too short to carry the
// value field or does not open with the prefix; malformed input never
// panics.
func DecodeFrame(frame []byte) (Measurement, bool) {
	if len(frame) < MinFrameLen || !bytes.HasPrefix(frame, FramePrefix) {
		return Measurement{}, false
	}
	m := frame[macOffset : macOffset+macLen]
	return Measurement{
		MAC:   fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5]),
		Value: binary.BigEndian.Uint16(frame[valueOffset:]),
	}, true
}
