// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package configuration holds the agent's runtime settings, loaded from
// the environment over code-level defaults.
package configuration

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/snappyd/pkg/snappy"
)

type Config struct {
	Host         string        `env_var:"SNAPPYD_HOST"`
	BasePort     uint          `env_var:"SNAPPYD_BASE_PORT"`
	PortAttempts uint          `env_var:"SNAPPYD_PORT_ATTEMPTS"`
	Transport    string        `env_var:"SNAPPYD_TRANSPORT"`
	KeyVector    KeyVectorSpec `env_var:"SNAPPYD_KEY_VECTOR"`
	LogLevel     string        `env_var:"SNAPPYD_LOG_LEVEL"`
	LogHandler   string        `env_var:"SNAPPYD_LOG_HANDLER"`
}

// KeyVectorSpec is the textual form of the 8-word derivation vector:
// comma-separated hex words, with or without 0x prefixes. Empty means the
// built-in default.
type KeyVectorSpec string

// Vector parses the textual form. On any parse failure the built-in
// default is returned alongside the error so callers can warn and continue.
func (s KeyVectorSpec) Vector() (snappy.KeyVector, error) {
	raw := strings.TrimSpace(string(s))
	if raw == "" {
		return snappy.DefaultKeyVector, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != len(snappy.DefaultKeyVector) {
		return snappy.DefaultKeyVector, fmt.Errorf("key vector needs %d words, got %d",
			len(snappy.DefaultKeyVector), len(parts))
	}
	var v snappy.KeyVector
	for i, p := range parts {
		p = strings.TrimPrefix(strings.TrimSpace(p), "0x")
		w, err := strconv.ParseUint(p, 16, 32)
		if err != nil {
			return snappy.DefaultKeyVector, fmt.Errorf("key vector word %d: %w", i, err)
		}
		v[i] = uint32(w)
	}
	return v, nil
}
