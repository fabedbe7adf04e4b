// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package log

import (
	"log/slog"
	"os"

	slogger "github.com/SENERGY-Platform/go-service-base/struct-logger"
	"github.com/SENERGY-Platform/go-service-base/struct-logger/attributes"

	"github.com/Thermoquad/snappyd/pkg/configuration"
)

// Logger is the process-wide structured logger. Init replaces it with the
// configured handler; until then it is the slog default so early failures
// and package tests stay visible.
var Logger = slog.Default()

func Init(config configuration.Config) {
	options := &slog.HandlerOptions{
		AddSource: false,
		Level:     slogger.GetLevel(config.LogLevel, slog.LevelInfo),
	}

	handler := slogger.GetHandler(config.LogHandler, os.Stdout, options, slog.Default().Handler())
	handler = handler.WithAttrs([]slog.Attr{
		slog.String(attributes.ProjectKey, "github.com/Thermoquad/snappyd"),
	})

	Logger = slog.New(handler)

	Logger.Debug("Logger Init")
}
