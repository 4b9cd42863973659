// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package gl_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/go-gl/gl/v4.6-core/gl"
	"honnef.co/go/ptrace/renderer"
)

// enableDebugOutput routes the driver's debug messages to the logger.
// Messages of type GL_DEBUG_TYPE_ERROR are also kept as the pending device
// error. Output is synchronous so the error belongs to the command that
// caused it.
func (eng *Engine) enableDebugOutput() {
	gl.Enable(gl.DEBUG_OUTPUT)
	gl.Enable(gl.DEBUG_OUTPUT_SYNCHRONOUS)
	gl.DebugMessageCallback(func(source, gltype, id, severity uint32, length int32, message string, userParam unsafe.Pointer) {
		eng.debugMessage(gltype, id, severity, message)
	}, nil)
}

func (eng *Engine) debugMessage(gltype, id, severity uint32, message string) {
	level := debugLevel(gltype, severity)
	renderer.Logger().Log(context.Background(), level, "OpenGL debug message",
		"type", fmt.Sprintf("0x%04x", gltype),
		"id", id,
		"severity", fmt.Sprintf("0x%04x", severity),
		"message", message)
	if gltype == gl.DEBUG_TYPE_ERROR && eng.debugErr == nil {
		eng.debugErr = errors.New(message)
	}
}

func debugLevel(gltype, severity uint32) slog.Level {
	if gltype == gl.DEBUG_TYPE_ERROR {
		return slog.LevelError
	}
	switch severity {
	case gl.DEBUG_SEVERITY_HIGH:
		return slog.LevelWarn
	case gl.DEBUG_SEVERITY_NOTIFICATION:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
