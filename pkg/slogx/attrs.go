package slogx

import (
	"fmt"
	"log/slog"
)

// Error returns an "error" attribute holding the error message. A nil error
// yields an empty attribute, which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// ByteString logs a byte slice as a string.
func ByteString(key string, value []byte) slog.Attr {
	return slog.String(key, string(value))
}

// Stringer logs the String form of value.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

const (
	// KeyLoggerName is the attribute key naming the component that logs.
	KeyLoggerName = "logger"
)

// LoggerName returns the attribute naming the component that logs.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// Named returns logger scoped to the named component, falling back to the
// default logger when logger is nil.
func Named(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(LoggerName(name))
}
