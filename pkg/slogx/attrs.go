// Package slogx provides slog attributes shared by the strix packages.
package slogx

import (
	"fmt"
	"log/slog"
)

const (
	// KeyLoggerName is the attribute key naming the component that logs.
	KeyLoggerName = "logger"
	// KeyError is the attribute key for errors.
	KeyError = "error"
)

// Error returns a slog.Attr holding the error message under KeyError.
//
// Parameters:
//   - err: The error to log. A nil error is logged as an empty attribute.
//
// Returns:
//   - slog.Attr: The attribute to pass to a logging call.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Stringer logs value by its String method.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

// LoggerName returns the attribute naming the component, for use with
// slog.Logger.With.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}
