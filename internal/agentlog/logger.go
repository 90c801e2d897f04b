// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of ssh-agentd.
//
// ssh-agentd is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package agentlog provides the leveled, structured Logger interface used
// throughout the agent. Every RequestHandler dispatch logs one line per
// request carrying the request kind, the fingerprint of any key(s)
// touched, and the outcome; secret key material is never logged.
package agentlog

import "context"

// Level represents the log level
type Level int

const (
	// LevelDebug is for detailed debugging information
	LevelDebug Level = iota
	// LevelInfo is for general informational messages
	LevelInfo
	// LevelWarn is for warning messages
	LevelWarn
	// LevelError is for error messages
	LevelError
	// LevelFatal is for fatal error messages (program will exit)
	LevelFatal
)

// String returns the string representation of the log level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Logger is the interface for logging adapters
// Applications implement this interface to integrate their logging system
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an informational message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)

	// Fatal logs a fatal error message and exits the program
	Fatal(msg string, fields ...Field)

	// DebugContext logs a debug message, adding the request's correlation
	// id from ctx (if any) as a field
	DebugContext(ctx context.Context, msg string, fields ...Field)

	// InfoContext logs an informational message, adding the request's
	// correlation id from ctx (if any) as a field
	InfoContext(ctx context.Context, msg string, fields ...Field)

	// WarnContext logs a warning message, adding the request's
	// correlation id from ctx (if any) as a field
	WarnContext(ctx context.Context, msg string, fields ...Field)

	// ErrorContext logs an error message, adding the request's
	// correlation id from ctx (if any) as a field
	ErrorContext(ctx context.Context, msg string, fields ...Field)

	// With creates a child logger with the given fields
	With(fields ...Field) Logger

	// WithError creates a child logger with an error field
	WithError(err error) Logger
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Float64 creates a float64 field
func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a bool field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Error creates an error field
func Error(err error) Field {
	return Field{Key: "error", Value: err}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Strings creates a string slice field
func Strings(key string, values []string) Field {
	return Field{Key: key, Value: values}
}

// Ints creates an int slice field
func Ints(key string, values []int) Field {
	return Field{Key: key, Value: values}
}

// Fingerprint creates a field carrying a key's SHA256 fingerprint, in the
// "SHA256:base64" form OpenSSH uses, computed over the public blob. It is
// the only form a key may take in a log line; raw blobs and secret
// material are never logged.
func Fingerprint(key string, publicBlob []byte) Field {
	return Field{Key: key, Value: fingerprintSHA256(publicBlob)}
}
