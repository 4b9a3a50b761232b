package logger

import (
	"context"
)

// Logger is the structured logger used across the module. Every method takes
// an optional error, added as the "error" field, and optional field maps.
//
// The pool and transaction packages only need the *WithContext methods and
// declare that subset themselves, so any Logger can be handed to them.
type Logger interface {
	Debug(msg string, err error, fields ...map[string]interface{})
	Info(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})

	// DebugWithContext and the other *WithContext variants add trace
	// correlation fields taken from ctx when tracing is enabled.
	DebugWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	InfoWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
}
