package logging

import "gridbot/internal/core"

// NopLogger discards everything. Used in tests that need a core.ILogger but
// don't want zap's console output cluttering `go test -v`.
type NopLogger struct{}

func NewNop() core.ILogger { return NopLogger{} }

func (NopLogger) Debug(msg string, fields ...interface{}) {}
func (NopLogger) Info(msg string, fields ...interface{})  {}
func (NopLogger) Warn(msg string, fields ...interface{})  {}
func (NopLogger) Error(msg string, fields ...interface{}) {}
func (NopLogger) Fatal(msg string, fields ...interface{}) {}

func (l NopLogger) WithField(key string, value interface{}) core.ILogger { return l }
func (l NopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }
