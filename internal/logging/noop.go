package logging

import "context"

// NoopLogger discards all log output. Used in tests and as a safe
// default when no logger is wired.
type NoopLogger struct{}

func NewNoop() *NoopLogger { return &NoopLogger{} }

func (n *NoopLogger) Debug(string, ...interface{}) {}
func (n *NoopLogger) Info(string, ...interface{})  {}
func (n *NoopLogger) Warn(string, ...interface{})  {}
func (n *NoopLogger) Error(string, ...interface{}) {}

func (n *NoopLogger) InfoContext(context.Context, string, ...interface{})  {}
func (n *NoopLogger) WarnContext(context.Context, string, ...interface{})  {}
func (n *NoopLogger) ErrorContext(context.Context, string, ...interface{}) {}

func (n *NoopLogger) WithComponent(string) Logger { return n }
