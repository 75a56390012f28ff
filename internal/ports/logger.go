package ports

import "context"

// Logger is the structured logger every service writes through. Fields are
// merged in order; later maps win on duplicate keys.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs err next to msg at Error level.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

var _ Logger = NopLogger{}

func (NopLogger) Debug(context.Context, string, ...map[string]interface{}) {}
func (NopLogger) Info(context.Context, string, ...map[string]interface{}) {}
func (NopLogger) Warn(context.Context, string, ...map[string]interface{}) {}
func (NopLogger) Error(context.Context, error, string, ...map[string]interface{}) {}
