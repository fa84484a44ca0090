package logger

import (
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	mu           sync.RWMutex
)

// redactedKeys lists header and field names whose values never reach the logs.
var redactedKeys = map[string]struct{}{
	"password":               {},
	"token":                  {},
	"accesstoken":            {},
	"access_token":           {},
	"refreshtoken":           {},
	"authorization":          {},
	"apikey":                 {},
	"api_key":                {},
	"cookie":                 {},
	"set-cookie":             {},
	"x-shopify-access-token": {},
	"x-shopify-hmac-sha256":  {},
}

const redacted = "[REDACTED]"

func init() {
	globalLogger = zap.NewNop()
}

// Init configures the global logger. Unknown levels fall back to info and the
// "console" encoding switches to the human readable development encoder.
func Init(level, encoding string) error {
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(encoding, "console") {
		cfg = zap.NewDevelopmentConfig()
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := cfg.Build()
	if err != nil {
		return err
	}

	Replace(built)
	return nil
}

// Replace swaps the global logger. Tests use it to install an observer core.
func Replace(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	globalLogger = l
	mu.Unlock()
}

// Logger returns the configured global logger.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return globalLogger
}

// Sync flushes buffered log entries.
func Sync() error {
	return Logger().Sync()
}

// WithModule returns a child logger annotated with the module name.
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}

// IsSensitive reports whether values stored under key must be redacted.
func IsSensitive(key string) bool {
	_, ok := redactedKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// Headers renders request headers as a zap field with sensitive values masked.
func Headers(key string, h http.Header) zap.Field {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if IsSensitive(name) {
			out[name] = redacted
			continue
		}
		out[name] = strings.Join(values, ",")
	}
	return zap.Any(key, out)
}

// Redact returns a shallow copy of fields with sensitive values masked,
// descending into nested maps.
func Redact(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if IsSensitive(k) {
			out[k] = redacted
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}
