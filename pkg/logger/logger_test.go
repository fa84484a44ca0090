package logger

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitConfiguresGlobalLogger(t *testing.T) {
	t.Cleanup(func() { Replace(nil) })

	require.NoError(t, Init("debug", "json"))
	require.True(t, Logger().Core().Enabled(zap.DebugLevel))

	require.NoError(t, Init("not-a-level", "console"))
	require.False(t, Logger().Core().Enabled(zap.DebugLevel))
	require.True(t, Logger().Core().Enabled(zap.InfoLevel))
}

func TestWithModuleAttachesModuleField(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	t.Cleanup(func() { Replace(nil) })
	Replace(zap.New(core))

	WithModule("cache").Info("module test")

	entries := recorded.All()
	require.Len(t, entries, 1)
	require.Equal(t, "cache", entries[0].ContextMap()["module"])
}

func TestHeadersRedactsSensitiveValues(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	t.Cleanup(func() { Replace(nil) })
	Replace(zap.New(core))

	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("X-Shopify-Hmac-Sha256", "abc")
	h.Set("Accept", "application/json")

	Logger().Info("headers", Headers("headers", h))

	fields := recorded.All()[0].ContextMap()["headers"].(map[string]string)
	require.Equal(t, "[REDACTED]", fields["Authorization"])
	require.Equal(t, "[REDACTED]", fields["X-Shopify-Hmac-Sha256"])
	require.Equal(t, "application/json", fields["Accept"])
}

func TestRedactNestedMaps(t *testing.T) {
	in := map[string]any{
		"shop":  "demo.myshopify.com",
		"token": "shpat_123",
		"session": map[string]any{
			"accessToken": "shpat_456",
			"scope":       "read_products",
		},
	}

	out := Redact(in)
	require.Equal(t, "demo.myshopify.com", out["shop"])
	require.Equal(t, "[REDACTED]", out["token"])
	nested := out["session"].(map[string]any)
	require.Equal(t, "[REDACTED]", nested["accessToken"])
	require.Equal(t, "read_products", nested["scope"])
	require.Equal(t, "shpat_123", in["token"], "input must not be mutated")
}
