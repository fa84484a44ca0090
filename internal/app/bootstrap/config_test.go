package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
shopify:
  api_key: key
  api_secret: secret
  app_url: https://popshop.example.com/
database:
  driver: sqlite
  path: ./popshop.sqlite
`

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(sampleConfig), 0o600))

	cfg, generated, err := LoadConfig(file, false)
	require.NoError(t, err)
	require.Equal(t, "https://popshop.example.com", cfg.Shopify.AppURL)
	require.True(t, generated["shopify.webhook_topics"])
	require.False(t, generated["shopify.api_secret"])
}

func TestLoadConfigMissingPath(t *testing.T) {
	_, _, err := LoadConfig(filepath.Join(t.TempDir(), "missing"), false)
	require.ErrorContains(t, err, "does not exist")
}

func TestLoadConfigRequiresShopifyCredentials(t *testing.T) {
	t.Setenv("SHOPIFY_API_KEY", "")
	t.Setenv("SHOPIFY_API_SECRET", "")
	t.Setenv("SHOPIFY_APP_URL", "")

	_, _, err := LoadConfig(t.TempDir(), false)
	require.ErrorContains(t, err, "shopify.api_key")
	require.ErrorContains(t, err, "shopify.api_secret")

	t.Setenv("SHOPIFY_API_KEY", "key")
	t.Setenv("SHOPIFY_APP_URL", "http://localhost:3000")
	cfg, generated, err := LoadConfig(t.TempDir(), true)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Shopify.APISecret)
	require.True(t, generated["shopify.api_secret"])
}
