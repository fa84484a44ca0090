package app

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/charlesng35/popshop/internal/shopify"
	"github.com/charlesng35/popshop/pkg/crypto"
)

const devSecretBytes = 32

// ApplyRuntimeDefaults fills settings that have sensible derived values and
// returns the keys it populated so callers can log them without exposing values.
// A missing API secret is only generated when allowDevSecret is set; a random
// secret cannot validate real Shopify traffic.
func ApplyRuntimeDefaults(cfg *Config, allowDevSecret bool) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if len(cfg.Shopify.WebhookTopics) == 0 {
		cfg.Shopify.WebhookTopics = append([]string(nil), shopify.DefaultTopics...)
		generated["shopify.webhook_topics"] = true
	}

	if strings.TrimSpace(cfg.Shopify.APIVersion) == "" {
		cfg.Shopify.APIVersion = shopify.DefaultAPIVersion
		generated["shopify.api_version"] = true
	}

	if allowDevSecret && strings.TrimSpace(cfg.Shopify.APISecret) == "" {
		secret, err := crypto.GenerateToken(devSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate api secret: %w", err)
		}
		cfg.Shopify.APISecret = secret
		generated["shopify.api_secret"] = true
	}

	return generated, nil
}

// Validate reports every missing setting required to talk to Shopify.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var err error
	if strings.TrimSpace(c.Shopify.APIKey) == "" {
		err = multierr.Append(err, errors.New("shopify.api_key (SHOPIFY_API_KEY) is required"))
	}
	if strings.TrimSpace(c.Shopify.APISecret) == "" {
		err = multierr.Append(err, errors.New("shopify.api_secret (SHOPIFY_API_SECRET) is required"))
	}
	if strings.TrimSpace(c.Shopify.AppURL) == "" {
		err = multierr.Append(err, errors.New("shopify.app_url (SHOPIFY_APP_URL) is required"))
	}
	if c.Archive.Enabled && strings.TrimSpace(c.Archive.S3.Bucket) == "" {
		err = multierr.Append(err, errors.New("archive.s3.bucket is required when archiving is enabled"))
	}
	return err
}
