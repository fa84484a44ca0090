// Package shopify talks to the Shopify platform: OAuth installs, App Bridge
// session tokens, webhook signatures and the Admin GraphQL API.
package shopify

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charlesng35/popshop/pkg/validator"
)

// DefaultAPIVersion is the Admin API version requested when none is configured.
const DefaultAPIVersion = "2024-10"

const defaultTimeout = 15 * time.Second

// ErrInvalidShop is returned for hosts that are not <name>.myshopify.com.
var ErrInvalidShop = errors.New("shopify: invalid shop domain")

// Config carries the app credentials issued by the Partner dashboard.
type Config struct {
	APIKey     string
	APISecret  string
	AppURL     string
	Scopes     []string
	APIVersion string
	Timeout    time.Duration

	// AdminBaseURL replaces https://<shop> when set. Tests point it at a fake server.
	AdminBaseURL string
	HTTPClient   *http.Client
}

func (c Config) withDefaults() Config {
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	c.AppURL = strings.TrimRight(c.AppURL, "/")
	return c
}

func (c Config) adminBase(shop string) string {
	if c.AdminBaseURL != "" {
		return strings.TrimRight(c.AdminBaseURL, "/")
	}
	return "https://" + shop
}

// NormalizeShopDomain trims scheme, path and case from a shop parameter and
// validates the result.
func NormalizeShopDomain(raw string) (string, error) {
	shop := strings.ToLower(strings.TrimSpace(raw))
	shop = strings.TrimPrefix(shop, "https://")
	shop = strings.TrimPrefix(shop, "http://")
	if i := strings.IndexByte(shop, '/'); i >= 0 {
		shop = shop[:i]
	}
	if !validator.IsShopDomain(shop) {
		return "", ErrInvalidShop
	}
	return shop, nil
}
