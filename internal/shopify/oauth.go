package shopify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// callbackMaxAge bounds how old the timestamp of an OAuth callback may be.
const callbackMaxAge = time.Hour

// ErrInvalidHMAC is returned when a callback fails signature verification.
var ErrInvalidHMAC = errors.New("shopify: invalid hmac")

// Grant is the result of a successful code exchange.
type Grant struct {
	AccessToken string
	Scope       string
}

// OAuth drives the authorization code grant against a shop.
type OAuth struct {
	cfg Config
	now func() time.Time
}

// NewOAuth validates cfg and returns an OAuth helper.
func NewOAuth(cfg Config, clock func() time.Time) (*OAuth, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("shopify: api key and secret must be provided")
	}
	if cfg.AppURL == "" {
		return nil, errors.New("shopify: app url must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	return &OAuth{cfg: cfg.withDefaults(), now: clock}, nil
}

// RedirectURL is where Shopify sends the merchant after consent.
func (o *OAuth) RedirectURL() string {
	return o.cfg.AppURL + "/auth/callback"
}

func (o *OAuth) config(shop string) *oauth2.Config {
	base := o.cfg.adminBase(shop)
	return &oauth2.Config{
		ClientID:     o.cfg.APIKey,
		ClientSecret: o.cfg.APISecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/admin/oauth/authorize",
			TokenURL:  base + "/admin/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: o.RedirectURL(),
		Scopes:      o.cfg.Scopes,
	}
}

// AuthorizeURL builds the consent URL for shop carrying the state nonce.
func (o *OAuth) AuthorizeURL(shop, state string) (string, error) {
	shop, err := NormalizeShopDomain(shop)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(state) == "" {
		return "", errors.New("shopify: state is required")
	}
	// Shopify expects a comma separated scope list rather than the space separated default.
	cfg := o.config(shop)
	scopes := strings.Join(cfg.Scopes, ",")
	cfg.Scopes = nil
	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("scope", scopes)), nil
}

// VerifyCallback checks the hmac, shop and timestamp of a callback query and
// returns the normalised shop domain.
func (o *OAuth) VerifyCallback(query url.Values) (string, error) {
	if !VerifyQueryHMAC(o.cfg.APISecret, query) {
		return "", ErrInvalidHMAC
	}

	shop, err := NormalizeShopDomain(query.Get("shop"))
	if err != nil {
		return "", err
	}

	ts := query.Get("timestamp")
	if ts == "" {
		return "", errors.New("shopify: callback timestamp missing")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", fmt.Errorf("shopify: invalid timestamp %q", ts)
	}
	age := o.now().Sub(time.Unix(sec, 0))
	if age > callbackMaxAge || age < -callbackMaxAge {
		return "", errors.New("shopify: callback timestamp outside allowed window")
	}

	if query.Get("code") == "" {
		return "", errors.New("shopify: authorization code missing")
	}
	return shop, nil
}

// Exchange trades an authorization code for an offline access token.
func (o *OAuth) Exchange(ctx context.Context, shop, code string) (*Grant, error) {
	shop, err := NormalizeShopDomain(shop)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.cfg.HTTPClient)

	token, err := o.config(shop).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("shopify: exchange failed: %w", err)
	}

	scope, _ := token.Extra("scope").(string)
	return &Grant{AccessToken: token.AccessToken, Scope: scope}, nil
}
