package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrThrottled is returned when the Admin API reports the cost bucket is empty.
var ErrThrottled = errors.New("shopify: request throttled")

// GraphQLError is one entry of a GraphQL errors array.
type GraphQLError struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// GraphQLErrors aggregates the errors returned by a query.
type GraphQLErrors []GraphQLError

func (e GraphQLErrors) Error() string {
	msgs := make([]string, len(e))
	for i, item := range e {
		msgs[i] = item.Message
	}
	return "shopify graphql: " + strings.Join(msgs, "; ")
}

// UserError is a mutation level validation error.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// Client issues Admin GraphQL requests on behalf of installed shops.
type Client struct {
	cfg Config
}

// NewClient returns an Admin API client.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults()}
}

// Endpoint returns the GraphQL endpoint for shop.
func (c *Client) Endpoint(shop string) string {
	return fmt.Sprintf("%s/admin/api/%s/graphql.json", c.cfg.adminBase(shop), c.cfg.APIVersion)
}

// Do executes query with variables and decodes the data member into out.
func (c *Client) Do(ctx context.Context, shop, accessToken, query string, variables map[string]any, out any) error {
	if _, err := NormalizeShopDomain(shop); err != nil {
		return err
	}
	if accessToken == "" {
		return errors.New("shopify: access token is required")
	}

	payload, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("shopify: encode request: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(shop), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Access-Token", accessToken)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("shopify: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("shopify: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrThrottled
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("shopify: access denied (%d)", resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("shopify: unexpected status %d", resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors GraphQLErrors   `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("shopify: decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		for _, e := range envelope.Errors {
			if code, _ := e.Extensions["code"].(string); code == "THROTTLED" {
				return ErrThrottled
			}
		}
		return envelope.Errors
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}
