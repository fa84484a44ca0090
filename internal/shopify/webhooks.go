package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Webhook topics the app subscribes to, in GraphQL enum form.
const (
	TopicProductsCreate  = "PRODUCTS_CREATE"
	TopicProductsUpdate  = "PRODUCTS_UPDATE"
	TopicProductsDelete  = "PRODUCTS_DELETE"
	TopicOrdersCreate    = "ORDERS_CREATE"
	TopicOrdersUpdated   = "ORDERS_UPDATED"
	TopicCustomersCreate = "CUSTOMERS_CREATE"
	TopicCustomersUpdate = "CUSTOMERS_UPDATE"
	TopicAppUninstalled  = "APP_UNINSTALLED"
)

// DefaultTopics lists the subscriptions created for every install.
var DefaultTopics = []string{
	TopicProductsCreate,
	TopicProductsUpdate,
	TopicProductsDelete,
	TopicOrdersCreate,
	TopicOrdersUpdated,
	TopicCustomersCreate,
	TopicCustomersUpdate,
	TopicAppUninstalled,
}

// TopicFromPath converts a route remainder such as "products/create" into
// PRODUCTS_CREATE. Dashes are treated like slashes.
func TopicFromPath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return ""
	}
	r := strings.NewReplacer("/", "_", "-", "_")
	return strings.ToUpper(r.Replace(path))
}

// CallbackPath is the route a topic is delivered to, e.g. /webhooks/products-create.
func CallbackPath(topic string) string {
	return "/webhooks/" + strings.ReplaceAll(strings.ToLower(topic), "_", "-")
}

const webhookSubscriptionCreate = `mutation webhookSubscriptionCreate($topic: WebhookSubscriptionTopic!, $webhookSubscription: WebhookSubscriptionInput!) {
  webhookSubscriptionCreate(topic: $topic, webhookSubscription: $webhookSubscription) {
    webhookSubscription { id }
    userErrors { field message }
  }
}`

// CreateWebhookSubscription subscribes callbackURL to topic and returns the subscription id.
func (c *Client) CreateWebhookSubscription(ctx context.Context, shop, accessToken, topic, callbackURL string) (string, error) {
	vars := map[string]any{
		"topic": topic,
		"webhookSubscription": map[string]any{
			"callbackUrl": callbackURL,
			"format":      "JSON",
		},
	}

	var data struct {
		WebhookSubscriptionCreate struct {
			WebhookSubscription *struct {
				ID string `json:"id"`
			} `json:"webhookSubscription"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"webhookSubscriptionCreate"`
	}
	if err := c.Do(ctx, shop, accessToken, webhookSubscriptionCreate, vars, &data); err != nil {
		return "", err
	}

	result := data.WebhookSubscriptionCreate
	if len(result.UserErrors) > 0 {
		msgs := make([]string, len(result.UserErrors))
		for i, ue := range result.UserErrors {
			msgs[i] = ue.Message
		}
		return "", fmt.Errorf("shopify: subscribe %s: %s", topic, strings.Join(msgs, "; "))
	}
	if result.WebhookSubscription == nil {
		return "", fmt.Errorf("shopify: subscribe %s: empty response", topic)
	}
	return result.WebhookSubscription.ID, nil
}

type webhookProduct struct {
	ID                json.Number `json:"id"`
	AdminGraphQLAPIID string      `json:"admin_graphql_api_id"`
	Title             string      `json:"title"`
	BodyHTML          string      `json:"body_html"`
	Handle            string      `json:"handle"`
	Image             *struct {
		Src string `json:"src"`
	} `json:"image"`
	Variants []struct {
		Price string `json:"price"`
	} `json:"variants"`
}

// ProductFromWebhook decodes a products/create, products/update or
// products/delete payload. Delete payloads only carry the id.
func ProductFromWebhook(payload []byte) (Product, error) {
	var raw webhookProduct
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Product{}, fmt.Errorf("shopify: decode product webhook: %w", err)
	}

	id := raw.AdminGraphQLAPIID
	if id == "" && raw.ID != "" {
		if _, err := strconv.ParseInt(raw.ID.String(), 10, 64); err == nil {
			id = ProductGID(raw.ID.String())
		}
	}
	if id == "" {
		return Product{}, errors.New("shopify: product webhook without id")
	}

	p := Product{
		ID:          id,
		Title:       raw.Title,
		Description: raw.BodyHTML,
		Handle:      raw.Handle,
		Price:       "0",
		Currency:    "USD",
	}
	if raw.Image != nil {
		p.ImageURL = raw.Image.Src
	}
	if len(raw.Variants) > 0 && raw.Variants[0].Price != "" {
		p.Price = raw.Variants[0].Price
	}
	return p, nil
}
