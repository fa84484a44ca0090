// Package shopifytest signs requests the way Shopify does, for tests.
package shopifytest

import (
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/charlesng35/popshop/internal/shopify"
)

// SessionToken issues an App Bridge style session token for shop.
func SessionToken(apiKey, secret, shop, userID string, now time.Time, ttl time.Duration) string {
	claims := shopify.SessionClaims{
		Dest:      "https://" + shop,
		SessionID: "sid-" + userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://" + shop + "/admin",
			Subject:   userID,
			Audience:  jwt.ClaimStrings{apiKey},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Second)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        strconv.FormatInt(now.UnixNano(), 36),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		panic(err)
	}
	return signed
}

// SignQuery adds a valid hmac parameter to query.
func SignQuery(secret string, query url.Values) url.Values {
	out := url.Values{}
	for k, v := range query {
		out[k] = append([]string(nil), v...)
	}
	out.Set("hmac", shopify.QuerySignature(secret, out))
	return out
}

// SignWebhook returns the X-Shopify-Hmac-Sha256 value for body.
func SignWebhook(secret string, body []byte) string {
	return shopify.WebhookSignature(secret, body)
}
