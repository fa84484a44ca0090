package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/popshop/internal/cache"
	"github.com/charlesng35/popshop/internal/services"
	"github.com/charlesng35/popshop/internal/shopify"
	apperrors "github.com/charlesng35/popshop/pkg/errors"
	"github.com/charlesng35/popshop/pkg/logger"
	"github.com/charlesng35/popshop/pkg/response"
)

const (
	// OAuthStateCookie carries the install nonce between /auth and the callback.
	OAuthStateCookie = "popshop_oauth_state"
	oauthStateTTL    = 10 * time.Minute
	oauthStatePrefix = "oauth:state:"
)

// AuthHandler drives the OAuth install flow.
type AuthHandler struct {
	oauth    *shopify.OAuth
	states   cache.Store
	shops    *services.ShopService
	webhooks *services.WebhookService
	appURL   string
}

// NewAuthHandler constructs an AuthHandler. webhooks may be nil to skip
// subscription registration after install.
func NewAuthHandler(oauth *shopify.OAuth, states cache.Store, shops *services.ShopService, webhooks *services.WebhookService, appURL string) *AuthHandler {
	return &AuthHandler{
		oauth:    oauth,
		states:   states,
		shops:    shops,
		webhooks: webhooks,
		appURL:   strings.TrimRight(appURL, "/"),
	}
}

// Begin handles GET /auth?shop=. It remembers a nonce for the shop and
// redirects the merchant to the consent screen.
func (h *AuthHandler) Begin(c *gin.Context) {
	shop, err := shopify.NormalizeShopDomain(c.Query("shop"))
	if err != nil {
		response.Error(c, apperrors.NewBadRequest("A valid shop parameter is required"))
		return
	}

	nonce := uuid.NewString()
	if err := h.states.Set(requestContext(c), oauthStatePrefix+nonce, []byte(shop), oauthStateTTL); err != nil {
		response.Error(c, apperrors.Wrap(err, "Unable to start installation"))
		return
	}

	target, err := h.oauth.AuthorizeURL(shop, nonce)
	if err != nil {
		response.Error(c, apperrors.Wrap(err, "Unable to start installation"))
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(OAuthStateCookie, nonce, int(oauthStateTTL.Seconds()), "/auth", "", secureCookie(h.appURL), true)
	c.Redirect(http.StatusFound, target)
}

// Callback handles GET /auth/callback: it verifies the request, exchanges the
// code, installs the shop and registers webhooks.
func (h *AuthHandler) Callback(c *gin.Context) {
	ctx := requestContext(c)
	log := logger.WithModule("auth")
	query := c.Request.URL.Query()

	shop, err := h.oauth.VerifyCallback(query)
	if err != nil {
		if errors.Is(err, shopify.ErrInvalidHMAC) {
			response.Error(c, apperrors.ErrInvalidSignature)
			return
		}
		response.Error(c, apperrors.NewBadRequest("Invalid OAuth callback"))
		return
	}

	if !h.consumeState(ctx, c, query.Get("state"), shop) {
		response.Error(c, apperrors.ErrForbidden.WithMessage("OAuth state mismatch"))
		return
	}

	grant, err := h.oauth.Exchange(ctx, shop, query.Get("code"))
	if err != nil {
		log.Warn("oauth exchange failed", zap.String("shop", shop), zap.Error(err))
		response.Error(c, apperrors.ErrUnauthorized.WithMessage("Unable to complete installation").WithInternal(err))
		return
	}

	if _, err := h.shops.Install(ctx, shop, grant.AccessToken, grant.Scope); err != nil {
		response.Error(c, apperrors.Wrap(err, "Unable to save installation"))
		return
	}
	log.Info("shop installed", zap.String("shop", shop), zap.String("scope", grant.Scope))

	if h.webhooks != nil {
		if _, err := h.webhooks.RegisterAll(ctx, shop); err != nil {
			log.Warn("webhook registration incomplete", zap.String("shop", shop), zap.Error(err))
		}
	}

	c.Redirect(http.StatusFound, h.appURL+"/app?shop="+url.QueryEscape(shop))
}

// consumeState checks the callback state against the cookie and the stored
// nonce, then deletes the nonce so it cannot be replayed.
func (h *AuthHandler) consumeState(ctx context.Context, c *gin.Context, state, shop string) bool {
	if state == "" {
		return false
	}
	cookie, err := c.Cookie(OAuthStateCookie)
	if err != nil || cookie != state {
		return false
	}
	c.SetCookie(OAuthStateCookie, "", -1, "/auth", "", secureCookie(h.appURL), true)

	key := oauthStatePrefix + state
	stored, ok, err := h.states.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	_ = h.states.Delete(ctx, key)
	return string(stored) == shop
}

func secureCookie(appURL string) bool {
	return strings.HasPrefix(appURL, "https://")
}
