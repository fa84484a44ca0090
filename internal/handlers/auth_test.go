package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/popshop/internal/handlers"
	"github.com/charlesng35/popshop/internal/handlers/testutil"
	"github.com/charlesng35/popshop/internal/shopify"
	"github.com/charlesng35/popshop/internal/shopify/shopifytest"
)

// beginInstall runs GET /auth and returns the state nonce and its cookie.
func beginInstall(t *testing.T, env *testutil.Env, shop string) (string, *http.Cookie) {
	t.Helper()

	w := env.Request(http.MethodGet, "/auth?shop="+url.QueryEscape(shop), nil, "")
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/admin/oauth/authorize", location.Path)
	require.Equal(t, testutil.APIKey, location.Query().Get("client_id"))
	require.Equal(t, "read_products,write_products", location.Query().Get("scope"))
	require.Equal(t, testutil.AppURL+"/auth/callback", location.Query().Get("redirect_uri"))

	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == handlers.OAuthStateCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	require.Equal(t, state, cookie.Value)
	require.True(t, cookie.HttpOnly)
	require.True(t, cookie.Secure)
	return state, cookie
}

func callbackRequest(shop, state string, cookie *http.Cookie, sign bool) *http.Request {
	query := url.Values{
		"shop":      {shop},
		"code":      {"auth-code"},
		"state":     {state},
		"timestamp": {strconv.FormatInt(time.Now().Unix(), 10)},
	}
	if sign {
		query = shopifytest.SignQuery(testutil.APISecret, query)
	} else {
		query.Set("hmac", strings.Repeat("0", 64))
	}
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+query.Encode(), nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return req
}

func TestOAuthInstallFlow(t *testing.T) {
	env := testutil.NewEnv(t)

	state, cookie := beginInstall(t, env, "https://Demo-Shop.myshopify.com/admin")

	w := env.Do(callbackRequest(testutil.Shop, state, cookie, true))
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	require.Equal(t, testutil.AppURL+"/app?shop="+url.QueryEscape(testutil.Shop), w.Header().Get("Location"))

	installed, err := env.Shops.IsInstalled(t.Context(), testutil.Shop)
	require.NoError(t, err)
	require.True(t, installed)

	token, err := env.Shops.AccessToken(t.Context(), testutil.Shop)
	require.NoError(t, err)
	require.Equal(t, testutil.AccessToken, token)

	subs := env.Admin.Subscriptions()
	require.Len(t, subs, len(shopify.DefaultTopics))
	require.Contains(t, subs, testutil.AppURL+"/webhooks/app-uninstalled")

	// The nonce is single use.
	w = env.Do(callbackRequest(testutil.Shop, state, cookie, true))
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
}

func TestOAuthBeginRejectsBadShop(t *testing.T) {
	env := testutil.NewEnv(t)

	for _, shop := range []string{"", "example.com", "evil.myshopify.com.attacker.io"} {
		w := env.Request(http.MethodGet, "/auth?shop="+url.QueryEscape(shop), nil, "")
		require.Equal(t, http.StatusBadRequest, w.Code, shop)
	}
}

func TestOAuthCallbackFailures(t *testing.T) {
	env := testutil.NewEnv(t)
	state, cookie := beginInstall(t, env, testutil.Shop)

	w := env.Do(callbackRequest(testutil.Shop, state, cookie, false))
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
	require.Equal(t, "INVALID_SIGNATURE", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Do(callbackRequest(testutil.Shop, state, nil, true))
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = env.Do(callbackRequest(testutil.Shop, "forged", &http.Cookie{Name: handlers.OAuthStateCookie, Value: "forged"}, true))
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	// State issued for one shop cannot complete another shop's install.
	w = env.Do(callbackRequest(testutil.OtherShop, state, cookie, true))
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	installed, err := env.Shops.IsInstalled(t.Context(), testutil.OtherShop)
	require.NoError(t, err)
	require.False(t, installed)
}

func TestOAuthExchangeFailure(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Admin.FailExchange()
	state, cookie := beginInstall(t, env, testutil.Shop)

	w := env.Do(callbackRequest(testutil.Shop, state, cookie, true))
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	installed, err := env.Shops.IsInstalled(t.Context(), testutil.Shop)
	require.NoError(t, err)
	require.False(t, installed)
}
