package services

import (
	"context"
	"strings"
)

func ensuredContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// escapeLike quotes LIKE wildcards for use with ESCAPE '!'.
func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}

func normaliseShop(shop string) string {
	return strings.ToLower(strings.TrimSpace(shop))
}

// clampPage applies the list defaults: page from 1, limit within 1..MaxPageSize.
func clampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit < 1:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	return page, limit
}
