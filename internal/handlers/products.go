package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/popshop/internal/services"
	apperrors "github.com/charlesng35/popshop/pkg/errors"
	"github.com/charlesng35/popshop/pkg/response"
)

// ProductHandler lists mirrored products and triggers catalogue syncs.
type ProductHandler struct {
	svc  *services.ProductSyncService
	opts services.SyncOptions
}

// NewProductHandler constructs a ProductHandler that syncs with opts.
func NewProductHandler(svc *services.ProductSyncService, opts services.SyncOptions) *ProductHandler {
	return &ProductHandler{svc: svc, opts: opts}
}

// List handles GET /api/products.
func (h *ProductHandler) List(c *gin.Context) {
	shop, ok := requireShop(c)
	if !ok {
		return
	}
	page, err := h.svc.List(requestContext(c),
		shop,
		parseIntQuery(c, "page", 1),
		parseIntQuery(c, "limit", services.DefaultPageSize),
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, page.Items, response.NewMeta(page.Page, page.Limit, page.Total))
}

// Sync handles POST /api/products/sync.
func (h *ProductHandler) Sync(c *gin.Context) {
	shop, ok := requireShop(c)
	if !ok {
		return
	}
	synced, err := h.svc.SyncProducts(requestContext(c), shop, h.opts)
	if err != nil {
		if errors.Is(err, services.ErrShopNotInstalled) || errors.Is(err, services.ErrShopNotFound) {
			response.Error(c, apperrors.ErrUnauthorized.WithMessage("App is not installed for this shop"))
			return
		}
		response.Error(c, apperrors.Wrap(err, "Product sync failed"))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"synced": synced})
}
