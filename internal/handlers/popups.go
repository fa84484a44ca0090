package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/popshop/internal/services"
	apperrors "github.com/charlesng35/popshop/pkg/errors"
	"github.com/charlesng35/popshop/pkg/response"
)

// PopupHandler exposes popup CRUD for the authenticated shop.
type PopupHandler struct {
	svc *services.PopupService
}

// NewPopupHandler constructs a PopupHandler.
func NewPopupHandler(svc *services.PopupService) *PopupHandler {
	return &PopupHandler{svc: svc}
}

// List handles GET /api/popups.
func (h *PopupHandler) List(c *gin.Context) {
	shop, ok := requireShop(c)
	if !ok {
		return
	}

	opts := services.ListPopupsOptions{
		Page:   parseIntQuery(c, "page", 1),
		Limit:  parseIntQuery(c, "limit", services.DefaultPageSize),
		Status: c.Query("status"),
		Search: c.Query("search"),
		Sort:   c.Query("sort"),
		Order:  c.Query("order"),
	}
	if opts.Page < 1 {
		response.Error(c, apperrors.NewBadRequest("page must be at least 1"))
		return
	}
	if opts.Limit < 1 || opts.Limit > services.MaxPageSize {
		response.Error(c, apperrors.NewBadRequest("limit must be between 1 and 100"))
		return
	}
	if opts.Order != "" && !strings.EqualFold(opts.Order, "asc") && !strings.EqualFold(opts.Order, "desc") {
		response.Error(c, apperrors.NewBadRequest("order must be asc or desc"))
		return
	}

	page, err := h.svc.List(requestContext(c), shop, opts)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, page.Items, response.NewMeta(page.Page, page.Limit, page.Total))
}

// Get handles GET /api/popups/:id.
func (h *PopupHandler) Get(c *gin.Context) {
	shop, ok := requireShop(c)
	if !ok {
		return
	}
	popup, err := h.svc.Get(requestContext(c), shop, c.Param("id"))
	if err != nil {
		response.Error(c, popupError(err))
		return
	}
	response.Success(c, http.StatusOK, popup)
}

// Active handles GET /api/popups/active.
func (h *PopupHandler) Active(c *gin.Context) {
	shop, ok := requireShop(c)
	if !ok {
		return
	}
	popups, err := h.svc.Active(requestContext(c), shop)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, popups)
}

// Create handles POST /api/popups.
func (h *PopupHandler) Create(c *gin.Context) {
	shop, ok := requireShop(c)
	if !ok {
		return
	}
	var input services.PopupInput
	if !bindAndValidate(c, &input) {
		return
	}
	popup, err := h.svc.Create(requestContext(c), shop, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, popup)
}

// Update handles PUT /api/popups/:id.
func (h *PopupHandler) Update(c *gin.Context) {
	shop, ok := requireShop(c)
	if !ok {
		return
	}
	var input services.PopupInput
	if !bindAndValidate(c, &input) {
		return
	}
	popup, err := h.svc.Update(requestContext(c), shop, c.Param("id"), input)
	if err != nil {
		response.Error(c, popupError(err))
		return
	}
	response.Success(c, http.StatusOK, popup)
}

// Delete handles DELETE /api/popups/:id and returns the removed popup.
func (h *PopupHandler) Delete(c *gin.Context) {
	shop, ok := requireShop(c)
	if !ok {
		return
	}
	popup, err := h.svc.Delete(requestContext(c), shop, c.Param("id"))
	if err != nil {
		response.Error(c, popupError(err))
		return
	}
	response.Success(c, http.StatusOK, popup)
}

func popupError(err error) error {
	switch {
	case errors.Is(err, services.ErrPopupNotFound):
		return apperrors.NewNotFound("Popup")
	case errors.Is(err, services.ErrInvalidMetricEvent):
		return apperrors.NewBadRequest("type must be impression or click and value must be positive")
	default:
		return err
	}
}
