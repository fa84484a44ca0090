package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/popshop/internal/perf"
	"github.com/charlesng35/popshop/internal/services"
	apperrors "github.com/charlesng35/popshop/pkg/errors"
	"github.com/charlesng35/popshop/pkg/response"
)

// MetricsHandler serves popup analytics and request performance statistics.
type MetricsHandler struct {
	popups   *services.PopupService
	recorder perf.Recorder
}

// NewMetricsHandler constructs a MetricsHandler. recorder may be nil when the
// performance recorder is disabled.
func NewMetricsHandler(popups *services.PopupService, recorder perf.Recorder) *MetricsHandler {
	return &MetricsHandler{popups: popups, recorder: recorder}
}

type metricEventRequest struct {
	PopupID string `json:"popup_id"`

	// popupId is still sent by older admin builds.
	PopupIDCamel string `json:"popupId"`
	Type         string `json:"type" validate:"required,oneof=impression click"`
	Value        int64  `json:"value" validate:"gt=0"`
}

func (r metricEventRequest) popupID() string {
	if id := strings.TrimSpace(r.PopupID); id != "" {
		return id
	}
	return strings.TrimSpace(r.PopupIDCamel)
}

// Summary handles GET /api/metrics.
func (h *MetricsHandler) Summary(c *gin.Context) {
	shop, ok := requireShop(c)
	if !ok {
		return
	}

	start, err := parseDateQuery(c, firstQueryKey(c, "startDate", "start_date"))
	if err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}
	end, err := parseDateQuery(c, firstQueryKey(c, "endDate", "end_date"))
	if err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}
	if start != nil && end != nil && end.Before(*start) {
		response.Error(c, apperrors.NewBadRequest("endDate must not be before startDate"))
		return
	}

	summary, err := h.popups.MetricsSummary(requestContext(c), shop, services.MetricsQuery{
		Start:  start,
		End:    end,
		Status: c.Query("status"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, summary)
}

// Record handles POST /api/metrics.
func (h *MetricsHandler) Record(c *gin.Context) {
	shop, ok := requireShop(c)
	if !ok {
		return
	}
	var req metricEventRequest
	if !bindAndValidate(c, &req) {
		return
	}
	popupID := req.popupID()
	if popupID == "" {
		response.Error(c, apperrors.NewBadRequest("Popup ID is required"))
		return
	}

	popup, err := h.popups.RecordEvent(requestContext(c), shop, popupID, req.Type, req.Value)
	if err != nil {
		response.Error(c, popupError(err))
		return
	}
	response.Success(c, http.StatusOK, popup)
}

// Dashboard handles GET /api/dashboard.
func (h *MetricsHandler) Dashboard(c *gin.Context) {
	shop, ok := requireShop(c)
	if !ok {
		return
	}
	dashboard, err := h.popups.Dashboard(requestContext(c), shop)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dashboard)
}

// RouteStats handles GET /api/performance?method=&path=.
func (h *MetricsHandler) RouteStats(c *gin.Context) {
	if h.recorder == nil {
		response.Error(c, apperrors.ErrServiceUnavailable.WithMessage("Performance recorder is disabled"))
		return
	}
	method := strings.ToUpper(strings.TrimSpace(c.DefaultQuery("method", http.MethodGet)))
	path := strings.TrimSpace(c.Query("path"))
	if path == "" {
		response.Error(c, apperrors.NewBadRequest("path is required"))
		return
	}

	stats, err := h.recorder.RouteStats(requestContext(c), method, path)
	if err != nil {
		if errors.Is(err, perf.ErrNoStats) {
			response.Error(c, apperrors.NewNotFound("Route statistics"))
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// SlowRequests handles GET /api/performance/slow.
func (h *MetricsHandler) SlowRequests(c *gin.Context) {
	if h.recorder == nil {
		response.Error(c, apperrors.ErrServiceUnavailable.WithMessage("Performance recorder is disabled"))
		return
	}
	limit := parseIntQuery(c, "limit", perf.MaxSlowRequests)
	samples, err := h.recorder.SlowRequests(requestContext(c), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	if samples == nil {
		samples = []perf.Sample{}
	}
	response.Success(c, http.StatusOK, samples)
}

func firstQueryKey(c *gin.Context, keys ...string) string {
	for _, key := range keys {
		if _, ok := c.GetQuery(key); ok {
			return key
		}
	}
	return keys[0]
}
