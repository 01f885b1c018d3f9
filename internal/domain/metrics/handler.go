package metrics

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/radrecon/radrecon/internal/domain/study"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/metrics", h.GetMetrics)
}

// GetMetrics computes the statistics report for the filter given in query
// parameters (since, until, study_type, result_type, username).
func (h *Handler) GetMetrics(c echo.Context) error {
	f, err := study.FilterFromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	report, err := h.svc.Compute(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}
