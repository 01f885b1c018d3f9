package study

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/radrecon/radrecon/internal/platform/hl7v2"
	"github.com/radrecon/radrecon/internal/platform/telemetry"
	"github.com/radrecon/radrecon/pkg/pagination"
)

type Handler struct {
	svc *Service

	// maxFrameBytes caps an ingested message body, matching the MLLP
	// listener's frame limit so the two transports share one policy.
	maxFrameBytes int
}

func NewHandler(svc *Service, maxFrameBytes int) *Handler {
	if maxFrameBytes <= 0 {
		maxFrameBytes = hl7v2.DefaultMaxFrameBytes
	}
	return &Handler{svc: svc, maxFrameBytes: maxFrameBytes}
}

func (h *Handler) RegisterRoutes(e *echo.Echo, api *echo.Group) {
	e.POST("/api/hl7", h.IngestHTTP)

	api.GET("/studies", h.ListStudies)
	api.GET("/studies/:accession", h.GetStudy)
	api.POST("/classifications", h.SubmitClassification)
	api.DELETE("/classifications", h.RemoveClassification)
	api.GET("/studies/:accession/comments", h.ListComments)
	api.POST("/studies/:accession/comments", h.AddComment)
	api.PUT("/comments/:id", h.UpdateComment)
	api.DELETE("/comments/:id", h.DeleteComment)
}

type ingestResponse struct {
	Status          string `json:"status"`
	AccessionNumber string `json:"accession_number,omitempty"`
	AIVerdict       string `json:"ai_verdict,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// IngestHTTP is the single-shot equivalent of the MLLP listener. The body
// may be bare message text or still wrapped in the MLLP envelope.
func (h *Handler) IngestHTTP(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read body")
	}

	if len(raw) > 0 && raw[0] == hl7v2.StartBlock {
		raw, err = hl7v2.Decode(raw, h.maxFrameBytes)
		if err != nil {
			telemetry.MessagesTotal.WithLabelValues(telemetry.TransportHTTP, telemetry.OutcomeMalformed).Inc()
			return c.JSON(http.StatusBadRequest, ingestResponse{Status: "malformed", Reason: err.Error()})
		}
	} else if len(raw) > h.maxFrameBytes {
		telemetry.MessagesTotal.WithLabelValues(telemetry.TransportHTTP, telemetry.OutcomeMalformed).Inc()
		return c.JSON(http.StatusBadRequest, ingestResponse{Status: "malformed", Reason: "message exceeds maximum length"})
	}

	st, err := h.svc.Ingest(c.Request().Context(), raw)
	if err != nil {
		var parseErr *ParseError
		switch {
		case errors.Is(err, ErrConflict):
			telemetry.MessagesTotal.WithLabelValues(telemetry.TransportHTTP, telemetry.OutcomeDuplicate).Inc()
			return c.JSON(http.StatusConflict, ingestResponse{Status: "duplicate", Reason: "accession number already ingested"})
		case errors.As(err, &parseErr):
			telemetry.MessagesTotal.WithLabelValues(telemetry.TransportHTTP, telemetry.OutcomeMalformed).Inc()
			return c.JSON(http.StatusBadRequest, ingestResponse{Status: "malformed", Reason: parseErr.Msg})
		default:
			telemetry.MessagesTotal.WithLabelValues(telemetry.TransportHTTP, telemetry.OutcomeStorage).Inc()
			return c.JSON(http.StatusInternalServerError, ingestResponse{Status: "error", Reason: "storage failure"})
		}
	}

	telemetry.MessagesTotal.WithLabelValues(telemetry.TransportHTTP, telemetry.OutcomeAccepted).Inc()
	return c.JSON(http.StatusCreated, ingestResponse{
		Status:          "created",
		AccessionNumber: st.AccessionNumber,
		AIVerdict:       string(st.AIVerdict),
	})
}

// studyResponse is a study plus its derived effective classification.
type studyResponse struct {
	*Study
	Reconciled *ClassValue `json:"reconciled"`
}

func toStudyResponse(s *Study) studyResponse {
	return studyResponse{Study: s, Reconciled: s.Reconciled()}
}

func (h *Handler) GetStudy(c echo.Context) error {
	s, err := h.svc.GetStudy(c.Request().Context(), c.Param("accession"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "study not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toStudyResponse(s))
}

func (h *Handler) ListStudies(c echo.Context) error {
	f, err := FilterFromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	pg := pagination.FromContext(c)
	studies, total, err := h.svc.ListStudies(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	items := make([]studyResponse, len(studies))
	for i, s := range studies {
		items[i] = toStudyResponse(s)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// FilterFromQuery reads the shared filter vocabulary from query
// parameters: since/until (RFC 3339), study_type, result_type, username.
func FilterFromQuery(c echo.Context) (Filter, error) {
	var f Filter

	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("since: expected RFC 3339 timestamp")
		}
		f.Since = &t
	}
	if v := c.QueryParam("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("until: expected RFC 3339 timestamp")
		}
		f.Until = &t
	}
	f.StudyType = c.QueryParam("study_type")
	f.Username = c.QueryParam("username")

	if v := c.QueryParam("result_type"); v != "" {
		verdict, err := NormalizeVerdict(v)
		if err != nil {
			return f, errors.New("result_type: expected POSITIVE, NEGATIVE, or DOUBT")
		}
		f.ResultType = verdict
	}
	return f, nil
}

type classificationRequest struct {
	AccessionNumber string `json:"accession_number"`
	Kind            string `json:"kind"`
	Username        string `json:"username"`
	Value           string `json:"value"`
}

func (h *Handler) SubmitClassification(c echo.Context) error {
	var req classificationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cls, err := h.svc.SubmitClassification(c.Request().Context(), req.AccessionNumber, req.Kind, req.Username, req.Value)
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			return echo.NewHTTPError(http.StatusBadRequest, "kind must be PRIMARY or FOLLOW_UP, value must be TP, TN, FP, or FN, username is required")
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "study not found")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusCreated, cls)
}

func (h *Handler) RemoveClassification(c echo.Context) error {
	var req classificationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err := h.svc.RemoveClassification(c.Request().Context(), req.AccessionNumber, req.Kind)
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			return echo.NewHTTPError(http.StatusBadRequest, "kind must be PRIMARY or FOLLOW_UP")
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "nothing to remove")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}

type commentRequest struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

func (h *Handler) AddComment(c echo.Context) error {
	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	comment, err := h.svc.AddComment(c.Request().Context(), c.Param("accession"), req.Username, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			return echo.NewHTTPError(http.StatusBadRequest, "username and text are required")
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "study not found")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusCreated, comment)
}

func (h *Handler) ListComments(c echo.Context) error {
	comments, err := h.svc.ListComments(c.Request().Context(), c.Param("accession"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "study not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, comments)
}

func (h *Handler) UpdateComment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid comment id")
	}

	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	comment, err := h.svc.UpdateComment(c.Request().Context(), id, req.Username, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			return echo.NewHTTPError(http.StatusBadRequest, "text is required")
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "comment not found")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, comment)
}

func (h *Handler) DeleteComment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid comment id")
	}

	if err := h.svc.DeleteComment(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "comment not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
