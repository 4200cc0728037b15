package ingest

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/PauFou/form-builder-sub001/internal/handler"
	ingestService "github.com/PauFou/form-builder-sub001/internal/service/ingest"
	apperrors "github.com/PauFou/form-builder-sub001/pkg/errors"
	"github.com/PauFou/form-builder-sub001/pkg/logger"
	"github.com/PauFou/form-builder-sub001/pkg/metrics"
)

const (
	HeaderSignature = "X-Forms-Signature"
	HeaderTimestamp = "X-Forms-Timestamp"
)

type Handler struct {
	service *ingestService.Service
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewHandler(service *ingestService.Service, log *logger.Logger, m *metrics.Metrics) *Handler {
	return &Handler{service: service, logger: log, metrics: m}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/submit/:form_id", h.Submit)
}

// Submit accepts one signed submission. The signature covers the exact raw
// body bytes, so the body is read before any parsing happens.
func (h *Handler) Submit(c *gin.Context) {
	start := time.Now()

	formID, err := uuid.Parse(c.Param("form_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("NOT_FOUND", "unknown form"))
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("MALFORMED_PAYLOAD", "failed to read request body"))
		return
	}

	result, err := h.service.Ingest(
		c.Request.Context(),
		formID,
		body,
		c.GetHeader(HeaderSignature),
		c.GetHeader(HeaderTimestamp),
	)
	if err != nil {
		h.respondError(c, err)
		return
	}

	elapsed := time.Since(start)
	h.metrics.IngestLatency.Observe(elapsed.Seconds())

	c.JSON(http.StatusOK, gin.H{
		"submission_id":      result.SubmissionID,
		"processing_time_ms": elapsed.Milliseconds(),
	})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	if appErr, ok := apperrors.AsAppError(err); ok {
		h.metrics.SubmissionsRejected.WithLabelValues(string(appErr.Code)).Inc()
		c.JSON(appErr.HTTPStatus(), handler.NewErrorResponse(string(appErr.Code), appErr.Message))
		return
	}

	h.logger.Error(err, "ingest failed", "path", c.Request.URL.Path)
	h.metrics.SubmissionsRejected.WithLabelValues(string(apperrors.CodeInternal)).Inc()
	c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("INTERNAL", "internal server error"))
}
