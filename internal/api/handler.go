// Package api exposes sync triggering and status over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/vipul43/ledgersync/internal/metrics"
	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/repository"
	"github.com/vipul43/ledgersync/internal/service"
)

const (
	tenantHeader = "X-Tenant-ID"
	userHeader   = "X-User-ID"
	maxBodyBytes = 1 << 20
)

// SyncService is the part of the orchestrator the handlers call
type SyncService interface {
	TriggerSync(ctx context.Context, req service.TriggerRequest) (*service.TriggerResult, error)
	GetSyncStatus(ctx context.Context, tenantID, syncJobID string) (*service.SyncStatusView, error)
	CancelSync(ctx context.Context, tenantID, syncJobID string) (*models.SyncJob, error)
	IntegrationHealth(ctx context.Context, tenantID, integrationID string) (service.TokenHealth, error)
}

type Handler struct {
	service SyncService
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

func NewHandler(svc SyncService, m *metrics.Metrics, log logrus.FieldLogger) *Handler {
	return &Handler{service: svc, metrics: m, log: log}
}

// Router returns the full route table: health, metrics and /api/v1.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), h.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{})))
	}

	h.Register(r.Group("/api/v1", requireTenant))
	return r
}

func (h *Handler) Register(api *gin.RouterGroup) {
	integrations := api.Group("/integrations/:integrationID")
	integrations.POST("/sync", h.TriggerSync)
	integrations.GET("/token-health", h.TokenHealth)

	syncJobs := api.Group("/sync-jobs/:syncJobID")
	syncJobs.GET("", h.GetSyncStatus)
	syncJobs.POST("/cancel", h.CancelSync)
}

type triggerBody struct {
	JobType       models.SyncJobType  `json:"jobType"`
	Entities      []models.EntityType `json:"entities,omitempty"`
	ModifiedSince *time.Time          `json:"modifiedSince,omitempty"`
	DateFrom      *time.Time          `json:"dateFrom,omitempty"`
	DateTo        *time.Time          `json:"dateTo,omitempty"`
	InvoiceTypes  []string            `json:"invoiceTypes,omitempty"`
}

func (h *Handler) TriggerSync(c *gin.Context) {
	// An empty body is a manual sync of everything
	var body triggerBody
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		h.log.WithError(err).Warn("Invalid sync request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if body.JobType == "" {
		body.JobType = models.SyncJobManual
	}

	res, err := h.service.TriggerSync(c.Request.Context(), service.TriggerRequest{
		IntegrationID: c.Param("integrationID"),
		TenantID:      c.GetString(tenantKey),
		UserID:        c.GetHeader(userHeader),
		JobType:       body.JobType,
		Options: models.SyncOptions{
			Entities:      body.Entities,
			ModifiedSince: body.ModifiedSince,
			DateFrom:      body.DateFrom,
			DateTo:        body.DateTo,
			InvoiceTypes:  body.InvoiceTypes,
		},
	})
	if err != nil {
		h.fail(c, "trigger sync", err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (h *Handler) GetSyncStatus(c *gin.Context) {
	view, err := h.service.GetSyncStatus(c.Request.Context(), c.GetString(tenantKey), c.Param("syncJobID"))
	if err != nil {
		h.fail(c, "get sync status", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) CancelSync(c *gin.Context) {
	job, err := h.service.CancelSync(c.Request.Context(), c.GetString(tenantKey), c.Param("syncJobID"))
	if err != nil {
		h.fail(c, "cancel sync", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"syncJob": job})
}

func (h *Handler) TokenHealth(c *gin.Context) {
	health, err := h.service.IntegrationHealth(c.Request.Context(), c.GetString(tenantKey), c.Param("integrationID"))
	if err != nil {
		h.fail(c, "token health", err)
		return
	}
	c.JSON(http.StatusOK, health)
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("op", op).Error("Request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrActiveSyncExists), errors.Is(err, service.ErrSyncNotActive):
		return http.StatusConflict
	case errors.Is(err, service.ErrIntegrationInactive), errors.Is(err, service.ErrInvalidAuth):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidScope):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrIntegrationNotFound), errors.Is(err, repository.ErrSyncJobNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
