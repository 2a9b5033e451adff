package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/agrosolutions/services/alerts/internal/models"
	"example.com/agrosolutions/services/alerts/internal/repositories"
	"example.com/agrosolutions/services/alerts/internal/search"
	"example.com/agrosolutions/services/alerts/internal/tracing"
)

// AlertHandler serves alert lookups for operators
type AlertHandler struct {
	repo    *repositories.AlertRepository
	elastic *search.ElasticClient
	tracer  tracing.Tracer
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(repo *repositories.AlertRepository, elastic *search.ElasticClient, tracer tracing.Tracer) *AlertHandler {
	return &AlertHandler{
		repo:    repo,
		elastic: elastic,
		tracer:  tracer,
	}
}

// HandleListAlerts returns recent alerts, optionally filtered by device,
// severity and age
func (h *AlertHandler) HandleListAlerts(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-list-alerts")
	defer h.tracer.EndTransaction(txn)

	deviceID := c.Query("device_id")
	severity := models.AlertSeverity(c.Query("severity"))

	since := time.Time{}
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = parsed
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	alerts, err := h.repo.ListRecent(c, deviceID, severity, since, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list alerts")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// HandleSearchAlerts proxies a raw Elasticsearch query against the audit index
func (h *AlertHandler) HandleSearchAlerts(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-search-alerts")
	defer h.tracer.EndTransaction(txn)

	if h.elastic == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not available"})
		return
	}

	var query map[string]interface{}
	if err := c.ShouldBindJSON(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	docs, err := h.elastic.SearchAlerts(c, query)
	if err != nil {
		log.Error().Err(err).Msg("Failed to search alerts")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": docs, "count": len(docs)})
}

// RegisterRoutes registers the handler's routes
func (h *AlertHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/alerts", h.HandleListAlerts)
	router.POST("/api/alerts/search", h.HandleSearchAlerts)
}
