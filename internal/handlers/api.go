package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yishak-cs/meal-metrics/internal/database"
	"github.com/yishak-cs/meal-metrics/internal/metrics"
	"github.com/yishak-cs/meal-metrics/internal/models"
	"github.com/yishak-cs/meal-metrics/internal/services"
	"github.com/yishak-cs/meal-metrics/pkg/logger"
)

// heartbeatInterval keeps idle event streams open through proxies
const heartbeatInterval = 15 * time.Second

// SubmissionLister reads the submission archive
type SubmissionLister interface {
	List(ctx context.Context, flightNumber string, limit int) ([]database.Submission, error)
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// APIHandler handles all API requests
type APIHandler struct {
	service     *services.MasterMetricsService
	submissions SubmissionLister
	checks      map[string]HealthCheck
	log         *logger.Logger
}

// NewAPIHandler creates a new API handler. submissions may be nil.
func NewAPIHandler(service *services.MasterMetricsService, submissions SubmissionLister, log *logger.Logger) *APIHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &APIHandler{
		service:     service,
		submissions: submissions,
		checks:      make(map[string]HealthCheck),
		log:         log.With("service", "APIHandler"),
	}
}

// AddHealthCheck registers a dependency for GET /api/health
func (h *APIHandler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// SetupRoutes configures all API routes
func (h *APIHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/health", h.Health)
		api.GET("/submissions", h.ListSubmissions)

		sessions := api.Group("/sessions")
		{
			sessions.POST("", h.StartSession)
			sessions.GET("/:key", h.GetSession)
			sessions.DELETE("/:key", h.CloseSession)
			sessions.POST("/:key/categories/:category/load", h.LoadCategory)
			sessions.PUT("/:key/cells", h.EditCell)
			sessions.POST("/:key/commit", h.CommitRow)
			sessions.POST("/:key/reset", h.ResetAll)
			sessions.PUT("/:key/weights", h.SetWeights)
			sessions.GET("/:key/validation", h.Validate)
			sessions.GET("/:key/modified-rows", h.ModifiedRows)
			sessions.GET("/:key/events", h.Events)
			sessions.POST("/:key/submit", h.Submit)
		}
	}
}

// StartSession handles flight and date selection
func (h *APIHandler) StartSession(c *gin.Context) {
	var req models.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidJSON, "Invalid request body", err.Error())
		return
	}
	if _, err := models.RouteSegment(req.FlightNumber); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, err.Error(), gin.H{"field": "flight_number"})
		return
	}
	if _, err := models.Weekday(req.FlightDate); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, err.Error(), gin.H{"field": "flight_date"})
		return
	}

	view, err := h.service.StartSession(c.Request.Context(), req.FlightNumber, req.FlightDate)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// GetSession returns the full session view
func (h *APIHandler) GetSession(c *gin.Context) {
	view, err := h.service.View(c.Param("key"))
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// CloseSession ends a session
func (h *APIHandler) CloseSession(c *gin.Context) {
	key := c.Param("key")
	if err := h.service.CloseSession(c.Request.Context(), key); err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_key": key, "closed": true})
}

// LoadCategory refetches one category's defaults
func (h *APIHandler) LoadCategory(c *gin.Context) {
	category, ok := h.parseCategory(c, c.Param("category"))
	if !ok {
		return
	}
	key := c.Param("key")
	if err := h.service.LoadCategory(c.Request.Context(), key, category); err != nil {
		h.respondWithError(c, err)
		return
	}
	view, err := h.service.View(key)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"category": category,
		"rows":     view.Categories[category],
	})
}

// EditCell changes one protein percentage
func (h *APIHandler) EditCell(c *gin.Context) {
	var req models.EditCellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidJSON, "Invalid request body", err.Error())
		return
	}
	category, ok := h.parseCategory(c, req.Category)
	if !ok {
		return
	}
	protein, ok := models.ParseProtein(req.Protein)
	if !ok {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidEnumValue, "Unknown protein", gin.H{
			"protein": req.Protein,
			"allowed": models.CanonicalProteins,
		})
		return
	}

	status, balance, err := h.service.EditCell(c.Param("key"), category, req.MealTime, *req.Index, protein, string(req.Value))
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rowStatusResponse(status, &balance))
}

// CommitRow validates a row and saves it as an override
func (h *APIHandler) CommitRow(c *gin.Context) {
	var req models.RowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidJSON, "Invalid request body", err.Error())
		return
	}
	category, ok := h.parseCategory(c, req.Category)
	if !ok {
		return
	}

	status, err := h.service.CommitRow(c.Request.Context(), c.Param("key"), category, req.MealTime, *req.Index)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rowStatusResponse(status, nil))
}

// ResetAll discards every override
func (h *APIHandler) ResetAll(c *gin.Context) {
	view, err := h.service.ResetAll(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// SetWeights replaces the category importance weights
func (h *APIHandler) SetWeights(c *gin.Context) {
	var weights models.Weights
	if err := c.ShouldBindJSON(&weights); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidJSON, "Invalid request body", err.Error())
		return
	}
	if err := h.service.SetWeights(c.Param("key"), weights); err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"weights": weights,
		"balance": metrics.ValidateWeights(weights),
		"changes": metrics.DiffWeights(weights, models.DefaultWeights()),
	})
}

// Validate runs the read-only validation pass
func (h *APIHandler) Validate(c *gin.Context) {
	report, err := h.service.Validate(c.Param("key"))
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	var messages []string
	if verr, ok := report.Err().(*metrics.ValidationError); ok {
		messages = verr.Messages()
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":    report.Valid(),
		"report":   report,
		"messages": messages,
	})
}

// ModifiedRows lists committed rows; ?source=remote reads them back from session memory
func (h *APIHandler) ModifiedRows(c *gin.Context) {
	key := c.Param("key")
	var (
		rows []models.ModifiedRow
		err  error
	)
	source := strings.ToLower(c.DefaultQuery("source", "local"))
	switch source {
	case "local":
		rows, err = h.service.ModifiedRows(key)
	case "remote":
		rows, err = h.service.RemoteModifiedRows(c.Request.Context(), key)
	default:
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidEnumValue, "source must be local or remote", nil)
		return
	}
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	if rows == nil {
		rows = []models.ModifiedRow{}
	}
	c.JSON(http.StatusOK, gin.H{
		"session_key":   key,
		"source":        source,
		"total_rows":    len(rows),
		"modified_rows": rows,
	})
}

// Events streams session changes as server-sent events until the session closes
func (h *APIHandler) Events(c *gin.Context) {
	events, cancel, err := h.service.Subscribe(c.Param("key"), 16)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	defer cancel()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return ev.Kind != metrics.ChangeClosed
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// Submit builds the payload and runs the prediction
func (h *APIHandler) Submit(c *gin.Context) {
	result, err := h.service.BuildAndSubmit(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListSubmissions returns archived submissions, newest first
func (h *APIHandler) ListSubmissions(c *gin.Context) {
	if h.submissions == nil {
		RespondWithError(c, http.StatusNotFound, models.ErrorCodeNotFound, "Submission archive is not configured", nil)
		return
	}
	limit := 50
	if limitParam := c.Query("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	flight := c.Query("flight")
	submissions, err := h.submissions.List(c.Request.Context(), flight, limit)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"flight":      flight,
		"count":       len(submissions),
		"submissions": submissions,
	})
}

// Health reports the state of every registered dependency
func (h *APIHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status":   overall,
		"sessions": h.service.SessionCount(),
		"checks":   checks,
	})
}

func (h *APIHandler) parseCategory(c *gin.Context, raw string) (models.Category, bool) {
	category, ok := models.ParseCategory(raw)
	if !ok {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidEnumValue, "Unknown category", gin.H{
			"category": raw,
			"allowed":  models.Categories,
		})
	}
	return category, ok
}

func rowStatusResponse(status metrics.RowStatus, balance *metrics.Balance) gin.H {
	resp := gin.H{
		"status":     status,
		"label":      status.Label(),
		"can_commit": status.CanCommit(),
	}
	if balance != nil {
		resp["balance"] = balance
	}
	return resp
}
