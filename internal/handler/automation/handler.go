// Package automation exposes the event-queue API: enqueue, query,
// cancel, plus scheduler stats and the circuit-breaker dashboard.
package automation

import (
	"encoding/json"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sellerpulse/automation-hub/internal/middleware"
	"github.com/sellerpulse/automation-hub/internal/model"
	"github.com/sellerpulse/automation-hub/internal/repository"
	"github.com/sellerpulse/automation-hub/internal/scheduler"
	"github.com/sellerpulse/automation-hub/pkg/errors"
	"github.com/sellerpulse/automation-hub/pkg/httputil"
	"github.com/sellerpulse/automation-hub/pkg/resilience"
)

type Handler struct {
	repo  repository.EventRepository
	sched *scheduler.Scheduler
	guard *resilience.Guard
}

func NewHandler(repo repository.EventRepository, sched *scheduler.Scheduler, guard *resilience.Guard) *Handler {
	return &Handler{repo: repo, sched: sched, guard: guard}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	events := r.Group("/events")
	{
		events.POST("", h.Enqueue)
		events.GET("", h.List)
		events.GET("/:id", h.Get)
		events.POST("/:id/cancel", h.Cancel)
		events.POST("/:id/process", h.Process)
	}
	r.GET("/stats", h.Stats)
	r.GET("/breakers", h.Breakers)
}

type enqueueRequest struct {
	Type        string          `json:"type" binding:"required"`
	Channel     string          `json:"channel" binding:"omitempty,oneof=whatsapp instagram email"`
	UserID      string          `json:"user_id" binding:"required"`
	Payload     json.RawMessage `json:"payload"`
	Priority    string          `json:"priority" binding:"omitempty,oneof=low normal high critical"`
	ScheduledAt *time.Time      `json:"scheduled_at"`
	RecurEvery  string          `json:"recur_every"`
	MaxAttempts int             `json:"max_attempts" binding:"omitempty,min=1,max=10"`
}

func (h *Handler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if msg, ok := middleware.ValidationMessage(err); ok {
			httputil.RespondWithError(c, errors.BadRequest(msg, err))
			return
		}
		httputil.RespondWithError(c, errors.BadRequest("invalid request body", err))
		return
	}

	typ := model.AutomationType(req.Type)
	cfg, known := model.DefaultConfig(typ)
	if !known {
		httputil.RespondWithError(c, errors.BadRequest("unknown automation type", nil))
		return
	}

	priority := cfg.Priority
	if req.Priority != "" {
		priority, _ = model.ParsePriority(req.Priority)
	}

	channel := cfg.DefaultChannel
	if req.Channel != "" {
		channel = model.Channel(req.Channel)
	}

	event := &model.AutomationEvent{
		Type:        typ,
		Channel:     channel,
		UserID:      req.UserID,
		Payload:     req.Payload,
		Priority:    priority,
		MaxAttempts: req.MaxAttempts,
	}
	if req.ScheduledAt != nil {
		event.ScheduledAt = *req.ScheduledAt
	}
	if req.RecurEvery != "" {
		every, err := time.ParseDuration(req.RecurEvery)
		if err != nil || every < time.Minute {
			httputil.RespondWithError(c, errors.BadRequest("recur_every must be a duration of at least 1m", err))
			return
		}
		event.RecurEvery = every
	}

	if err := h.repo.Enqueue(c.Request.Context(), event); err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithCreated(c, event)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid event id", err))
		return
	}

	event, err := h.repo.Get(c.Request.Context(), id)
	if stderrors.Is(err, repository.ErrNotFound) {
		httputil.RespondWithError(c, errors.NotFound("event", err))
		return
	}
	if err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, event)
}

func (h *Handler) List(c *gin.Context) {
	filter := repository.ListFilter{
		Status: model.EventStatus(c.Query("status")),
		Type:   model.AutomationType(c.Query("type")),
		UserID: c.Query("user_id"),
	}
	if limit := c.Query("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}

	events, err := h.repo.List(c.Request.Context(), filter)
	if err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, events)
}

// Cancel aborts a pending event. Events already claimed or finished
// come back as a conflict.
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid event id", err))
		return
	}

	err = h.repo.Cancel(c.Request.Context(), id)
	if stderrors.Is(err, repository.ErrStaleStatus) {
		httputil.RespondWithError(c, errors.Conflict("event is no longer pending", err))
		return
	}
	if err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"id": id, "status": model.EventStatusCancelled})
}

// Process pushes a pending event through dispatch immediately,
// ignoring its schedule. Events already claimed or finished come back
// as a conflict.
func (h *Handler) Process(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid event id", err))
		return
	}

	err = h.sched.ProcessEvent(c.Request.Context(), id)
	if stderrors.Is(err, repository.ErrNotFound) {
		httputil.RespondWithError(c, errors.NotFound("event", err))
		return
	}
	if stderrors.Is(err, repository.ErrStaleStatus) {
		httputil.RespondWithError(c, errors.Conflict("event is no longer pending", err))
		return
	}
	if err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}

	event, err := h.repo.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, event)
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.sched.Stats(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, stats)
}

// Breakers exposes circuit-breaker state per integration key.
func (h *Handler) Breakers(c *gin.Context) {
	httputil.RespondWithSuccess(c, h.guard.Stats())
}
