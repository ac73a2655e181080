// Package conversation exposes the shared conversation-context store
// over HTTP for channel frontends and the workflow engine.
package conversation

import (
	stderrors "errors"

	"github.com/gin-gonic/gin"

	"github.com/sellerpulse/automation-hub/internal/contextstore"
	"github.com/sellerpulse/automation-hub/pkg/errors"
	"github.com/sellerpulse/automation-hub/pkg/httputil"
)

type Handler struct {
	store *contextstore.Store
}

func NewHandler(store *contextstore.Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	contexts := r.Group("/contexts")
	{
		contexts.GET("/:channel/:user_id", h.Get)
		contexts.PUT("/:channel/:user_id", h.Set)
		contexts.PATCH("/:channel/:user_id", h.Update)
		contexts.DELETE("/:channel/:user_id", h.Delete)
	}
}

func (h *Handler) Get(c *gin.Context) {
	cc, err := h.store.Get(c.Request.Context(), c.Param("channel"), c.Param("user_id"))
	if stderrors.Is(err, contextstore.ErrNotFound) {
		httputil.RespondWithError(c, errors.NotFound("conversation context", err))
		return
	}
	if err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, cc)
}

func (h *Handler) Set(c *gin.Context) {
	var state map[string]interface{}
	if err := c.ShouldBindJSON(&state); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid state body", err))
		return
	}

	if err := h.store.Set(c.Request.Context(), c.Param("channel"), c.Param("user_id"), state); err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"updated": true})
}

func (h *Handler) Update(c *gin.Context) {
	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid fields body", err))
		return
	}

	if err := h.store.Update(c.Request.Context(), c.Param("channel"), c.Param("user_id"), fields); err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"updated": true})
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("channel"), c.Param("user_id")); err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"deleted": true})
}
