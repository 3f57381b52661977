package negotiation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trueque-app/trueque/internal/auth"
	"github.com/trueque-app/trueque/internal/logging"
	"github.com/trueque-app/trueque/internal/pagination"
)

// Handler exposes the negotiation engine over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a handler for the given service.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers negotiation routes. All of them require auth.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/negotiations", h.Propose)
	r.GET("/negotiations/sent", h.ListSent)
	r.GET("/negotiations/received", h.ListReceived)
	r.GET("/negotiations/notifications", h.Notifications)
	r.GET("/negotiations/:id", h.Get)
	r.POST("/negotiations/:id/accept", h.Accept)
	r.POST("/negotiations/:id/reject", h.Reject)
	r.POST("/negotiations/:id/cancel", h.Cancel)
	r.POST("/negotiations/:id/confirm-completion", h.ConfirmCompletion)
	r.POST("/negotiations/:id/messages", h.SendMessage)
	r.PUT("/negotiations/:id/meeting", h.UpdateMeeting)
}

func (h *Handler) Propose(c *gin.Context) {
	var req ProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	n, err := h.service.Propose(c.Request.Context(), auth.CurrentUserID(c), req)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (h *Handler) Get(c *gin.Context) {
	n, err := h.service.Get(c.Request.Context(), c.Param("id"), auth.CurrentUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) ListSent(c *gin.Context) {
	h.list(c, RoleSent)
}

func (h *Handler) ListReceived(c *gin.Context) {
	h.list(c, RoleReceived)
}

func (h *Handler) list(c *gin.Context, role Role) {
	status := Status(c.Query("status"))
	limit := pagination.ParseLimit(c.Query("limit"))

	items, err := h.service.ListByActor(c.Request.Context(), auth.CurrentUserID(c), role, status, limit)
	if err != nil {
		renderError(c, err)
		return
	}
	if items == nil {
		items = []*Negotiation{}
	}
	c.JSON(http.StatusOK, gin.H{"negotiations": items})
}

func (h *Handler) Notifications(c *gin.Context) {
	counts, err := h.service.NotificationCounts(c.Request.Context(), auth.CurrentUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *Handler) Accept(c *gin.Context) {
	n, err := h.service.Accept(c.Request.Context(), c.Param("id"), auth.CurrentUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) Reject(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional; a bare POST rejects without a reason.
	_ = c.ShouldBindJSON(&req)

	n, err := h.service.Reject(c.Request.Context(), c.Param("id"), auth.CurrentUserID(c), req.Reason)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) Cancel(c *gin.Context) {
	n, err := h.service.Cancel(c.Request.Context(), c.Param("id"), auth.CurrentUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) ConfirmCompletion(c *gin.Context) {
	n, err := h.service.ConfirmCompletion(c.Request.Context(), c.Param("id"), auth.CurrentUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		Body string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	msg, err := h.service.SendMessage(c.Request.Context(), c.Param("id"), auth.CurrentUserID(c), req.Body)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) UpdateMeeting(c *gin.Context) {
	var req MeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	n, err := h.service.UpdateMeeting(c.Request.Context(), c.Param("id"), auth.CurrentUserID(c), req)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// renderError maps engine error kinds onto HTTP responses.
func renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case errors.Is(err, ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	case errors.Is(err, ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("negotiation request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal server error"})
	}
}
