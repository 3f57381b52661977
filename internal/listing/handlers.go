package listing

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trueque-app/trueque/internal/auth"
	"github.com/trueque-app/trueque/internal/logging"
	"github.com/trueque-app/trueque/internal/pagination"
)

// Handler provides HTTP endpoints for listing management.
type Handler struct {
	service *Service
}

// NewHandler creates a new listing handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) listing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/listings", h.Browse)
	r.GET("/listings/:id", h.Get)
}

// RegisterProtectedRoutes sets up auth-required listing routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/listings", h.Create)
	r.GET("/my/listings", h.MyListings)
	r.PATCH("/listings/:id", h.Update)
	r.POST("/listings/:id/pause", h.Pause)
	r.POST("/listings/:id/reopen", h.Reopen)
	r.POST("/listings/:id/withdraw", h.Withdraw)
	r.DELETE("/listings/:id", h.Delete)
}

// Browse handles GET /v1/listings
func (h *Handler) Browse(c *gin.Context) {
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Malformed pagination cursor",
		})
		return
	}
	limit := pagination.ParseLimit(c.Query("limit"))

	// Fetch one extra row to compute has_more.
	items, err := h.service.Browse(c.Request.Context(), BrowseFilter{
		Category: c.Query("category"),
		Cursor:   cursor,
		Limit:    limit + 1,
	})
	if err != nil {
		logging.L(c.Request.Context()).Error("listing browse failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list listings",
		})
		return
	}

	items, next, hasMore := pagination.ComputePage(items, limit, func(l *Listing) (time.Time, string) {
		return l.CreatedAt, l.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"listings":   items,
		"count":      len(items),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// Get handles GET /v1/listings/:id
func (h *Handler) Get(c *gin.Context) {
	l, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": l})
}

// Create handles POST /v1/listings
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	l, err := h.service.Create(c.Request.Context(), auth.CurrentUserID(c), req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"listing": l})
}

// MyListings handles GET /v1/my/listings
func (h *Handler) MyListings(c *gin.Context) {
	limit := pagination.ParseLimit(c.Query("limit"))
	items, err := h.service.MyListings(c.Request.Context(), auth.CurrentUserID(c), limit)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"listings": items,
		"count":    len(items),
	})
}

// Update handles PATCH /v1/listings/:id
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	l, err := h.service.Update(c.Request.Context(), c.Param("id"), auth.CurrentUserID(c), req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": l})
}

// Pause handles POST /v1/listings/:id/pause
func (h *Handler) Pause(c *gin.Context) {
	h.transition(c, h.service.Pause)
}

// Reopen handles POST /v1/listings/:id/reopen
func (h *Handler) Reopen(c *gin.Context) {
	h.transition(c, h.service.Reopen)
}

// Withdraw handles POST /v1/listings/:id/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	h.transition(c, h.service.Withdraw)
}

func (h *Handler) transition(c *gin.Context, fn func(ctx context.Context, id, callerID string) (*Listing, error)) {
	l, err := fn(c.Request.Context(), c.Param("id"), auth.CurrentUserID(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": l})
}

// Delete handles DELETE /v1/listings/:id
func (h *Handler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), auth.CurrentUserID(c)); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Listing deleted"})
}

func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Listing not found",
		})
	case errors.Is(err, ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You do not own this listing",
		})
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	case errors.Is(err, ErrListingHeld):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "listing_held",
			"message": "Listing is held by an active negotiation",
		})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": "Listing status does not permit this operation",
		})
	default:
		logging.L(c.Request.Context()).Error("listing operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Unexpected error",
		})
	}
}
