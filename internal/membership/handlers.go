package membership

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trueque-app/trueque/internal/auth"
	"github.com/trueque-app/trueque/internal/logging"
	"github.com/trueque-app/trueque/internal/pagination"
)

// Handler exposes membership and upgrade-review endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a handler for the given service.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the user-facing membership routes.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/membership", h.Get)
	r.POST("/membership/proofs", h.SubmitProof)
	r.GET("/membership/proofs", h.MyProofs)
}

// RegisterAdminRoutes registers the review queue. Callers must already be
// behind RequireAdmin.
func (h *Handler) RegisterAdminRoutes(r gin.IRoutes) {
	r.GET("/admin/proofs", h.PendingProofs)
	r.POST("/admin/proofs/:id/approve", h.ApproveProof)
	r.POST("/admin/proofs/:id/reject", h.RejectProof)
}

func (h *Handler) Get(c *gin.Context) {
	m, err := h.service.Get(c.Request.Context(), auth.CurrentUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"membership": m,
		"quota":      m.Plan.Quota(),
		"remaining":  m.Remaining(),
	})
}

func (h *Handler) SubmitProof(c *gin.Context) {
	var req ProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	p, err := h.service.SubmitProof(c.Request.Context(), auth.CurrentUserID(c), req)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) MyProofs(c *gin.Context) {
	proofs, err := h.service.MyProofs(c.Request.Context(), auth.CurrentUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	if proofs == nil {
		proofs = []*PaymentProof{}
	}
	c.JSON(http.StatusOK, gin.H{"proofs": proofs})
}

func (h *Handler) PendingProofs(c *gin.Context) {
	limit := pagination.ParseLimit(c.Query("limit"))
	proofs, err := h.service.PendingProofs(c.Request.Context(), limit)
	if err != nil {
		renderError(c, err)
		return
	}
	if proofs == nil {
		proofs = []*PaymentProof{}
	}
	c.JSON(http.StatusOK, gin.H{"proofs": proofs})
}

func (h *Handler) ApproveProof(c *gin.Context) {
	p, err := h.service.ApproveProof(c.Request.Context(), c.Param("id"), auth.CurrentUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) RejectProof(c *gin.Context) {
	var req struct {
		Note string `json:"note"`
	}
	_ = c.ShouldBindJSON(&req)

	p, err := h.service.RejectProof(c.Request.Context(), c.Param("id"), auth.CurrentUserID(c), req.Note)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case errors.Is(err, ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	case errors.Is(err, ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("membership request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal server error"})
	}
}
