package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trueque-app/trueque/internal/logging"
	"github.com/trueque-app/trueque/internal/validation"
)

// Handler provides HTTP endpoints for account management
type Handler struct {
	manager *Manager
}

// NewHandler creates a new auth handler
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// RegisterRequest is the request body for account registration
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	WhatsApp string `json:"whatsapp"`
	Password string `json:"password"`
}

// Register creates a new account
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	errs := validation.Validate(
		validation.Required("username", req.Username),
		validation.ValidUsername("username", req.Username),
		validation.Required("email", req.Email),
		validation.ValidEmail("email", req.Email),
		validation.Required("password", req.Password),
	)
	if len(req.Password) > 0 && len(req.Password) < 8 {
		errs = append(errs, validation.ValidationError{Field: "password", Message: "must be at least 8 characters"})
	}
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return
	}

	user, err := h.manager.Register(c.Request.Context(), req.Username, req.Email, req.WhatsApp, req.Password)
	if err == ErrUserExists {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "user_exists",
			"message": "Username or email is already taken",
		})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("register failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create account",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// LoginRequest is the request body for login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies credentials and issues a token
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	rawToken, user, err := h.manager.Login(c.Request.Context(), req.Email, req.Password)
	if err == ErrInvalidCredentials {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_credentials",
			"message": "Invalid email or password",
		})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("login failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to log in",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":   rawToken,
		"user":    user,
		"warning": "Store this token securely. It will not be shown again.",
	})
}

// Me returns the authenticated user's profile
func (h *Handler) Me(c *gin.Context) {
	user, ok := GetUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Logout revokes the token used for this request
func (h *Handler) Logout(c *gin.Context) {
	token, ok := GetToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.manager.Logout(c.Request.Context(), token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to revoke token",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}
