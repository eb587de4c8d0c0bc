package push

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"callhub-backend/pkg/push"
	"callhub-backend/pkg/response"
)

// Handler handles push token registration
type Handler struct {
	service *push.Service
}

// NewHandler creates a new push handler
func NewHandler(service *push.Service) *Handler {
	return &Handler{service: service}
}

// RegisterTokenRequest represents a device token registration request
type RegisterTokenRequest struct {
	Token    string `json:"token" binding:"required"`
	Type     string `json:"type" binding:"required,oneof=fcm apns"`
	DeviceID string `json:"device_id"`
	Platform string `json:"platform" binding:"omitempty,oneof=ios android"`
}

// UnregisterTokenRequest represents a device token removal request
type UnregisterTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// RegisterToken registers a device token for call alerts
// POST /v1/push/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	address, ok := h.address(c)
	if !ok {
		return
	}

	token := &push.Token{
		Token:     req.Token,
		Type:      push.TokenType(req.Type),
		DeviceID:  req.DeviceID,
		Platform:  req.Platform,
		CreatedAt: time.Now().Unix(),
	}

	if err := h.service.RegisterToken(c.Request.Context(), address, token); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"registered": true})
}

// UnregisterToken removes a device token
// DELETE /v1/push/tokens
func (h *Handler) UnregisterToken(c *gin.Context) {
	var req UnregisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	address, ok := h.address(c)
	if !ok {
		return
	}

	if err := h.service.UnregisterToken(c.Request.Context(), address, req.Token); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"unregistered": true})
}

func (h *Handler) address(c *gin.Context) (string, bool) {
	addressVal, exists := c.Get("address")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return "", false
	}
	address, ok := addressVal.(string)
	if !ok || address == "" {
		response.InternalError(c, "Invalid address")
		return "", false
	}
	return address, true
}
