package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"faceattend/internal/auth"
)

type DeviceHandler struct {
	issuer          *auth.Issuer
	provisioningKey string
}

func NewDeviceHandler(issuer *auth.Issuer, provisioningKey string) *DeviceHandler {
	return &DeviceHandler{issuer: issuer, provisioningKey: provisioningKey}
}

func (h *DeviceHandler) Register(c *gin.Context) {
	var req struct {
		DeviceID        string `json:"device_id" binding:"required"`
		ProvisioningKey string `json:"provisioning_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.provisioningKey != "" && subtle.ConstantTimeCompare([]byte(req.ProvisioningKey), []byte(h.provisioningKey)) != 1 {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid provisioning key"})
		return
	}

	tokens, err := h.issuer.Issue(req.DeviceID, auth.RoleDevice)
	if err != nil {
		slog.Error("token issue failed", "device", req.DeviceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	slog.Info("device registered", "device", req.DeviceID)
	c.JSON(http.StatusCreated, tokens)
}

func (h *DeviceHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tokens, err := h.issuer.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, tokens)
}
