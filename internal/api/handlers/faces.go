package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"faceattend/internal/checkin"
)

type FaceHandler struct {
	service  *checkin.Service
	maxBytes int64
}

func NewFaceHandler(service *checkin.Service, maxBytes int64) *FaceHandler {
	return &FaceHandler{service: service, maxBytes: maxBytes}
}

// Enroll registers or replaces the face of a (name, service) pair.
func (h *FaceHandler) Enroll(c *gin.Context) {
	req, image, err := readUpload(c, h.maxBytes)
	if err != nil {
		c.JSON(uploadStatus(err), gin.H{"error": err.Error()})
		return
	}

	enr, err := h.service.Enroll(c.Request.Context(), checkin.EnrollRequest{
		Name:      req.Name,
		Service:   req.Service,
		Image:     image,
		Arrival:   req.Arrival,
		Departure: req.Departure,
	})
	if errors.Is(err, checkin.ErrInvalidEnrollment) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		slog.Error("enrollment failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enrollment failed"})
		return
	}
	c.JSON(http.StatusCreated, enr)
}
