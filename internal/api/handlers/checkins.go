package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/checkin"
)

type CheckInHandler struct {
	service    *checkin.Service
	dispatcher *checkin.Dispatcher
	jobs       checkin.Jobs
	maxBytes   int64
}

// NewCheckInHandler builds the handler. dispatcher and jobs may be nil, which
// disables asynchronous check-ins.
func NewCheckInHandler(service *checkin.Service, dispatcher *checkin.Dispatcher, jobs checkin.Jobs, maxBytes int64) *CheckInHandler {
	return &CheckInHandler{service: service, dispatcher: dispatcher, jobs: jobs, maxBytes: maxBytes}
}

// Create runs a check-in. The synchronous response is always a check-in
// result, including for faces that are not recognized.
func (h *CheckInHandler) Create(c *gin.Context) {
	req, image, err := readUpload(c, h.maxBytes)
	if err != nil {
		c.JSON(uploadStatus(err), gin.H{"error": err.Error()})
		return
	}
	et, err := attendance.ParseEventType(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Async {
		if h.dispatcher == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "async check-ins are not enabled"})
			return
		}
		job, err := h.dispatcher.Submit(c.Request.Context(), image, et, auth.DeviceID(c))
		if err != nil {
			slog.Error("submit check-in", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "check-in queue unavailable"})
			return
		}
		c.JSON(http.StatusAccepted, job)
		return
	}

	c.JSON(http.StatusOK, h.service.CheckIn(c.Request.Context(), image, et))
}

func (h *CheckInHandler) Job(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	job, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, checkin.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		slog.Error("load job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "job lookup failed"})
		return
	}
	c.JSON(http.StatusOK, job)
}
