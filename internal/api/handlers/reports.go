package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"faceattend/internal/attendance"
)

// Reports serves the report views of the ledger.
type Reports interface {
	History(ctx context.Context, f attendance.HistoryFilter) ([]attendance.AttendanceEvent, error)
	LatenessReport(ctx context.Context, f attendance.LatenessFilter) (attendance.LatenessReport, error)
	WorkedHours(ctx context.Context, name, service, date string) (time.Duration, error)
}

type ReportHandler struct {
	reports Reports
	now     func() time.Time
}

func NewReportHandler(reports Reports, now func() time.Time) *ReportHandler {
	if now == nil {
		now = time.Now
	}
	return &ReportHandler{reports: reports, now: now}
}

func validDate(s string) bool {
	if s == "" {
		return true
	}
	_, err := time.Parse(attendance.DateLayout, s)
	return err == nil
}

func (h *ReportHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, attendance.ErrStoreUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance store unavailable"})
		return
	}
	slog.Error("report failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
}

func (h *ReportHandler) History(c *gin.Context) {
	f := attendance.HistoryFilter{Date: c.Query("date"), Service: c.Query("service"), Name: c.Query("name")}
	if !validDate(f.Date) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	rows, err := h.reports.History(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows, "count": len(rows)})
}

func (h *ReportHandler) Lateness(c *gin.Context) {
	f := attendance.LatenessFilter{Date: c.Query("date"), Service: c.Query("service")}
	if !validDate(f.Date) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	if t := c.Query("type"); t != "" {
		et, err := attendance.ParseEventType(t)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Type = et
	}
	report, err := h.reports.LatenessReport(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *ReportHandler) Hours(c *gin.Context) {
	name, service := c.Query("name"), c.Query("service")
	if name == "" || service == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and service are required"})
		return
	}
	date := c.DefaultQuery("date", h.now().Format(attendance.DateLayout))
	if !validDate(date) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	worked, err := h.reports.WorkedHours(c.Request.Context(), name, service, date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":     name,
		"service":  service,
		"date":     date,
		"hours":    worked.Hours(),
		"duration": worked.String(),
	})
}
