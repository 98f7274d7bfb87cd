package http

import (
	"errors"
	"net/http"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/core/services"
	"huddle/pkg/utils"

	"github.com/gin-gonic/gin"
)

type MeetingHandler struct {
	registry ports.RegistryService
	metrics  *services.MetricsService
}

func NewMeetingHandler(registry ports.RegistryService, metrics *services.MetricsService) *MeetingHandler {
	return &MeetingHandler{
		registry: registry,
		metrics:  metrics,
	}
}

func (h *MeetingHandler) SetupRoutes(router gin.IRoutes) {
	router.POST("/meetings", h.CreateMeeting)
	router.GET("/meetings", h.ListScheduled)
	router.GET("/meetings/:id", h.GetMeeting)
	router.GET("/meetings/:id/stats", h.GetMeetingStats)
}

func (h *MeetingHandler) CreateMeeting(c *gin.Context) {
	var req struct {
		Title     string     `json:"title" binding:"max=200"`
		IsInstant bool       `json:"is_instant"`
		Admission string     `json:"admission" binding:"omitempty,oneof=open waiting_room"`
		StartTime *time.Time `json:"start_time"`
		EndTime   *time.Time `json:"end_time"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	spec := ports.MeetingSpec{
		Title:     req.Title,
		Mode:      domain.ModeScheduled,
		Admission: domain.AdmissionPolicy(req.Admission),
		EndTime:   req.EndTime,
	}
	if req.IsInstant {
		spec.Mode = domain.ModeInstant
		spec.StartTime = utils.Now()
	} else {
		if req.StartTime == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_time is required for scheduled meetings"})
			return
		}
		spec.StartTime = *req.StartTime
	}

	meeting, err := h.registry.Create(c.Request.Context(), spec)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"meeting_id": meeting.ID,
		"meeting":    meeting,
	})
}

func (h *MeetingHandler) GetMeeting(c *gin.Context) {
	meetingID := domain.MeetingID(c.Param("id"))

	meeting, err := h.registry.Get(c.Request.Context(), meetingID)
	if err != nil {
		if errors.Is(err, domain.ErrMeetingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Meeting not found"})
			return
		}
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"meeting": meeting,
	})
}

func (h *MeetingHandler) ListScheduled(c *gin.Context) {
	meetings := make([]*domain.Meeting, 0)
	for m := range h.registry.ListScheduled(c.Request.Context()) {
		meetings = append(meetings, m)
	}

	c.JSON(http.StatusOK, gin.H{
		"meetings": meetings,
	})
}

func (h *MeetingHandler) GetMeetingStats(c *gin.Context) {
	meetingID := domain.MeetingID(c.Param("id"))

	if _, err := h.registry.Get(c.Request.Context(), meetingID); err != nil {
		if errors.Is(err, domain.ErrMeetingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Meeting not found"})
			return
		}
		c.Error(err)
		return
	}

	stats, _ := h.metrics.Stats(meetingID)
	c.JSON(http.StatusOK, gin.H{
		"stats": stats,
	})
}
