package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/reportmailer/internal/models"
	"github.com/reportmailer/internal/schedule"
	"github.com/reportmailer/internal/store"
)

type reportResponse struct {
	Report   *models.Report               `json:"report"`
	Schedule *models.ScheduleRegistration `json:"schedule,omitempty"`
}

func (s *Server) createReport(c *gin.Context) {
	var in store.ReportInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateSchedule(in.Schedule); err != nil {
		s.fail(c, err)
		return
	}

	r, err := s.store.CreateReport(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	reg, err := s.applySchedule(c, r.ID, in.Schedule)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, reportResponse{Report: redact(r), Schedule: reg})
}

func (s *Server) getReport(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	r, err := s.store.GetReport(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, redact(r))
}

func (s *Server) updateReport(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in store.ReportInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateSchedule(in.Schedule); err != nil {
		s.fail(c, err)
		return
	}

	r, err := s.store.SaveReport(c.Request.Context(), id, in)
	if err != nil {
		s.fail(c, err)
		return
	}
	reg, err := s.applySchedule(c, r.ID, in.Schedule)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reportResponse{Report: redact(r), Schedule: reg})
}

func (s *Server) deleteReport(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.scheduler.UnscheduleReport(ctx, id); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.store.DeleteReport(ctx, id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) scheduleReport(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var spec models.ScheduleSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := s.store.GetReport(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}

	reg, err := s.scheduler.ScheduleReport(c.Request.Context(), id, spec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, reg)
}

func (s *Server) unschedule(c *gin.Context) {
	handle, ok := paramID(c, "handle")
	if !ok {
		return
	}
	if err := s.scheduler.Unschedule(c.Request.Context(), handle); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// runReport enqueues a run. With ?query_id= only that query runs, ad hoc.
func (s *Server) runReport(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := s.store.GetReport(ctx, id); err != nil {
		s.fail(c, err)
		return
	}

	var (
		taskID string
		err    error
	)
	if raw := c.Query("query_id"); raw != "" {
		queryID, perr := strconv.ParseUint(raw, 10, 64)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query_id"})
			return
		}
		taskID, err = s.scheduler.RunQueryNow(ctx, id, uint(queryID))
	} else {
		taskID, err = s.scheduler.RunReportNow(ctx, id)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

func (s *Server) downloadReport(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	artifact, err := s.reports.Download(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	c.Data(http.StatusOK, artifact.MimeType, artifact.Data)
}

func (s *Server) reportLogs(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = l
	}

	logs, err := s.store.ListLogs(c.Request.Context(), id, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func validateSchedule(spec models.ScheduleSpec) error {
	if spec.IsZero() {
		return nil
	}
	return schedule.Validate(spec, time.Now())
}

// applySchedule registers spec for the report, or drops its trigger when
// spec is empty.
func (s *Server) applySchedule(c *gin.Context, reportID uint, spec models.ScheduleSpec) (*models.ScheduleRegistration, error) {
	if spec.IsZero() {
		return nil, s.scheduler.UnscheduleReport(c.Request.Context(), reportID)
	}
	return s.scheduler.ScheduleReport(c.Request.Context(), reportID, spec)
}

// redact clears the opened connection passwords before r leaves the server.
func redact(r *models.Report) *models.Report {
	for i := range r.Queries {
		r.Queries[i].Query.Database.Password = ""
	}
	return r
}
