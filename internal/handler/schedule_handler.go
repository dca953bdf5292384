package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
	"github.com/noah-isme/kelas-ledger-api/internal/service"
	appErrors "github.com/noah-isme/kelas-ledger-api/pkg/errors"
	"github.com/noah-isme/kelas-ledger-api/pkg/response"
)

// ScheduleHandler exposes recurring schedule endpoints, including the
// manual materialization trigger.
type ScheduleHandler struct {
	catalog     *service.CatalogService
	occurrences *service.OccurrenceService
	location    *time.Location
}

// NewScheduleHandler constructs ScheduleHandler.
func NewScheduleHandler(catalog *service.CatalogService, occurrences *service.OccurrenceService, location *time.Location) *ScheduleHandler {
	if location == nil {
		location = time.UTC
	}
	return &ScheduleHandler{catalog: catalog, occurrences: occurrences, location: location}
}

// List godoc
// @Summary List schedules
// @Tags Schedules
// @Produce json
// @Param classId query string false "Filter by class"
// @Param dayOfWeek query int false "Filter by weekday (0 = Sunday)"
// @Param active query bool false "Filter by active state"
// @Success 200 {object} response.Envelope
// @Router /schedules [get]
func (h *ScheduleHandler) List(c *gin.Context) {
	var filter models.ScheduleFilter
	filter.ClassID = c.Query("classId")
	if raw := c.Query("dayOfWeek"); raw != "" {
		if day, err := strconv.Atoi(raw); err == nil {
			filter.DayOfWeek = &day
		}
	}
	filter.Active = boolQuery(c, "active")
	filter.Page, filter.PageSize = pageQuery(c)

	schedules, total, err := h.catalog.ListSchedules(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedules, paginationFor(filter.Page, filter.PageSize, total))
}

// Create godoc
// @Summary Add a weekly schedule slot
// @Tags Schedules
// @Accept json
// @Produce json
// @Param payload body service.CreateScheduleRequest true "Schedule payload"
// @Success 201 {object} response.Envelope
// @Router /schedules [post]
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req service.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	schedule, err := h.catalog.CreateSchedule(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, schedule)
}

// SetActive godoc
// @Summary Enable or disable a schedule
// @Tags Schedules
// @Accept json
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/active [put]
func (h *ScheduleHandler) SetActive(c *gin.Context) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.catalog.SetScheduleActive(c.Request.Context(), c.Param("id"), req.Active); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"active": req.Active})
}

// Materialize godoc
// @Summary Materialize a schedule's occurrence for a date
// @Tags Schedules
// @Produce json
// @Param id path string true "Schedule ID"
// @Param date query string false "Target date (defaults to today)"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/materialize [post]
func (h *ScheduleHandler) Materialize(c *gin.Context) {
	targetDate := time.Now().In(h.location)
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.ParseInLocation(dateLayout, raw, h.location)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD"))
			return
		}
		targetDate = parsed
	}
	result, err := h.occurrences.MaterializeByScheduleID(c.Request.Context(), c.Param("id"), targetDate)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	response.JSON(c, status, result, nil)
}
