package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
	"github.com/noah-isme/kelas-ledger-api/internal/service"
	appErrors "github.com/noah-isme/kelas-ledger-api/pkg/errors"
	"github.com/noah-isme/kelas-ledger-api/pkg/response"
)

// OccurrenceHandler exposes occurrence endpoints.
type OccurrenceHandler struct {
	occurrences *service.OccurrenceService
	attendance  *service.AttendanceService
}

// NewOccurrenceHandler constructs OccurrenceHandler.
func NewOccurrenceHandler(occurrences *service.OccurrenceService, attendance *service.AttendanceService) *OccurrenceHandler {
	return &OccurrenceHandler{occurrences: occurrences, attendance: attendance}
}

// List godoc
// @Summary List occurrences
// @Tags Occurrences
// @Produce json
// @Param classId query string false "Filter by class"
// @Param dateFrom query string false "Occurrences on or after this date"
// @Param dateTo query string false "Occurrences on or before this date"
// @Param overdue query bool false "Filter by overdue flag"
// @Param cancelled query bool false "Filter by cancelled flag"
// @Success 200 {object} response.Envelope
// @Router /occurrences [get]
func (h *OccurrenceHandler) List(c *gin.Context) {
	var filter models.OccurrenceFilter
	filter.ClassID = c.Query("classId")
	filter.DateFrom = dateQuery(c, "dateFrom")
	filter.DateTo = dateQuery(c, "dateTo")
	filter.Overdue = boolQuery(c, "overdue")
	filter.Cancelled = boolQuery(c, "cancelled")
	filter.Page, filter.PageSize = pageQuery(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	occurrences, pagination, err := h.occurrences.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, occurrences, pagination)
}

// Create godoc
// @Summary Create an occurrence manually
// @Tags Occurrences
// @Accept json
// @Produce json
// @Param payload body service.CreateOccurrenceRequest true "Occurrence payload"
// @Success 201 {object} response.Envelope
// @Router /occurrences [post]
func (h *OccurrenceHandler) Create(c *gin.Context) {
	var req service.CreateOccurrenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.occurrences.Create(c.Request.Context(), req)
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

// Get godoc
// @Summary Fetch an occurrence with attendance and ledger detail
// @Tags Occurrences
// @Produce json
// @Param id path string true "Occurrence ID"
// @Success 200 {object} response.Envelope
// @Router /occurrences/{id} [get]
func (h *OccurrenceHandler) Get(c *gin.Context) {
	occurrenceID := c.Param("id")
	occurrence, deductions, err := h.occurrences.Get(c.Request.Context(), occurrenceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	records, exclusions, err := h.attendance.ListByOccurrence(c.Request.Context(), occurrenceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"occurrence": occurrence,
		"attendance": records,
		"exclusions": exclusions,
		"deductions": deductions,
	})
}

type updateNotesRequest struct {
	Notes *string `json:"notes"`
}

// UpdateNotes godoc
// @Summary Replace the notes on an occurrence
// @Tags Occurrences
// @Accept json
// @Produce json
// @Param id path string true "Occurrence ID"
// @Param payload body updateNotesRequest true "Notes payload"
// @Success 200 {object} response.Envelope
// @Router /occurrences/{id}/notes [put]
func (h *OccurrenceHandler) UpdateNotes(c *gin.Context) {
	var req updateNotesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	occurrence, err := h.occurrences.UpdateNotes(c.Request.Context(), c.Param("id"), req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, occurrence)
}

// Cancel godoc
// @Summary Cancel an occurrence and refund its deductions
// @Tags Occurrences
// @Produce json
// @Param id path string true "Occurrence ID"
// @Success 200 {object} response.Envelope
// @Router /occurrences/{id}/cancel [post]
func (h *OccurrenceHandler) Cancel(c *gin.Context) {
	occurrence, err := h.occurrences.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, occurrence)
}
