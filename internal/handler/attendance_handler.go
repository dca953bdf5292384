package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kelas-ledger-api/internal/service"
	appErrors "github.com/noah-isme/kelas-ledger-api/pkg/errors"
	"github.com/noah-isme/kelas-ledger-api/pkg/response"
)

// AttendanceHandler exposes per-student attendance and exclusion endpoints.
type AttendanceHandler struct {
	attendance *service.AttendanceService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(attendance *service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance}
}

// SetStatus godoc
// @Summary Set a student's attendance status for an occurrence
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Occurrence ID"
// @Param studentId path string true "Student ID"
// @Param payload body service.SetAttendanceRequest true "Attendance payload"
// @Success 200 {object} response.Envelope
// @Router /occurrences/{id}/attendance/{studentId} [put]
func (h *AttendanceHandler) SetStatus(c *gin.Context) {
	var req service.SetAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.attendance.SetStatus(c.Request.Context(), c.Param("id"), c.Param("studentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Exclude godoc
// @Summary Exclude a student from an occurrence, refunding any deduction
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Occurrence ID"
// @Param studentId path string true "Student ID"
// @Param payload body service.ExcludeRequest false "Exclusion payload"
// @Success 200 {object} response.Envelope
// @Router /occurrences/{id}/exclusions/{studentId} [post]
func (h *AttendanceHandler) Exclude(c *gin.Context) {
	var req service.ExcludeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	result, err := h.attendance.Exclude(c.Request.Context(), c.Param("id"), c.Param("studentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Unexclude godoc
// @Summary Remove an exclusion, restoring attendance and billing
// @Tags Attendance
// @Produce json
// @Param id path string true "Occurrence ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /occurrences/{id}/exclusions/{studentId} [delete]
func (h *AttendanceHandler) Unexclude(c *gin.Context) {
	result, err := h.attendance.Unexclude(c.Request.Context(), c.Param("id"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}
