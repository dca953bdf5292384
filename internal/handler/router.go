package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kelas-ledger-api/internal/middleware"
	"github.com/noah-isme/kelas-ledger-api/internal/models"
	"github.com/noah-isme/kelas-ledger-api/internal/service"
)

// Handlers bundles every HTTP handler for route registration.
type Handlers struct {
	Auth        *AuthHandler
	Students    *StudentHandler
	Classes     *ClassHandler
	Schedules   *ScheduleHandler
	Enrollments *EnrollmentHandler
	Occurrences *OccurrenceHandler
	Attendance  *AttendanceHandler
	Payments    *PaymentHandler
	Statements  *StatementHandler
	Metrics     *MetricsHandler
}

// RegisterRoutes mounts the API surface under prefix. Mutating routes
// require the STAFF or ADMIN role; destructive ones ADMIN only.
func RegisterRoutes(r *gin.Engine, prefix string, h Handlers, auth *service.AuthService) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	api := r.Group(prefix)

	api.POST("/auth/login", h.Auth.Login)
	api.POST("/auth/refresh", h.Auth.Refresh)

	if h.Statements != nil {
		// Statement downloads authenticate via the signed token itself.
		api.GET("/statements/download", h.Statements.Download)
	}

	protected := api.Group("")
	protected.Use(middleware.JWT(auth))

	protected.GET("/auth/me", h.Auth.Me)

	staff := protected.Group("")
	staff.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleStaff))

	admin := protected.Group("")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))

	staff.GET("/students", h.Students.List)
	staff.POST("/students", h.Students.Create)
	staff.GET("/students/:id", h.Students.Get)
	staff.GET("/students/:id/balance", h.Students.Balance)

	staff.GET("/classes", h.Classes.List)
	staff.POST("/classes", h.Classes.Create)
	staff.GET("/classes/:id", h.Classes.Get)

	staff.GET("/schedules", h.Schedules.List)
	staff.POST("/schedules", h.Schedules.Create)
	staff.PUT("/schedules/:id/active", h.Schedules.SetActive)
	staff.POST("/schedules/:id/materialize", h.Schedules.Materialize)

	staff.GET("/enrollments", h.Enrollments.List)
	staff.POST("/enrollments", h.Enrollments.Create)
	admin.DELETE("/enrollments/:id", h.Enrollments.Delete)

	staff.GET("/occurrences", h.Occurrences.List)
	staff.POST("/occurrences", h.Occurrences.Create)
	staff.GET("/occurrences/:id", h.Occurrences.Get)
	staff.PUT("/occurrences/:id/notes", h.Occurrences.UpdateNotes)
	admin.POST("/occurrences/:id/cancel", h.Occurrences.Cancel)

	staff.PUT("/occurrences/:id/attendance/:studentId", h.Attendance.SetStatus)
	staff.POST("/occurrences/:id/exclusions/:studentId", h.Attendance.Exclude)
	staff.DELETE("/occurrences/:id/exclusions/:studentId", h.Attendance.Unexclude)

	staff.GET("/payments", h.Payments.List)
	staff.POST("/payments", h.Payments.Create)
	staff.POST("/payments/:id/allocations", h.Payments.Allocate)

	if h.Statements != nil {
		staff.POST("/statements", h.Statements.Generate)
	}
}
