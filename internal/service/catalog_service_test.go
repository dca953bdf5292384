package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
	appErrors "github.com/noah-isme/kelas-ledger-api/pkg/errors"
)

type mockCatalogStudents struct {
	students map[string]*models.Student
	created  *models.Student
}

func (m *mockCatalogStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCatalogStudents) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	return nil, 0, nil
}

func (m *mockCatalogStudents) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = "stu-new"
	}
	m.created = student
	return nil
}

type mockCatalogClasses struct {
	classes map[string]*models.Class
	created *models.Class
}

func (m *mockCatalogClasses) FindByID(ctx context.Context, id string) (*models.Class, error) {
	if c, ok := m.classes[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCatalogClasses) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error) {
	return nil, 0, nil
}

func (m *mockCatalogClasses) Create(ctx context.Context, class *models.Class) error {
	if class.ID == "" {
		class.ID = "cls-new"
	}
	m.created = class
	return nil
}

type mockCatalogSchedules struct {
	schedules map[string]*models.ClassSchedule
	created   *models.ClassSchedule
	active    map[string]bool
}

func (m *mockCatalogSchedules) FindByID(ctx context.Context, id string) (*models.ClassSchedule, error) {
	if s, ok := m.schedules[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCatalogSchedules) List(ctx context.Context, filter models.ScheduleFilter) ([]models.ClassSchedule, int, error) {
	return nil, 0, nil
}

func (m *mockCatalogSchedules) Create(ctx context.Context, schedule *models.ClassSchedule) error {
	if schedule.ID == "" {
		schedule.ID = "sch-new"
	}
	m.created = schedule
	return nil
}

func (m *mockCatalogSchedules) SetActive(ctx context.Context, id string, active bool) error {
	if m.active == nil {
		m.active = make(map[string]bool)
	}
	m.active[id] = active
	return nil
}

type mockCatalogEnrollments struct {
	activePairs map[string]bool
	created     *models.Enrollment
	deactivated []string
}

func (m *mockCatalogEnrollments) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (m *mockCatalogEnrollments) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = "enr-new"
	}
	m.created = enrollment
	return nil
}

func (m *mockCatalogEnrollments) SetActive(ctx context.Context, id string, active bool, leftAt *time.Time) error {
	m.deactivated = append(m.deactivated, id)
	return nil
}

func (m *mockCatalogEnrollments) ExistsActive(ctx context.Context, studentID, classID string) (bool, error) {
	return m.activePairs[studentID+"/"+classID], nil
}

const (
	testStudentID = "0d5a9c3e-4f1b-4a6e-9c2d-8b7f6e5d4c3b"
	testClassID   = "1e6b0d4f-5a2c-4b7f-8d3e-9c8a7f6e5d4c"
)

type catalogFixture struct {
	students    *mockCatalogStudents
	classes     *mockCatalogClasses
	schedules   *mockCatalogSchedules
	enrollments *mockCatalogEnrollments
	svc         *CatalogService
}

func newCatalogFixture() *catalogFixture {
	f := &catalogFixture{
		students: &mockCatalogStudents{students: map[string]*models.Student{
			testStudentID: {ID: testStudentID, FullName: "Sari Dewi", Active: true},
		}},
		classes: &mockCatalogClasses{classes: map[string]*models.Class{
			testClassID: {ID: testClassID, Name: "Math A", DurationMinutes: 90, Active: true},
		}},
		schedules:   &mockCatalogSchedules{schedules: map[string]*models.ClassSchedule{}},
		enrollments: &mockCatalogEnrollments{activePairs: map[string]bool{}},
	}
	f.svc = NewCatalogService(f.students, f.classes, f.schedules, f.enrollments, nil, zap.NewNop(), 60)
	return f
}

func TestCatalogServiceCreateStudent(t *testing.T) {
	f := newCatalogFixture()

	student, err := f.svc.CreateStudent(context.Background(), CreateStudentRequest{FullName: "Budi Santoso"})
	require.NoError(t, err)
	require.True(t, student.Active)
	require.Equal(t, "Budi Santoso", f.students.created.FullName)
}

func TestCatalogServiceCreateStudentRejectsShortName(t *testing.T) {
	f := newCatalogFixture()

	_, err := f.svc.CreateStudent(context.Background(), CreateStudentRequest{FullName: "B"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCatalogServiceCreateClassDefaultsDuration(t *testing.T) {
	f := newCatalogFixture()

	class, err := f.svc.CreateClass(context.Background(), CreateClassRequest{Name: "Biology"})
	require.NoError(t, err)
	require.Equal(t, 60, class.DurationMinutes)
}

func TestCatalogServiceCreateSchedule(t *testing.T) {
	f := newCatalogFixture()

	schedule, err := f.svc.CreateSchedule(context.Background(), CreateScheduleRequest{
		ClassID:   testClassID,
		DayOfWeek: 1,
		StartTime: "19:00",
	})
	require.NoError(t, err)
	require.NotNil(t, schedule.EndTime)
	require.Equal(t, "20:30", *schedule.EndTime)
	require.True(t, schedule.Active)
}

func TestCatalogServiceCreateScheduleRejectsBadClock(t *testing.T) {
	f := newCatalogFixture()

	_, err := f.svc.CreateSchedule(context.Background(), CreateScheduleRequest{
		ClassID:   testClassID,
		DayOfWeek: 1,
		StartTime: "25:99",
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCatalogServiceCreateScheduleRejectsInvertedTimes(t *testing.T) {
	f := newCatalogFixture()

	end := "18:00"
	_, err := f.svc.CreateSchedule(context.Background(), CreateScheduleRequest{
		ClassID:   testClassID,
		DayOfWeek: 1,
		StartTime: "19:00",
		EndTime:   &end,
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCatalogServiceSetScheduleActiveUnknownSchedule(t *testing.T) {
	f := newCatalogFixture()

	err := f.svc.SetScheduleActive(context.Background(), "missing", false)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCatalogServiceEnroll(t *testing.T) {
	f := newCatalogFixture()

	enrollment, err := f.svc.Enroll(context.Background(), CreateEnrollmentRequest{
		StudentID: testStudentID,
		ClassID:   testClassID,
	})
	require.NoError(t, err)
	require.True(t, enrollment.Active)
	require.False(t, enrollment.JoinedAt.IsZero())
}

func TestCatalogServiceEnrollRejectsDuplicate(t *testing.T) {
	f := newCatalogFixture()
	f.enrollments.activePairs[testStudentID+"/"+testClassID] = true

	_, err := f.svc.Enroll(context.Background(), CreateEnrollmentRequest{
		StudentID: testStudentID,
		ClassID:   testClassID,
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrAlreadyExists.Code, appErrors.FromError(err).Code)
}

func TestCatalogServiceEnrollUnknownStudent(t *testing.T) {
	f := newCatalogFixture()

	_, err := f.svc.Enroll(context.Background(), CreateEnrollmentRequest{
		StudentID: "2f7c1e5a-6b3d-4c8a-9e4f-0d9b8a7f6e5d",
		ClassID:   testClassID,
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
