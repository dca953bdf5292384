package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
	"github.com/noah-isme/kelas-ledger-api/pkg/config"
)

type mockDueLister struct {
	mu      sync.Mutex
	due     []models.DueSchedule
	calls   int
	blockCh chan struct{}
}

func (m *mockDueLister) ListDue(ctx context.Context, dayOfWeek int, date time.Time, timeOfDay string) ([]models.DueSchedule, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.blockCh != nil {
		<-m.blockCh
	}
	return m.due, nil
}

func (m *mockDueLister) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockMaterializer struct {
	mu          sync.Mutex
	scheduleIDs []string
	done        chan string
	gate        chan struct{}
}

func (m *mockMaterializer) Materialize(ctx context.Context, schedule *models.ClassSchedule, durationMinutes int, targetDate, now time.Time) (*MaterializeResult, error) {
	m.mu.Lock()
	m.scheduleIDs = append(m.scheduleIDs, schedule.ID)
	m.mu.Unlock()
	if m.gate != nil {
		<-m.gate
	}
	if m.done != nil {
		m.done <- schedule.ID
	}
	return &MaterializeResult{
		Occurrence: &models.Occurrence{ID: "occ-" + schedule.ID},
		Created:    true,
	}, nil
}

func dueSchedule(id string) models.DueSchedule {
	return models.DueSchedule{
		ClassSchedule: models.ClassSchedule{
			ID:        id,
			ClassID:   "cls-1",
			StartTime: "08:00",
			Active:    true,
		},
		ClassName:            "Math A",
		ClassDurationMinutes: 90,
	}
}

func newSchedulerFixture(t *testing.T, lister *mockDueLister, materializer *mockMaterializer) *SchedulerService {
	t.Helper()
	svc, err := NewSchedulerService(lister, materializer, config.SchedulerConfig{
		Interval:          time.Hour,
		WorkerConcurrency: 2,
		QueueSize:         16,
	}, NewMetricsService(), zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestSchedulerServiceTickDispatchesDueSchedules(t *testing.T) {
	lister := &mockDueLister{due: []models.DueSchedule{dueSchedule("sch-1"), dueSchedule("sch-2")}}
	materializer := &mockMaterializer{done: make(chan string, 4)}
	svc := newSchedulerFixture(t, lister, materializer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	svc.Tick(ctx)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-materializer.done:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for materialization")
		}
	}
	require.True(t, seen["sch-1"])
	require.True(t, seen["sch-2"])
}

func TestSchedulerServiceTickDeduplicatesPendingJobs(t *testing.T) {
	lister := &mockDueLister{due: []models.DueSchedule{dueSchedule("sch-1")}}
	materializer := &mockMaterializer{done: make(chan string, 4), gate: make(chan struct{})}
	svc := newSchedulerFixture(t, lister, materializer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	// Both ticks list the same due schedule while the first job is still
	// in flight; the second enqueue must be rejected as a duplicate.
	svc.Tick(ctx)
	svc.Tick(ctx)
	close(materializer.gate)

	select {
	case <-materializer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for materialization")
	}
	select {
	case id := <-materializer.done:
		t.Fatalf("duplicate job executed for schedule %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSchedulerServiceTickSkipsOverlappingScan(t *testing.T) {
	lister := &mockDueLister{blockCh: make(chan struct{})}
	materializer := &mockMaterializer{}
	svc := newSchedulerFixture(t, lister, materializer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		svc.Tick(ctx)
	}()
	<-started
	require.Eventually(t, func() bool { return lister.callCount() == 1 }, time.Second, 10*time.Millisecond)

	svc.Tick(ctx)
	require.Equal(t, 1, lister.callCount())

	close(lister.blockCh)
}
