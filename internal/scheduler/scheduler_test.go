package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStarter struct {
	mu      sync.Mutex
	started []string
	block   chan struct{}
}

func (f *fakeStarter) StartScheduled(_ context.Context, definitionID, _ string, _ map[string]any) (string, error) {
	f.mu.Lock()
	f.started = append(f.started, definitionID)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return "instance-" + definitionID, nil
}

func (f *fakeStarter) startedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddComputesNextRun(t *testing.T) {
	s := New(&fakeStarter{}, testLogger())

	require.NoError(t, s.Add(Job{
		ID:           "nightly",
		CronExpr:     "0 2 * * *",
		DefinitionID: "report",
		Enabled:      true,
	}))

	st := s.jobs["nightly"]
	require.NotNil(t, st)
	assert.False(t, st.nextRunAt.IsZero())
	assert.Equal(t, 2, st.nextRunAt.Hour())
	assert.Equal(t, 0, st.nextRunAt.Minute())
}

func TestAddRejectsInvalidCron(t *testing.T) {
	s := New(&fakeStarter{}, testLogger())

	err := s.Add(Job{ID: "bad", CronExpr: "not a cron"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse cron expression")

	require.Error(t, s.Add(Job{CronExpr: "* * * * *"}))
}

func TestRemove(t *testing.T) {
	s := New(&fakeStarter{}, testLogger())

	require.NoError(t, s.Add(Job{ID: "j", CronExpr: "* * * * *"}))
	s.Remove("j")
	assert.Nil(t, s.jobs["j"])

	s.Remove("never-existed")
}

func TestTickRunsDueJob(t *testing.T) {
	starter := &fakeStarter{}
	s := New(starter, testLogger())

	require.NoError(t, s.Add(Job{
		ID:           "j",
		CronExpr:     "* * * * *",
		DefinitionID: "wf",
		Enabled:      true,
	}))
	// Force the job to be due now.
	s.jobs["j"].nextRunAt = time.Now().UTC().Add(-time.Minute)

	s.tick(context.Background())

	assert.Equal(t, 1, starter.startedCount())
	st := s.jobs["j"]
	assert.False(t, st.lastRunAt.IsZero())
	assert.Empty(t, st.lastError)
	assert.True(t, st.nextRunAt.After(time.Now().UTC().Add(-time.Second)))
}

func TestTickSkipsDisabledAndFutureJobs(t *testing.T) {
	starter := &fakeStarter{}
	s := New(starter, testLogger())

	require.NoError(t, s.Add(Job{ID: "off", CronExpr: "* * * * *", DefinitionID: "a", Enabled: false}))
	require.NoError(t, s.Add(Job{ID: "later", CronExpr: "* * * * *", DefinitionID: "b", Enabled: true}))
	s.jobs["off"].nextRunAt = time.Now().UTC().Add(-time.Minute)
	s.jobs["later"].nextRunAt = time.Now().UTC().Add(time.Hour)

	s.tick(context.Background())

	assert.Equal(t, 0, starter.startedCount())
}

func TestInflightDedup(t *testing.T) {
	starter := &fakeStarter{block: make(chan struct{})}
	s := New(starter, testLogger())

	require.NoError(t, s.Add(Job{
		ID:           "j",
		CronExpr:     "* * * * *",
		DefinitionID: "wf",
		Enabled:      true,
	}))
	s.jobs["j"].nextRunAt = time.Now().UTC().Add(-time.Minute)

	done := make(chan struct{})
	go func() {
		s.tick(context.Background())
		close(done)
	}()

	// Wait for the first run to be in flight, then tick again: the second
	// tick must skip the job.
	require.Eventually(t, func() bool { return starter.startedCount() == 1 },
		time.Second, 5*time.Millisecond)
	s.jobs["j"].nextRunAt = time.Now().UTC().Add(-time.Minute)
	s.tick(context.Background())
	assert.Equal(t, 1, starter.startedCount())

	close(starter.block)
	<-done
}

func TestStartStopLifecycle(t *testing.T) {
	s := New(&fakeStarter{}, testLogger())

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()))

	require.NoError(t, s.Stop())
	// Stop is idempotent once the loop is gone.
	require.NoError(t, s.Stop())

	// A stopped scheduler can start again.
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}
