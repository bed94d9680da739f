package job

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/arittr/spectacular-codex/internal/errors"
)

func TestStore_StartAndGet(t *testing.T) {
	s := NewStore()

	h, err := s.Start("a1b2c3", 3)
	require.NoError(t, err)
	assert.Equal(t, "a1b2c3", string(h.RunID()))

	j, ok := s.Get("a1b2c3")
	require.True(t, ok)
	assert.Equal(t, StatusRunning, j.Status)
	assert.Equal(t, 3, j.TotalPhases)
	assert.Empty(t, j.Tasks)
	assert.False(t, j.StartedAt.IsZero())

	_, ok = s.Get("ffffff")
	assert.False(t, ok)
}

func TestStore_StartRejectsRunningDuplicate(t *testing.T) {
	s := NewStore()
	h, err := s.Start("a1b2c3", 1)
	require.NoError(t, err)

	_, err = s.Start("a1b2c3", 1)
	assert.ErrorIs(t, err, apperrors.ErrRunInProgress)

	h.Fail(errors.New("boom"))
	h2, err := s.Start("a1b2c3", 1)
	require.NoError(t, err, "a terminal job may be restarted")

	j := h2.Snapshot()
	assert.Equal(t, StatusRunning, j.Status)
	assert.Empty(t, j.Error)
}

func TestHandle_UpsertTaskReplacesInPlace(t *testing.T) {
	s := NewStore()
	h, _ := s.Start("a1b2c3", 1)

	h.UpsertTask(TaskStatus{ID: "1-1", Status: TaskRunning})
	h.UpsertTask(TaskStatus{ID: "1-2", Status: TaskRunning})
	h.UpsertTask(TaskStatus{ID: "1-1", Status: TaskCompleted, Branch: "a1b2c3-task-1-1-api"})

	j := h.Snapshot()
	require.Len(t, j.Tasks, 2)
	assert.Equal(t, "1-1", j.Tasks[0].ID, "insertion order is kept")
	assert.Equal(t, TaskCompleted, j.Tasks[0].Status)
	assert.Equal(t, "a1b2c3-task-1-1-api", j.Tasks[0].Branch)
	assert.Equal(t, 1, j.CountTasks(TaskRunning))

	ts, ok := j.Task("1-2")
	require.True(t, ok)
	assert.Equal(t, TaskRunning, ts.Status)
}

func TestHandle_ConcurrentUpserts(t *testing.T) {
	s := NewStore()
	h, _ := s.Start("a1b2c3", 1)

	var wg sync.WaitGroup
	for i := range 50 {
		id := fmt.Sprintf("1-%d", i+1)
		wg.Go(func() {
			h.UpsertTask(TaskStatus{ID: id, Status: TaskRunning})
			h.UpsertTask(TaskStatus{ID: id, Status: TaskCompleted})
		})
	}
	wg.Wait()

	j := h.Snapshot()
	assert.Len(t, j.Tasks, 50)
	assert.Equal(t, 50, j.CountTasks(TaskCompleted))
}

func TestHandle_FailAndComplete(t *testing.T) {
	s := NewStore()
	h, _ := s.Start("a1b2c3", 2)

	h.Fail(errors.New("first"))
	h.Fail(errors.New("second"))
	h.Complete()

	j := h.Snapshot()
	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, "first", j.Error)
	require.NotNil(t, j.CompletedAt)

	h2, _ := s.Start("ffffff", 1)
	h2.Complete()
	assert.Equal(t, StatusCompleted, h2.Snapshot().Status)
}

func TestHandle_PhaseAndBaseRef(t *testing.T) {
	s := NewStore()
	h, _ := s.Start("a1b2c3", 2)

	h.SetPhase(2)
	h.SetBaseRef("a1b2c3-task-1-2-ui")
	h.Warn("stacking failed")

	j := h.Snapshot()
	assert.Equal(t, 2, j.Phase)
	require.NotNil(t, j.PhaseStartedAt)
	assert.Equal(t, "a1b2c3-task-1-2-ui", h.BaseRef())
	assert.Equal(t, []string{"stacking failed"}, j.Warnings)
}

func TestStore_SnapshotsAreIndependent(t *testing.T) {
	s := NewStore()
	h, _ := s.Start("a1b2c3", 1)
	h.UpsertTask(TaskStatus{ID: "1-1", Status: TaskRunning})

	snap, _ := s.Get("a1b2c3")
	snap.Tasks[0].Status = TaskFailed
	snap.Warnings = append(snap.Warnings, "mutated")

	fresh, _ := s.Get("a1b2c3")
	assert.Equal(t, TaskRunning, fresh.Tasks[0].Status)
	assert.Empty(t, fresh.Warnings)
}

func TestStore_ObserveDiscardsTerminalJobs(t *testing.T) {
	s := NewStore()
	h, _ := s.Start("a1b2c3", 1)

	_, ok := s.Observe("a1b2c3")
	require.True(t, ok)
	_, ok = s.Get("a1b2c3")
	assert.True(t, ok, "running jobs survive observation")

	h.Complete()
	j, ok := s.Observe("a1b2c3")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, j.Status)

	_, ok = s.Get("a1b2c3")
	assert.False(t, ok, "terminal jobs are discarded once observed")
}

func TestStore_ListOrdersByStart(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	_, _ = s.Start("bbbbbb", 1)
	_, _ = s.Start("aaaaaa", 1)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "bbbbbb", string(list[0].RunID))
	assert.Equal(t, "aaaaaa", string(list[1].RunID))
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
