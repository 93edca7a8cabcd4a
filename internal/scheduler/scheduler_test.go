package scheduler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jobcluster/coordinator/internal/job"
	"github.com/jobcluster/coordinator/internal/membership"
	"github.com/jobcluster/coordinator/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripScheme(url string) string {
	return strings.TrimPrefix(url, "http://")
}

func alwaysCompletes(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transport.ExecuteTaskRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		result, _ := json.Marshal("done")
		resp := transport.ExecuteTaskResponse{TaskID: req.TaskID, Status: "completed", Result: result}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func alwaysFails(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newSchedulerWithWorker(t *testing.T, workerAddr string) *Scheduler {
	addrs := map[int]string{1: "self", 2: workerAddr}
	table := membership.New(1, addrs, time.Second)
	table.RecordSeen(2)

	client := transport.NewPeerClient()
	return New(1, table, client, nil, 3, 2*time.Second, nil)
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	table := membership.New(1, map[int]string{1: "self"}, time.Second)
	s := New(1, table, transport.NewPeerClient(), nil, 3, time.Second, nil)

	s.pending = make([]*job.Job, pendingCap)

	_, err := s.Submit(job.Payload{ProjectDescription: "x"})
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestAssignOnceDispatchesToEligibleWorker(t *testing.T) {
	worker := alwaysCompletes(t)
	s := newSchedulerWithWorker(t, stripScheme(worker.URL))

	id, err := s.Submit(job.Payload{ProjectDescription: "a project"})
	require.NoError(t, err)

	s.assignOnce()

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.Completed+snap.Pending > 0
	}, time.Second, 10*time.Millisecond)

	_ = id
}

func TestJobAdvancesThroughAllStepsToCompleted(t *testing.T) {
	worker := alwaysCompletes(t)
	s := newSchedulerWithWorker(t, stripScheme(worker.URL))

	id, err := s.Submit(job.Payload{ProjectDescription: "a project"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		s.assignOnce()
		require.Eventually(t, func() bool {
			s.inProgressMu.Lock()
			_, inProgress := s.inProgress[id]
			s.inProgressMu.Unlock()
			return !inProgress
		}, time.Second, 5*time.Millisecond)
	}

	j, ok := s.CompletedJob(id)
	require.True(t, ok)
	assert.Equal(t, job.Completed, j.Status)
}

func TestFailedStepRetriesThenPermanentlyFails(t *testing.T) {
	worker := alwaysFails(t)
	s := newSchedulerWithWorker(t, stripScheme(worker.URL))
	s.maxRetries = 2

	id, err := s.Submit(job.Payload{ProjectDescription: "a project"})
	require.NoError(t, err)

	s.assignOnce()

	require.Eventually(t, func() bool {
		s.pendingMu.Lock()
		defer s.pendingMu.Unlock()
		return len(s.pending) == 1 && s.pending[0].RetryCount == 1
	}, time.Second, 5*time.Millisecond)

	s.assignOnce()

	require.Eventually(t, func() bool {
		s.terminalMu.Lock()
		_, failed := s.failed[id]
		s.terminalMu.Unlock()
		return failed
	}, time.Second, 5*time.Millisecond)
}

func TestTimeoutOnceRequeuesLostJob(t *testing.T) {
	table := membership.New(1, map[int]string{1: "self", 2: "127.0.0.1:1"}, time.Second)
	table.RecordSeen(2)
	s := New(1, table, transport.NewPeerClient(), nil, 3, 10*time.Millisecond, nil)

	j := job.New("job1", job.Payload{})
	j.AssignCurrentStep(2, time.Now().Add(-time.Hour))
	s.inProgress[j.ID] = j

	s.timeoutOnce()

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	require.Len(t, s.pending, 1)
	assert.Equal(t, j.ID, s.pending[0].ID)
}

func TestCleanupOncePrunesOldCompletedJobs(t *testing.T) {
	table := membership.New(1, map[int]string{1: "self"}, time.Second)
	s := New(1, table, transport.NewPeerClient(), nil, 3, time.Second, nil)

	j := job.New("old", job.Payload{})
	old := time.Now().Add(-2 * completedMaxAge)
	j.CompletedAt = &old
	s.completed["old"] = j

	s.cleanupOnce()

	_, ok := s.CompletedJob("old")
	assert.False(t, ok)
}

func TestEligibleWorkersExcludesSelfAndOverloaded(t *testing.T) {
	addrs := map[int]string{1: "self", 2: "peer2", 3: "peer3"}
	table := membership.New(1, addrs, time.Second)
	table.RecordSeen(2)
	table.RecordSeen(3)

	s := New(1, table, transport.NewPeerClient(), nil, 3, time.Second, nil)
	for i := 0; i < maxWorkerLoad; i++ {
		j := job.New(string(rune('a'+i)), job.Payload{})
		worker := 2
		j.AssignedTo = &worker
		s.inProgress[j.ID] = j
	}

	workers := s.eligibleWorkers()
	assert.NotContains(t, workers, 1)
	assert.NotContains(t, workers, 2)
	assert.Contains(t, workers, 3)
}
