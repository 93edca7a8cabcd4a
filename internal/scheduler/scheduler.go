// Package scheduler is the leader-only job queue and step dispatcher
// (C5). It owns four collections (pending, in-progress, completed,
// failed) behind three separate locks — one per concern, in a fixed lock
// order pending -> in_progress -> terminal — rather than one coarse lock,
// per the scheduler-lock-granularity design note. Step RPCs are
// dispatched asynchronously so the timeout loop, not the RPC deadline, is
// the authoritative retry trigger.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jobcluster/coordinator/internal/job"
	"github.com/jobcluster/coordinator/internal/membership"
	"github.com/jobcluster/coordinator/internal/render"
	"github.com/jobcluster/coordinator/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	maxWorkerLoad  = 3
	pendingCap     = 256
	assignInterval = 1 * time.Second
	timeoutInterval = 1 * time.Second
	cleanupInterval = 60 * time.Second
	completedMaxAge = 1 * time.Hour
	stepRPCDeadline = 10 * time.Second
)

// ErrQueueFull is returned by Submit when the pending queue is at
// capacity, so a leader under load rejects new work instead of growing
// without bound.
var ErrQueueFull = errors.New("scheduler: pending queue is full")

// Scheduler is the leader's job queue. It is safe to construct on every
// node; its loops are no-ops unless isLeader reports true, matching "only
// the leader mutates job state; only the leader holds the queues" (I4).
type Scheduler struct {
	selfID   int
	table    *membership.Table
	client   *transport.PeerClient
	renderer render.Renderer
	log      *logrus.Entry

	maxRetries  int
	taskTimeout time.Duration

	pendingMu sync.Mutex
	pending   []*job.Job

	inProgressMu sync.Mutex
	inProgress   map[string]*job.Job

	terminalMu sync.Mutex
	completed  map[string]*job.Job
	failed     map[string]*job.Job

	rrIndex int
}

// New builds a scheduler.
func New(selfID int, table *membership.Table, client *transport.PeerClient, renderer render.Renderer, maxRetries int, taskTimeout time.Duration, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		selfID:      selfID,
		table:       table,
		client:      client,
		renderer:    renderer,
		log:         log,
		maxRetries:  maxRetries,
		taskTimeout: taskTimeout,
		inProgress:  make(map[string]*job.Job),
		completed:   make(map[string]*job.Job),
		failed:      make(map[string]*job.Job),
	}
}

// Submit enqueues a new job from a client payload and returns its id.
func (s *Scheduler) Submit(payload job.Payload) (string, error) {
	id := uuid.NewString()[:8]
	j := job.New(id, payload)

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if len(s.pending) >= pendingCap {
		return "", ErrQueueFull
	}
	s.pending = append(s.pending, j)
	return id, nil
}

// Snapshot reports the current queue sizes for the status endpoint.
func (s *Scheduler) Snapshot() transport.QueueCounts {
	s.pendingMu.Lock()
	p := len(s.pending)
	s.pendingMu.Unlock()

	s.inProgressMu.Lock()
	ip := len(s.inProgress)
	s.inProgressMu.Unlock()

	s.terminalMu.Lock()
	c := len(s.completed)
	f := len(s.failed)
	s.terminalMu.Unlock()

	return transport.QueueCounts{Pending: p, InProgress: ip, Completed: c, Failed: f}
}

// CompletedJob looks up a terminal, successfully completed job by id, for
// the download endpoint.
func (s *Scheduler) CompletedJob(id string) (*job.Job, bool) {
	s.terminalMu.Lock()
	defer s.terminalMu.Unlock()
	j, ok := s.completed[id]
	return j, ok
}

// Run starts the three periodic loops. isLeader is consulted on every
// tick so the loops are safe to run on every node; they simply do
// nothing while not leader.
func (s *Scheduler) Run(ctx context.Context, isLeader func() bool) {
	go s.loop(ctx, assignInterval, func() {
		if isLeader() {
			s.assignOnce()
		}
	})
	go s.loop(ctx, timeoutInterval, func() {
		if isLeader() {
			s.timeoutOnce()
		}
	})
	s.loop(ctx, cleanupInterval, func() {
		if isLeader() {
			s.cleanupOnce()
		}
	})
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, tick func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// eligibleWorkers computes the worker pool for one assignment sweep:
// alive peers, excluding self, under max_worker_load, sorted for a
// deterministic round-robin order.
func (s *Scheduler) eligibleWorkers() []int {
	alive := s.table.Alive()

	s.inProgressMu.Lock()
	loads := make(map[int]int, len(s.inProgress))
	for _, j := range s.inProgress {
		if j.AssignedTo != nil {
			loads[*j.AssignedTo]++
		}
	}
	s.inProgressMu.Unlock()

	workers := make([]int, 0, len(alive))
	for id := range alive {
		if id == s.selfID {
			continue
		}
		if loads[id] < maxWorkerLoad {
			workers = append(workers, id)
		}
	}
	sort.Ints(workers)
	return workers
}

// assignOnce assigns at most one step per eligible worker per sweep,
// matching task_manager.py's "assigned_count < len(available_workers)"
// bound: eligibleWorkers() already excludes workers at max_worker_load,
// but that snapshot is never rechecked mid-sweep, so draining the whole
// pending queue against it would let a single sweep overshoot the load
// cap. Capping assignments at one per worker keeps load(p) <= max_worker_load
// without rechecking loads after every assignment.
func (s *Scheduler) assignOnce() {
	workers := s.eligibleWorkers()
	if len(workers) == 0 {
		return
	}

	for i := 0; i < len(workers); i++ {
		j := s.popPending()
		if j == nil {
			return
		}

		workerID := workers[s.rrIndex%len(workers)]
		s.rrIndex++

		j.AssignCurrentStep(workerID, time.Now())
		s.inProgressMu.Lock()
		s.inProgress[j.ID] = j
		s.inProgressMu.Unlock()

		go s.dispatchStep(j, workerID)
	}
}

func (s *Scheduler) popPending() *job.Job {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	j := s.pending[0]
	s.pending = s.pending[1:]
	return j
}

func (s *Scheduler) dispatchStep(j *job.Job, workerID int) {
	addr, ok := s.table.PeerAddress(workerID)
	if !ok {
		s.handleFailure(j.ID)
		return
	}

	step := j.CurrentStep()
	if step == nil {
		return
	}

	stepData, err := json.Marshal(j.Steps)
	if err != nil {
		s.handleFailure(j.ID)
		return
	}

	req := transport.ExecuteTaskRequest{
		TaskID:   j.ID,
		TaskType: string(step.Kind),
		Data: transport.ExecuteTaskData{
			ProjectDescription: j.Payload.ProjectDescription,
			StepData:           stepData,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), stepRPCDeadline)
	defer cancel()

	var resp transport.ExecuteTaskResponse
	_, err = s.client.PostJSON(ctx, addr, "/execute_task", req, &resp)
	if err != nil || resp.Status != "completed" {
		if s.log != nil {
			s.log.WithField("job_id", j.ID).WithField("worker", workerID).WithError(err).Warn("scheduler: step dispatch failed")
		}
		s.handleFailure(j.ID)
		return
	}

	s.handleCompletion(j.ID, resp.Result)
}

// handleCompletion applies a successful step reply and either re-enqueues
// the job or moves it to completed, all while holding the pending and
// in-progress locks (taken in the fixed lock order), matching the atomic
// "mark completed then move" contract.
func (s *Scheduler) handleCompletion(jobID string, result json.RawMessage) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.inProgressMu.Lock()
	defer s.inProgressMu.Unlock()

	j, ok := s.inProgress[jobID]
	if !ok {
		return
	}
	finished := j.CompleteCurrentStep(result)
	delete(s.inProgress, jobID)

	if !finished {
		s.pending = append(s.pending, j)
		return
	}

	s.terminalMu.Lock()
	s.completed[jobID] = j
	s.terminalMu.Unlock()

	go s.renderJob(j)
}

// handleFailure removes the job from in-progress under the in-progress
// lock, then applies the retry/fail policy after releasing it.
func (s *Scheduler) handleFailure(jobID string) {
	s.inProgressMu.Lock()
	j, ok := s.inProgress[jobID]
	if !ok {
		s.inProgressMu.Unlock()
		return
	}
	delete(s.inProgress, jobID)
	s.inProgressMu.Unlock()

	s.finishFailure(j)
}

func (s *Scheduler) finishFailure(j *job.Job) {
	permanentlyFailed := j.ResetForRetry(s.maxRetries)
	if permanentlyFailed {
		s.terminalMu.Lock()
		s.failed[j.ID] = j
		s.terminalMu.Unlock()
		if s.log != nil {
			s.log.WithField("job_id", j.ID).Error("scheduler: job failed permanently")
		}
		return
	}

	s.pendingMu.Lock()
	s.pending = append(s.pending, j)
	s.pendingMu.Unlock()
	if s.log != nil {
		s.log.WithField("job_id", j.ID).WithField("retry_count", j.RetryCount).Warn("scheduler: job re-queued for retry")
	}
}

// timeoutOnce treats any in-progress job whose current step has been
// assigned longer than taskTimeout as a lost worker.
func (s *Scheduler) timeoutOnce() {
	now := time.Now()

	s.inProgressMu.Lock()
	var timedOut []*job.Job
	for id, j := range s.inProgress {
		if now.Sub(j.AssignedAt) > s.taskTimeout {
			timedOut = append(timedOut, j)
			delete(s.inProgress, id)
		}
	}
	s.inProgressMu.Unlock()

	for _, j := range timedOut {
		if s.log != nil {
			s.log.WithField("job_id", j.ID).Warn("scheduler: step timed out, treating worker as lost")
		}
		s.finishFailure(j)
	}
}

// cleanupOnce prunes completed jobs older than completedMaxAge.
func (s *Scheduler) cleanupOnce() {
	now := time.Now()

	s.terminalMu.Lock()
	defer s.terminalMu.Unlock()
	for id, j := range s.completed {
		if j.CompletedAt != nil && now.Sub(*j.CompletedAt) > completedMaxAge {
			delete(s.completed, id)
		}
	}
}

func (s *Scheduler) renderJob(j *job.Job) {
	if s.renderer == nil {
		return
	}
	if _, err := s.renderer.Render(j); err != nil && s.log != nil {
		s.log.WithField("job_id", j.ID).WithError(err).Error("scheduler: artifact rendering failed")
	}
}
