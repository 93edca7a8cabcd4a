// Package job defines the Job and Step data model shared by the
// scheduler, the forwarder, and the worker endpoint. A Job is a plain
// data container; it has no lock of its own. Only the leader's scheduler
// mutates a Job, always under the scheduler's lock, so the atomicity of
// "step completed implies either re-enqueue or terminal move" lives there,
// not here.
package job

import (
	"encoding/json"
	"time"
)

// StepKind is a tagged variant over the three fixed step kinds this
// system knows how to run, replacing the untyped string dispatch of the
// system this was modeled on.
type StepKind string

const (
	StepSummarize StepKind = "summarize"
	StepStructure StepKind = "structure"
	StepRender    StepKind = "render"
)

// Kinds is the fixed, ordered schema every job runs through.
var Kinds = []StepKind{StepSummarize, StepStructure, StepRender}

// StepStatus is a step's lifecycle state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepAssigned  StepStatus = "assigned"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Step is one ordered unit of work within a Job. Result is left as raw
// JSON because each StepKind has its own result shape (a plain string for
// summarize, a structured object for structure, a sentinel for render);
// callers decode it against the kind they know they're holding.
type Step struct {
	Kind   StepKind        `json:"kind"`
	Status StepStatus      `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Status is a Job's overall lifecycle state.
type Status string

const (
	Pending    Status = "pending"
	InProgress Status = "in_progress"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

// Payload is the client-supplied request that seeds a Job.
type Payload struct {
	ProjectDescription string `json:"project_description"`
	UserEmail          string `json:"user_email,omitempty"`
}

// Job is created only by the leader and lives only in the leader's
// in-memory queues; it carries no persistence.
type Job struct {
	ID          string     `json:"job_id"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	Payload Payload `json:"payload"`
	Steps   []Step  `json:"steps"`

	Status           Status `json:"status"`
	CurrentStepIndex int    `json:"current_step_index"`
	AssignedTo       *int   `json:"assigned_to,omitempty"`
	RetryCount       int    `json:"retry_count"`
	AssignedAt       time.Time `json:"-"`
}

// New creates a fresh pending Job with the fixed three-step schema.
func New(id string, payload Payload) *Job {
	steps := make([]Step, len(Kinds))
	for i, k := range Kinds {
		steps[i] = Step{Kind: k, Status: StepPending}
	}
	return &Job{
		ID:               id,
		CreatedAt:        time.Now(),
		Payload:          payload,
		Steps:            steps,
		Status:           Pending,
		CurrentStepIndex: 0,
	}
}

// CurrentStep returns the step at CurrentStepIndex, or nil if the job has
// already completed every step.
func (j *Job) CurrentStep() *Step {
	if j.CurrentStepIndex < 0 || j.CurrentStepIndex >= len(j.Steps) {
		return nil
	}
	return &j.Steps[j.CurrentStepIndex]
}

// IsLastStep reports whether CurrentStepIndex names the final step.
func (j *Job) IsLastStep() bool {
	return j.CurrentStepIndex == len(j.Steps)-1
}

// AssignCurrentStep transitions the current step to assigned and records
// the assignment bookkeeping the scheduler needs for timeout detection
// (I1: at most one step assigned at a time, enforced by construction since
// only CurrentStepIndex is ever touched).
func (j *Job) AssignCurrentStep(workerID int, now time.Time) {
	step := j.CurrentStep()
	if step == nil {
		return
	}
	step.Status = StepAssigned
	j.AssignedTo = &workerID
	j.AssignedAt = now
	j.Status = InProgress
}

// CompleteCurrentStep marks the current step completed with the given
// result and advances CurrentStepIndex, preserving invariant I2 (the
// current index always names the first non-completed step). It reports
// whether the job has now finished every step.
func (j *Job) CompleteCurrentStep(result json.RawMessage) (finished bool) {
	step := j.CurrentStep()
	if step == nil {
		return true
	}
	step.Status = StepCompleted
	step.Result = result

	if j.IsLastStep() {
		j.CurrentStepIndex++
		j.Status = Completed
		now := time.Now()
		j.CompletedAt = &now
		j.AssignedTo = nil
		return true
	}

	j.CurrentStepIndex++
	j.Status = Pending
	j.AssignedTo = nil
	return false
}

// ResetForRetry reverts the current step to pending and bumps
// retry_count, or marks the job permanently failed once retry_count
// reaches maxRetries (I3).
func (j *Job) ResetForRetry(maxRetries int) (permanentlyFailed bool) {
	j.RetryCount++
	if j.RetryCount >= maxRetries {
		j.Status = Failed
		now := time.Now()
		j.FailedAt = &now
		if step := j.CurrentStep(); step != nil {
			step.Status = StepFailed
		}
		j.AssignedTo = nil
		return true
	}

	if step := j.CurrentStep(); step != nil {
		step.Status = StepPending
		step.Result = nil
	}
	j.Status = Pending
	j.AssignedTo = nil
	return false
}

// StepResult decodes a named step's stored result into out.
func (j *Job) StepResult(kind StepKind, out interface{}) (bool, error) {
	for i := range j.Steps {
		if j.Steps[i].Kind == kind && j.Steps[i].Status == StepCompleted {
			if len(j.Steps[i].Result) == 0 {
				return true, nil
			}
			return true, json.Unmarshal(j.Steps[i].Result, out)
		}
	}
	return false, nil
}
