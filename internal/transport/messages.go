// Package transport defines the wire-level JSON messages exchanged over
// the peer and client HTTP surface described in the external interfaces
// section: heartbeats, election RPCs, task assignment, and client
// submissions.
package transport

import "encoding/json"

// HeartbeatRequest is POSTed to /heartbeat.
type HeartbeatRequest struct {
	NodeID    int     `json:"node_id"`
	Timestamp float64 `json:"timestamp"`
}

// AckResponse is the generic {"status": "..."} reply used by the
// heartbeat, election, and leader-announcement endpoints.
type AckResponse struct {
	Status string `json:"status"`
}

// ElectionRequest is POSTed to /election.
type ElectionRequest struct {
	NodeID     int    `json:"node_id"`
	ElectionID string `json:"election_id"`
}

// LeaderRequest is POSTed to /leader.
type LeaderRequest struct {
	LeaderID int `json:"leader_id"`
}

// OKRequest is POSTed to /ok.
type OKRequest struct {
	NodeID int `json:"node_id"`
}

// ExecuteTaskRequest is POSTed to /execute_task.
type ExecuteTaskRequest struct {
	TaskID   string          `json:"task_id"`
	TaskType string          `json:"task_type"`
	Data     ExecuteTaskData `json:"data"`
}

// ExecuteTaskData is the payload handed to a worker for one step.
type ExecuteTaskData struct {
	ProjectDescription string          `json:"project_description"`
	StepData            json.RawMessage `json:"step_data,omitempty"`
}

// ExecuteTaskResponse is the worker's synchronous reply.
type ExecuteTaskResponse struct {
	TaskID string          `json:"task_id"`
	Status string          `json:"status"` // "completed" | "failed"
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// SubmitTaskRequest is POSTed to /submit_task.
type SubmitTaskRequest struct {
	ProjectDescription string `json:"project_description"`
	UserEmail          string `json:"user_email,omitempty"`
}

// SubmitTaskResponse acknowledges a submission before the job completes.
type SubmitTaskResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the structured failure body clients see.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the reply served by GET /status.
type StatusResponse struct {
	NodeID        int             `json:"node_id"`
	Role          string          `json:"role"`
	LeaderID      *int            `json:"leader_id,omitempty"`
	AlivePeers    []int           `json:"alive_peers"`
	TasksProcessed int64          `json:"tasks_processed"`
	Queue         QueueCounts     `json:"queue"`
}

// QueueCounts is the node's scheduler snapshot; zero-valued on a node
// that has never been leader.
type QueueCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
