package node

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/jobcluster/coordinator/internal/job"
	"github.com/jobcluster/coordinator/internal/render"
	"github.com/jobcluster/coordinator/internal/scheduler"
	"github.com/jobcluster/coordinator/internal/transport"
)

// Router builds the gorilla/mux router exposing every external endpoint
// over this Context.
func (c *Context) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/heartbeat", c.handleHeartbeat).Methods(http.MethodPost)
	r.HandleFunc("/election", c.handleElection).Methods(http.MethodPost)
	r.HandleFunc("/ok", c.handleOK).Methods(http.MethodPost)
	r.HandleFunc("/leader", c.handleLeader).Methods(http.MethodPost)
	r.HandleFunc("/execute_task", c.handleExecuteTask).Methods(http.MethodPost)
	r.HandleFunc("/submit_task", c.handleSubmitTask).Methods(http.MethodPost)
	r.HandleFunc("/status", c.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/download/{task_id}", c.handleDownload).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, transport.ErrorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (c *Context) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req transport.HeartbeatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c.Membership.RecordSeen(req.NodeID)
	writeJSON(w, http.StatusOK, transport.AckResponse{Status: "ok"})
}

func (c *Context) handleElection(w http.ResponseWriter, r *http.Request) {
	var req transport.ElectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c.Membership.RecordSeen(req.NodeID)
	c.Election.OnElectionMessage(req.NodeID, req.ElectionID)
	writeJSON(w, http.StatusOK, transport.AckResponse{Status: "received"})
}

func (c *Context) handleOK(w http.ResponseWriter, r *http.Request) {
	var req transport.OKRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c.Membership.RecordSeen(req.NodeID)
	c.Election.OnOKMessage(req.NodeID)
	writeJSON(w, http.StatusOK, transport.AckResponse{Status: "ok"})
}

func (c *Context) handleLeader(w http.ResponseWriter, r *http.Request) {
	var req transport.LeaderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c.Membership.RecordSeen(req.LeaderID)
	c.Election.OnLeaderAnnouncement(req.LeaderID)
	writeJSON(w, http.StatusOK, transport.AckResponse{Status: "ok"})
}

func (c *Context) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	var req transport.ExecuteTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp := c.Worker.Execute(r.Context(), req)
	writeJSON(w, http.StatusOK, resp)
}

// handleSubmitTask is the client-facing entrypoint (C5/C6): the leader
// enqueues directly, any other node forwards to the current leader.
func (c *Context) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req transport.SubmitTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProjectDescription == "" {
		writeError(w, http.StatusBadRequest, "project_description is required")
		return
	}

	if c.Election.IsLeader() {
		id, err := c.Scheduler.Submit(job.Payload{
			ProjectDescription: req.ProjectDescription,
			UserEmail:          req.UserEmail,
		})
		if err != nil {
			status := http.StatusServiceUnavailable
			if err == scheduler.ErrQueueFull {
				writeJSON(w, status, transport.SubmitTaskResponse{Status: "rejected", Message: err.Error()})
				return
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, transport.SubmitTaskResponse{TaskID: id, Status: "submitted"})
		return
	}

	resp, err := c.Forwarder.Forward(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "no leader currently available")
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (c *Context) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.Status.Snapshot())
}

func (c *Context) handleDownload(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]

	j, ok := c.Scheduler.CompletedJob(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found or not yet completed")
		return
	}

	path := render.ArtifactPath("outputs", j.ID)
	data, err := os.ReadFile(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "artifact not available")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename="+j.ID+"_summary.txt")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
