// Package worker implements the step-execution endpoint (C7): given one
// assigned step, run it synchronously against the AI collaborator and
// return the result in the same reply. Workers are stateless across
// requests apart from a diagnostic counter.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/jobcluster/coordinator/internal/collaborator"
	"github.com/jobcluster/coordinator/internal/job"
	"github.com/jobcluster/coordinator/internal/render"
	"github.com/jobcluster/coordinator/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	summaryTruncateLen = 497
	notSpecified       = "Not specified"
)

// Endpoint executes one step per request. The summarize and render steps
// always complete (summarize falls back to truncation). The structure step
// falls back to a local structure when the collaborator fails or replies
// with invalid JSON, and reports "failed" when step_data holds no prior
// summary. An unknown step type is also reported as "failed".
type Endpoint struct {
	SelfID       int
	Collaborator collaborator.Client
	Log          *logrus.Entry

	tasksProcessed int64
}

// New builds a worker endpoint bound to the given collaborator client.
func New(selfID int, client collaborator.Client, log *logrus.Entry) *Endpoint {
	return &Endpoint{SelfID: selfID, Collaborator: client, Log: log}
}

// TasksProcessed returns the diagnostic counter exposed on /status.
func (e *Endpoint) TasksProcessed() int64 {
	return atomic.LoadInt64(&e.tasksProcessed)
}

// Execute dispatches req.TaskType to the matching step implementation.
func (e *Endpoint) Execute(ctx context.Context, req transport.ExecuteTaskRequest) transport.ExecuteTaskResponse {
	defer atomic.AddInt64(&e.tasksProcessed, 1)

	var (
		result json.RawMessage
		err    error
	)

	switch job.StepKind(req.TaskType) {
	case job.StepSummarize:
		result, err = e.executeSummarize(ctx, req)
	case job.StepStructure:
		result, err = e.executeStructure(ctx, req)
	case job.StepRender:
		result, err = e.executeRender(req)
	default:
		return transport.ExecuteTaskResponse{
			TaskID: req.TaskID,
			Status: "failed",
			Error:  fmt.Sprintf("unknown step type: %s", req.TaskType),
		}
	}

	if err != nil {
		return transport.ExecuteTaskResponse{
			TaskID: req.TaskID,
			Status: "failed",
			Error:  err.Error(),
		}
	}

	return transport.ExecuteTaskResponse{
		TaskID: req.TaskID,
		Status: "completed",
		Result: result,
	}
}

// executeSummarize never fails: on any collaborator error it falls back
// to truncating the project description.
func (e *Endpoint) executeSummarize(ctx context.Context, req transport.ExecuteTaskRequest) (json.RawMessage, error) {
	desc := req.Data.ProjectDescription

	prompt := fmt.Sprintf("Please provide a concise summary of the following project description:\n\n%s\n\nSummary:", desc)

	summary, err := e.Collaborator.Complete(ctx, prompt, 500)
	if err != nil || strings.TrimSpace(summary) == "" {
		if err != nil && e.Log != nil {
			e.Log.WithField("job_id", req.TaskID).WithError(err).Debug("summarize: collaborator failed, falling back to truncation")
		}
		summary = truncate(desc, summaryTruncateLen)
	}

	return json.Marshal(summary)
}

// executeStructure locates the prior summarize result from step_data,
// asks the collaborator for a structured object, and falls back to a
// locally computed structure on any parse failure.
func (e *Endpoint) executeStructure(ctx context.Context, req transport.ExecuteTaskRequest) (json.RawMessage, error) {
	summary, err := priorSummary(req.Data.StepData)
	if err != nil || summary == "" {
		return nil, fmt.Errorf("no summary available for structuring")
	}

	prompt := fmt.Sprintf(`Based on the following project summary, extract or create the following sections:

Summary: %s

Please provide:
1. Abstract: A brief overview
2. Objectives: Key goals and objectives
3. Methodology: Approach and methods used
4. Outcome: Expected or achieved results

Format the response as a JSON object with keys: abstract, objectives, methodology, outcome.`, summary)

	reply, err := e.Collaborator.Complete(ctx, prompt, 500)

	structured := render.Structured{}
	if err == nil {
		if jerr := json.Unmarshal([]byte(strings.TrimSpace(reply)), &structured); jerr == nil {
			fillMissing(&structured, summary)
			return json.Marshal(structured)
		}
		if e.Log != nil {
			e.Log.WithField("job_id", req.TaskID).Debug("structure: collaborator reply was not valid JSON, falling back")
		}
	} else if e.Log != nil {
		e.Log.WithField("job_id", req.TaskID).WithError(err).Debug("structure: collaborator failed, falling back")
	}

	return json.Marshal(localStructure(summary))
}

// executeRender is the render step's sentinel acknowledgement: workers
// don't render, the leader's completion path does.
func (e *Endpoint) executeRender(req transport.ExecuteTaskRequest) (json.RawMessage, error) {
	return json.Marshal(map[string]string{
		"message": "render acknowledged",
		"task_id": req.TaskID,
	})
}

func priorSummary(stepData json.RawMessage) (string, error) {
	if len(stepData) == 0 {
		return "", nil
	}
	var steps []job.Step
	if err := json.Unmarshal(stepData, &steps); err != nil {
		return "", err
	}
	for _, s := range steps {
		if s.Kind == job.StepSummarize && s.Status == job.StepCompleted && len(s.Result) > 0 {
			var summary string
			if err := json.Unmarshal(s.Result, &summary); err != nil {
				return "", err
			}
			return summary, nil
		}
	}
	return "", nil
}

func fillMissing(s *render.Structured, summary string) {
	if s.Abstract == "" {
		s.Abstract = notSpecified
	}
	if s.Objectives == "" {
		s.Objectives = notSpecified
	}
	if s.Methodology == "" {
		s.Methodology = notSpecified
	}
	if s.Outcome == "" {
		s.Outcome = notSpecified
	}
}

func localStructure(summary string) render.Structured {
	return render.Structured{
		Abstract:    truncate(summary, 200),
		Objectives:  "Extracted from project description",
		Methodology: "To be determined based on project scope",
		Outcome:     "Expected successful completion",
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
