package job

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasThreeStepSchema(t *testing.T) {
	j := New("abc123", Payload{ProjectDescription: "a project"})

	require.Len(t, j.Steps, 3)
	assert.Equal(t, StepSummarize, j.Steps[0].Kind)
	assert.Equal(t, StepStructure, j.Steps[1].Kind)
	assert.Equal(t, StepRender, j.Steps[2].Kind)
	assert.Equal(t, Pending, j.Status)
	assert.Equal(t, 0, j.CurrentStepIndex)
}

func TestAssignCurrentStepSetsAssignedAt(t *testing.T) {
	j := New("abc123", Payload{})
	now := time.Now()

	j.AssignCurrentStep(7, now)

	assert.Equal(t, StepAssigned, j.Steps[0].Status)
	require.NotNil(t, j.AssignedTo)
	assert.Equal(t, 7, *j.AssignedTo)
	assert.Equal(t, now, j.AssignedAt)
	assert.Equal(t, InProgress, j.Status)
}

func TestCompleteCurrentStepAdvancesIndex(t *testing.T) {
	j := New("abc123", Payload{})
	j.AssignCurrentStep(1, time.Now())

	result, _ := json.Marshal("a summary")
	finished := j.CompleteCurrentStep(result)

	assert.False(t, finished)
	assert.Equal(t, 1, j.CurrentStepIndex)
	assert.Equal(t, StepCompleted, j.Steps[0].Status)
	assert.Nil(t, j.AssignedTo)
	assert.Equal(t, Pending, j.Status)
}

func TestCompleteCurrentStepOnLastStepFinishesJob(t *testing.T) {
	j := New("abc123", Payload{})
	for i := 0; i < 2; i++ {
		j.AssignCurrentStep(1, time.Now())
		j.CompleteCurrentStep(nil)
	}

	j.AssignCurrentStep(1, time.Now())
	finished := j.CompleteCurrentStep(nil)

	assert.True(t, finished)
	assert.Equal(t, Completed, j.Status)
	require.NotNil(t, j.CompletedAt)
	assert.Nil(t, j.AssignedTo)
}

func TestResetForRetryReEnqueuesUnderMax(t *testing.T) {
	j := New("abc123", Payload{})
	j.AssignCurrentStep(1, time.Now())

	permanentlyFailed := j.ResetForRetry(3)

	assert.False(t, permanentlyFailed)
	assert.Equal(t, 1, j.RetryCount)
	assert.Equal(t, Pending, j.Status)
	assert.Equal(t, StepPending, j.Steps[0].Status)
	assert.Nil(t, j.AssignedTo)
}

func TestResetForRetryFailsPermanentlyAtMax(t *testing.T) {
	j := New("abc123", Payload{})

	var permanentlyFailed bool
	for i := 0; i < 3; i++ {
		j.AssignCurrentStep(1, time.Now())
		permanentlyFailed = j.ResetForRetry(3)
	}

	assert.True(t, permanentlyFailed)
	assert.Equal(t, Failed, j.Status)
	require.NotNil(t, j.FailedAt)
	assert.Equal(t, StepFailed, j.Steps[0].Status)
}

func TestStepResultDecodesCompletedStepOnly(t *testing.T) {
	j := New("abc123", Payload{})
	result, _ := json.Marshal("the summary")
	j.AssignCurrentStep(1, time.Now())
	j.CompleteCurrentStep(result)

	var summary string
	found, err := j.StepResult(StepSummarize, &summary)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "the summary", summary)

	var structured string
	found, err = j.StepResult(StepStructure, &structured)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIsLastStep(t *testing.T) {
	j := New("abc123", Payload{})
	assert.False(t, j.IsLastStep())
	j.CurrentStepIndex = len(j.Steps) - 1
	assert.True(t, j.IsLastStep())
}
