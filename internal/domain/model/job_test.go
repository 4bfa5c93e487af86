package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_Valid(t *testing.T) {
	for _, s := range []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, JobStatus("pending").Valid())
	assert.False(t, JobStatus("").Valid())
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestCreateJobRequest_Validate(t *testing.T) {
	tests := []struct {
		name        string
		req         CreateJobRequest
		expectError bool
	}{
		{
			name: "valid without id",
			req:  CreateJobRequest{OwnerID: "u1", InputRef: "abc.mp4"},
		},
		{
			name: "valid with id",
			req: CreateJobRequest{
				ID:       "550e8400-e29b-41d4-a716-446655440000",
				OwnerID:  GuestOwnerID,
				InputRef: "550e8400-e29b-41d4-a716-446655440000.mp4",
			},
		},
		{
			name:        "missing owner",
			req:         CreateJobRequest{InputRef: "abc.mp4"},
			expectError: true,
		},
		{
			name:        "missing input ref",
			req:         CreateJobRequest{OwnerID: "u1", InputRef: "  "},
			expectError: true,
		},
		{
			name:        "malformed id",
			req:         CreateJobRequest{ID: "not-a-uuid", OwnerID: "u1", InputRef: "x.mp4"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestInputRefFor(t *testing.T) {
	assert.Equal(t, "abc.mp4", InputRefFor("abc", ".mp4"))
	assert.Equal(t, "abc.mov", InputRefFor("abc", "MOV"))
	assert.Equal(t, "abc", InputRefFor("abc", ""))
}

func TestJob_CheckInvariant(t *testing.T) {
	errMsg := "boom"
	tests := []struct {
		name        string
		job         Job
		expectError bool
	}{
		{name: "pending clean", job: Job{Status: JobStatusPending}},
		{name: "processing clean", job: Job{Status: JobStatusProcessing}},
		{name: "completed with result", job: Job{Status: JobStatusCompleted, Result: json.RawMessage(`{"mean_score":0.1}`)}},
		{name: "failed with error", job: Job{Status: JobStatusFailed, Error: &errMsg}},
		{name: "pending with error", job: Job{Status: JobStatusPending, Error: &errMsg}, expectError: true},
		{name: "processing with result", job: Job{Status: JobStatusProcessing, Result: json.RawMessage(`{}`)}, expectError: true},
		{name: "completed without result", job: Job{Status: JobStatusCompleted}, expectError: true},
		{
			name:        "completed with both",
			job:         Job{Status: JobStatusCompleted, Result: json.RawMessage(`{}`), Error: &errMsg},
			expectError: true,
		},
		{name: "failed without error", job: Job{Status: JobStatusFailed}, expectError: true},
		{name: "unknown status", job: Job{Status: "DONE"}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.CheckInvariant()
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestOutcome_Validate(t *testing.T) {
	assert.NoError(t, CompletedOutcome(json.RawMessage(`{"score":0.12}`)).Validate())
	assert.NoError(t, FailedOutcome("remote exploded").Validate())

	assert.Error(t, CompletedOutcome(nil).Validate())
	assert.Error(t, CompletedOutcome(json.RawMessage(`{"score":`)).Validate())
	assert.Error(t, FailedOutcome(" ").Validate())
	assert.Error(t, Outcome{}.Validate())
}

func TestOutcome_Accessors(t *testing.T) {
	done := CompletedOutcome(json.RawMessage(`{"score":0.12}`))
	assert.Equal(t, JobStatusCompleted, done.Status())
	assert.JSONEq(t, `{"score":0.12}`, string(done.Result()))
	assert.Empty(t, done.Message())

	failed := FailedOutcome("nope")
	assert.Equal(t, JobStatusFailed, failed.Status())
	assert.Nil(t, failed.Result())
	assert.Equal(t, "nope", failed.Message())
}

func TestParsePrediction(t *testing.T) {
	p, ok := ParsePrediction(json.RawMessage(`{"pred_scores":[0.1,0.3],"mean_score":0.2}`))
	require.True(t, ok)
	require.NotNil(t, p.MeanScore)
	assert.InDelta(t, 0.2, *p.MeanScore, 1e-9)
	assert.Len(t, p.PredScores, 2)

	_, ok = ParsePrediction(json.RawMessage(`{"score":0.12}`))
	assert.False(t, ok)

	_, ok = ParsePrediction(json.RawMessage(`not json`))
	assert.False(t, ok)

	_, ok = ParsePrediction(nil)
	assert.False(t, ok)
}

func TestJob_JSONOmitsAbsentPayloads(t *testing.T) {
	b, err := json.Marshal(Job{ID: "j1", OwnerID: "u1", InputRef: "j1.mp4", Status: JobStatusPending})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.NotContains(t, m, "result")
	assert.NotContains(t, m, "error")
	assert.Equal(t, "PENDING", m["status"])
}
