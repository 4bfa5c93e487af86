package testutil

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/target/clipscore/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a builder for a guest upload with a fresh id.
func NewJobRequest() *JobRequestBuilder {
	id := uuid.NewString()
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			ID:       id,
			OwnerID:  model.GuestOwnerID,
			InputRef: model.InputRefFor(id, ".mp4"),
		},
	}
}

// WithID sets the job id and derives the matching input reference.
func (b *JobRequestBuilder) WithID(id string) *JobRequestBuilder {
	b.req.ID = id
	b.req.InputRef = model.InputRefFor(id, ".mp4")
	return b
}

// WithOwner sets the owner id.
func (b *JobRequestBuilder) WithOwner(ownerID string) *JobRequestBuilder {
	b.req.OwnerID = ownerID
	return b
}

// WithInputRef overrides the input reference.
func (b *JobRequestBuilder) WithInputRef(ref string) *JobRequestBuilder {
	b.req.InputRef = ref
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// JobStore is the subset of the job store that fixtures drive.
type JobStore interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	Claim(ctx context.Context, id string) (*model.Job, error)
	Finalize(ctx context.Context, id string, outcome model.Outcome) (*model.Job, error)
}

// SeedJob creates a job and walks it to status through the store's own transitions.
func SeedJob(
	ctx context.Context,
	store JobStore,
	req *model.CreateJobRequest,
	status model.JobStatus,
) (*model.Job, error) {
	job, err := store.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("seed create: %w", err)
	}
	if status == model.JobStatusPending {
		return job, nil
	}

	job, err = store.Claim(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("seed claim: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("seed claim: job %s was not pending", req.ID)
	}

	switch status {
	case model.JobStatusProcessing:
		return job, nil
	case model.JobStatusCompleted:
		return store.Finalize(ctx, job.ID, model.CompletedOutcome(SamplePrediction()))
	case model.JobStatusFailed:
		return store.Finalize(ctx, job.ID, model.FailedOutcome("processor unavailable"))
	default:
		return nil, fmt.Errorf("seed: unsupported status %q", status)
	}
}

// SamplePrediction returns a processor payload shaped like a real prediction.
func SamplePrediction() json.RawMessage {
	return json.RawMessage(`{"pred_scores":[0.61,0.72,0.68],"mean_score":0.67}`)
}
