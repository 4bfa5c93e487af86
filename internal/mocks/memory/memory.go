// Package memory contains simple hand-written test doubles for the job ports.
// They are safe for concurrent use and suitable for unit tests without a database.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/target/clipscore/internal/core"
	"github.com/target/clipscore/internal/domain/model"
	apperrors "github.com/target/clipscore/internal/errors"
)

// ErrNotFound is returned by JobStore for unknown ids.
var ErrNotFound = apperrors.NotFound("job not found")

// ErrArtifactNotFound is returned by ArtifactStore.Locate for unknown refs.
var ErrArtifactNotFound = errors.New("artifact not found")

var (
	_ core.JobRepository     = (*JobStore)(nil)
	_ core.ReaperRepository  = (*JobStore)(nil)
	_ core.ArtifactStore     = (*ArtifactStore)(nil)
	_ core.JobQueue          = (*Queue)(nil)
	_ core.JobEventPublisher = (*Events)(nil)
)

// JobStore is an in-memory JobRepository and ReaperRepository that mirrors the SQL
// store: Claim is a compare-and-set, Finalize is unconditional and the recovery
// queries key on lease expiry.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
	// Lease is the initial claim lease. Defaults to model.DefaultClaimLease.
	Lease time.Duration
	// CreateErr, when set, is returned by Create.
	CreateErr error
}

// NewJobStore returns an empty store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*model.Job)}
}

func (s *JobStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create stores a PENDING job, allocating an id when req.ID is empty.
func (s *JobStore) Create(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := s.jobs[id]; exists {
		return nil, fmt.Errorf("job %s already exists", id)
	}
	now := s.now()
	j := &model.Job{
		ID:        id,
		OwnerID:   req.OwnerID,
		InputRef:  req.InputRef,
		Status:    model.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[id] = j
	return clone(j), nil
}

// Claim moves a PENDING job to PROCESSING and starts its lease. Any other state is
// reported as absent.
func (s *JobStore) Claim(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Status != model.JobStatusPending {
		return nil, nil //nolint:nilnil // absent claim
	}
	now := s.now()
	lease := s.Lease
	if lease <= 0 {
		lease = model.DefaultClaimLease
	}
	expires := now.Add(lease)
	j.Status = model.JobStatusProcessing
	j.ClaimedAt = &now
	j.LeaseExpiresAt = &expires
	j.UpdatedAt = now
	return clone(j), nil
}

// Heartbeat extends the lease of a PROCESSING job. It returns false for any other state.
func (s *JobStore) Heartbeat(_ context.Context, id string, lease time.Duration) (bool, error) {
	if lease <= 0 {
		return false, errors.New("lease must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Status != model.JobStatusProcessing {
		return false, nil
	}
	now := s.now()
	expires := now.Add(lease)
	j.LeaseExpiresAt = &expires
	j.UpdatedAt = now
	return true, nil
}

// Finalize records a terminal outcome regardless of the current status.
func (s *JobStore) Finalize(_ context.Context, id string, outcome model.Outcome) (*model.Job, error) {
	if err := outcome.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	j.Status = outcome.Status()
	j.Result = nil
	j.Error = nil
	j.LeaseExpiresAt = nil
	if outcome.Status() == model.JobStatusCompleted {
		j.Result = append([]byte(nil), outcome.Result()...)
	} else {
		msg := outcome.Message()
		j.Error = &msg
	}
	j.UpdatedAt = s.now()
	return clone(j), nil
}

// GetByID returns a copy of the job or ErrNotFound.
func (s *JobStore) GetByID(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(j), nil
}

// ListByOwner returns an owner's jobs newest first, applying Offset and Limit.
func (s *JobStore) ListByOwner(_ context.Context, opts model.JobListByOwnerOptions) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Job
	for _, j := range s.jobs {
		if j.OwnerID == opts.OwnerID {
			out = append(out, clone(j))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if opts.Offset >= len(out) {
		return []*model.Job{}, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Stats counts jobs by status.
func (s *JobStore) Stats(context.Context) (*model.JobStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st model.JobStats
	for _, j := range s.jobs {
		switch j.Status {
		case model.JobStatusPending:
			st.Pending++
		case model.JobStatusProcessing:
			st.Processing++
		case model.JobStatusCompleted:
			st.Completed++
		case model.JobStatusFailed:
			st.Failed++
		}
	}
	return &st, nil
}

// staleProcessing returns PROCESSING jobs whose lease expired more than grace ago,
// oldest lease first. Callers hold s.mu.
func (s *JobStore) staleProcessing(params core.StaleProcessingParams, exhausted bool) []*model.Job {
	cutoff := s.now().Add(-params.Grace)
	var out []*model.Job
	for _, j := range s.jobs {
		if j.Status != model.JobStatusProcessing || j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.Before(cutoff) {
			continue
		}
		if (j.RecoveryCount >= params.MaxRecoveries) != exhausted {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].LeaseExpiresAt.Before(*out[b].LeaseExpiresAt) })
	if params.BatchSize > 0 && len(out) > params.BatchSize {
		out = out[:params.BatchSize]
	}
	return out
}

// RequeueStaleProcessing resets stale PROCESSING jobs with recoveries left to PENDING.
func (s *JobStore) RequeueStaleProcessing(_ context.Context, params core.StaleProcessingParams) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var ids []string
	for _, j := range s.staleProcessing(params, false) {
		j.Status = model.JobStatusPending
		j.ClaimedAt = nil
		j.LeaseExpiresAt = nil
		j.RecoveryCount++
		j.UpdatedAt = now
		ids = append(ids, j.ID)
	}
	return ids, nil
}

// FailExhaustedProcessing finalizes stale PROCESSING jobs that used up their recoveries.
func (s *JobStore) FailExhaustedProcessing(_ context.Context, params core.StaleProcessingParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stale := s.staleProcessing(params, true)
	for _, j := range stale {
		msg := fmt.Sprintf("processing abandoned after %d recovery attempts", j.RecoveryCount)
		j.Status = model.JobStatusFailed
		j.Error = &msg
		j.Result = nil
		j.LeaseExpiresAt = nil
		j.UpdatedAt = now
	}
	return int64(len(stale)), nil
}

// ListStalePending returns ids of PENDING jobs created more than MaxAge ago, oldest first.
func (s *JobStore) ListStalePending(_ context.Context, params core.StalePendingParams) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-params.MaxAge)
	var pending []*model.Job
	for _, j := range s.jobs {
		if j.Status == model.JobStatusPending && j.CreatedAt.Before(cutoff) {
			pending = append(pending, j)
		}
	}
	sort.Slice(pending, func(a, b int) bool { return pending[a].CreatedAt.Before(pending[b].CreatedAt) })
	if params.BatchSize > 0 && len(pending) > params.BatchSize {
		pending = pending[:params.BatchSize]
	}
	ids := make([]string, 0, len(pending))
	for _, j := range pending {
		ids = append(ids, j.ID)
	}
	return ids, nil
}

// Len returns the number of stored jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func clone(j *model.Job) *model.Job {
	c := *j
	if j.Result != nil {
		c.Result = append([]byte(nil), j.Result...)
	}
	if j.Error != nil {
		msg := *j.Error
		c.Error = &msg
	}
	if j.ClaimedAt != nil {
		t := *j.ClaimedAt
		c.ClaimedAt = &t
	}
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		c.LeaseExpiresAt = &t
	}
	return &c
}

// ArtifactStore keeps artifacts in memory. Locate returns "mem://<ref>".
type ArtifactStore struct {
	mu    sync.Mutex
	files map[string][]byte
	// RemoveErr, when set, is returned by Remove after the artifact is dropped.
	RemoveErr error
	removed   []string
}

// NewArtifactStore returns an empty artifact store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{files: make(map[string][]byte)}
}

// Save buffers r under ref, replacing any previous content.
func (a *ArtifactStore) Save(_ context.Context, ref string, r io.Reader) (int64, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return n, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[ref] = buf.Bytes()
	return n, nil
}

// Locate returns "mem://<ref>" or an error wrapping ErrArtifactNotFound.
func (a *ArtifactStore) Locate(ref string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.files[ref]; !ok {
		return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, ref)
	}
	return "mem://" + ref, nil
}

// Remove drops ref and records the call. Missing refs are not an error.
func (a *ArtifactStore) Remove(ref string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.files, ref)
	a.removed = append(a.removed, ref)
	return a.RemoveErr
}

// Has reports whether ref is stored.
func (a *ArtifactStore) Has(ref string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.files[ref]
	return ok
}

// Content returns the bytes stored under ref.
func (a *ArtifactStore) Content(ref string) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]byte(nil), a.files[ref]...)
}

// Removed returns every ref passed to Remove, in call order.
func (a *ArtifactStore) Removed() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.removed...)
}

// Queue is an in-memory JobQueue backed by a buffered channel.
type Queue struct {
	ch chan string
	// EnqueueErr, when set, is returned by Enqueue.
	EnqueueErr error

	mu    sync.Mutex
	acked []string
}

// NewQueue returns a queue holding up to size ids.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan string, size)}
}

// Enqueue appends id, blocking when the buffer is full.
func (q *Queue) Enqueue(_ context.Context, id string) error {
	if q.EnqueueErr != nil {
		return q.EnqueueErr
	}
	q.ch <- id
	return nil
}

// Dequeue waits up to wait for an id and returns model.ErrNoJobsAvailable on timeout.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (string, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case id := <-q.ch:
		return id, nil
	case <-timer.C:
		return "", model.ErrNoJobsAvailable
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Ack records id as acknowledged.
func (q *Queue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	return nil
}

// Pending returns the number of ids waiting in the queue.
func (q *Queue) Pending() int { return len(q.ch) }

// Acked returns every acknowledged id.
func (q *Queue) Acked() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

// Events records published job events.
type Events struct {
	mu     sync.Mutex
	events []model.JobEvent
}

// Publish records event.
func (e *Events) Publish(_ context.Context, event model.JobEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

// Statuses returns the job status carried by each published event.
func (e *Events) Statuses() []model.JobStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.JobStatus, 0, len(e.events))
	for _, ev := range e.events {
		if ev.Job != nil {
			out = append(out, ev.Job.Status)
		}
	}
	return out
}
