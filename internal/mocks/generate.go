// Package mocks provides mock implementations of the clipscore ports for tests.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the interfaces
// in internal/core. To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().Claim(gomock.Any(), id).Return(job, nil)
package mocks

// Create, Claim, Heartbeat, Finalize, GetByID, ListByOwner, Stats
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/target/clipscore/internal/core JobRepository

// Get, Put, Invalidate
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_cache_mock.go github.com/target/clipscore/internal/core JobCache

// RequeueStaleProcessing, FailExhaustedProcessing, ListStalePending
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_repository_mock.go github.com/target/clipscore/internal/core ReaperRepository

// Enqueue, Dequeue, Ack
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_queue_mock.go github.com/target/clipscore/internal/core JobQueue

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_event_publisher_mock.go github.com/target/clipscore/internal/core JobEventPublisher

// Save, Locate, Remove
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=artifact_store_mock.go github.com/target/clipscore/internal/core ArtifactStore

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=processor_mock.go github.com/target/clipscore/internal/core Processor
