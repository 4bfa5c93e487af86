package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/clipscore/internal/observability/statsd"
)

func TestEmitJobLifecycle(t *testing.T) {
	rec := &statsd.Recorder{}
	EmitJobLifecycle(rec, JobMetric{
		Transition: TransitionFail,
		Result:     ResultError,
		Duration:   2 * time.Second,
		Err:        fmt.Errorf("post: %w", context.DeadlineExceeded),
	})

	counts := rec.Named("job.transition")
	require.Len(t, counts, 1)
	assert.Equal(t, map[string]string{
		"transition":  TransitionFail,
		"result":      ResultError,
		"error_class": "deadline_exceeded",
	}, counts[0].Tags)

	timings := rec.Named("job.duration")
	require.Len(t, timings, 1)
	assert.InDelta(t, 2000, timings[0].Value, 0.001)
}

func TestEmitJobLifecycleSkipsDurationAndClassOnSuccess(t *testing.T) {
	rec := &statsd.Recorder{}
	EmitJobLifecycle(rec, JobMetric{Transition: TransitionComplete, Result: ResultSuccess, Err: errors.New("ignored")})

	require.Len(t, rec.Samples(), 1)
	_, hasClass := rec.Samples()[0].Tags["error_class"]
	assert.False(t, hasClass)
}

func TestEmitProcessorCall(t *testing.T) {
	rec := &statsd.Recorder{}
	EmitProcessorCall(rec, ProcessorCall{Attempts: 3, Duration: time.Second, Err: errors.New("boom")})

	timing := rec.Named("processor.duration")
	require.Len(t, timing, 1)
	assert.Equal(t, ResultError, timing[0].Tags["result"])

	attempts := rec.Named("processor.attempts")
	require.Len(t, attempts, 1)
	assert.InDelta(t, 3, attempts[0].Value, 0)
}

func TestEmitReaperSweepResults(t *testing.T) {
	rec := &statsd.Recorder{}
	EmitReaperSweep(rec, "requeue", 0, nil)
	EmitReaperSweep(rec, "requeue", 4, nil)
	EmitReaperSweep(rec, "abandon", 0, errors.New("db down"))

	samples := rec.Named("reaper.jobs")
	require.Len(t, samples, 3)
	assert.Equal(t, ResultNoop, samples[0].Tags["result"])
	assert.Equal(t, ResultSuccess, samples[1].Tags["result"])
	assert.Equal(t, ResultError, samples[2].Tags["result"])
}

func TestNilSinkIsSafe(t *testing.T) {
	EmitJobLifecycle(nil, JobMetric{})
	EmitProcessorCall(nil, ProcessorCall{})
	EmitPrediction(nil, 0.5)
	EmitReaperSweep(nil, "x", 1, nil)
}

func TestCloneTags(t *testing.T) {
	assert.Nil(t, CloneTags(nil))
	src := map[string]string{"a": "1"}
	dst := CloneTags(src)
	dst["a"] = "2"
	assert.Equal(t, "1", src["a"])
}
