// Package metrics emits the job system's standard metric shapes onto a statsd.Sink.
package metrics

import (
	"strconv"
	"time"

	obserrors "github.com/target/clipscore/internal/observability/errors"
	"github.com/target/clipscore/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Transition names used on job.transition.
const (
	TransitionSubmit   = "submit"
	TransitionClaim    = "claim"
	TransitionComplete = "complete"
	TransitionFail     = "fail"
	TransitionRequeue  = "requeue"
	TransitionAbandon  = "abandon"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// ProcessorCall describes one Process invocation against the remote processor.
type ProcessorCall struct {
	Attempts int
	Duration time.Duration
	Err      error
}

// EmitProcessorCall records latency and attempt count for a processor call.
func EmitProcessorCall(sink statsd.Sink, in ProcessorCall) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	tags := map[string]string{}
	if in.Err != nil {
		result = ResultError
		tags["error_class"] = obserrors.Classify(in.Err)
	}
	tags["result"] = result

	sink.Timing("processor.duration", in.Duration, tags)
	if in.Attempts > 0 {
		sink.Gauge("processor.attempts", float64(in.Attempts), map[string]string{
			"result":   result,
			"attempts": strconv.Itoa(in.Attempts),
		})
	}
}

// EmitPrediction records the mean score of a completed prediction.
func EmitPrediction(sink statsd.Sink, meanScore float64) {
	if sink == nil {
		return
	}
	sink.Gauge("job.mean_score", meanScore, nil)
}

// EmitReaperSweep records how many jobs a recovery step touched.
func EmitReaperSweep(sink statsd.Sink, step string, count int64, err error) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	switch {
	case err != nil:
		result = ResultError
	case count == 0:
		result = ResultNoop
	}
	tags := map[string]string{"step": step, "result": result}
	if err != nil {
		tags["error_class"] = obserrors.Classify(err)
	}
	sink.Count("reaper.jobs", count, tags)
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
