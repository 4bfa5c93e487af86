package statsd

import (
	"sync"
	"time"
)

// Nop discards every metric.
type Nop struct{}

func (Nop) Count(string, int64, map[string]string)          {}
func (Nop) Gauge(string, float64, map[string]string)        {}
func (Nop) Timing(string, time.Duration, map[string]string) {}

// Sample is one metric captured by a Recorder.
type Sample struct {
	Kind  string
	Name  string
	Value float64
	Tags  map[string]string
}

// Recorder keeps every metric in memory. It is intended for tests.
type Recorder struct {
	mu      sync.Mutex
	samples []Sample
}

func (r *Recorder) add(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

// Count records a counter sample.
func (r *Recorder) Count(name string, value int64, tags map[string]string) {
	r.add(Sample{Kind: "c", Name: name, Value: float64(value), Tags: cleanTags(tags)})
}

// Gauge records a gauge sample.
func (r *Recorder) Gauge(name string, value float64, tags map[string]string) {
	r.add(Sample{Kind: "g", Name: name, Value: value, Tags: cleanTags(tags)})
}

// Timing records a timing sample in milliseconds.
func (r *Recorder) Timing(name string, value time.Duration, tags map[string]string) {
	r.add(Sample{Kind: "ms", Name: name, Value: float64(value) / float64(time.Millisecond), Tags: cleanTags(tags)})
}

// Samples returns a copy of the recorded samples.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}

// Named returns the samples recorded under name.
func (r *Recorder) Named(name string) []Sample {
	var out []Sample
	for _, s := range r.Samples() {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

var (
	_ Sink = Nop{}
	_ Sink = (*Recorder)(nil)
)
