package config

import (
	"strings"
	"time"
)

// ProcessorConfig describes the external prediction service.
type ProcessorConfig struct {
	URL            string        `env:"URL"              envDefault:"http://localhost:8080/predict"`
	Timeout        time.Duration `env:"TIMEOUT"          envDefault:"5m"`
	FramesPerVideo int           `env:"FRAMES_PER_VIDEO" envDefault:"0"`

	// MaxAttempts bounds calls per job including the first. Only transient failures are retried.
	MaxAttempts    int           `env:"MAX_ATTEMPTS"    envDefault:"3"`
	BackoffInitial time.Duration `env:"BACKOFF_INITIAL" envDefault:"1s"`
	BackoffMax     time.Duration `env:"BACKOFF_MAX"     envDefault:"30s"`
}

// Sanitize applies guardrails to processor configuration values.
func (p *ProcessorConfig) Sanitize() {
	p.URL = strings.TrimSpace(p.URL)
	if p.URL == "" {
		p.URL = "http://localhost:8080/predict"
	}
	if p.Timeout <= 0 {
		p.Timeout = 5 * time.Minute
	}
	if p.FramesPerVideo < 0 {
		p.FramesPerVideo = 0
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.MaxAttempts > 10 {
		p.MaxAttempts = 10
	}
	if p.BackoffInitial <= 0 {
		p.BackoffInitial = time.Second
	}
	if p.BackoffMax < p.BackoffInitial {
		p.BackoffMax = p.BackoffInitial
	}
}
