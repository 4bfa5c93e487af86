// Package processor submits uploaded videos to the external scoring service.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/target/clipscore/internal/core"
	"github.com/target/clipscore/internal/domain/job"
	"github.com/target/clipscore/internal/observability/metrics"
	"github.com/target/clipscore/internal/observability/statsd"
)

// DefaultURL is the processor endpoint used when none is configured.
const DefaultURL = "http://localhost:8080/predict"

const (
	defaultTimeout   = 5 * time.Minute
	defaultFieldName = "video"
)

var (
	// ErrTimeout is returned when a single processor attempt exceeds the configured timeout.
	ErrTimeout = errors.New("processor request timed out")
	// ErrInvalidResponse is returned when a successful response does not carry JSON.
	ErrInvalidResponse = errors.New("processor returned an invalid response")
)

// RemoteError is a non-2xx response from the processor. Body holds the response text.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	if e.Body != "" {
		return e.Body
	}
	return "processor returned status " + strconv.Itoa(e.StatusCode)
}

// Config configures the processor client.
type Config struct {
	URL     string
	Timeout time.Duration
	// FieldName is the multipart field carrying the video. Defaults to "video".
	FieldName string
	// FramesPerVideo is sent as the frames_per_video form field when positive.
	FramesPerVideo int
	Retry          *job.RetryPolicy
	Client         *http.Client
	Logger         *slog.Logger
	Metrics        statsd.Sink
}

// Client posts artifacts to the processor as multipart/form-data.
type Client struct {
	url            string
	timeout        time.Duration
	fieldName      string
	framesPerVideo int
	retry          *job.RetryPolicy
	client         *http.Client
	logger         *slog.Logger
	metrics        statsd.Sink
}

// NewClient builds a processor client. A nil Retry makes a single attempt.
func NewClient(cfg Config) (*Client, error) {
	target := strings.TrimSpace(cfg.URL)
	if target == "" {
		target = DefaultURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	field := strings.TrimSpace(cfg.FieldName)
	if field == "" {
		field = defaultFieldName
	}
	// Per-attempt deadlines come from the request context so uploads of any size
	// are bounded only by Timeout.
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		url:            target,
		timeout:        timeout,
		fieldName:      field,
		framesPerVideo: cfg.FramesPerVideo,
		retry:          cfg.Retry,
		client:         hc,
		logger:         logger.With("component", "processor_client"),
		metrics:        cfg.Metrics,
	}, nil
}

// Process submits req and returns the processor's JSON payload verbatim.
// Transient failures are retried according to the client's retry policy.
func (c *Client) Process(ctx context.Context, req core.ProcessRequest) (json.RawMessage, error) {
	start := time.Now()
	var payload json.RawMessage
	attempts, err := c.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		body, postErr := c.post(ctx, req)
		if postErr != nil {
			if attempt < c.retry.MaxAttempts() && IsTransient(postErr) {
				c.logger.WarnContext(ctx, "processor attempt failed",
					"job_id", req.JobID, "attempt", attempt, "error", postErr)
			}
			return postErr
		}
		payload = body
		return nil
	}, IsTransient)
	metrics.EmitProcessorCall(c.metrics, metrics.ProcessorCall{
		Attempts: attempts,
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		return nil, err
	}
	if attempts > 1 {
		c.logger.InfoContext(ctx, "processor succeeded after retry", "job_id", req.JobID, "attempts", attempts)
	}
	return payload, nil
}

func (c *Client) post(ctx context.Context, req core.ProcessRequest) (json.RawMessage, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(c.writeForm(mw, f, req.Filename))
	}()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.url, pr)
	if err != nil {
		_ = pr.Close()
		return nil, fmt.Errorf("create processor request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		_ = pr.CloseWithError(err)
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return nil, fmt.Errorf("processor request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return nil, fmt.Errorf("read processor response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Body: normalizeBody(body)}
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: status %d with non-JSON body", ErrInvalidResponse, resp.StatusCode)
	}
	return json.RawMessage(body), nil
}

func (c *Client) writeForm(mw *multipart.Writer, src io.Reader, filename string) error {
	if filename == "" {
		filename = "upload"
	}
	part, err := mw.CreateFormFile(c.fieldName, filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	if c.framesPerVideo > 0 {
		if err := mw.WriteField("frames_per_video", strconv.Itoa(c.framesPerVideo)); err != nil {
			return err
		}
	}
	return mw.Close()
}

// normalizeBody compacts JSON bodies and trims everything else.
func normalizeBody(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if json.Valid(trimmed) && json.Compact(&buf, trimmed) == nil {
		return buf.String()
	}
	return string(trimmed)
}

// IsTransient reports whether err is worth retrying: timeouts, transport failures,
// 429 and 5xx responses. Local file errors and 4xx responses are permanent.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.StatusCode == http.StatusTooManyRequests || remote.StatusCode >= 500
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	if errors.Is(err, ErrInvalidResponse) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// FailureMessage renders err for storage on a failed job, preferring the processor's
// own error body over the local description of the failure.
func FailureMessage(err error) string {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Error()
	}
	return err.Error()
}

var _ core.Processor = (*Client)(nil)
