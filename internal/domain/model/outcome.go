package model

import (
	"encoding/json"
	"errors"
	"strings"
)

// Outcome is the terminal result of processing a job: either a completed result
// payload or a failure message, never both.
type Outcome struct {
	status  JobStatus
	result  json.RawMessage
	message string
}

// CompletedOutcome builds an outcome that finalizes a job as COMPLETED.
func CompletedOutcome(result json.RawMessage) Outcome {
	return Outcome{status: JobStatusCompleted, result: result}
}

// FailedOutcome builds an outcome that finalizes a job as FAILED.
func FailedOutcome(message string) Outcome {
	return Outcome{status: JobStatusFailed, message: message}
}

// Status returns the terminal status the outcome records.
func (o Outcome) Status() JobStatus { return o.status }

// Result returns the completed payload, nil for failures.
func (o Outcome) Result() json.RawMessage { return o.result }

// Message returns the failure message, empty for completions.
func (o Outcome) Message() string { return o.message }

// Validate ensures the outcome carries exactly the payload its status requires.
func (o Outcome) Validate() error {
	switch o.status {
	case JobStatusCompleted:
		if len(o.result) == 0 {
			return errors.New("completed outcome requires a result")
		}
		if !json.Valid(o.result) {
			return errors.New("completed outcome result must be valid JSON")
		}
	case JobStatusFailed:
		if strings.TrimSpace(o.message) == "" {
			return errors.New("failed outcome requires an error message")
		}
	default:
		return errors.New("outcome must be completed or failed")
	}
	return nil
}
