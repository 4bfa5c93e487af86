package errors

import (
	"context"
	goerrors "errors"
	"fmt"
	"io/fs"
	"testing"
)

type remoteFailure struct{}

func (*remoteFailure) Error() string { return "remote" }

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"canceled", fmt.Errorf("run: %w", context.Canceled), "canceled"},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), "deadline_exceeded"},
		{"plain", goerrors.New("boom"), "errors_errorstring"},
		{"wrapped pointer type", fmt.Errorf("outer: %w", &remoteFailure{}), "errors_remotefailure"},
		{"path error", &fs.PathError{Op: "open", Path: "x", Err: goerrors.New("nope")}, "errors_errorstring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}
