// Package errors turns arbitrary errors into low-cardinality class names for metric tags.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"
)

// Classify returns a normalized error class suitable for tagging metrics and logs.
// Context cancellation and deadlines get fixed names; everything else is named after
// the innermost concrete error type.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case goerrors.Is(err, context.Canceled):
		return "canceled"
	case goerrors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(t.String())
	name = strings.NewReplacer("*", "", ".", "_").Replace(name)
	if name == "" {
		return "unknown"
	}
	return name
}
