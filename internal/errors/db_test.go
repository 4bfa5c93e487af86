package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_NilError(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}
}

func TestMapDBError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  ErrorCode
		wantField string
	}{
		{name: "deadline exceeded", err: context.DeadlineExceeded, wantCode: ErrCodeTimeout},
		{name: "canceled", err: context.Canceled, wantCode: ErrCodeCanceled},
		{name: "no rows", err: pgx.ErrNoRows, wantCode: ErrCodeNotFound},
		{
			name: "unique violation from detail",
			err: &pgconn.PgError{
				Code:   pgerrcode.UniqueViolation,
				Detail: "Key (id)=(0b5c1a8e-4a4f-4d7b-9f0e-0c3f9d1f1a01) already exists.",
			},
			wantCode:  ErrCodeConflict,
			wantField: "id",
		},
		{
			name:     "check violation",
			err:      &pgconn.PgError{Code: pgerrcode.CheckViolation, ConstraintName: "jobs_outcome_check"},
			wantCode: ErrCodeValidation,
		},
		{
			name:      "not null violation",
			err:       &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "owner_id"},
			wantCode:  ErrCodeValidation,
			wantField: "owner_id",
		},
		{
			name:     "malformed uuid",
			err:      &pgconn.PgError{Code: pgerrcode.InvalidTextRepresentation},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "statement timeout",
			err:      &pgconn.PgError{Code: pgerrcode.QueryCanceled},
			wantCode: ErrCodeTimeout,
		},
		{
			name:     "other postgres error",
			err:      &pgconn.PgError{Code: pgerrcode.DeadlockDetected},
			wantCode: ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapDBError(tt.err)
			if got := GetCode(mapped); got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
			if got := GetField(mapped); got != tt.wantField {
				t.Errorf("field = %q, want %q", got, tt.wantField)
			}
			if !errors.Is(mapped, tt.err) {
				t.Errorf("mapped error should wrap the original")
			}
		})
	}
}

func TestMapDBError_PassesThroughUnknownErrors(t *testing.T) {
	plain := errors.New("boom")
	if got := MapDBError(plain); !errors.Is(got, plain) || GetCode(got) != "" {
		t.Errorf("MapDBError(plain) = %v, want passthrough", got)
	}
}
