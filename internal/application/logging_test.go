package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}

	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "unauthorized", err: ErrUnauthorized, want: "unauthorized"},
		{name: "wrapped not found", err: fmt.Errorf("load: %w", ErrNotFound), want: "not_found"},
		{name: "overlap", err: ErrBookingOverlap, want: "booking_overlap"},
		{name: "time range", err: fmt.Errorf("%w: start must be before end", ErrInvalidTimeRange), want: "invalid_time_range"},
		{name: "unavailable", err: ErrServiceUnavailable, want: "service_unavailable"},
		{name: "canceled", err: context.Canceled, want: "canceled"},
		{name: "validation", err: &ValidationError{FieldErrors: map[string]string{"subject": "required"}}, want: "validation"},
		{name: "other", err: errors.New("boom"), want: "unexpected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ErrorKind(tt.err); got != tt.want {
				t.Fatalf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
