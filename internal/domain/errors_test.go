package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "version conflict error",
			err:  ErrOrderVersionConflict,
			want: true,
		},
		{
			name: "wrapped version conflict error",
			err:  errors.Join(ErrOrderVersionConflict, errors.New("additional context")),
			want: true,
		},
		{
			name: "other error",
			err:  ErrOrderNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsVersionConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "idempotency already exists",
			err:  ErrIdempotencyKeyAlreadyExists,
			want: true,
		},
		{
			name: "idempotency hash mismatch",
			err:  ErrIdempotencyHashMismatch,
			want: true,
		},
		{
			name: "wrapped idempotency conflict",
			err:  errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")),
			want: true,
		},
		{
			name: "non idempotency error",
			err:  ErrOrderVersionConflict,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsIdempotencyConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	stockErr := &StockValidationError{Lines: []InsufficientStockError{
		{ProductID: 7, Requested: 2, Available: 1},
		{ProductID: 9, Requested: 5, Available: 0},
	}}

	var line *InsufficientStockError
	if !errors.As(stockErr, &line) {
		t.Fatal("expected StockValidationError to expose InsufficientStockError")
	}
	if line.ProductID != 7 || line.Available != 1 {
		t.Fatalf("unexpected first line: %+v", line)
	}
	if !errors.Is(stockErr, ErrInsufficientStock) {
		t.Fatal("expected ErrInsufficientStock")
	}

	var unavailable *ProductUnavailableError
	wrapped := fmt.Errorf("build draft: %w", &ProductUnavailableError{ProductID: 3, Reason: "deleted"})
	if !errors.As(wrapped, &unavailable) || unavailable.ProductID != 3 {
		t.Fatalf("expected ProductUnavailableError, got %v", wrapped)
	}
	if !errors.Is(wrapped, ErrProductUnavailable) {
		t.Fatal("expected ErrProductUnavailable")
	}

	if !errors.Is(&TransitionError{From: OrderStatusDelivered, Event: OrderEventRefunded}, ErrIllegalTransition) {
		t.Fatal("expected ErrIllegalTransition")
	}
}

func TestReasonCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: ErrEmptyCart, want: ReasonEmptyCart},
		{err: &ProductUnavailableError{ProductID: 1}, want: ReasonProductUnavailable},
		{err: fmt.Errorf("reserve: %w", &InsufficientStockError{ProductID: 1}), want: ReasonInsufficientStock},
		{err: ErrUnauthenticated, want: ReasonUnauthenticated},
		{err: ErrOrderNotFound, want: ReasonOrderNotFound},
		{err: ErrInvalidSignature, want: ReasonInvalidSignature},
		{err: ErrMalformedEvent, want: ReasonMalformedEvent},
		{err: ErrUnknownProvider, want: ReasonUnknownProvider},
		{err: &TransitionError{From: OrderStatusNew, Event: OrderEventShipped}, want: ReasonIllegalTransition},
		{err: ErrIdempotencyHashMismatch, want: ReasonIdempotencyReuse},
		{err: ErrIdempotencyRequestInProgress, want: ReasonInProgress},
		{err: ErrOrderVersionConflict, want: ReasonVersionConflict},
		{err: errors.New("db down"), want: ReasonInternal},
	}

	for _, tt := range tests {
		if got := ReasonCode(tt.err); got != tt.want {
			t.Errorf("ReasonCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
