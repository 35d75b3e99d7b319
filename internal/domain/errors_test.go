package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{
			name: "not found",
			err:  NotFound(ErrOrderNotFound, "order %s not found", "o-1"),
			want: KindNotFound,
		},
		{
			name: "wrapped validation",
			err:  fmt.Errorf("create: %w", Validation(ErrInvalidQuantity, "bad qty")),
			want: KindValidation,
		},
		{
			name: "stock exceeded",
			err:  StockExceeded(StockShortage{ProductID: "p-1", ProductName: "Tea", Requested: 3, Available: 1}),
			want: KindValidation,
		},
		{
			name: "conflict",
			err:  Conflict(ErrStockConflict, "retry budget exhausted"),
			want: KindConflict,
		},
		{
			name: "untyped error",
			err:  errors.New("connection reset"),
			want: KindUnavailable,
		},
		{
			name: "nil error",
			err:  nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_UnwrapsReasonAndCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Unavailable(cause, "load order")

	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the cause")
	}
	if err.Error() != "load order: dial tcp: refused" {
		t.Fatalf("unexpected message: %q", err.Error())
	}

	notFound := NotFound(ErrProductNotFound, "product %s not found", "p-9")
	if !errors.Is(notFound, ErrProductNotFound) {
		t.Fatal("expected errors.Is to find the reason")
	}
	if errors.Is(notFound, ErrOrderNotFound) {
		t.Fatal("unexpected match with another sentinel")
	}
}

func TestStockExceeded_CarriesProductName(t *testing.T) {
	err := StockExceeded(StockShortage{ProductID: "p-1", ProductName: "Green Tea", Requested: 11, Available: 10})

	if err.Error() != "stock demand exceeds product Green Tea stock" {
		t.Fatalf("unexpected message: %q", err.Error())
	}

	var typed *Error
	if !errors.As(err, &typed) || typed.Shortage == nil {
		t.Fatal("expected shortage details")
	}
	if typed.Shortage.Requested != 11 || typed.Shortage.Available != 10 {
		t.Fatalf("unexpected shortage: %+v", typed.Shortage)
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
			err:  ErrStockConflict,
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
