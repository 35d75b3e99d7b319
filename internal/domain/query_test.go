package domain

import (
	"errors"
	"testing"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		raw     string
		want    Filter
		wantErr bool
	}{
		{raw: "", want: Filter{}},
		{raw: "code:mid-1", want: Filter{Field: FieldCode, Value: "mid-1"}},
		{raw: "orderId:MID", want: Filter{Field: FieldCode, Value: "MID"}},
		{raw: "createdAt:2024-01-02T10:00", want: Filter{Field: FieldCreatedAt, Value: "2024-01-02T10:00"}},
		{raw: "cashier_id: c-1 ", want: Filter{Field: FieldCashierID, Value: "c-1"}},
		{raw: "nocolon", wantErr: true},
		{raw: "password:secret", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseFilter(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidQuery) {
					t.Fatalf("expected ErrInvalidQuery, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseFilter(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseSort(t *testing.T) {
	tests := []struct {
		raw     string
		want    Sort
		wantErr bool
	}{
		{raw: "", want: Sort{Field: FieldCode, Direction: SortAsc}},
		{raw: "total:desc", want: Sort{Field: FieldTotal, Direction: SortDesc}},
		{raw: "createdAt", want: Sort{Field: FieldCreatedAt, Direction: SortAsc}},
		{raw: "total:sideways", wantErr: true},
		{raw: "unknown:asc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseSort(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseSort(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestOrderQueryNormalize(t *testing.T) {
	q := OrderQuery{Offset: -3, Limit: 1000}.Normalize()

	if q.Offset != 0 {
		t.Fatalf("expected offset 0, got %d", q.Offset)
	}
	if q.Limit != MaxPageSize {
		t.Fatalf("expected limit %d, got %d", MaxPageSize, q.Limit)
	}
	if q.Sort != DefaultSort() {
		t.Fatalf("expected default sort, got %+v", q.Sort)
	}

	if q := (OrderQuery{}).Normalize(); q.Limit != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, q.Limit)
	}
}

func TestOrderPageHelpers(t *testing.T) {
	offset, limit := PageQuery(2, 5)
	if offset != 5 || limit != 5 {
		t.Fatalf("PageQuery(2,5) = %d,%d", offset, limit)
	}

	page := OrderPage{Orders: make([]Order, 5), Total: 12, Offset: offset, Limit: limit}
	if page.PageNumber() != 2 {
		t.Fatalf("expected page 2, got %d", page.PageNumber())
	}
	if page.TotalPages() != 3 {
		t.Fatalf("expected 3 pages, got %d", page.TotalPages())
	}
	if !page.HasPrevious() || !page.HasNext() {
		t.Fatalf("expected previous and next pages: %+v", page)
	}

	last := OrderPage{Orders: make([]Order, 2), Total: 12, Offset: 10, Limit: 5}
	if last.HasNext() {
		t.Fatal("last page must not have next")
	}

	empty := OrderPage{Limit: 5}
	if empty.TotalPages() != 0 || empty.HasNext() || empty.HasPrevious() {
		t.Fatalf("unexpected empty page helpers: %+v", empty)
	}
}
