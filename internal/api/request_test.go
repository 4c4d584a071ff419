package api_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"ferry/internal/api"
	"ferry/internal/services"
	"ferry/internal/transfer"
)

func TestStartRequestConvertsFilters(t *testing.T) {
	req := api.StartTransferRequest{
		BatchID:   " b-1 ",
		TenantID:  "t1",
		RecordIDs: []int64{4, 5},
		From:      "2026-03-01",
		To:        "2026-03-31",
	}
	got, err := req.StartRequest()
	if err != nil {
		t.Fatalf("StartRequest: %v", err)
	}
	if got.BatchID != "b-1" || got.Filters.TenantID != "t1" {
		t.Fatalf("unexpected request %+v", got)
	}
	if !got.Filters.OnlyNotTransferred {
		t.Fatal("expected untransferred-only default")
	}
	if !got.Filters.From.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected from %v", got.Filters.From)
	}
	if len(got.Filters.RecordIDs) != 2 {
		t.Fatalf("unexpected ids %v", got.Filters.RecordIDs)
	}
}

func TestStartRequestValidation(t *testing.T) {
	tests := []struct {
		name string
		req  api.StartTransferRequest
	}{
		{"missing tenant", api.StartTransferRequest{}},
		{"bad from", api.StartTransferRequest{TenantID: "t", From: "03/01/2026"}},
		{"inverted range", api.StartTransferRequest{TenantID: "t", From: "2026-03-05", To: "2026-03-01"}},
		{"non-positive id", api.StartTransferRequest{TenantID: "t", RecordIDs: []int64{0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.StartRequest()
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{transfer.ErrNoRecords, http.StatusUnprocessableEntity},
		{fmt.Errorf("start: %w", transfer.ErrDuplicateBatch), http.StatusConflict},
		{transfer.ErrAtCapacity, http.StatusServiceUnavailable},
		{transfer.ErrShuttingDown, http.StatusServiceUnavailable},
		{transfer.ErrBatchNotFound, http.StatusNotFound},
		{services.Wrap(services.ErrValidation, "api", "x", "bad", nil), http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := api.HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
