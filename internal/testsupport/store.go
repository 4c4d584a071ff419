package testsupport

import (
	"context"
	"testing"
	"time"

	"ferry/internal/config"
	"ferry/internal/records"
	"ferry/internal/transfer"
)

// MustOpenStore opens a records.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *records.Store {
	t.Helper()

	store, err := records.Open(cfg)
	if err != nil {
		t.Fatalf("records.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// RecordOption tweaks a seeded record before insertion.
type RecordOption func(*transfer.Record)

// InGroup places the record in the named group session.
func InGroup(key string) RecordOption {
	return func(r *transfer.Record) { r.GroupKey = key }
}

// OnDate sets the session date.
func OnDate(day time.Time) RecordOption {
	return func(r *transfer.Record) { r.SessionDate = day }
}

// SeedRecord inserts a record for tenant and returns it with its id.
func SeedRecord(t testing.TB, store *records.Store, tenant, number, name string, opts ...RecordOption) transfer.Record {
	t.Helper()

	rec := transfer.Record{
		TenantID:        tenant,
		StudentNumber:   number,
		StudentName:     name,
		ClassName:       "9-A",
		SessionDate:     time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Topic:           "Career planning",
		ActivityType:    "guidance",
		Location:        "counselling room",
		DurationMinutes: 40,
	}
	for _, opt := range opts {
		opt(&rec)
	}
	saved, err := store.Insert(context.Background(), rec)
	if err != nil {
		t.Fatalf("seed record %s: %v", number, err)
	}
	return saved
}
