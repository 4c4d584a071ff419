package transfer_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"ferry/internal/transfer"
)

func TestRegistryCreateRejectsDuplicates(t *testing.T) {
	reg := transfer.NewRegistry()
	job, err := reg.Create("b1", 3)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.Status != transfer.StatusPending || job.Progress != (transfer.Progress{Total: 3}) {
		t.Fatalf("unexpected new job %+v", job)
	}
	if _, err := reg.Create("b1", 1); !errors.Is(err, transfer.ErrDuplicateBatch) {
		t.Fatalf("expected ErrDuplicateBatch, got %v", err)
	}
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	reg := transfer.NewRegistry()
	if _, err := reg.Create("b1", 1); err != nil {
		t.Fatalf("Create: %v", err)
	}
	snap, err := reg.Get("b1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	snap.Status = transfer.StatusCompleted
	snap.Progress.Completed = 99
	snap.Errors = append(snap.Errors, transfer.ItemError{ItemID: "bogus"})

	again, _ := reg.Get("b1")
	if again.Status != transfer.StatusPending || again.Progress.Completed != 0 || len(again.Errors) != 0 {
		t.Fatalf("caller mutation leaked into registry: %+v", again)
	}
}

func TestRegistryRequestCancel(t *testing.T) {
	reg := transfer.NewRegistry()
	if err := reg.RequestCancel("missing"); !errors.Is(err, transfer.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
	if _, err := reg.Create("b1", 2); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := reg.RequestCancel("b1"); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	job, _ := reg.Get("b1")
	if !job.CancelRequested || job.Status != transfer.StatusCancelled {
		t.Fatalf("expected eager cancellation, got %+v", job)
	}
	if err := reg.RequestCancel("b1"); err != nil {
		t.Fatalf("second cancel should ack: %v", err)
	}
}

func TestRegistryListNewestFirstAndPrune(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg := transfer.NewRegistry(transfer.WithRegistryClock(func() time.Time { return now }))

	for _, id := range []string{"old", "mid", "new"} {
		if _, err := reg.Create(id, 1); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
		now = now.Add(time.Minute)
	}
	list := reg.List()
	if len(list) != 3 || list[0].ID != "new" || list[2].ID != "old" {
		t.Fatalf("unexpected order: %v", []string{list[0].ID, list[1].ID, list[2].ID})
	}

	// Cancelled pending jobs are terminal but have no finish time until the
	// orchestrator stops, so they survive pruning.
	if err := reg.RequestCancel("old"); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	now = now.Add(time.Hour)
	if removed := reg.Prune(time.Minute); removed != 0 {
		t.Fatalf("expected nothing pruned, got %d", removed)
	}
	// The cancelled job still counts until its orchestrator finishes it.
	if reg.Active() != 3 {
		t.Fatalf("expected 3 active jobs, got %d", reg.Active())
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := transfer.NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := "b" + string(rune('a'+n%26)) + string(rune('a'+n/26))
			_, _ = reg.Create(id, n)
			_, _ = reg.Get(id)
			_ = reg.RequestCancel(id)
			_ = reg.List()
		}(i)
	}
	wg.Wait()
	if len(reg.List()) != 50 {
		t.Fatalf("expected 50 jobs, got %d", len(reg.List()))
	}
}

func TestServicePrunesFinishedJobs(t *testing.T) {
	h := newHarness(t, []transfer.Record{individual(1)}, nil, transfer.Options{})
	h.runBatch(t, "done")

	if removed := h.svc.Prune(time.Hour); removed != 0 {
		t.Fatalf("fresh job should be retained, pruned %d", removed)
	}
	time.Sleep(5 * time.Millisecond)
	if removed := h.svc.Prune(time.Millisecond); removed != 1 {
		t.Fatalf("expected finished job pruned, got %d", removed)
	}
	if _, err := h.svc.Status("done"); !errors.Is(err, transfer.ErrBatchNotFound) {
		t.Fatalf("expected pruned job to be gone, got %v", err)
	}
}
