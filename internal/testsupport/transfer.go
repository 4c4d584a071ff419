package testsupport

import (
	"context"
	"testing"
	"time"

	"ferry/internal/automation"
	"ferry/internal/config"
	"ferry/internal/mapping"
	"ferry/internal/records"
	"ferry/internal/transfer"
)

// NewTransferService wires a transfer service over store using the driver
// selected by cfg. Running batches are shut down when the test ends.
func NewTransferService(t testing.TB, cfg *config.Config, store *records.Store, sink transfer.EventSink) *transfer.Service {
	t.Helper()

	svc, err := transfer.NewService(transfer.Dependencies{
		Source:  store,
		Mapper:  mapping.New(mapping.Options{}),
		Store:   store,
		Drivers: automation.NewFactory(cfg, nil),
		Sink:    sink,
	}, transfer.Options{
		ItemTimeout:   cfg.ItemTimeout(),
		ReadyTimeout:  cfg.RemoteReadyTimeout(),
		MaxConcurrent: cfg.Transfer.MaxConcurrentBatches,
	})
	if err != nil {
		t.Fatalf("transfer.NewService: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

// WaitForStatus polls until the batch orchestrator has finished.
func WaitForStatus(t testing.TB, svc *transfer.Service, batchID string) transfer.JobState {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.Status(batchID)
		if err != nil {
			t.Fatalf("status %s: %v", batchID, err)
		}
		if job.Finished() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("batch %s did not finish", batchID)
	return transfer.JobState{}
}
