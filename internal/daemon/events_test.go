package daemon

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ferry/internal/api"
	"ferry/internal/automation"
	"ferry/internal/events"
	"ferry/internal/mapping"
	"ferry/internal/testsupport"
	"ferry/internal/transfer"
)

// gatedDriver holds every individual submission until release is closed.
type gatedDriver struct {
	*automation.DryRunDriver
	entered chan<- struct{}
	release <-chan struct{}
}

func (d gatedDriver) SubmitIndividual(ctx context.Context, form transfer.RemoteForm) (transfer.SubmitResult, error) {
	select {
	case d.entered <- struct{}{}:
	default:
	}
	<-d.release
	return d.DryRunDriver.SubmitIndividual(ctx, form)
}

type gatedFactory struct {
	entered chan<- struct{}
	release <-chan struct{}
}

func (f gatedFactory) NewDriver(string) (transfer.Driver, error) {
	return gatedDriver{DryRunDriver: automation.NewDryRunDriver(nil, nil), entered: f.entered, release: f.release}, nil
}

func TestCancelledBatchKeepsEventStreamOpenUntilFinished(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedRecord(t, store, "school-1", "101", "Ada Yilmaz")
	testsupport.SeedRecord(t, store, "school-1", "102", "Can Demir")
	hub := events.NewHub(0)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var releaseOnce sync.Once
	open := func() { releaseOnce.Do(func() { close(release) }) }

	svc, err := transfer.NewService(transfer.Dependencies{
		Source:  store,
		Mapper:  mapping.New(mapping.Options{}),
		Store:   store,
		Drivers: gatedFactory{entered: entered, release: release},
		Sink:    hub,
	}, transfer.Options{MaxConcurrent: cfg.Transfer.MaxConcurrentBatches})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() {
		open()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	d, err := New(cfg, store, svc, hub, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	server := httptest.NewServer(d.api.handler(nil))
	t.Cleanup(server.Close)
	f := &apiFixture{cfg: cfg, daemon: d, server: server}

	var started api.StartTransferResponse
	if resp := f.do(t, http.MethodPost, "/api/transfers", api.StartTransferRequest{TenantID: "school-1"}, &started); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first item never reached the driver")
	}

	var cancelled api.TransferResponse
	f.do(t, http.MethodPost, "/api/transfers/"+started.BatchID+"/cancel", nil, &cancelled)
	if cancelled.Transfer.Status != "cancelled" {
		t.Fatalf("expected eager cancelled status, got %q", cancelled.Transfer.Status)
	}

	var page api.EventStreamResponse
	f.do(t, http.MethodGet, "/api/transfers/"+started.BatchID+"/events", nil, &page)
	if page.Done {
		t.Fatal("snapshot page reported done while an item is in flight")
	}
	path := fmt.Sprintf("/api/transfers/%s/events?since=%d&follow=1&wait=1", started.BatchID, page.Next)
	var follow api.EventStreamResponse
	f.do(t, http.MethodGet, path, nil, &follow)
	if follow.Done || len(follow.Events) != 0 {
		t.Fatalf("follow page should wait for the in-flight item: done=%v events=%d", follow.Done, len(follow.Events))
	}

	var status api.DaemonStatus
	f.do(t, http.MethodGet, "/api/status", nil, &status)
	if status.ActiveTransfers != 1 {
		t.Fatalf("cancelled batch still running should count as active, got %d", status.ActiveTransfers)
	}

	open()
	rest := f.waitDone(t, started.BatchID)
	if len(rest) == 0 || rest[len(rest)-1].Type != string(transfer.EventBatchDone) {
		t.Fatalf("expected batch-done to end the stream, got %+v", rest)
	}

	var final api.TransferResponse
	f.do(t, http.MethodGet, "/api/transfers/"+started.BatchID, nil, &final)
	if final.Transfer.Status != "cancelled" || final.Transfer.Progress.Completed != 1 || final.Transfer.FinishedAt == "" {
		t.Fatalf("unexpected final job %+v", final.Transfer)
	}
}
