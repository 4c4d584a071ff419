package daemonrun_test

import (
	"context"
	"os"
	"testing"
	"time"

	"ferry/internal/api"
	"ferry/internal/apiclient"
	"ferry/internal/daemonrun"
	"ferry/internal/records"
	"ferry/internal/testsupport"
)

func TestRunServesAPIAndShutsDown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Logging.Level = "error"

	seed, err := records.Open(cfg)
	if err != nil {
		t.Fatalf("records.Open: %v", err)
	}
	testsupport.SeedRecord(t, seed, "school-1", "101", "Ada Yilmaz")
	_ = seed.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(ctx, cfg, daemonrun.Options{Ready: func(addr string) { ready <- addr }})
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not become ready")
	}

	if _, err := os.Stat(cfg.PIDPath()); err != nil {
		t.Fatalf("expected pid file: %v", err)
	}

	client, err := apiclient.New(addr, "")
	if err != nil {
		t.Fatalf("apiclient.New: %v", err)
	}
	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running || status.Records.Pending != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	if len(status.Checks) != 2 {
		t.Fatalf("expected directory checks, got %+v", status.Checks)
	}

	started, err := client.StartTransfer(ctx, api.StartTransferRequest{TenantID: "school-1"})
	if err != nil {
		t.Fatalf("start transfer: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := client.Transfer(ctx, started.BatchID)
		if err != nil {
			t.Fatalf("transfer: %v", err)
		}
		if job.Status == "completed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("batch stuck in %s", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(40 * time.Second):
		t.Fatal("daemon did not shut down")
	}
	if _, err := os.Stat(cfg.PIDPath()); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, got %v", err)
	}
}
