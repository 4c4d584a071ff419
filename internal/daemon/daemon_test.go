package daemon_test

import (
	"context"
	"testing"
	"time"

	"ferry/internal/daemon"
	"ferry/internal/events"
	"ferry/internal/testsupport"
)

func newDaemon(t *testing.T) (*daemon.Daemon, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	hub := events.NewHub(0)
	svc := testsupport.NewTransferService(t, cfg, store, hub)
	d, err := daemon.New(cfg, store, svc, hub, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d, cfg.LockPath()
}

func TestDaemonStartStop(t *testing.T) {
	d, lockPath := newDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockFilePath != lockPath {
		t.Fatalf("lock path = %q, want %q", status.LockFilePath, lockPath)
	}
	if status.RemoteMode != "dry-run" {
		t.Fatalf("remote mode = %q", status.RemoteMode)
	}
	if d.APIAddr() == "" {
		t.Fatal("expected api listener address")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	time.Sleep(50 * time.Millisecond)
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	hub := events.NewHub(0)

	first, err := daemon.New(cfg, store, testsupport.NewTransferService(t, cfg, store, hub), hub, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { first.Close() })
	second, err := daemon.New(cfg, store, testsupport.NewTransferService(t, cfg, store, hub), hub, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { second.Close() })

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected second daemon to be refused while the lock is held")
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second start after release: %v", err)
	}
	if !second.Running() {
		t.Fatal("expected second daemon to run")
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemon.New(cfg, nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}
