package automation_test

import (
	"context"
	"errors"
	"testing"

	"ferry/internal/automation"
	"ferry/internal/services"
	"ferry/internal/testsupport"
	"ferry/internal/transfer"
)

func TestFactoryBuildsDriverPerMode(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	driver, err := automation.NewFactory(cfg, nil).NewDriver("batch-1")
	if err != nil {
		t.Fatalf("NewDriver dry-run: %v", err)
	}
	if _, ok := driver.(*automation.DryRunDriver); !ok {
		t.Fatalf("expected dry-run driver, got %T", driver)
	}

	httpCfg := testsupport.NewConfig(t, testsupport.WithRemoteHTTP("https://remote.example", "u", "p"))
	driver, err = automation.NewFactory(httpCfg, nil).NewDriver("batch-2")
	if err != nil {
		t.Fatalf("NewDriver http: %v", err)
	}
	if _, ok := driver.(*automation.FormDriver); !ok {
		t.Fatalf("expected form driver, got %T", driver)
	}

	cfg.Remote.Mode = "carrier-pigeon"
	if _, err := automation.NewFactory(cfg, nil).NewDriver("batch-3"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestDryRunDriverRejectsConfiguredNumbers(t *testing.T) {
	driver := automation.NewDryRunDriver([]string{" 999 "}, nil)
	ctx := context.Background()

	result, err := driver.SubmitIndividual(ctx, transfer.RemoteForm{"student_number": "101"})
	if err != nil || !result.Success {
		t.Fatalf("expected accepted submission, got %+v err=%v", result, err)
	}
	result, err = driver.SubmitIndividual(ctx, transfer.RemoteForm{"student_number": "999"})
	if err != nil || result.Success {
		t.Fatalf("expected rejected submission, got %+v err=%v", result, err)
	}
	admission, err := driver.AddGroupMember(ctx, transfer.MemberRef{StudentNumber: "999"})
	if err != nil || admission.Accepted {
		t.Fatalf("expected rejected member, got %+v err=%v", admission, err)
	}
	if driver.Submissions() != 1 {
		t.Fatalf("expected one accepted submission, got %d", driver.Submissions())
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := driver.SubmitGroup(cancelled, transfer.RemoteForm{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
