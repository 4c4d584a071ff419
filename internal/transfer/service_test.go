package transfer_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ferry/internal/transfer"
)

func TestAllIndividualRecordsSucceed(t *testing.T) {
	records := []transfer.Record{individual(1), individual(2), individual(3), individual(4), individual(5)}
	h := newHarness(t, records, nil, transfer.Options{})

	job := h.runBatch(t, "")

	if job.Status != transfer.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	want := transfer.Progress{Total: 5, Completed: 5, Failed: 0, Current: 5}
	if job.Progress != want {
		t.Fatalf("progress = %+v, want %+v", job.Progress, want)
	}
	if len(job.Errors) != 0 {
		t.Fatalf("expected no errors, got %+v", job.Errors)
	}
	if job.StartedAt.IsZero() || job.FinishedAt.IsZero() {
		t.Fatalf("expected start and finish timestamps, got %+v", job)
	}
	marks, _, _, _ := h.store.snapshot()
	if len(marks) != 5 {
		t.Fatalf("expected 5 transferred marks, got %d", len(marks))
	}
	if h.driver.shutdownCount() != 1 {
		t.Fatalf("expected driver shutdown once, got %d", h.driver.shutdownCount())
	}
	done := h.sink.ofType(transfer.EventBatchDone)
	if len(done) != 1 {
		t.Fatalf("expected one batch-done event, got %d", len(done))
	}
	summary := done[0].payload.(transfer.BatchDoneEvent)
	if summary.Total != 5 || summary.Completed != 5 || summary.Failed != 0 {
		t.Fatalf("unexpected batch-done summary: %+v", summary)
	}
}

func TestFailedItemDoesNotStopBatch(t *testing.T) {
	records := []transfer.Record{individual(1), individual(2), member(3, "g1"), member(4, "g1"), member(5, "g1")}
	driver := &fakeDriver{
		individual: func(_ context.Context, form transfer.RemoteForm) (transfer.SubmitResult, error) {
			if form["record_id"] == "2" {
				return transfer.SubmitResult{Success: false, Message: "date outside term"}, nil
			}
			return transfer.SubmitResult{Success: true}, nil
		},
	}
	h := newHarness(t, records, driver, transfer.Options{})

	job := h.runBatch(t, "")

	if job.Status != transfer.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.Progress.Total != 3 || job.Progress.Completed != 2 || job.Progress.Failed != 1 {
		t.Fatalf("unexpected progress %+v", job.Progress)
	}
	if job.Progress.Completed+job.Progress.Failed != job.Progress.Total {
		t.Fatalf("completed + failed should equal total: %+v", job.Progress)
	}
	if len(job.Errors) != 1 {
		t.Fatalf("expected one error entry, got %+v", job.Errors)
	}
	entry := job.Errors[0]
	if entry.ItemID != "record:2" || len(entry.RecordIDs) != 1 || entry.RecordIDs[0] != 2 {
		t.Fatalf("error entry should reference record 2: %+v", entry)
	}
	if entry.Message != "date outside term" {
		t.Fatalf("unexpected message %q", entry.Message)
	}
	_, errs, retries, _ := h.store.snapshot()
	if errs["individual:2"] != "date outside term" || retries["individual:2"] != 1 {
		t.Fatalf("expected persisted failure for record 2, errs=%v retries=%v", errs, retries)
	}
}

func TestCancelStopsAtNextItemBoundary(t *testing.T) {
	records := []transfer.Record{individual(1), individual(2), individual(3), individual(4)}
	h := newHarness(t, records, nil, transfer.Options{})
	h.sink.hook = func(ev publishedEvent) {
		if ev.eventType != transfer.EventItemDone {
			return
		}
		if ev.payload.(transfer.ItemEvent).Index == 1 {
			if _, err := h.svc.Cancel(ev.batchID); err != nil {
				t.Errorf("Cancel: %v", err)
			}
		}
	}

	job := h.runBatch(t, "batch-cancel")

	if job.Status != transfer.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", job.Status)
	}
	if job.Progress.Current != 1 || job.Progress.Completed != 1 || job.Progress.Failed != 0 {
		t.Fatalf("unexpected progress %+v", job.Progress)
	}
	if len(job.Errors) != 0 {
		t.Fatalf("expected no errors, got %+v", job.Errors)
	}
	for _, call := range h.driver.callLog() {
		if call == "submit:2" || call == "submit:3" || call == "submit:4" {
			t.Fatalf("item after cancellation was attempted: %v", h.driver.callLog())
		}
	}
	if h.driver.shutdownCount() != 1 {
		t.Fatalf("expected driver shutdown after cancel")
	}
}

func TestCancelDuringItemLetsItFinish(t *testing.T) {
	records := []transfer.Record{individual(1), individual(2), individual(3)}
	var h *harness
	var observed transfer.Status
	var finishedEarly bool
	var activeDuringItem int
	driver := &fakeDriver{
		individual: func(_ context.Context, form transfer.RemoteForm) (transfer.SubmitResult, error) {
			if form["record_id"] == "1" {
				if _, err := h.svc.Cancel("batch-inflight"); err != nil {
					return transfer.SubmitResult{}, err
				}
				job, _ := h.svc.Status("batch-inflight")
				observed = job.Status
				finishedEarly = job.Finished()
				activeDuringItem = h.svc.Registry().Active()
			}
			return transfer.SubmitResult{Success: true}, nil
		},
	}
	h = newHarness(t, records, driver, transfer.Options{})

	job := h.runBatch(t, "batch-inflight")

	if observed != transfer.StatusCancelled {
		t.Fatalf("cancel should be visible to pollers immediately, saw %s", observed)
	}
	if finishedEarly {
		t.Fatal("batch must not report finished while its item is in flight")
	}
	if activeDuringItem != 1 {
		t.Fatalf("cancelled batch with an item in flight should stay active, got %d", activeDuringItem)
	}
	if !job.Finished() || h.svc.Registry().Active() != 0 {
		t.Fatalf("batch should be finished and inactive after the run: %+v", job)
	}
	if job.Status != transfer.StatusCancelled || job.Progress.Completed != 1 || job.Progress.Current != 1 {
		t.Fatalf("in-flight item should complete and be counted: %+v", job)
	}
	if !job.CancelRequested {
		t.Fatal("expected cancel flag set")
	}
	marks, _, _, _ := h.store.snapshot()
	if _, ok := marks["individual:1"]; !ok {
		t.Fatalf("in-flight item should be persisted as transferred: %v", marks)
	}
}

func TestWaitReadyFailureEndsInError(t *testing.T) {
	records := []transfer.Record{individual(1), individual(2)}
	driver := &fakeDriver{readyErr: errors.New("login page never loaded")}
	h := newHarness(t, records, driver, transfer.Options{})

	job := h.runBatch(t, "")

	if job.Status != transfer.StatusError {
		t.Fatalf("status = %s, want error", job.Status)
	}
	if job.Progress.Total != 2 || job.Progress.Completed != 0 || job.Progress.Failed != 0 || job.Progress.Current != 0 {
		t.Fatalf("unexpected progress %+v", job.Progress)
	}
	if !job.StartedAt.IsZero() {
		t.Fatal("job should never have reached running")
	}
	if !strings.Contains(job.Message, "login page never loaded") {
		t.Fatalf("expected init failure message, got %q", job.Message)
	}
	if h.driver.shutdownCount() != 1 {
		t.Fatal("driver should be shut down on the error path")
	}
	if len(h.sink.ofType(transfer.EventBatchError)) != 1 {
		t.Fatal("expected a batch-error event")
	}
	if len(h.sink.ofType(transfer.EventItemStart)) != 0 {
		t.Fatal("no item should start")
	}
	for _, ev := range h.sink.ofType(transfer.EventStatus) {
		if ev.payload.(transfer.StatusEvent).Status == transfer.StatusRunning {
			t.Fatal("job must not pass through running")
		}
	}
}

func TestDriverCreationFailureEndsInError(t *testing.T) {
	svc, err := transfer.NewService(transfer.Dependencies{
		Source:  &fakeSource{records: []transfer.Record{individual(1)}},
		Mapper:  testMapper,
		Store:   newMemoryStore(),
		Drivers: singleDriverFactory{err: errors.New("browser missing")},
	}, transfer.Options{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	id, err := svc.Start(context.Background(), transfer.StartRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc.Wait()
	job, err := svc.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if job.Status != transfer.StatusError {
		t.Fatalf("status = %s, want error", job.Status)
	}
}

func TestNoRecordsIsSelectionError(t *testing.T) {
	h := newHarness(t, nil, nil, transfer.Options{})

	_, err := h.svc.Start(context.Background(), transfer.StartRequest{BatchID: "empty"})
	if !errors.Is(err, transfer.ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords, got %v", err)
	}
	if len(h.svc.List()) != 0 {
		t.Fatal("no job should exist after a selection error")
	}
	if _, err := h.svc.Status("empty"); !errors.Is(err, transfer.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestSelectionFailurePropagates(t *testing.T) {
	h := newHarness(t, nil, nil, transfer.Options{})
	h.source.err = errors.New("database locked")

	_, err := h.svc.Start(context.Background(), transfer.StartRequest{})
	if err == nil || !strings.Contains(err.Error(), "database locked") {
		t.Fatalf("expected selection error, got %v", err)
	}
	if len(h.svc.List()) != 0 {
		t.Fatal("no job should exist after a selection error")
	}
}

func TestFiltersReachRecordSource(t *testing.T) {
	h := newHarness(t, []transfer.Record{individual(1)}, nil, transfer.Options{})
	filters := transfer.Filters{TenantID: "tenant-1", RecordIDs: []int64{1}, OnlyNotTransferred: true}

	if _, err := h.svc.Start(context.Background(), transfer.StartRequest{Filters: filters}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.svc.Wait()

	h.source.mu.Lock()
	defer h.source.mu.Unlock()
	if len(h.source.filters) != 1 {
		t.Fatalf("expected one selection, got %d", len(h.source.filters))
	}
	got := h.source.filters[0]
	if got.TenantID != "tenant-1" || !got.OnlyNotTransferred || len(got.RecordIDs) != 1 {
		t.Fatalf("filters not forwarded: %+v", got)
	}
}

func TestDuplicateBatchIDRejected(t *testing.T) {
	h := newHarness(t, []transfer.Record{individual(1)}, nil, transfer.Options{})
	h.runBatch(t, "fixed")

	_, err := h.svc.Start(context.Background(), transfer.StartRequest{BatchID: "fixed"})
	if !errors.Is(err, transfer.ErrDuplicateBatch) {
		t.Fatalf("expected ErrDuplicateBatch, got %v", err)
	}
}

func TestPanicInItemBecomesItemFailure(t *testing.T) {
	records := []transfer.Record{individual(1), individual(2), individual(3)}
	driver := &fakeDriver{
		individual: func(_ context.Context, form transfer.RemoteForm) (transfer.SubmitResult, error) {
			if form["record_id"] == "1" {
				panic("nil form element")
			}
			return transfer.SubmitResult{Success: true}, nil
		},
	}
	h := newHarness(t, records, driver, transfer.Options{})

	job := h.runBatch(t, "")

	if job.Status != transfer.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.Progress.Completed != 2 || job.Progress.Failed != 1 {
		t.Fatalf("unexpected progress %+v", job.Progress)
	}
	if len(job.Errors) != 1 || !strings.Contains(job.Errors[0].Message, "unexpected fault") {
		t.Fatalf("expected converted panic in errors: %+v", job.Errors)
	}
	_, errs, _, _ := h.store.snapshot()
	if !strings.Contains(errs["individual:1"], "nil form element") {
		t.Fatalf("panic should be persisted as item error: %v", errs)
	}
}

func TestProgressEventsAreOrdered(t *testing.T) {
	records := []transfer.Record{
		member(1, "g1"), individual(2), member(3, "g2"), individual(4), member(5, "g1"),
	}
	h := newHarness(t, records, nil, transfer.Options{})

	h.runBatch(t, "")

	progress := h.sink.ofType(transfer.EventProgress)
	if len(progress) != 4 {
		t.Fatalf("expected 4 progress events, got %d", len(progress))
	}
	for i, ev := range progress {
		got := ev.payload.(transfer.ProgressEvent).Progress.Current
		if got != i+1 {
			t.Fatalf("progress event %d has current %d", i, got)
		}
	}
	starts := h.sink.ofType(transfer.EventItemStart)
	wantKeys := []string{"record:2", "record:4", "group:tenant-1/g1", "group:tenant-1/g2"}
	if len(starts) != len(wantKeys) {
		t.Fatalf("expected %d item-start events, got %d", len(wantKeys), len(starts))
	}
	for i, ev := range starts {
		item := ev.payload.(transfer.ItemEvent)
		if item.ItemID != wantKeys[i] {
			t.Fatalf("item-start %d = %s, want %s", i, item.ItemID, wantKeys[i])
		}
	}
	g1 := starts[2].payload.(transfer.ItemEvent)
	if len(g1.RecordIDs) != 2 || g1.RecordIDs[0] != 1 || g1.RecordIDs[1] != 5 {
		t.Fatalf("group members should keep source order: %v", g1.RecordIDs)
	}
}

func TestEventsForItemPrecedeNextItem(t *testing.T) {
	records := []transfer.Record{individual(1), individual(2)}
	h := newHarness(t, records, nil, transfer.Options{})

	h.runBatch(t, "")

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	var sequence []string
	for _, ev := range h.sink.events {
		switch ev.eventType {
		case transfer.EventItemStart, transfer.EventItemDone, transfer.EventItemFailed:
			sequence = append(sequence, fmt.Sprintf("%s#%d", ev.eventType, ev.payload.(transfer.ItemEvent).Index))
		case transfer.EventProgress:
			sequence = append(sequence, fmt.Sprintf("progress#%d", ev.payload.(transfer.ProgressEvent).Progress.Current))
		}
	}
	want := []string{"item-start#1", "item-done#1", "progress#1", "item-start#2", "item-done#2", "progress#2"}
	if strings.Join(sequence, ",") != strings.Join(want, ",") {
		t.Fatalf("event order = %v, want %v", sequence, want)
	}
}

func TestGroupPartialAdmission(t *testing.T) {
	records := []transfer.Record{member(1, "g1"), member(2, "g1"), member(3, "g1")}
	driver := &fakeDriver{
		admit: func(m transfer.MemberRef) (transfer.Admission, error) {
			if m.RecordID == 2 {
				return transfer.Admission{Accepted: false, Reason: "student not enrolled"}, nil
			}
			return transfer.Admission{Accepted: true}, nil
		},
	}
	h := newHarness(t, records, driver, transfer.Options{})

	job := h.runBatch(t, "")

	if job.Status != transfer.StatusCompleted || job.Progress.Completed != 1 || job.Progress.Failed != 0 {
		t.Fatalf("group should succeed independently of the rejected member: %+v", job)
	}
	if len(job.Errors) != 1 {
		t.Fatalf("expected the rejected member in errors: %+v", job.Errors)
	}
	if job.Errors[0].ItemID != "record:2" || !strings.Contains(job.Errors[0].Message, "student not enrolled") {
		t.Fatalf("unexpected member error %+v", job.Errors[0])
	}
	if len(driver.groupForms) != 1 || driver.groupForms[0]["record_id"] != "1" {
		t.Fatalf("group form should come from the first accepted member: %v", driver.groupForms)
	}
	marks, errs, _, _ := h.store.snapshot()
	if _, ok := marks["group:g1"]; !ok {
		t.Fatalf("group should be marked by group identity: %v", marks)
	}
	h.store.mu.Lock()
	members := h.store.members["group:g1"]
	h.store.mu.Unlock()
	if len(members) != 2 || members[0] != 1 || members[1] != 3 {
		t.Fatalf("group mark should cover accepted members only: %v", members)
	}
	if !strings.Contains(errs["individual:2"], "student not enrolled") {
		t.Fatalf("rejected member should be persisted: %v", errs)
	}
}

func TestGroupWithNoAdmittedMembersIsNotSubmitted(t *testing.T) {
	records := []transfer.Record{member(1, "g1"), member(2, "g1")}
	driver := &fakeDriver{
		admit: func(transfer.MemberRef) (transfer.Admission, error) {
			return transfer.Admission{Accepted: false, Reason: "closed"}, nil
		},
	}
	h := newHarness(t, records, driver, transfer.Options{})

	job := h.runBatch(t, "")

	if job.Progress.Failed != 1 || job.Progress.Completed != 0 {
		t.Fatalf("unexpected progress %+v", job.Progress)
	}
	if len(driver.groupForms) != 0 {
		t.Fatal("group must not be submitted without accepted members")
	}
	if len(job.Errors) != 3 {
		t.Fatalf("expected two member errors plus the group failure, got %+v", job.Errors)
	}
	if job.Errors[2].ItemID != "group:tenant-1/g1" {
		t.Fatalf("last error should be the group failure: %+v", job.Errors[2])
	}
}

func TestGroupModeEnteredOncePerBatch(t *testing.T) {
	records := []transfer.Record{member(1, "a"), member(2, "b"), member(3, "c")}
	driver := &fakeDriver{}
	h := newHarness(t, records, driver, transfer.Options{})

	job := h.runBatch(t, "")

	if job.Progress.Completed != 3 {
		t.Fatalf("unexpected progress %+v", job.Progress)
	}
	if driver.enterCount != 1 {
		t.Fatalf("group mode entered %d times, want 1", driver.enterCount)
	}
}

func TestDriverUnavailableAbortsBatch(t *testing.T) {
	records := []transfer.Record{individual(1), individual(2), individual(3)}
	driver := &fakeDriver{
		individual: func(_ context.Context, form transfer.RemoteForm) (transfer.SubmitResult, error) {
			if form["record_id"] == "2" {
				return transfer.SubmitResult{}, fmt.Errorf("session expired: %w", transfer.ErrDriverUnavailable)
			}
			return transfer.SubmitResult{Success: true}, nil
		},
	}
	h := newHarness(t, records, driver, transfer.Options{})

	job := h.runBatch(t, "")

	if job.Status != transfer.StatusError {
		t.Fatalf("status = %s, want error", job.Status)
	}
	if job.Progress.Completed != 1 || job.Progress.Failed != 1 || job.Progress.Current != 2 {
		t.Fatalf("unexpected progress %+v", job.Progress)
	}
	for _, call := range driver.callLog() {
		if call == "submit:3" {
			t.Fatal("item after a driver crash must not be attempted")
		}
	}
	if driver.shutdownCount() != 1 {
		t.Fatal("driver should be released on the error path")
	}
	marks, _, _, _ := h.store.snapshot()
	if _, ok := marks["individual:1"]; !ok {
		t.Fatal("already processed items keep their outcome")
	}
}

func TestItemTimeoutFailsOnlyThatItem(t *testing.T) {
	records := []transfer.Record{individual(1), individual(2)}
	driver := &fakeDriver{
		individual: func(ctx context.Context, form transfer.RemoteForm) (transfer.SubmitResult, error) {
			if form["record_id"] == "1" {
				<-ctx.Done()
				return transfer.SubmitResult{}, ctx.Err()
			}
			return transfer.SubmitResult{Success: true}, nil
		},
	}
	h := newHarness(t, records, driver, transfer.Options{ItemTimeout: 20 * time.Millisecond})

	job := h.runBatch(t, "")

	if job.Status != transfer.StatusCompleted || job.Progress.Failed != 1 || job.Progress.Completed != 1 {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Errors[0].Message != "item timed out" {
		t.Fatalf("unexpected timeout message %q", job.Errors[0].Message)
	}
}

func TestConcurrentBatchLimit(t *testing.T) {
	gate := make(chan struct{})
	driver := &fakeDriver{readyGate: gate}
	h := newHarness(t, []transfer.Record{individual(1)}, driver, transfer.Options{MaxConcurrent: 1})

	if _, err := h.svc.Start(context.Background(), transfer.StartRequest{BatchID: "first"}); err != nil {
		t.Fatalf("Start first: %v", err)
	}
	_, err := h.svc.Start(context.Background(), transfer.StartRequest{BatchID: "second"})
	if !errors.Is(err, transfer.ErrAtCapacity) {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}
	if _, err := h.svc.Status("second"); !errors.Is(err, transfer.ErrBatchNotFound) {
		t.Fatal("rejected batch must not be registered")
	}
	close(gate)
	h.svc.Wait()

	if _, err := h.svc.Start(context.Background(), transfer.StartRequest{BatchID: "third"}); err != nil {
		t.Fatalf("capacity should be released after the batch: %v", err)
	}
	h.svc.Wait()
}

func TestCancelDuringInitialization(t *testing.T) {
	gate := make(chan struct{})
	driver := &fakeDriver{readyGate: gate}
	h := newHarness(t, []transfer.Record{individual(1), individual(2)}, driver, transfer.Options{})

	id, err := h.svc.Start(context.Background(), transfer.StartRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := h.svc.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(gate)
	h.svc.Wait()

	job, _ := h.svc.Status(id)
	if job.Status != transfer.StatusCancelled || job.Progress.Current != 0 {
		t.Fatalf("expected cancelled with no items started: %+v", job)
	}
	if driver.shutdownCount() != 1 {
		t.Fatal("driver should be shut down")
	}
}

func TestSinkPanicDoesNotFailBatch(t *testing.T) {
	h := newHarness(t, []transfer.Record{individual(1), individual(2)}, nil, transfer.Options{})
	h.sink.hook = func(publishedEvent) { panic("sink down") }

	job := h.runBatch(t, "")

	if job.Status != transfer.StatusCompleted || job.Progress.Completed != 2 {
		t.Fatalf("sink failures must not affect the batch: %+v", job)
	}
}

func TestShutdownCancelsAtItemBoundary(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	entered := make(chan struct{})
	driver := &fakeDriver{
		individual: func(_ context.Context, form transfer.RemoteForm) (transfer.SubmitResult, error) {
			if form["record_id"] == "1" {
				once.Do(func() { close(entered) })
				<-release
			}
			return transfer.SubmitResult{Success: true}, nil
		},
	}
	h := newHarness(t, []transfer.Record{individual(1), individual(2)}, driver, transfer.Options{})

	id, err := h.svc.Start(context.Background(), transfer.StartRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-entered

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errCh <- h.svc.Shutdown(ctx)
	}()
	for {
		_, err := h.svc.Start(context.Background(), transfer.StartRequest{BatchID: id})
		if errors.Is(err, transfer.ErrShuttingDown) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	job, _ := h.svc.Status(id)
	if job.Status != transfer.StatusCancelled || job.Progress.Completed != 1 || job.Progress.Current != 1 {
		t.Fatalf("in-flight item should finish and the batch stop: %+v", job)
	}
	if _, err := h.svc.Start(context.Background(), transfer.StartRequest{}); !errors.Is(err, transfer.ErrShuttingDown) {
		t.Fatalf("Start after shutdown should fail with ErrShuttingDown, got %v", err)
	}
}
