package transfer_test

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"ferry/internal/transfer"
)

func individual(id int64) transfer.Record {
	return transfer.Record{
		ID:            id,
		TenantID:      "tenant-1",
		StudentNumber: fmt.Sprintf("S%03d", id),
		StudentName:   "Student " + strconv.FormatInt(id, 10),
		SessionDate:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Topic:         "study plan",
	}
}

func member(id int64, group string) transfer.Record {
	r := individual(id)
	r.GroupKey = group
	return r
}

var testMapper = transfer.MapperFunc(func(r transfer.Record) (transfer.RemoteForm, error) {
	return transfer.RemoteForm{
		"record_id":      strconv.FormatInt(r.ID, 10),
		"student_number": r.StudentNumber,
	}, nil
})

type fakeSource struct {
	records []transfer.Record
	err     error

	mu      sync.Mutex
	filters []transfer.Filters
}

func (s *fakeSource) SelectRecords(_ context.Context, filters transfer.Filters) ([]transfer.Record, error) {
	s.mu.Lock()
	s.filters = append(s.filters, filters)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]transfer.Record(nil), s.records...), nil
}

func refKey(ref transfer.ItemRef) string {
	return string(ref.Kind) + ":" + ref.ID
}

type memoryStore struct {
	mu        sync.Mutex
	marks     map[string]time.Time
	members   map[string][]int64
	errors    map[string]string
	retries   map[string]int
	markCalls int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		marks:   make(map[string]time.Time),
		members: make(map[string][]int64),
		errors:  make(map[string]string),
		retries: make(map[string]int),
	}
}

func (s *memoryStore) MarkTransferred(_ context.Context, ref transfer.ItemRef, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls++
	key := refKey(ref)
	if _, done := s.marks[key]; done {
		return nil
	}
	s.marks[key] = at
	s.members[key] = append([]int64(nil), ref.Members...)
	delete(s.errors, key)
	s.retries[key] = 0
	return nil
}

func (s *memoryStore) RecordError(_ context.Context, ref transfer.ItemRef, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := refKey(ref)
	s.errors[key] = message
	s.retries[key]++
	return nil
}

func (s *memoryStore) snapshot() (marks map[string]time.Time, errs map[string]string, retries map[string]int, calls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	marks = make(map[string]time.Time, len(s.marks))
	for k, v := range s.marks {
		marks[k] = v
	}
	errs = make(map[string]string, len(s.errors))
	for k, v := range s.errors {
		errs[k] = v
	}
	retries = make(map[string]int, len(s.retries))
	for k, v := range s.retries {
		retries[k] = v
	}
	return marks, errs, retries, s.markCalls
}

// fakeDriver scripts remote behaviour by record id.
type fakeDriver struct {
	initErr  error
	readyErr error
	// readyGate, when set, blocks WaitReady until closed.
	readyGate chan struct{}

	individual func(ctx context.Context, form transfer.RemoteForm) (transfer.SubmitResult, error)
	group      func(ctx context.Context, form transfer.RemoteForm) (transfer.SubmitResult, error)
	admit      func(member transfer.MemberRef) (transfer.Admission, error)
	enterErr   error

	mu          sync.Mutex
	calls       []string
	groupForms  []transfer.RemoteForm
	enterCount  int
	shutdowns   int
	initialized bool
}

func (d *fakeDriver) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *fakeDriver) Initialize(context.Context) error {
	d.record("initialize")
	d.mu.Lock()
	d.initialized = true
	d.mu.Unlock()
	return d.initErr
}

func (d *fakeDriver) WaitReady(ctx context.Context) error {
	d.record("wait-ready")
	if d.readyGate != nil {
		select {
		case <-d.readyGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return d.readyErr
}

func (d *fakeDriver) SubmitIndividual(ctx context.Context, form transfer.RemoteForm) (transfer.SubmitResult, error) {
	d.record("submit:" + form["record_id"])
	if d.individual != nil {
		return d.individual(ctx, form)
	}
	return transfer.SubmitResult{Success: true}, nil
}

func (d *fakeDriver) EnterGroupMode(context.Context) error {
	d.record("enter-group")
	d.mu.Lock()
	d.enterCount++
	d.mu.Unlock()
	return d.enterErr
}

func (d *fakeDriver) AddGroupMember(_ context.Context, m transfer.MemberRef) (transfer.Admission, error) {
	d.record("add:" + strconv.FormatInt(m.RecordID, 10))
	if d.admit != nil {
		return d.admit(m)
	}
	return transfer.Admission{Accepted: true}, nil
}

func (d *fakeDriver) SubmitGroup(ctx context.Context, form transfer.RemoteForm) (transfer.SubmitResult, error) {
	d.record("submit-group:" + form["record_id"])
	d.mu.Lock()
	d.groupForms = append(d.groupForms, form)
	d.mu.Unlock()
	if d.group != nil {
		return d.group(ctx, form)
	}
	return transfer.SubmitResult{Success: true}, nil
}

func (d *fakeDriver) Shutdown(context.Context) error {
	d.mu.Lock()
	d.shutdowns++
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) callLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDriver) shutdownCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdowns
}

type singleDriverFactory struct {
	driver transfer.Driver
	err    error
}

func (f singleDriverFactory) NewDriver(string) (transfer.Driver, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.driver, nil
}

type publishedEvent struct {
	batchID   string
	eventType transfer.EventType
	payload   any
}

type recordingSink struct {
	mu     sync.Mutex
	events []publishedEvent
	hook   func(publishedEvent)
}

func (s *recordingSink) Publish(batchID string, eventType transfer.EventType, payload any) {
	ev := publishedEvent{batchID: batchID, eventType: eventType, payload: payload}
	s.mu.Lock()
	s.events = append(s.events, ev)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (s *recordingSink) ofType(eventType transfer.EventType) []publishedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []publishedEvent
	for _, ev := range s.events {
		if ev.eventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	svc    *transfer.Service
	source *fakeSource
	store  *memoryStore
	driver *fakeDriver
	sink   *recordingSink
}

func newHarness(t *testing.T, records []transfer.Record, driver *fakeDriver, opts transfer.Options) *harness {
	t.Helper()
	if driver == nil {
		driver = &fakeDriver{}
	}
	h := &harness{
		source: &fakeSource{records: records},
		store:  newMemoryStore(),
		driver: driver,
		sink:   &recordingSink{},
	}
	svc, err := transfer.NewService(transfer.Dependencies{
		Source:  h.source,
		Mapper:  testMapper,
		Store:   h.store,
		Drivers: singleDriverFactory{driver: driver},
		Sink:    h.sink,
	}, opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	h.svc = svc
	return h
}

// runBatch starts a batch and waits for it to finish.
func (h *harness) runBatch(t *testing.T, batchID string) transfer.JobState {
	t.Helper()
	id, err := h.svc.Start(context.Background(), transfer.StartRequest{BatchID: batchID})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.svc.Wait()
	job, err := h.svc.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	return job
}
