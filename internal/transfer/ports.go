package transfer

import (
	"context"
	"time"
)

// Record is one locally stored entry eligible for transfer. It carries the
// owner and grouping context the mapper needs without further lookups.
type Record struct {
	ID              int64     `json:"id"`
	TenantID        string    `json:"tenant_id"`
	StudentNumber   string    `json:"student_number"`
	StudentName     string    `json:"student_name"`
	ClassName       string    `json:"class_name,omitempty"`
	GroupKey        string    `json:"group_key,omitempty"`
	SessionDate     time.Time `json:"session_date"`
	Topic           string    `json:"topic"`
	ActivityType    string    `json:"activity_type,omitempty"`
	Location        string    `json:"location,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Transferred     bool      `json:"transferred"`
	TransferredAt   time.Time `json:"transferred_at,omitzero"`
	RemoteError     string    `json:"remote_error,omitempty"`
	RetryCount      int       `json:"retry_count"`
}

// Grouped reports whether the record belongs to a group submission.
func (r Record) Grouped() bool {
	return r.GroupKey != ""
}

// Filters narrow the records a batch selects.
type Filters struct {
	TenantID           string    `json:"tenant_id,omitempty"`
	RecordIDs          []int64   `json:"record_ids,omitempty"`
	OnlyNotTransferred bool      `json:"only_not_transferred,omitempty"`
	From               time.Time `json:"from,omitzero"`
	To                 time.Time `json:"to,omitzero"`
}

// RecordSource returns the ordered records matching filters.
type RecordSource interface {
	SelectRecords(ctx context.Context, filters Filters) ([]Record, error)
}

// RemoteForm is the remote system's input for one submission, keyed by field.
type RemoteForm map[string]string

// Mapper converts a record into the remote schema. Implementations must be
// free of side effects.
type Mapper interface {
	MapToRemote(record Record) (RemoteForm, error)
}

// MapperFunc adapts a function to Mapper.
type MapperFunc func(Record) (RemoteForm, error)

// MapToRemote calls f.
func (f MapperFunc) MapToRemote(record Record) (RemoteForm, error) {
	return f(record)
}

// MemberRef identifies one student being added to a group submission.
type MemberRef struct {
	RecordID      int64  `json:"record_id"`
	StudentNumber string `json:"student_number"`
	StudentName   string `json:"student_name"`
}

// SubmitResult is the remote verdict on a submission. A rejected submission is
// an outcome, not an error.
type SubmitResult struct {
	Success bool
	Message string
}

// Admission is the remote verdict on adding one group member.
type Admission struct {
	Accepted bool
	Reason   string
}

// Driver performs the remote interaction for one batch. A driver instance is
// never shared between batches or used concurrently.
//
// Initialize and WaitReady failures are batch-fatal. Submission calls return a
// non-nil error only for faults; errors wrapping ErrDriverUnavailable abort the
// batch while any other error fails just the current item.
type Driver interface {
	Initialize(ctx context.Context) error
	WaitReady(ctx context.Context) error
	SubmitIndividual(ctx context.Context, form RemoteForm) (SubmitResult, error)
	EnterGroupMode(ctx context.Context) error
	AddGroupMember(ctx context.Context, member MemberRef) (Admission, error)
	SubmitGroup(ctx context.Context, form RemoteForm) (SubmitResult, error)
	Shutdown(ctx context.Context) error
}

// DriverFactory creates a fresh driver for each batch.
type DriverFactory interface {
	NewDriver(batchID string) (Driver, error)
}

// ItemKind distinguishes the persisted identity of a work item.
type ItemKind string

const (
	KindIndividual ItemKind = "individual"
	KindGroup      ItemKind = "group"
)

// ItemRef is the tenant-scoped identity persistence writes against. ID is the
// record id for individual items and the group key for groups. Members, when
// set on a group ref, limits the write to those record ids.
type ItemRef struct {
	TenantID string   `json:"tenant_id"`
	Kind     ItemKind `json:"kind"`
	ID       string   `json:"id"`
	Members  []int64  `json:"members,omitempty"`
}

// Persistence stores transfer outcomes. Both operations are scoped to
// ItemRef.TenantID and must not touch rows owned by another tenant.
// MarkTransferred is idempotent.
type Persistence interface {
	MarkTransferred(ctx context.Context, ref ItemRef, at time.Time) error
	RecordError(ctx context.Context, ref ItemRef, message string) error
}

// EventType names a progress event.
type EventType string

const (
	EventProgress   EventType = "progress"
	EventStatus     EventType = "status"
	EventItemStart  EventType = "item-start"
	EventItemDone   EventType = "item-done"
	EventItemFailed EventType = "item-failed"
	EventBatchDone  EventType = "batch-done"
	EventBatchError EventType = "batch-error"
)

// EventSink receives progress events. Publish must not block and has no way to
// fail the batch.
type EventSink interface {
	Publish(batchID string, eventType EventType, payload any)
}

// NopSink discards events.
type NopSink struct{}

// Publish implements EventSink.
func (NopSink) Publish(string, EventType, any) {}
