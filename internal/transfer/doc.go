// Package transfer runs record transfer batches against a remote system.
//
// A batch is selected from a RecordSource, partitioned into ordered work items
// (individual records first, then groups), and executed one item at a time
// through an automation Driver owned exclusively by that batch. Progress lives
// in a Registry of JobState values that pollers read as copies and cancel by
// id; cancellation is observed between items only. Every transition is
// reported to an EventSink that must never slow the batch down.
//
// The package owns no I/O of its own: records, persistence, drivers, and
// sinks are interfaces satisfied by internal/records, internal/automation,
// and internal/events.
package transfer
