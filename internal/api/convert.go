package api

import (
	"encoding/json"
	"time"

	"ferry/internal/events"
	"ferry/internal/records"
	"ferry/internal/transfer"
)

// FromJobState converts a registry snapshot. now measures running batches.
func FromJobState(job transfer.JobState, now time.Time) TransferJob {
	out := TransferJob{
		ID:     job.ID,
		Status: string(job.Status),
		Progress: TransferProgress{
			Total:     job.Progress.Total,
			Completed: job.Progress.Completed,
			Failed:    job.Progress.Failed,
			Current:   job.Progress.Current,
			Percent:   percent(job.Progress),
		},
		Errors:          make([]ItemError, 0, len(job.Errors)),
		CancelRequested: job.CancelRequested,
		Message:         job.Message,
		CreatedAt:       FormatTime(job.CreatedAt),
		StartedAt:       FormatTime(job.StartedAt),
		FinishedAt:      FormatTime(job.FinishedAt),
		DurationMillis:  job.Duration(now).Milliseconds(),
	}
	for _, e := range job.Errors {
		out.Errors = append(out.Errors, ItemError{
			ItemID:    e.ItemID,
			RecordIDs: append([]int64(nil), e.RecordIDs...),
			Message:   e.Message,
			Timestamp: FormatTime(e.Timestamp),
		})
	}
	return out
}

// FromJobStates converts a list of snapshots preserving order.
func FromJobStates(jobs []transfer.JobState, now time.Time) []TransferJob {
	out := make([]TransferJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJobState(job, now))
	}
	return out
}

func percent(p transfer.Progress) float64 {
	if p.Total <= 0 {
		return 0
	}
	done := float64(p.Completed+p.Failed) / float64(p.Total) * 100
	return float64(int(done*10)) / 10
}

// FromEvents converts buffered hub events. Payloads that cannot be encoded
// are sent without a payload.
func FromEvents(evts []events.Event) []TransferEvent {
	out := make([]TransferEvent, 0, len(evts))
	for _, evt := range evts {
		converted := TransferEvent{
			Sequence:  evt.Sequence,
			Timestamp: FormatTime(evt.Timestamp),
			BatchID:   evt.BatchID,
			Type:      string(evt.Type),
		}
		if evt.Payload != nil {
			if raw, err := json.Marshal(evt.Payload); err == nil {
				converted.Payload = raw
			}
		}
		out = append(out, converted)
	}
	return out
}

// FromRecord converts a stored record.
func FromRecord(rec transfer.Record) Record {
	out := Record{
		ID:            rec.ID,
		TenantID:      rec.TenantID,
		StudentNumber: rec.StudentNumber,
		StudentName:   rec.StudentName,
		ClassName:     rec.ClassName,
		GroupKey:      rec.GroupKey,
		Topic:         rec.Topic,
		Transferred:   rec.Transferred,
		TransferredAt: FormatTime(rec.TransferredAt),
		RemoteError:   rec.RemoteError,
		RetryCount:    rec.RetryCount,
	}
	if !rec.SessionDate.IsZero() {
		out.SessionDate = rec.SessionDate.Format(DateFormat)
	}
	return out
}

// FromRecords converts records preserving order.
func FromRecords(recs []transfer.Record) []Record {
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromRecord(rec))
	}
	return out
}

// FromRecordStats converts store counters.
func FromRecordStats(stats records.Stats) RecordStats {
	return RecordStats{
		Total:       stats.Total,
		Transferred: stats.Transferred,
		Pending:     stats.Pending,
		WithErrors:  stats.WithErrors,
	}
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime parses a timestamp produced by FormatTime. Empty input yields the
// zero time.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(dateTimeFormat, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
