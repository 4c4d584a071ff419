package transfer

import "time"

// Status is the lifecycle state of a batch.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

// Progress counts work items. Current is the 1-based index of the item in
// flight, or of the last item started once the batch stops.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Current   int `json:"current"`
}

// ItemError records one failure in the batch error list.
type ItemError struct {
	ItemID    string    `json:"item_id"`
	RecordIDs []int64   `json:"record_ids"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// JobState describes one batch. Values returned by the Registry are copies.
type JobState struct {
	ID              string      `json:"id"`
	Status          Status      `json:"status"`
	Progress        Progress    `json:"progress"`
	Errors          []ItemError `json:"errors"`
	CancelRequested bool        `json:"cancel_requested"`
	Message         string      `json:"message,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       time.Time   `json:"started_at,omitzero"`
	FinishedAt      time.Time   `json:"finished_at,omitzero"`
}

// Finished reports whether the orchestrator has finalized the batch. A job
// cancelled eagerly is terminal but not finished until its in-flight item
// completes.
func (j JobState) Finished() bool {
	return !j.FinishedAt.IsZero()
}

// Duration returns the wall-clock run time, measured to now while running.
func (j JobState) Duration(now time.Time) time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	end := j.FinishedAt
	if end.IsZero() {
		end = now
	}
	return end.Sub(j.StartedAt)
}

func (j *JobState) clone() JobState {
	out := *j
	out.Errors = make([]ItemError, len(j.Errors))
	for i, e := range j.Errors {
		e.RecordIDs = append([]int64(nil), e.RecordIDs...)
		out.Errors[i] = e
	}
	return out
}
