package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// DateFormat is the day layout accepted for date range filters.
const DateFormat = "2006-01-02"

// TransferJob describes one batch in a transport-friendly format.
type TransferJob struct {
	ID              string           `json:"id"`
	Status          string           `json:"status"`
	Progress        TransferProgress `json:"progress"`
	Errors          []ItemError      `json:"errors"`
	CancelRequested bool             `json:"cancelRequested"`
	Message         string           `json:"message,omitempty"`
	CreatedAt       string           `json:"createdAt,omitempty"`
	StartedAt       string           `json:"startedAt,omitempty"`
	FinishedAt      string           `json:"finishedAt,omitempty"`
	DurationMillis  int64            `json:"durationMs"`
}

// TransferProgress captures work item counters.
type TransferProgress struct {
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Current   int     `json:"current"`
	Percent   float64 `json:"percent"`
}

// ItemError is one entry of a batch's error list.
type ItemError struct {
	ItemID    string  `json:"itemId"`
	RecordIDs []int64 `json:"recordIds"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// StartTransferRequest is the body of POST /api/transfers.
type StartTransferRequest struct {
	BatchID            string  `json:"batchId,omitempty"`
	TenantID           string  `json:"tenantId"`
	RecordIDs          []int64 `json:"recordIds,omitempty"`
	IncludeTransferred bool    `json:"includeTransferred,omitempty"`
	From               string  `json:"from,omitempty"`
	To                 string  `json:"to,omitempty"`
}

// StartTransferResponse acknowledges an accepted batch.
type StartTransferResponse struct {
	BatchID  string      `json:"batchId"`
	Transfer TransferJob `json:"transfer"`
}

// TransferResponse wraps a single job snapshot.
type TransferResponse struct {
	Transfer TransferJob `json:"transfer"`
}

// TransferListResponse wraps job snapshots, newest first.
type TransferListResponse struct {
	Transfers []TransferJob `json:"transfers"`
}

// TransferEvent is one buffered progress event.
type TransferEvent struct {
	Sequence  uint64          `json:"seq"`
	Timestamp string          `json:"ts"`
	BatchID   string          `json:"batchId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventStreamResponse is returned by GET /api/transfers/{id}/events. Next is
// the cursor for the following request; Done is set once the batch-done event
// has been delivered.
type EventStreamResponse struct {
	Events []TransferEvent `json:"events"`
	Next   uint64          `json:"next"`
	Done   bool            `json:"done"`
}

// Record is a stored record as shown to operators.
type Record struct {
	ID            int64  `json:"id"`
	TenantID      string `json:"tenantId"`
	StudentNumber string `json:"studentNumber"`
	StudentName   string `json:"studentName"`
	ClassName     string `json:"className,omitempty"`
	GroupKey      string `json:"groupKey,omitempty"`
	SessionDate   string `json:"sessionDate"`
	Topic         string `json:"topic"`
	Transferred   bool   `json:"transferred"`
	TransferredAt string `json:"transferredAt,omitempty"`
	RemoteError   string `json:"remoteError,omitempty"`
	RetryCount    int    `json:"retryCount"`
}

// RecordListResponse wraps records.
type RecordListResponse struct {
	Records []Record `json:"records"`
}

// RecordStats summarizes record transfer state.
type RecordStats struct {
	Total       int `json:"total"`
	Transferred int `json:"transferred"`
	Pending     int `json:"pending"`
	WithErrors  int `json:"withErrors"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running         bool          `json:"running"`
	PID             int           `json:"pid"`
	DatabasePath    string        `json:"databasePath"`
	LockFilePath    string        `json:"lockFilePath"`
	RemoteMode      string        `json:"remoteMode"`
	ActiveTransfers int           `json:"activeTransfers"`
	MaxConcurrent   int           `json:"maxConcurrent"`
	Records         RecordStats   `json:"records"`
	Checks          []CheckResult `json:"checks,omitempty"`
}

// CheckResult mirrors a preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
