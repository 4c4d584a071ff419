package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ferry/internal/api"
)

// ErrAPIUnavailable reports that no daemon API is configured or reachable.
var ErrAPIUnavailable = errors.New("daemon API unavailable")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned status %d", e.Code)
	}
	return fmt.Sprintf("daemon returned status %d: %s", e.Code, e.Message)
}

// Client is a thin wrapper over the daemon endpoints.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// EventQuery selects a page of batch events.
type EventQuery struct {
	Since  uint64
	Limit  int
	Follow bool
	Wait   time.Duration
}

// RecordQuery selects stored records.
type RecordQuery struct {
	TenantID string
	Pending  bool
	Limit    int
}

// New builds a client for bind, which may omit the scheme. An empty bind
// returns a nil client and no error; methods on a nil client report
// ErrAPIUnavailable.
func New(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		// No timeout - follow mode blocks waiting for events until caller cancels.
		http: &http.Client{},
	}, nil
}

// StartTransfer submits a batch.
func (c *Client) StartTransfer(ctx context.Context, req api.StartTransferRequest) (api.StartTransferResponse, error) {
	var out api.StartTransferResponse
	err := c.do(ctx, http.MethodPost, "/api/transfers", nil, req, &out)
	return out, err
}

// Transfer fetches one batch snapshot.
func (c *Client) Transfer(ctx context.Context, batchID string) (api.TransferJob, error) {
	var out api.TransferResponse
	err := c.do(ctx, http.MethodGet, "/api/transfers/"+url.PathEscape(batchID), nil, nil, &out)
	return out.Transfer, err
}

// Transfers lists batch snapshots, optionally restricted to one status.
func (c *Client) Transfers(ctx context.Context, status string) ([]api.TransferJob, error) {
	values := url.Values{}
	if s := strings.TrimSpace(status); s != "" {
		values.Set("status", s)
	}
	var out api.TransferListResponse
	err := c.do(ctx, http.MethodGet, "/api/transfers", values, nil, &out)
	return out.Transfers, err
}

// Cancel requests cancellation and returns the resulting snapshot.
func (c *Client) Cancel(ctx context.Context, batchID string) (api.TransferJob, error) {
	var out api.TransferResponse
	err := c.do(ctx, http.MethodPost, "/api/transfers/"+url.PathEscape(batchID)+"/cancel", nil, nil, &out)
	return out.Transfer, err
}

// Events fetches a page of batch events.
func (c *Client) Events(ctx context.Context, batchID string, q EventQuery) (api.EventStreamResponse, error) {
	values := url.Values{}
	if q.Since > 0 {
		values.Set("since", strconv.FormatUint(q.Since, 10))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Follow {
		values.Set("follow", "1")
		if q.Wait > 0 {
			values.Set("wait", strconv.Itoa(int(q.Wait/time.Second)))
		}
	}
	var out api.EventStreamResponse
	err := c.do(ctx, http.MethodGet, "/api/transfers/"+url.PathEscape(batchID)+"/events", values, nil, &out)
	return out, err
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

// Records lists stored records.
func (c *Client) Records(ctx context.Context, q RecordQuery) ([]api.Record, error) {
	values := url.Values{}
	if t := strings.TrimSpace(q.TenantID); t != "" {
		values.Set("tenant", t)
	}
	if q.Pending {
		values.Set("pending", "1")
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	var out api.RecordListResponse
	err := c.do(ctx, http.MethodGet, "/api/records", values, nil, &out)
	return out.Records, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil {
		return ErrAPIUnavailable
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var payload api.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&payload)
		return &StatusError{Code: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsAPIUnavailable reports whether err means the daemon could not be reached.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAPIUnavailable) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// HasStatus reports whether err is a StatusError with the given code.
func HasStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == code
}
