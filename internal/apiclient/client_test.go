package apiclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"ferry/internal/api"
	"ferry/internal/apiclient"
)

func TestNewEmptyBind(t *testing.T) {
	client, err := apiclient.New("", "")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if client != nil {
		t.Fatal("expected nil client for empty bind")
	}
	if _, err := client.Status(context.Background()); !errors.Is(err, apiclient.ErrAPIUnavailable) {
		t.Fatalf("expected ErrAPIUnavailable, got %v", err)
	}
}

func TestStartTransferSendsBodyAndToken(t *testing.T) {
	var gotBody api.StartTransferRequest
	var gotAuth, gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(api.StartTransferResponse{BatchID: "b-1", Transfer: api.TransferJob{ID: "b-1", Status: "pending"}})
	}))
	defer srv.Close()

	client, err := apiclient.New(strings.TrimPrefix(srv.URL, "http://"), "tok")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := client.StartTransfer(context.Background(), api.StartTransferRequest{TenantID: "school-1", RecordIDs: []int64{4, 5}})
	if err != nil {
		t.Fatalf("StartTransfer: %v", err)
	}
	if resp.BatchID != "b-1" {
		t.Fatalf("batch id = %q", resp.BatchID)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/transfers" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotBody.TenantID != "school-1" || len(gotBody.RecordIDs) != 2 {
		t.Fatalf("unexpected body %+v", gotBody)
	}
}

func TestEventsBuildsQuery(t *testing.T) {
	var gotQuery url.Values
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(api.EventStreamResponse{
			Events: []api.TransferEvent{{Sequence: 8, Type: "batch-done", BatchID: "b-1"}},
			Next:   8,
			Done:   true,
		})
	}))
	defer srv.Close()

	client, _ := apiclient.New(srv.URL, "")
	page, err := client.Events(context.Background(), "b-1", apiclient.EventQuery{Since: 3, Limit: 50, Follow: true, Wait: 10 * time.Second})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if !page.Done || page.Next != 8 || len(page.Events) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	if gotPath != "/api/transfers/b-1/events" {
		t.Fatalf("path = %q", gotPath)
	}
	for key, want := range map[string]string{"since": "3", "limit": "50", "follow": "1", "wait": "10"} {
		if got := gotQuery.Get(key); got != want {
			t.Fatalf("query %s = %q, want %q", key, got, want)
		}
	}
}

func TestRecordsBuildsQuery(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_ = json.NewEncoder(w).Encode(api.RecordListResponse{Records: []api.Record{{ID: 1, TenantID: "school-1"}}})
	}))
	defer srv.Close()

	client, _ := apiclient.New(srv.URL, "")
	recs, err := client.Records(context.Background(), apiclient.RecordQuery{TenantID: "school-1", Pending: true, Limit: 20})
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	if gotQuery.Get("tenant") != "school-1" || gotQuery.Get("pending") != "1" || gotQuery.Get("limit") != "20" {
		t.Fatalf("unexpected query %v", gotQuery)
	}
}

func TestErrorResponsesBecomeStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "no records matched the filters"})
	}))
	defer srv.Close()

	client, _ := apiclient.New(srv.URL, "")
	_, err := client.StartTransfer(context.Background(), api.StartTransferRequest{TenantID: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !apiclient.HasStatus(err, http.StatusUnprocessableEntity) {
		t.Fatalf("expected 422 status error, got %v", err)
	}
	if !strings.Contains(err.Error(), "no records matched") {
		t.Fatalf("error should carry server message: %v", err)
	}
	if apiclient.IsAPIUnavailable(err) {
		t.Fatal("status errors are not unavailability")
	}
}

func TestIsAPIUnavailableOnClosedPort(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	client, _ := apiclient.New(addr, "")
	_, err = client.Status(context.Background())
	if !apiclient.IsAPIUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
