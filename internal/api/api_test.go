package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/jobs"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/ledger"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
)

func setupTestServer(t *testing.T) (*ledger.Ledger, *httptest.Server) {
	l, err := ledger.Open(ledger.Options{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to open ledger: %v", err)
	}

	echo := jobs.Definition{Key: "echo", Run: func(_ context.Context, jc *jobs.Context, input json.RawMessage) error {
		jc.Log.Infof("running")
		_, err := jc.WriteArtifact("out.json", input)
		return err
	}}
	if err := l.Jobs.Register(echo); err != nil {
		t.Fatalf("Failed to register echo: %v", err)
	}

	s := NewServer(l, "127.0.0.1:0")
	s.StatusPollInterval = 10 * time.Millisecond
	ts := httptest.NewServer(s.Handler())

	t.Cleanup(func() {
		ts.Close()
		l.Shutdown()
		l.Jobs.Wait()
	})
	return l, ts
}

func doJSON(t *testing.T, method, url string, body interface{}, out interface{}) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func waitForStatus(t *testing.T, l *ledger.Ledger, runID, status string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, _ := l.Runs.GetRun(context.Background(), runID)
		if run != nil && run.Status == status {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Run %s did not reach %s", runID, status)
}

func TestHealthAndJobs(t *testing.T) {
	_, ts := setupTestServer(t)

	var health map[string]string
	if code := doJSON(t, http.MethodGet, ts.URL+"/health", nil, &health); code != http.StatusOK || health["status"] != "ok" {
		t.Errorf("Unexpected health response %d %v", code, health)
	}

	var list struct {
		Jobs []string `json:"jobs"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/jobs", nil, &list)
	if len(list.Jobs) != 1 || list.Jobs[0] != "echo" {
		t.Errorf("Unexpected jobs %v", list.Jobs)
	}
}

func TestStartRunAndInspect(t *testing.T) {
	l, ts := setupTestServer(t)

	var started models.StartRunResponse
	code := doJSON(t, http.MethodPost, ts.URL+"/jobs/echo/runs", map[string]interface{}{
		"input":    map[string]int{"value": 1},
		"trace_id": "trace-http",
	}, &started)
	if code != http.StatusAccepted || started.RunID == "" {
		t.Fatalf("Unexpected start response %d %+v", code, started)
	}

	waitForStatus(t, l, started.RunID, models.RunStatusSuccess)
	l.Jobs.Wait()

	var detail models.RunWithLedger
	if code := doJSON(t, http.MethodGet, ts.URL+"/runs/"+started.RunID, nil, &detail); code != http.StatusOK {
		t.Fatalf("Unexpected status %d", code)
	}
	if detail.TraceID != "trace-http" || detail.Status != models.RunStatusSuccess {
		t.Errorf("Unexpected run %+v", detail.Run)
	}
	if len(detail.Logs) != 1 || len(detail.Artifacts) != 1 {
		t.Errorf("Expected one log and one artifact, got %d and %d", len(detail.Logs), len(detail.Artifacts))
	}

	var runs []models.Run
	doJSON(t, http.MethodGet, ts.URL+"/runs", nil, &runs)
	if len(runs) != 1 {
		t.Errorf("Expected 1 run, got %d", len(runs))
	}

	resp, err := http.Get(ts.URL + "/runs/" + started.RunID + "/artifacts/out.json")
	if err != nil {
		t.Fatalf("Failed to fetch artifact: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK || buf.String() != `{"value":1}` {
		t.Errorf("Unexpected artifact response %d %q", resp.StatusCode, buf.String())
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		t.Errorf("Expected JSON content type, got %s", resp.Header.Get("Content-Type"))
	}
}

func TestErrorResponses(t *testing.T) {
	_, ts := setupTestServer(t)

	var body map[string]string
	if code := doJSON(t, http.MethodPost, ts.URL+"/jobs/missing/runs", nil, &body); code != http.StatusNotFound || body["error"] == "" {
		t.Errorf("Expected 404 with error for unknown job, got %d %v", code, body)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/jobs/echo/runs", strings.NewReader(`{"input": {"a":`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", resp.StatusCode)
	}

	if code := doJSON(t, http.MethodGet, ts.URL+"/runs/nope", nil, &body); code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown run, got %d", code)
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/runs/nope/logs", nil, &body); code != http.StatusNotFound {
		t.Errorf("Expected 404 for logs of unknown run, got %d", code)
	}
	if code := doJSON(t, http.MethodDelete, ts.URL+"/runs", nil, &body); code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", code)
	}
}

func TestCancelRun(t *testing.T) {
	l, ts := setupTestServer(t)

	started := make(chan struct{})
	err := l.Jobs.Register(jobs.Definition{Key: "block", Run: func(ctx context.Context, _ *jobs.Context, _ json.RawMessage) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})
	if err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	runID, err := l.Jobs.Run(context.Background(), "block", nil, jobs.RunOptions{})
	if err != nil {
		t.Fatalf("Failed to run: %v", err)
	}
	<-started

	var result struct {
		Cancelled bool `json:"cancelled"`
	}
	if code := doJSON(t, http.MethodPost, ts.URL+"/runs/"+runID+"/cancel", nil, &result); code != http.StatusOK || !result.Cancelled {
		t.Fatalf("Expected cancel to succeed, got %d %+v", code, result)
	}
	waitForStatus(t, l, runID, models.RunStatusCancelled)

	doJSON(t, http.MethodPost, ts.URL+"/runs/"+runID+"/cancel", nil, &result)
	if result.Cancelled {
		t.Error("Expected second cancel to report false")
	}
}

func TestStreamLogs(t *testing.T) {
	l, ts := setupTestServer(t)

	release := make(chan struct{})
	err := l.Jobs.Register(jobs.Definition{Key: "chatty", Run: func(_ context.Context, jc *jobs.Context, _ json.RawMessage) error {
		jc.Log.Infof("first")
		<-release
		jc.Log.Infof("second")
		return nil
	}})
	if err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	runID, err := l.Jobs.Run(context.Background(), "chatty", nil, jobs.RunOptions{})
	if err != nil {
		t.Fatalf("Failed to run: %v", err)
	}

	// Wait for the backlog entry to exist before connecting.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		entries, _ := l.Logs.ListLogs(context.Background(), runID)
		if len(entries) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/runs/" + runID + "/logs/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial stream: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read backlog: %v", err)
	}
	if msg.Type != "log" || msg.Entry.Message != "first" {
		t.Fatalf("Expected backlog entry, got %+v", msg)
	}

	close(release)

	var messages []string
	var end StreamMessage
	for {
		var next StreamMessage
		if err := conn.ReadJSON(&next); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				break
			}
			t.Fatalf("Failed to read stream: %v", err)
		}
		if next.Type == "end" {
			end = next
			continue
		}
		messages = append(messages, next.Entry.Message)
	}

	if len(messages) != 1 || messages[0] != "second" {
		t.Errorf("Expected exactly the live entry, got %v", messages)
	}
	if end.Status != models.RunStatusSuccess {
		t.Errorf("Expected end frame with success, got %+v", end)
	}
}
