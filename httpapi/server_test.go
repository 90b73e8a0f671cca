package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/martinemde/conductor/expertloop"
	"github.com/martinemde/conductor/modelclient"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	completer := modelclient.CompleterFunc(func(ctx context.Context, req modelclient.Request) (*modelclient.Completion, error) {
		if len(req.Tools) == 0 {
			return &modelclient.Completion{Text: "planner"}, nil
		}
		return &modelclient.Completion{Text: "Here is the answer."}, nil
	})
	engine, err := expertloop.NewEngine(completer, expertloop.EngineConfig{
		Model:         "test-model",
		WorkspaceRoot: t.TempDir(),
		Retry:         modelclient.RetryPolicy{MaxRetries: 0, BaseDelay: 0.001, MaxDelay: 0.001, BackoffMultiplier: 1},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	srv := httptest.NewServer(NewServer(engine, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func readSSEKinds(t *testing.T, body *bufio.Scanner) []string {
	t.Helper()
	var kinds []string
	for body.Scan() {
		line := body.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event payload %q: %v", line, err)
		}
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func TestChatStreamDeliversEvents(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/chat/stream", "application/json",
		strings.NewReader(`{"message":"hello"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if resp.Header.Get("X-Session-Id") == "" {
		t.Error("missing X-Session-Id header")
	}

	kinds := readSSEKinds(t, bufio.NewScanner(resp.Body))
	want := []string{"routing", "model-message", "end"}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}
}

func TestChatStreamRejectsEmptyMessage(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/chat/stream", "application/json",
		strings.NewReader(`{"message":"  "}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatStreamRejectsBadBody(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/chat/stream", "application/json",
		strings.NewReader(`{not json`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestExpertsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/experts")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Experts []struct {
			ID    string   `json:"id"`
			Tools []string `json:"tools"`
		} `json:"experts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Experts) != 3 {
		t.Errorf("experts = %d, want 3", len(body.Experts))
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestFileViewValidation(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/file/view?file_path=a.txt")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing session_id: status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/file/view?session_id=nope&file_path=a.txt")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session: status = %d, want 404", resp.StatusCode)
	}
}
