package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tjfontaine/workflow-relay/internal/testutil"
)

var testWorkflow = Workflow{
	Owner: "octocat",
	Repo:  "pwa-to-apk",
	File:  "build-apk.yml",
	Ref:   "main",
}

type dispatchBody struct {
	Ref    string                     `json:"ref"`
	Inputs map[string]json.RawMessage `json:"inputs"`
}

func TestDispatchWorkflow_Request(t *testing.T) {
	var (
		calls   int32
		gotReq  *http.Request
		gotBody dispatchBody
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		gotReq = r
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &gotBody); err != nil {
			t.Errorf("upstream body is not JSON: %v: %s", err, raw)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	client, err := NewClient("ghp_secret", WithBaseURL(upstream.URL))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	manifest := json.RawMessage(`{"name":"Demo PWA","icons":[{"src":"icon.png"}]}`)
	result, err := client.DispatchWorkflow(context.Background(), testWorkflow, manifest)
	if err != nil {
		t.Fatalf("DispatchWorkflow() error = %v", err)
	}

	if !result.Triggered() {
		t.Errorf("expected triggered result, got status %d", result.StatusCode)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", n)
	}

	if gotReq.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", gotReq.Method)
	}
	if want := "/repos/octocat/pwa-to-apk/actions/workflows/build-apk.yml/dispatches"; gotReq.URL.Path != want {
		t.Errorf("path = %s, want %s", gotReq.URL.Path, want)
	}
	if got := gotReq.Header.Get("Authorization"); got != "token ghp_secret" {
		t.Errorf("Authorization = %q, want %q", got, "token ghp_secret")
	}
	if got := gotReq.Header.Get("Accept"); got != "application/vnd.github+json" {
		t.Errorf("Accept = %q", got)
	}
	if got := gotReq.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := gotReq.Header.Get("User-Agent"); got != userAgent {
		t.Errorf("User-Agent = %q, want %q", got, userAgent)
	}

	if gotBody.Ref != "main" {
		t.Errorf("ref = %q, want main", gotBody.Ref)
	}
	if !jsonEqual(t, gotBody.Inputs["manifest"], manifest) {
		t.Errorf("inputs.manifest = %s, want %s", gotBody.Inputs["manifest"], manifest)
	}
}

func TestDispatchWorkflow_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"unauthorized", http.StatusUnauthorized, "bad credentials"},
		{"server error", http.StatusInternalServerError, "bad credentials"},
		{"unexpected success code", http.StatusOK, `{"ok":true}`},
		{"empty body", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer upstream.Close()

			client, err := NewClient("ghp_secret", WithBaseURL(upstream.URL))
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}

			result, err := client.DispatchWorkflow(context.Background(), testWorkflow, json.RawMessage(`"m"`))
			if err != nil {
				t.Fatalf("DispatchWorkflow() error = %v", err)
			}
			if result.Triggered() {
				t.Error("expected rejection")
			}
			if result.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", result.StatusCode, tt.status)
			}
			if result.Body != tt.body {
				t.Errorf("body = %q, want %q", result.Body, tt.body)
			}
		})
	}
}

func TestDispatchWorkflow_TransportError(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	client, err := NewClient("ghp_secret", WithBaseURL(url))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = client.DispatchWorkflow(context.Background(), testWorkflow, json.RawMessage(`"m"`))
	if err == nil {
		t.Fatal("expected error for unreachable upstream")
	}
	if !strings.Contains(err.Error(), "request failed") {
		t.Errorf("error = %v, want request failed", err)
	}
	if strings.Contains(err.Error(), "ghp_secret") {
		t.Errorf("error leaks the token: %v", err)
	}
}

func TestDispatchWorkflow_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	client, err := NewClient("ghp_secret", WithBaseURL(upstream.URL))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.DispatchWorkflow(ctx, testWorkflow, json.RawMessage(`"m"`)); err == nil {
		t.Fatal("expected deadline error")
	}
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	if _, err := NewClient("ghp_secret", WithBaseURL("http://[::1")); err == nil {
		t.Fatal("expected error for unparsable base url")
	}
}

func TestDispatchWorkflow_Replay(t *testing.T) {
	recorder, cleanup := testutil.NewVCRRecorder(t, "dispatch_triggered")
	defer cleanup()

	client, err := NewClient("ghp_replay", WithHTTPClient(testutil.VCRHTTPClient(recorder)))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	t.Run("triggered", func(t *testing.T) {
		manifest := json.RawMessage(`"{\"name\":\"Demo PWA\",\"start_url\":\"/\"}"`)
		result, err := client.DispatchWorkflow(context.Background(), testWorkflow, manifest)
		if err != nil {
			t.Fatalf("DispatchWorkflow() error = %v", err)
		}
		if !result.Triggered() {
			t.Errorf("expected 204, got %d: %s", result.StatusCode, result.Body)
		}
	})

	t.Run("unknown repository", func(t *testing.T) {
		wf := testWorkflow
		wf.Repo = "does-not-exist"
		manifest := json.RawMessage(`"{\"name\":\"Missing Repo\"}"`)

		result, err := client.DispatchWorkflow(context.Background(), wf, manifest)
		if err != nil {
			t.Fatalf("DispatchWorkflow() error = %v", err)
		}
		if result.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", result.StatusCode)
		}
		if !strings.Contains(result.Body, `"message":"Not Found"`) {
			t.Errorf("body = %q", result.Body)
		}
	})
}

func jsonEqual(t *testing.T, a, b json.RawMessage) bool {
	t.Helper()
	var va, vb interface{}
	if err := json.Unmarshal(a, &va); err != nil {
		t.Fatalf("unmarshal %s: %v", a, err)
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	ab, _ := json.Marshal(va)
	bb, _ := json.Marshal(vb)
	return string(ab) == string(bb)
}
