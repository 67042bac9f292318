package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ManageCommand/managecommand/internal/agent"
	"github.com/ManageCommand/managecommand/internal/testutil/testlog"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	return NewService(cfg)
}

func doJSON(t *testing.T, svc *Service, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)
	return w
}

func TestHealthOpenWithoutAuth(t *testing.T) {
	svc := newTestService(t)
	w := doJSON(t, svc, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", w.Code)
	}
}

func TestAPIRejectsMissingOrBadCredential(t *testing.T) {
	svc := newTestService(t)

	w := doJSON(t, svc, http.MethodGet, "/api/agent/executions/pending", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no credential status = %d, want 401", w.Code)
	}
	w = doJSON(t, svc, http.MethodGet, "/api/agent/executions/pending", "wrong-key", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad credential status = %d, want 401", w.Code)
	}
	w = doJSON(t, svc, http.MethodGet, "/api/agent/executions/pending", "test-key", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("valid credential status = %d, want 200", w.Code)
	}
}

func TestExecutionRoundTrip(t *testing.T) {
	svc := newTestService(t)

	w := doJSON(t, svc, http.MethodPost, "/api/executions", "test-key",
		agent.ExecutionRequest{Command: "migrate", Args: []string{"--check"}})
	if w.Code != http.StatusAccepted {
		t.Fatalf("enqueue status = %d, body %s", w.Code, w.Body.String())
	}
	var enq struct {
		Execution agent.ExecutionRequest `json:"execution"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &enq); err != nil {
		t.Fatalf("decode enqueue response: %v", err)
	}
	if enq.Execution.ID == "" {
		t.Fatalf("enqueue response missing id: %s", w.Body.String())
	}

	w = doJSON(t, svc, http.MethodGet, "/api/agent/executions/pending", "test-key", nil)
	var pending struct {
		Executions []agent.ExecutionRequest `json:"executions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &pending); err != nil {
		t.Fatalf("decode pending: %v", err)
	}
	if len(pending.Executions) != 1 || pending.Executions[0].ID != enq.Execution.ID {
		t.Fatalf("pending = %+v, want the enqueued request", pending.Executions)
	}

	w = doJSON(t, svc, http.MethodPost, "/api/agent/executions/"+enq.Execution.ID+"/result", "test-key",
		agent.ExecutionResult{Status: agent.StatusSucceeded, Output: "applied"})
	if w.Code != http.StatusOK {
		t.Fatalf("result status = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, svc, http.MethodGet, "/api/executions/"+enq.Execution.ID, "test-key", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("inspect status = %d", w.Code)
	}
	var rec ExecutionRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.Result == nil || rec.Result.Status != agent.StatusSucceeded {
		t.Fatalf("record result = %+v, want succeeded", rec.Result)
	}
}

func TestDuplicateResultFlagged(t *testing.T) {
	svc := newTestService(t)

	w := doJSON(t, svc, http.MethodPost, "/api/executions", "test-key",
		agent.ExecutionRequest{Command: "collectstatic"})
	var enq struct {
		Execution agent.ExecutionRequest `json:"execution"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &enq); err != nil {
		t.Fatalf("decode enqueue response: %v", err)
	}

	path := "/api/agent/executions/" + enq.Execution.ID + "/result"
	doJSON(t, svc, http.MethodPost, path, "test-key",
		agent.ExecutionResult{Status: agent.StatusSucceeded})
	w = doJSON(t, svc, http.MethodPost, path, "test-key",
		agent.ExecutionResult{Status: agent.StatusFailed})
	if w.Code != http.StatusOK {
		t.Fatalf("duplicate result status = %d, want 200", w.Code)
	}
	var resp struct {
		Accepted  bool `json:"accepted"`
		Duplicate bool `json:"duplicate"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Accepted || !resp.Duplicate {
		t.Fatalf("duplicate response = %+v, want accepted duplicate", resp)
	}
}

func TestResultForUnknownExecution(t *testing.T) {
	svc := newTestService(t)
	w := doJSON(t, svc, http.MethodPost, "/api/agent/executions/exec.404/result", "test-key",
		agent.ExecutionResult{Status: agent.StatusFailed})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown execution status = %d, want 404", w.Code)
	}
}
