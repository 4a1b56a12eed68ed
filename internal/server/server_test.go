package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qguard/internal/execution"
	"qguard/internal/runner"
	"qguard/internal/store"
	"qguard/internal/transport"
)

func newSUT(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"ok":true}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) (*Server, *store.Memory) {
	t.Helper()
	mem := store.NewMemory(nil)
	r := runner.New(transport.NewClient(5*time.Second), runner.Options{})
	exec := execution.NewExecutor(mem, execution.NewBuilder(mem), r)
	return New(mem, exec, Options{}), mem
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func configFor(baseURL string) string {
	return `{"test_case":{"request":{"method":"GET","path":"/status"}},"base_url":"` + baseURL + `","data":[{"expected_ok":true}]}`
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestRunStoredExecution(t *testing.T) {
	sut := newSUT(t)
	s, mem := newTestServer(t)
	stored, err := mem.Create(context.Background(), &store.Execution{Config: json.RawMessage(configFor(sut.URL))})
	require.NoError(t, err)

	rec, body := do(t, s, http.MethodPost, "/api/v1/executions/"+stored.ID+"/run", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "passed", body["status"])
	summary := body["summary"].(map[string]interface{})
	assert.EqualValues(t, 1, summary["total"])

	rec, body = do(t, s, http.MethodGet, "/api/v1/executions/"+stored.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "passed", body["status"])
	assert.NotEmpty(t, body["logs"])

	rec, _ = do(t, s, http.MethodPost, "/api/v1/executions/"+stored.ID+"/run", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "only pending records can be run")
}

func TestRunUnknownExecution(t *testing.T) {
	s, _ := newTestServer(t)
	rec, _ := do(t, s, http.MethodPost, "/api/v1/executions/nope/run", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = do(t, s, http.MethodGet, "/api/v1/executions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdHocRun(t *testing.T) {
	sut := newSUT(t)
	s, mem := newTestServer(t)

	rec, body := do(t, s, http.MethodPost, "/api/v1/runs", configFor(sut.URL))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := body["summary"].(map[string]interface{})
	assert.Equal(t, "PASSED", summary["status"])
	assert.Len(t, body["details"], 1)
	assert.NotEmpty(t, body["transcript"])

	pending, err := mem.ListPendingScheduled(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending, "ad hoc runs are not stored")
}

func TestAdHocRunRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(t)

	rec, _ := do(t, s, http.MethodPost, "/api/v1/runs", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/runs", `{"test_case":{"request":{"path":"/x"}},"base_url":"http://x","scheduling":{"mode":"schedule","schedule_type":"once","scheduled_at":"2025-12-17 10:00:00"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := do(t, s, http.MethodPost, "/api/v1/runs", `{"test_case":{"request":{"path":"/x"}},"environment":"missing"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "environment")
}

func TestStartAndShutdown(t *testing.T) {
	mem := store.NewMemory(nil)
	s := New(mem, nil, Options{ListenAddr: "127.0.0.1:0"})
	errCh, err := s.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-errCh)
}
