package execution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qguard/internal/runner"
	"qguard/internal/schedule"
	"qguard/internal/store"
	"qguard/internal/template"
	"qguard/internal/transport"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("X-Env") != "dev" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"missing env header"}`))
			return
		}
		_, _ = w.Write([]byte(`{"user":{"id":` + r.URL.Query().Get("id") + `,"tenant":"` + r.Header.Get("X-Tenant") + `"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func caseConfig(baseURL string) map[string]interface{} {
	return map[string]interface{}{
		"test_case": map[string]interface{}{
			"request": map[string]interface{}{
				"method":  "GET",
				"path":    "/users",
				"headers": map[string]interface{}{"X-Tenant": "${tenant}"},
				"params":  map[string]interface{}{"id": "${id}"},
			},
		},
		"environment": "dev",
		"base_url":    baseURL,
		"data": []interface{}{
			map[string]interface{}{"id": 1, "expected_user_id": 1},
			map[string]interface{}{"id": 2, "expected_user_id": 3},
		},
	}
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func newExecutor(mem *store.Memory) *Executor {
	mem.PutEnvironment(store.Environment{
		Key:            "dev",
		Name:           "Development",
		IsActive:       true,
		DefaultHeaders: map[string]interface{}{"X-Env": "dev", "X-Tenant": "ignored"},
		Variables:      map[string]interface{}{"tenant": "acme"},
	})
	r := runner.New(transport.NewClient(5*time.Second), runner.Options{})
	return NewExecutor(mem, NewBuilder(mem), r)
}

func TestExecutePersistsResult(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	mem := store.NewMemory(nil)
	x := newExecutor(mem)

	rec, err := mem.Create(ctx, &store.Execution{Config: mustJSON(t, caseConfig(srv.URL))})
	require.NoError(t, err)
	claimed, err := mem.Claim(ctx, rec.ID, time.Now())
	require.NoError(t, err)

	run, err := x.Execute(ctx, claimed)
	require.NoError(t, err)
	require.Len(t, run.Results, 2)
	assert.Equal(t, runner.ResultPassed, run.Results[0].Status)
	assert.Equal(t, runner.ResultFailed, run.Results[1].Status)
	assert.Equal(t, "acme", run.Results[0].Request.Headers["X-Tenant"], "environment variables feed the pool")

	got, err := mem.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Contains(t, got.Logs, "🚀")
	require.NotNil(t, got.FinishedAt)

	var report Report
	require.NoError(t, json.Unmarshal(got.Result, &report))
	assert.Equal(t, 2, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Failed)
	assert.Len(t, report.Details, 2)
}

func TestExecuteInvalidConfigMarksError(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(nil)
	x := newExecutor(mem)

	rec, err := mem.Create(ctx, &store.Execution{Config: json.RawMessage(`{"test_case":{"request":{}}}`)})
	require.NoError(t, err)
	claimed, err := mem.Claim(ctx, rec.ID, time.Now())
	require.NoError(t, err)

	_, err = x.Execute(ctx, claimed)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	got, err := mem.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, got.Status)
	assert.Contains(t, got.Logs, "request.path")
}

func TestExecuteUnknownEnvironmentMarksError(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(nil)
	x := newExecutor(mem)

	cfg := caseConfig("http://127.0.0.1:1")
	cfg["environment"] = "prod"
	rec, err := mem.Create(ctx, &store.Execution{Config: mustJSON(t, cfg)})
	require.NoError(t, err)
	claimed, err := mem.Claim(ctx, rec.ID, time.Now())
	require.NoError(t, err)

	_, err = x.Execute(ctx, claimed)
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := mem.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, got.Status)
}

type recordingArchiver struct {
	ids []string
	err error
}

func (a *recordingArchiver) Archive(_ context.Context, id string, _ *runner.Run) error {
	a.ids = append(a.ids, id)
	return a.err
}

func TestExecuteArchives(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	mem := store.NewMemory(nil)
	base := newExecutor(mem)
	archiver := &recordingArchiver{err: errors.New("bucket unavailable")}
	x := NewExecutor(mem, base.builder, base.runner, WithArchiver(archiver))

	rec, err := mem.Create(ctx, &store.Execution{Config: mustJSON(t, caseConfig(srv.URL))})
	require.NoError(t, err)
	claimed, err := mem.Claim(ctx, rec.ID, time.Now())
	require.NoError(t, err)

	_, err = x.Execute(ctx, claimed)
	require.NoError(t, err, "archive failures never fail the run")
	assert.Equal(t, []string{rec.ID}, archiver.ids)
}

func TestMarkErrorIgnoresTerminalRecords(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(nil)
	x := newExecutor(mem)

	rec, err := mem.Create(ctx, &store.Execution{})
	require.NoError(t, err)
	_, err = mem.Claim(ctx, rec.ID, time.Now())
	require.NoError(t, err)
	require.NoError(t, mem.Complete(ctx, rec.ID, store.Completion{Status: store.StatusPassed, FinishedAt: time.Now()}))

	require.NoError(t, x.MarkError(ctx, rec.ID, "crash"))
	got, err := mem.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPassed, got.Status)
}

// cancellableExecutions fails completions on a cancelled context, like a
// database driver does.
type cancellableExecutions struct {
	*store.Memory
}

func (s cancellableExecutions) Complete(ctx context.Context, id string, c store.Completion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Memory.Complete(ctx, id, c)
}

func TestExecuteInterruptedRunIsMarkedError(t *testing.T) {
	mem := store.NewMemory(nil)
	base := newExecutor(mem)
	x := NewExecutor(cancellableExecutions{mem}, base.builder, base.runner)

	rec, err := mem.Create(context.Background(), &store.Execution{Config: mustJSON(t, caseConfig("http://127.0.0.1:1"))})
	require.NoError(t, err)
	claimed, err := mem.Claim(context.Background(), rec.ID, time.Now())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, err := x.Execute(ctx, claimed)
	require.NoError(t, err, "the outcome is persisted after cancellation")
	assert.Equal(t, 2, run.Summary.Skipped)
	assert.False(t, run.Summary.Complete())

	got, err := mem.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, got.Status)
	assert.Contains(t, got.Logs, "run interrupted: 2 of 2 rows did not run")
	require.NotNil(t, got.FinishedAt)
}

func TestUndefinedPlaceholders(t *testing.T) {
	spec := runner.RunSpec{
		Request: template.Request{
			Method:  "POST",
			Path:    "/users/${id}",
			Headers: map[string]interface{}{"Authorization": "Bearer ${token}"},
			Params:  map[string]interface{}{"tenant": "${tenant}"},
			Body:    map[string]interface{}{"name": "${name}", "ref": "${order_id}"},
		},
		Rows:      []runner.DataRow{{"id": 1, "name_1": "a"}},
		Variables: map[string]interface{}{"tenant": "acme"},
	}
	assert.Equal(t, []string{"order_id", "token"}, UndefinedPlaceholders(spec))

	spec.Variables["token"] = "t"
	spec.Variables["order_id"] = 9
	assert.Empty(t, UndefinedPlaceholders(spec))
}

type countingEnvs struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (c *countingEnvs) GetEnvironment(_ context.Context, key string) (*store.Environment, error) {
	c.calls.Add(1)
	<-c.gate
	return &store.Environment{Key: key, BaseURL: "http://env.local", IsActive: true}, nil
}

func TestBuilderSharesConcurrentLookups(t *testing.T) {
	envs := &countingEnvs{gate: make(chan struct{})}
	b := NewBuilder(envs)
	cfg := &RunConfig{Environment: "dev", TestCase: TestCase{Request: caseRequest()}}

	var wg sync.WaitGroup
	specs := make([]runner.RunSpec, 5)
	for i := range specs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			spec, err := b.Build(context.Background(), "run", cfg)
			assert.NoError(t, err)
			specs[i] = spec
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(envs.gate)
	wg.Wait()

	assert.LessOrEqual(t, envs.calls.Load(), int32(5))
	assert.GreaterOrEqual(t, envs.calls.Load(), int32(1))
	for _, spec := range specs {
		assert.Equal(t, "http://env.local", spec.BaseURL)
	}
}

func TestBuilderLayersEnvironmentDefaults(t *testing.T) {
	mem := store.NewMemory(nil)
	mem.PutEnvironment(store.Environment{
		Key:            "dev",
		BaseURL:        "http://env.local",
		IsActive:       true,
		DefaultHeaders: map[string]interface{}{"X-Env": "dev", "Accept": "text/plain"},
		DefaultParams:  map[string]interface{}{"locale": "en"},
	})
	b := NewBuilder(mem)

	req := caseRequest()
	req.Headers = map[string]interface{}{"Accept": "application/json"}
	spec, err := b.Build(context.Background(), "", &RunConfig{
		Environment: "dev",
		BaseURL:     "http://override.local",
		TestCase:    TestCase{Name: "users", Request: req},
	})
	require.NoError(t, err)
	assert.Equal(t, "users", spec.Name)
	assert.Equal(t, "http://override.local", spec.BaseURL)
	assert.Equal(t, map[string]interface{}{"X-Env": "dev", "Accept": "application/json"}, spec.Request.Headers)
	assert.Equal(t, map[string]interface{}{"locale": "en"}, spec.Request.Params)
}

func TestBuilderWithoutEnvironmentStore(t *testing.T) {
	b := NewBuilder(nil)
	_, err := b.Build(context.Background(), "", &RunConfig{Environment: "dev", TestCase: TestCase{Request: caseRequest()}})
	assert.Error(t, err)

	spec, err := b.Build(context.Background(), "", &RunConfig{BaseURL: "http://x", TestCase: TestCase{Request: caseRequest()}})
	require.NoError(t, err)
	assert.Equal(t, "http://x", spec.BaseURL)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{
		"test_case": {
			"request": {"method": "POST", "path": "/login"},
			"assertions": [{"type": "status_code", "expected": 200}],
			"token_config": {"url": "/auth", "extractors": [{"name": "token", "path": "$.token"}]}
		},
		"scheduling": {"mode": "schedule", "schedule_type": "daily", "scheduled_at": "2025-12-17", "schedule_config": {"time": "09:00"}}
	}`))
	require.NoError(t, err)
	assert.True(t, cfg.IsScheduled())
	assert.Equal(t, schedule.KindDaily, cfg.Scheduling.Kind())
	require.NotNil(t, cfg.TestCase.TokenConfig)
	assert.Equal(t, "token", cfg.TestCase.TokenConfig.Extractors[0].Name)

	_, err = ParseConfig(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = ParseConfig([]byte(`{"test_case":{"request":{"path":"/x"}},"scheduling":{"mode":"schedule","schedule_type":"weekly"}}`))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = ParseConfig([]byte(`{"test_case":{"request":{"path":"/x"},"extractors":[{"path":"$.a"}]}}`))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWithScheduling(t *testing.T) {
	raw := []byte(`{"test_case":{"request":{"path":"/x"}},"data":[{"a":1}],"scheduling":{"mode":"schedule","schedule_type":"daily","scheduled_at":"2025-12-17"}}`)
	out, err := WithScheduling(raw, schedule.Spec{Mode: schedule.ModeSchedule, Type: schedule.KindDaily, ScheduledAt: "2025-12-18"})
	require.NoError(t, err)

	cfg, err := ParseConfig(out)
	require.NoError(t, err)
	assert.Equal(t, "2025-12-18", cfg.Scheduling.ScheduledAt)
	assert.Equal(t, "/x", cfg.TestCase.Request.Path)
	require.Len(t, cfg.Data, 1)
	assert.EqualValues(t, 1, cfg.Data[0]["a"])
}

func caseRequest() template.Request {
	return template.Request{Method: "GET", Path: "/users"}
}
