package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"qguard/internal/clock"
	"qguard/internal/execution"
	"qguard/internal/runner"
	"qguard/internal/store"
	"qguard/pkg/logging"

	"github.com/gin-gonic/gin"
)

// Executor runs stored records and ad hoc configurations.
type Executor interface {
	Execute(ctx context.Context, rec *store.Execution) (*runner.Run, error)
	RunConfig(ctx context.Context, name string, cfg *execution.RunConfig) (*runner.Run, error)
}

// Options configures the server.
type Options struct {
	ListenAddr string
	Clock      clock.Clock
}

// Server is the trigger API.
type Server struct {
	executions store.Executions
	executor   Executor
	clock      clock.Clock
	engine     *gin.Engine
	httpServer *http.Server
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// New builds the server and its routes.
func New(executions store.Executions, executor Executor, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	s := &Server{
		executions: executions,
		executor:   executor,
		clock:      opts.Clock,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	engine.GET("/healthz", s.health)
	api := engine.Group("/api/v1")
	api.GET("/executions/:id", s.getExecution)
	api.POST("/executions/:id/run", s.runExecution)
	api.POST("/runs", s.adHocRun)
	s.engine = engine

	s.httpServer = &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves in the background.
// The returned channel receives the error that ended serving, if any.
func (s *Server) Start() (<-chan error, error) {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	logging.Info("Server", "Listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh, nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type executionView struct {
	ID          string          `json:"id"`
	Status      store.Status    `json:"status"`
	Environment string          `json:"environment,omitempty"`
	Logs        string          `json:"logs,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

func viewOf(rec *store.Execution) executionView {
	return executionView{
		ID:          rec.ID,
		Status:      rec.Status,
		Environment: rec.Environment,
		Logs:        rec.Logs,
		Result:      rec.Result,
		Config:      rec.Config,
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
	}
}

func (s *Server) getExecution(c *gin.Context) {
	rec, err := s.executions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(rec))
}

func (s *Server) runExecution(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	claimed, err := s.executions.Claim(ctx, id, s.clock.Now())
	if err != nil {
		writeStoreError(c, err)
		return
	}
	logging.Info("Server", "Running execution %s on demand", id)

	run, err := s.executor.Execute(ctx, claimed)
	if err != nil {
		logging.Error("Server", err, "On-demand execution %s failed", id)
		c.JSON(http.StatusInternalServerError, gin.H{"id": id, "error": err.Error()})
		return
	}

	status := store.StatusFailed
	if run.Summary.Status == runner.ResultPassed {
		status = store.StatusPassed
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": status, "summary": run.Summary})
}

func (s *Server) adHocRun(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
		return
	}
	cfg, err := execution.ParseConfig(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if cfg.IsScheduled() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled configurations must be stored, not run ad hoc"})
		return
	}

	run, err := s.executor.RunConfig(c.Request.Context(), "ad-hoc", cfg)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, execution.ErrInvalidConfig) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary":    run.Summary,
		"details":    run.Results,
		"transcript": run.Transcript,
	})
}

func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logging.Error("Server", err, "Store request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("Server", "%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
