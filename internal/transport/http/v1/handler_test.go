package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/atlasfin/atlas/internal/adapter/broker"
	"github.com/atlasfin/atlas/internal/adapter/llm"
	"github.com/atlasfin/atlas/internal/config"
	"github.com/atlasfin/atlas/internal/domain"
	"github.com/atlasfin/atlas/internal/sandbox"
	"github.com/atlasfin/atlas/internal/service"
	"github.com/atlasfin/atlas/internal/store"
	"github.com/atlasfin/atlas/internal/tools"
	"github.com/atlasfin/atlas/policy"
	"github.com/atlasfin/atlas/tests/helpers"
)

// stubSandbox completes every job immediately.
type stubSandbox struct{}

func (stubSandbox) ListSessions(ctx context.Context, includeStopped bool) ([]sandbox.Session, error) {
	return nil, nil
}
func (stubSandbox) CreateSession(ctx context.Context, image, name string, deps []string) (sandbox.Session, error) {
	return sandbox.Session{Name: name, Image: image, State: "running"}, nil
}
func (stubSandbox) AddDependencies(ctx context.Context, name string, deps []string) error {
	return nil
}
func (stubSandbox) ExecuteScript(ctx context.Context, name, script string, args []string) (sandbox.ExecResult, error) {
	return sandbox.ExecResult{Stdout: "##METRIC## {\"name\":\"cagr\",\"value\":0.1}\nok"}, nil
}
func (stubSandbox) Cleanup(ctx context.Context, name string) error { return nil }

func newTestHandler(t *testing.T, startWorkers bool, replies ...string) (*Handler, store.Store) {
	t.Helper()
	ctx := context.Background()

	db := helpers.NewTestSQLiteStore(t)
	cfg := &config.Config{
		SandboxImage:  "python:3.11-slim",
		MaxWorkers:    1,
		MaxRetries:    0,
		RetryBackoff:  time.Millisecond,
		JobTimeout:    5 * time.Second,
		ArtifactsDir:  t.TempDir(),
		MaxToolRounds: 3,
	}

	dispatcher := service.NewDispatcher(db, stubSandbox{}, cfg, nil, nil)
	if startWorkers {
		dispatcher.Start()
		t.Cleanup(dispatcher.Stop)
	}

	registry := tools.NewRegistry()
	tools.RegisterBrokerTools(registry)
	b := broker.NewPaperBroker(100_000)

	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	chat := service.NewChat(registry, b, llm.NewMockClient(replies...), engine, dispatcher, cfg)
	return NewHandler(chat, dispatcher, db), db
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, false)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Health(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSubmitAndGetBacktest(t *testing.T) {
	e := echo.New()
	h, db := newTestHandler(t, false)

	body := `{"strategy":"ema_crossover","symbols":["AAPL"],"timeframe":"1d","from":"2024-01-01","to":"2024-06-01"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/backtests", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.SubmitBacktest(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var job domain.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if job.JobID == "" || job.Status != domain.JobStatusQueued {
		t.Fatalf("unexpected job: %+v", job)
	}

	// The record is immediately readable.
	req = httptest.NewRequest(http.MethodGet, "/v1/backtests/"+job.JobID, nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("job_id")
	c.SetParamValues(job.JobID)

	if err := h.GetBacktest(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	if _, err := db.GetJob(context.Background(), job.JobID); err != nil {
		t.Fatalf("job missing from store: %v", err)
	}
}

func TestSubmitBacktestValidation(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, false)

	req := httptest.NewRequest(http.MethodPost, "/v1/backtests", strings.NewReader(`{"strategy":"ema_crossover"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.SubmitBacktest(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetBacktestNotFound(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, false)

	req := httptest.NewRequest(http.MethodGet, "/v1/backtests/job_missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("job_id")
	c.SetParamValues("job_missing")

	if err := h.GetBacktest(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCancelQueuedBacktest(t *testing.T) {
	e := echo.New()
	h, db := newTestHandler(t, false)

	job, err := h.dispatcher.Submit(context.Background(), domain.JobRequest{
		Strategy: "ema_crossover", Symbols: []string{"AAPL"}, Timeframe: "1d",
		From: "2024-01-01", To: "2024-06-01",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/backtests/"+job.JobID+"/cancel", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("job_id")
	c.SetParamValues(job.JobID)

	if err := h.CancelBacktest(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	got, err := db.GetJob(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != domain.JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}

func TestGetBacktestEvents(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, false)

	job, err := h.dispatcher.Submit(context.Background(), domain.JobRequest{
		Strategy: "ema_crossover", Symbols: []string{"AAPL"}, Timeframe: "1d",
		From: "2024-01-01", To: "2024-06-01",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/backtests/"+job.JobID+"/events", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("job_id")
	c.SetParamValues(job.JobID)

	if err := h.GetBacktestEvents(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Events []domain.JobEvent `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Type != domain.JobEventQueued {
		t.Fatalf("unexpected events: %+v", resp.Events)
	}
}

func TestPostSessionMessage(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, false, "Hello! What would you like to trade today?")

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/messages", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("session_id")
	c.SetParamValues("s1")

	if err := h.PostSessionMessage(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(resp["reply"], "Hello") {
		t.Fatalf("unexpected reply: %+v", resp)
	}
}

func TestPostSessionMessageEmpty(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, false)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/messages", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("session_id")
	c.SetParamValues("s1")

	if err := h.PostSessionMessage(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
