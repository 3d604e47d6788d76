package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"stockpulse/internal/advisor"
	"stockpulse/internal/analysis"
	"stockpulse/internal/cache"
	"stockpulse/internal/domain"
	"stockpulse/internal/events"
	"stockpulse/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"nhooyr.io/websocket"
)

type stubPrices struct {
	release chan struct{}
	once    sync.Once
	started chan struct{}
}

func (s *stubPrices) Fetch(ctx context.Context, inst domain.Instrument, r domain.DateRange) (*domain.PriceSeries, error) {
	if s.started != nil {
		s.once.Do(func() { close(s.started) })
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	points := make([]domain.PricePoint, 40)
	for i := range points {
		c := 50 + float64(i)/2
		points[i] = domain.PricePoint{Date: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 5000}
	}
	return &domain.PriceSeries{Instrument: inst, Points: points, Provider: "yahoo"}, nil
}

type stubFundamentals struct{}

func (stubFundamentals) Fetch(ctx context.Context, inst domain.Instrument) (*domain.Fundamentals, error) {
	return &domain.Fundamentals{Instrument: inst, Indicators: map[string]float64{"pe": 15}, Provider: "yahoo"}, nil
}

type stubNews struct{}

func (stubNews) Fetch(ctx context.Context, inst domain.Instrument, days int) (*domain.NewsRecord, error) {
	return &domain.NewsRecord{Instrument: inst, Provider: "rss"}, nil
}

type stubReports struct {
	reports map[string]*domain.AnalysisReport
	rows    []repository.ReportSummary
	err     error
	gotCode string
}

func (s *stubReports) GetReport(ctx context.Context, id string) (*domain.AnalysisReport, error) {
	if r, ok := s.reports[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
}

func (s *stubReports) ListReports(ctx context.Context, code string, limit int) ([]repository.ReportSummary, error) {
	s.gotCode = code
	return s.rows, s.err
}

type testServer struct {
	router  *gin.Engine
	tasks   *analysis.Manager
	prices  *stubPrices
	handler *Handler
}

func newTestServer(t *testing.T, cfg analysis.Config, apiKey string, reports ReportStore) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := events.NewHub(events.Options{BufferSize: 256, HistorySize: 256, Logger: zerolog.Nop()})
	prices := &stubPrices{}
	tasks := analysis.NewManager(cfg, analysis.Deps{
		Prices:       prices,
		Fundamentals: stubFundamentals{},
		News:         stubNews{},
		AI:           advisor.NewTemplateStreamer(),
		Hub:          hub,
		Logger:       zerolog.Nop(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tasks.Shutdown(ctx)
		hub.Close()
	})

	tracer := trace.NewNoopTracerProvider().Tracer("test")
	h := New(tracer, tasks, Options{
		Cache:     cache.New(cache.Options{Logger: zerolog.Nop()}),
		Hub:       hub,
		Reports:   reports,
		Heartbeat: 50 * time.Millisecond,
		Logger:    zerolog.Nop(),
	})
	r := gin.New()
	h.RegisterRoutes(r, apiKey)
	return &testServer{router: r, tasks: tasks, prices: prices, handler: h}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, analysis.Config{}, "", nil)

	w := s.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestAPIKeyAuth(t *testing.T) {
	s := newTestServer(t, analysis.Config{}, "secret", nil)

	w := s.do(http.MethodGet, "/api/tasks", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("X-API-Key", "secret")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Browsers cannot set headers on EventSource.
	w = s.do(http.MethodGet, "/api/tasks?api_key=secret", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Health stays open.
	w = s.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAnalyzeAcceptsAndCompletes(t *testing.T) {
	s := newTestServer(t, analysis.Config{}, "", nil)

	w := s.do(http.MethodPost, "/api/analyze", `{"code":"0700","session_id":"s1","skip_ai":true}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp AnalyzeResponse
	decode(t, w, &resp)
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, domain.MarketHK, resp.Instrument.Market)
	assert.Equal(t, "00700", resp.Instrument.CanonicalCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := s.tasks.Wait(ctx, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskDone, info.State)

	w = s.do(http.MethodGet, "/api/tasks/"+resp.TaskID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.TaskInfo
	decode(t, w, &got)
	assert.Equal(t, domain.TaskDone, got.State)
	require.NotNil(t, got.Report)
	assert.Equal(t, resp.TaskID, got.Report.TaskID)
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	s := newTestServer(t, analysis.Config{}, "", nil)

	w := s.do(http.MethodPost, "/api/analyze", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/analyze", `{"code":"TOOLONG"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "error")
	assert.Empty(t, s.tasks.List())
}

func TestAnalyzeAtCapacity(t *testing.T) {
	s := newTestServer(t, analysis.Config{MaxConcurrent: 1}, "", nil)
	s.prices.release = make(chan struct{})
	s.prices.started = make(chan struct{})
	defer close(s.prices.release)

	w := s.do(http.MethodPost, "/api/analyze", `{"code":"AAPL"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	<-s.prices.started

	w = s.do(http.MethodPost, "/api/analyze", `{"code":"MSFT"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestAnalyzeBatch(t *testing.T) {
	s := newTestServer(t, analysis.Config{MaxConcurrent: 4}, "", nil)

	w := s.do(http.MethodPost, "/api/analyze/batch", `{"codes":["600519","bogus!","AAPL"],"skip_ai":true}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		SessionID string                 `json:"session_id"`
		Accepted  int                    `json:"accepted"`
		Results   []analysis.BatchResult `json:"results"`
	}
	decode(t, w, &resp)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, 2, resp.Accepted)
	require.Len(t, resp.Results, 3)
	assert.NotEmpty(t, resp.Results[0].TaskID)
	assert.NotEmpty(t, resp.Results[1].Error)
	assert.NotEmpty(t, resp.Results[2].TaskID)

	codes := make([]string, analysis.MaxBatch+1)
	for i := range codes {
		codes[i] = `"AAPL"`
	}
	w = s.do(http.MethodPost, "/api/analyze/batch", `{"codes":[`+strings.Join(codes, ",")+`]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestServer(t, analysis.Config{}, "", nil)

	w := s.do(http.MethodGet, "/api/tasks/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTaskFallsBackToStoredReport(t *testing.T) {
	done := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	store := &stubReports{reports: map[string]*domain.AnalysisReport{
		"old-task": {TaskID: "old-task", CreatedAt: done.Add(-time.Minute), CompletedAt: done},
	}}
	s := newTestServer(t, analysis.Config{}, "", store)

	w := s.do(http.MethodGet, "/api/tasks/old-task", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.TaskInfo
	decode(t, w, &got)
	assert.Equal(t, domain.TaskDone, got.State)
	require.NotNil(t, got.Report)
	assert.Equal(t, "old-task", got.Report.TaskID)
}

func TestCancelTask(t *testing.T) {
	s := newTestServer(t, analysis.Config{}, "", nil)
	s.prices.release = make(chan struct{})
	s.prices.started = make(chan struct{})
	defer close(s.prices.release)

	w := s.do(http.MethodPost, "/api/analyze", `{"code":"AAPL"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp AnalyzeResponse
	decode(t, w, &resp)
	<-s.prices.started

	w = s.do(http.MethodDelete, "/api/tasks/"+resp.TaskID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, string(domain.TaskCancelled), body["state"])

	w = s.do(http.MethodDelete, "/api/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidate(t *testing.T) {
	s := newTestServer(t, analysis.Config{}, "", nil)

	w := s.do(http.MethodGet, "/api/validate/sh600036", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"600036"`)
	assert.Contains(t, w.Body.String(), "CNY")

	w = s.do(http.MethodGet, "/api/validate/990001", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamDeliversTaskEventsUntilDone(t *testing.T) {
	s := newTestServer(t, analysis.Config{}, "", nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	w := s.do(http.MethodPost, "/api/analyze", `{"code":"AAPL","session_id":"sse"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp AnalyzeResponse
	decode(t, w, &resp)

	httpResp, err := http.Get(srv.URL + "/api/stream?task_id=" + resp.TaskID)
	require.NoError(t, err)
	defer httpResp.Body.Close()
	assert.Equal(t, "text/event-stream", httpResp.Header.Get("Content-Type"))

	var kinds []string
	var lastSeq uint64
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			kinds = append(kinds, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			var ev domain.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			assert.Greater(t, ev.Seq, lastSeq)
			lastSeq = ev.Seq
		}
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, string(domain.EventProgress), kinds[0])
	assert.Equal(t, string(domain.EventDone), kinds[len(kinds)-1])
	assert.Contains(t, kinds, string(domain.EventToken))
}

func TestStreamRequiresScope(t *testing.T) {
	s := newTestServer(t, analysis.Config{}, "", nil)

	w := s.do(http.MethodGet, "/api/stream", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/stream?task_id=unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamHeartbeat(t *testing.T) {
	s := newTestServer(t, analysis.Config{}, "", nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream?session_id=idle", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), ": heartbeat") {
			return
		}
	}
	t.Fatal("no heartbeat received")
}

func TestWebSocketDeliversEvents(t *testing.T) {
	s := newTestServer(t, analysis.Config{}, "", nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	w := s.do(http.MethodPost, "/api/analyze", `{"code":"00700","skip_ai":true}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp AnalyzeResponse
	decode(t, w, &resp)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?task_id=" + resp.TaskID
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var last domain.Event
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			require.True(t, errors.As(err, &closeErr), "unexpected read error: %v", err)
			assert.Equal(t, websocket.StatusNormalClosure, closeErr.Code)
			break
		}
		require.NoError(t, json.Unmarshal(data, &last))
		assert.Equal(t, resp.TaskID, last.TaskID)
	}
	assert.Equal(t, domain.EventDone, last.Kind)
}

func TestStatus(t *testing.T) {
	s := newTestServer(t, analysis.Config{MaxConcurrent: 3, QueueSize: 2}, "", nil)

	w := s.do(http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Tasks  analysis.Stats `json:"tasks"`
		Cache  cache.Stats    `json:"cache"`
		Events events.Stats   `json:"events"`
		Uptime string         `json:"uptime"`
	}
	decode(t, w, &body)
	assert.Equal(t, 3, body.Tasks.MaxConcurrent)
	assert.Equal(t, 2, body.Tasks.QueueSize)
	assert.NotEmpty(t, body.Uptime)
}

func TestSystem(t *testing.T) {
	origCPU, origMem := cpuPercentFn, memoryStatsFn
	t.Cleanup(func() { cpuPercentFn, memoryStatsFn = origCPU, origMem })
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		return []float64{12.5}, nil
	}
	memoryStatsFn = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 1000, Used: 250, UsedPercent: 25}, nil
	}

	s := newTestServer(t, analysis.Config{}, "", nil)
	w := s.do(http.MethodGet, "/api/system", "")
	require.Equal(t, http.StatusOK, w.Code)
	var info SystemInfo
	decode(t, w, &info)
	assert.Equal(t, 12.5, info.CPUPercent)
	assert.Equal(t, uint64(250), info.MemoryUsed)
	assert.Equal(t, 25.0, info.MemoryPercent)
	assert.Positive(t, info.Goroutines)

	memoryStatsFn = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return nil, errors.New("no /proc")
	}
	w = s.do(http.MethodGet, "/api/system", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestReportsWithoutStorage(t *testing.T) {
	s := newTestServer(t, analysis.Config{}, "", nil)

	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/api/reports", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/api/reports/x", "").Code)
}

func TestReports(t *testing.T) {
	store := &stubReports{
		reports: map[string]*domain.AnalysisReport{"t1": {TaskID: "t1", AIModel: "template"}},
		rows:    []repository.ReportSummary{{TaskID: "t1", Code: "AAPL", Composite: 61.5}},
	}
	s := newTestServer(t, analysis.Config{}, "", store)

	w := s.do(http.MethodGet, "/api/reports?code=AAPL&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rows []repository.ReportSummary
	decode(t, w, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "AAPL", store.gotCode)

	w = s.do(http.MethodGet, "/api/reports/t1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "template")

	w = s.do(http.MethodGet, "/api/reports/none", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	store.err = errors.New("db down")
	w = s.do(http.MethodGet, "/api/reports", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://dash.example.com"}))
	r.GET("/api/tasks", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dash.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}
