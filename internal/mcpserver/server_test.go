package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stockpulse/internal/advisor"
	"stockpulse/internal/analysis"
	"stockpulse/internal/domain"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type prices struct{ release chan struct{} }

func (p *prices) Fetch(ctx context.Context, inst domain.Instrument, r domain.DateRange) (*domain.PriceSeries, error) {
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	points := make([]domain.PricePoint, 40)
	for i := range points {
		c := 100 + float64(i)/2
		points[i] = domain.PricePoint{Date: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return &domain.PriceSeries{Instrument: inst, Points: points, Provider: "yahoo"}, nil
}

type fundamentals struct{}

func (fundamentals) Fetch(ctx context.Context, inst domain.Instrument) (*domain.Fundamentals, error) {
	return nil, domain.ErrNotFound
}

type news struct{}

func (news) Fetch(ctx context.Context, inst domain.Instrument, days int) (*domain.NewsRecord, error) {
	return nil, domain.ErrNotFound
}

func connect(t *testing.T, p *prices) (*mcp.ClientSession, *analysis.Manager) {
	t.Helper()
	m := analysis.NewManager(analysis.Config{MaxConcurrent: 2}, analysis.Deps{
		Prices:       p,
		Fundamentals: fundamentals{},
		News:         news{},
		AI:           advisor.NewTemplateStreamer(),
		Logger:       zerolog.Nop(),
	})
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := New(m, "test", zerolog.Nop()).Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = session.Close()
		_ = serverSession.Wait()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(shutdownCtx)
	})
	return session, m
}

func call[T any](t *testing.T, s *mcp.ClientSession, name string, args map[string]any) (T, *mcp.CallToolResult) {
	t.Helper()
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	var out T
	if !res.IsError {
		raw, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return out, res
}

func TestListsTools(t *testing.T) {
	s, _ := connect(t, &prices{})
	res, err := s.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"validate_code", "analyze_stock", "get_task_status", "cancel_analysis", "list_tasks"}, names)
}

func TestValidateCode(t *testing.T) {
	s, _ := connect(t, &prices{})

	out, _ := call[CodeOutput](t, s, "validate_code", map[string]any{"code": "700.HK"})
	assert.True(t, out.Valid)
	assert.Equal(t, "00700", out.CanonicalCode)
	assert.Equal(t, string(domain.MarketHK), out.Market)

	out, _ = call[CodeOutput](t, s, "validate_code", map[string]any{"code": "$$$"})
	assert.False(t, out.Valid)
	assert.NotEmpty(t, out.Reason)
}

func TestAnalyzeStockReturnsReport(t *testing.T) {
	s, _ := connect(t, &prices{})

	out, res := call[TaskOutput](t, s, "analyze_stock", map[string]any{"code": "AAPL", "skip_ai": true})
	require.False(t, res.IsError)
	assert.Equal(t, string(domain.TaskDone), out.State)
	assert.Equal(t, "AAPL", out.Code)
	require.NotNil(t, out.Composite)
	assert.NotEmpty(t, out.Recommendation)
	assert.Contains(t, out.Summary, "AAPL (US)")
}

func TestAnalyzeStockInvalidCodeIsToolError(t *testing.T) {
	s, _ := connect(t, &prices{})

	_, res := call[TaskOutput](t, s, "analyze_stock", map[string]any{"code": "1234567"})
	assert.True(t, res.IsError)
}

func TestAnalyzeStockReturnsRunningTaskAfterWait(t *testing.T) {
	p := &prices{release: make(chan struct{})}
	s, _ := connect(t, p)
	defer close(p.release)

	out, res := call[TaskOutput](t, s, "analyze_stock", map[string]any{"code": "600519", "wait_seconds": 1})
	require.False(t, res.IsError)
	assert.Equal(t, string(domain.TaskFetching), out.State)
	require.NotEmpty(t, out.TaskID)

	status, _ := call[TaskOutput](t, s, "get_task_status", map[string]any{"task_id": out.TaskID})
	assert.Equal(t, out.TaskID, status.TaskID)

	listed, _ := call[ListOutput](t, s, "list_tasks", map[string]any{})
	require.Len(t, listed.Tasks, 1)
	assert.Equal(t, "600519", listed.Tasks[0].Code)
}

func TestCancelAnalysis(t *testing.T) {
	p := &prices{release: make(chan struct{})}
	s, m := connect(t, p)
	defer close(p.release)

	task, err := m.Submit("00700", analysis.Options{SessionID: "mcp"})
	require.NoError(t, err)

	_, res := call[TaskOutput](t, s, "cancel_analysis", map[string]any{"task_id": task.ID()})
	require.False(t, res.IsError)
	require.Eventually(t, func() bool {
		return task.State() == domain.TaskCancelled
	}, 2*time.Second, 10*time.Millisecond)

	_, res = call[TaskOutput](t, s, "get_task_status", map[string]any{"task_id": "missing"})
	assert.True(t, res.IsError)
}

func TestBearerAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := bearerAuth("s3cret", next)

	for header, want := range map[string]int{
		"":              http.StatusUnauthorized,
		"Bearer wrong":  http.StatusUnauthorized,
		"Basic s3cret":  http.StatusUnauthorized,
		"Bearer s3cret": http.StatusTeapot,
	} {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, header)
	}
}
