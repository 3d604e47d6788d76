package advisor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"stockpulse/internal/domain"

	"github.com/openai/openai-go"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type fakeChunks struct {
	chunks []openai.ChatCompletionChunk
	pos    int
	err    error
	closed bool
}

func (f *fakeChunks) Next() bool {
	if f.pos >= len(f.chunks) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeChunks) Current() openai.ChatCompletionChunk { return f.chunks[f.pos-1] }
func (f *fakeChunks) Err() error                          { return f.err }
func (f *fakeChunks) Close() error                        { f.closed = true; return nil }

func chunk(text string) openai.ChatCompletionChunk {
	return openai.ChatCompletionChunk{
		Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatCompletionChunkChoiceDelta{Content: text}}},
	}
}

func testTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("test")
}

func TestOpenAIStreamerForwardsDeltas(t *testing.T) {
	src := &fakeChunks{chunks: []openai.ChatCompletionChunk{chunk("Hello"), {}, chunk(""), chunk(" world")}}
	var captured openai.ChatCompletionNewParams
	s := newOpenAIStreamer(testTracer(), OpenAIConfig{Model: "gpt-test", MaxTokens: 100, Temperature: 0.2},
		func(ctx context.Context, params openai.ChatCompletionNewParams) chunkStream {
			captured = params
			return src
		})

	ts, err := s.Stream(context.Background(), Prompt{System: "sys", User: "go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text, err := Collect(ts)
	if err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if text != "Hello world" {
		t.Fatalf("unexpected text %q", text)
	}
	if !src.closed {
		t.Fatal("expected source to be closed")
	}
	if captured.Model != "gpt-test" || len(captured.Messages) != 2 {
		t.Fatalf("unexpected params %+v", captured)
	}
	if s.Name() != "openai:gpt-test" {
		t.Fatalf("unexpected name %s", s.Name())
	}
}

func TestOpenAIStreamerSurfacesError(t *testing.T) {
	boom := errors.New("stream reset")
	src := &fakeChunks{chunks: []openai.ChatCompletionChunk{chunk("partial")}, err: boom}
	s := newOpenAIStreamer(testTracer(), OpenAIConfig{}, func(ctx context.Context, params openai.ChatCompletionNewParams) chunkStream {
		return src
	})

	ts, err := s.Stream(context.Background(), Prompt{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text, err := Collect(ts)
	if !errors.Is(err, boom) {
		t.Fatalf("expected stream error, got %v", err)
	}
	if text != "partial" {
		t.Fatalf("expected partial text, got %q", text)
	}
}

func TestOpenAIStreamerRequestRunsInsideSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	var requestCtx context.Context
	s := newOpenAIStreamer(tp.Tracer("test"), OpenAIConfig{}, func(ctx context.Context, params openai.ChatCompletionNewParams) chunkStream {
		requestCtx = ctx
		return &fakeChunks{chunks: []openai.ChatCompletionChunk{chunk("ok")}}
	})

	ts, err := s.Stream(context.Background(), Prompt{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Collect(ts); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}

	ended := rec.Ended()
	if len(ended) != 1 || ended[0].Name() != "advisor.stream" {
		t.Fatalf("expected one advisor.stream span, got %d", len(ended))
	}
	got := trace.SpanContextFromContext(requestCtx)
	if !got.IsValid() || got.SpanID() != ended[0].SpanContext().SpanID() {
		t.Fatalf("request context does not carry the advisor.stream span: %v", got)
	}
}

func sampleData() PromptData {
	fund := 70.0
	return PromptData{
		Instrument: domain.Instrument{CanonicalCode: "600519", Market: domain.MarketAShare, Exchange: domain.ExchangeShanghai},
		MarketInfo: domain.MarketInfo{Currency: "CNY"},
		PriceInfo:  domain.PriceInfo{CurrentPrice: 1688, PreviousClose: 1670, ChangePct: 1.08, VolumeRatio: 1.4, Volatility: 0.21},
		Technical:  domain.TechnicalIndicators{Trend: "bullish", RSI: 75, MACDHist: 0.4},
		Fundamentals: map[string]float64{
			"roe":      31.2,
			"pe_ratio": 24.5,
		},
		Scores: domain.Scores{
			Technical:      65,
			Fundamental:    &fund,
			Composite:      67.5,
			Weights:        map[string]float64{"technical": 0.5, "fundamental": 0.5},
			Recommendation: "buy",
		},
		Degraded: []domain.DataKind{domain.KindNews},
	}
}

func TestTemplateStreamerRendersReport(t *testing.T) {
	ts, err := NewTemplateStreamer().Stream(context.Background(), Prompt{Data: sampleData()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var tokens int
	var sb strings.Builder
	for ts.Next() {
		tokens++
		sb.WriteString(ts.Current())
	}
	if ts.Err() != nil {
		t.Fatalf("unexpected error: %v", ts.Err())
	}
	text := sb.String()
	if tokens < 5 {
		t.Fatalf("expected line tokens, got %d", tokens)
	}
	for _, want := range []string{"600519", "67.5", "overbought", "News data unavailable", "Degraded inputs: news"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in report:\n%s", want, text)
		}
	}
	if text != RenderReport(sampleData()) {
		t.Fatal("expected streamed text to equal the rendered report")
	}
}

func TestTemplateStreamerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ts, _ := NewTemplateStreamer().Stream(ctx, Prompt{Data: sampleData()})
	if !ts.Next() {
		t.Fatal("expected first token")
	}
	cancel()
	if ts.Next() {
		t.Fatal("expected stream to stop after cancel")
	}
	if !errors.Is(ts.Err(), context.Canceled) {
		t.Fatalf("expected context error, got %v", ts.Err())
	}
}
