package advisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Prompt is the structured request handed to an AI capability.
type Prompt struct {
	System string
	User   string
	Data   PromptData
}

// TokenStream yields incremental text. Next returning false with a nil Err
// is the end marker.
type TokenStream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// AICapability produces a streamed analysis for a prompt.
type AICapability interface {
	Name() string
	Stream(ctx context.Context, p Prompt) (TokenStream, error)
}

// chunkStream is the subset of the SDK's SSE stream the streamer reads.
type chunkStream interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

type streamFunc func(ctx context.Context, params openai.ChatCompletionNewParams) chunkStream

// OpenAIConfig configures the chat completion streamer.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// OpenAIStreamer streams chat completions from OpenAI or a compatible API.
type OpenAIStreamer struct {
	tracer      trace.Tracer
	stream      streamFunc
	model       string
	maxTokens   int
	temperature float64
}

func NewOpenAIStreamer(tracer trace.Tracer, cfg OpenAIConfig) *OpenAIStreamer {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return newOpenAIStreamer(tracer, cfg, func(ctx context.Context, params openai.ChatCompletionNewParams) chunkStream {
		return client.Chat.Completions.NewStreaming(ctx, params)
	})
}

func newOpenAIStreamer(tracer trace.Tracer, cfg OpenAIConfig, fn streamFunc) *OpenAIStreamer {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	return &OpenAIStreamer{
		tracer:      tracer,
		stream:      fn,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (s *OpenAIStreamer) Name() string { return "openai:" + s.model }

func (s *OpenAIStreamer) Stream(ctx context.Context, p Prompt) (TokenStream, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.stream")
	span.SetAttributes(
		attribute.String("llm.model", s.model),
		attribute.Int("llm.prompt_length", len(p.System)+len(p.User)),
	)

	params := openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.System),
			openai.UserMessage(p.User),
		},
		MaxTokens:   openai.Int(int64(s.maxTokens)),
		Temperature: openai.Float(s.temperature),
	}
	src := s.stream(ctx, params)
	if src == nil {
		span.End()
		return nil, fmt.Errorf("openai stream unavailable")
	}
	return &openAIStream{src: src, span: span}, nil
}

type openAIStream struct {
	src    chunkStream
	span   trace.Span
	cur    string
	tokens int
	closed bool
}

func (s *openAIStream) Next() bool {
	for s.src.Next() {
		chunk := s.src.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			s.cur = text
			s.tokens++
			return true
		}
	}
	s.cur = ""
	return false
}

func (s *openAIStream) Current() string { return s.cur }

func (s *openAIStream) Err() error { return s.src.Err() }

func (s *openAIStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.src.Err(); err != nil {
		s.span.RecordError(err)
	}
	s.span.SetAttributes(attribute.Int("llm.tokens", s.tokens))
	s.span.End()
	return s.src.Close()
}

// Collect drains a stream into a single string.
func Collect(ts TokenStream) (string, error) {
	defer ts.Close()
	var sb strings.Builder
	for ts.Next() {
		sb.WriteString(ts.Current())
	}
	return sb.String(), ts.Err()
}
