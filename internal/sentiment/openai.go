package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"stockpulse/internal/domain"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const scorerSystemPrompt = "You score stock market news sentiment for the named company. Return ONLY a JSON array. Each object requires: id (int), score (-1..1). No markdown."

type chatClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// OpenAIScorer asks a chat model to score a batch of headlines.
type OpenAIScorer struct {
	client chatClient
	model  string
}

// NewOpenAIScorer returns nil when no API key is configured.
func NewOpenAIScorer(apiKey, model, baseURL string) *OpenAIScorer {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil
	}
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIScorer{client: &openAIClient{client: client}, model: model}
}

// ScoreIndexed returns scores keyed by item index. Items the model skipped
// are absent from the map.
func (s *OpenAIScorer) ScoreIndexed(ctx context.Context, items []domain.NewsItem) (map[int]float64, error) {
	if s == nil || s.client == nil || len(items) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	for i, item := range items {
		fmt.Fprintf(&sb, "id=%d\n", i)
		fmt.Fprintf(&sb, "title=%s\n", strings.TrimSpace(item.Headline))
		fmt.Fprintf(&sb, "summary=%s\n\n", strings.TrimSpace(item.Summary))
	}

	completion, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(scorerSystemPrompt),
			openai.UserMessage("Items:\n" + sb.String()),
		},
	})
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("empty scorer completion")
	}

	raw := trimCodeFence(completion.Choices[0].Message.Content)
	var parsed []struct {
		ID    int     `json:"id"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse scorer json: %w", err)
	}

	out := make(map[int]float64, len(parsed))
	for _, row := range parsed {
		if row.ID < 0 || row.ID >= len(items) {
			continue
		}
		out[row.ID] = clamp(row.Score, -1, 1)
	}
	return out, nil
}

func trimCodeFence(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "```") {
		v = strings.TrimPrefix(v, "```")
		v = strings.TrimSpace(v)
		if strings.HasPrefix(strings.ToLower(v), "json") {
			v = strings.TrimSpace(v[4:])
		}
		v = strings.TrimSuffix(v, "```")
		v = strings.TrimSpace(v)
	}
	return v
}

type openAIClient struct {
	client openai.Client
}

func (c *openAIClient) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
