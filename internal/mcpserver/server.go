// Package mcpserver exposes the analysis core as Model Context Protocol
// tools so assistants can request and read stock analyses.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockpulse/internal/advisor"
	"stockpulse/internal/analysis"
	"stockpulse/internal/domain"
	"stockpulse/internal/normalizer"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

const (
	sessionID          = "mcp"
	defaultWait        = 120 * time.Second
	maxWait            = 10 * time.Minute
	implementationName = "stockpulse"
)

// Tasks is the part of the task manager the tools call.
type Tasks interface {
	Submit(raw string, opts analysis.Options) (*analysis.Task, error)
	Wait(ctx context.Context, id string) (domain.TaskInfo, error)
	Snapshot(id string) (domain.TaskInfo, error)
	Cancel(id string) error
	List() []domain.TaskInfo
}

type CodeInput struct {
	Code string `json:"code" jsonschema:"stock code such as 600519, 00700 or AAPL"`
}

type CodeOutput struct {
	Valid         bool   `json:"valid"`
	CanonicalCode string `json:"canonical_code,omitempty"`
	Market        string `json:"market,omitempty"`
	Exchange      string `json:"exchange,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type AnalyzeInput struct {
	Code        string `json:"code" jsonschema:"stock code such as 600519, 00700 or AAPL"`
	WaitSeconds int    `json:"wait_seconds,omitempty" jsonschema:"seconds to wait for the report, 120 when unset"`
	SkipAI      bool   `json:"skip_ai,omitempty" jsonschema:"render the offline template instead of calling the language model"`
}

type TaskInput struct {
	TaskID string `json:"task_id" jsonschema:"id returned by analyze_stock"`
}

type TaskOutput struct {
	TaskID         string   `json:"task_id"`
	Code           string   `json:"code"`
	Market         string   `json:"market"`
	State          string   `json:"state"`
	Error          string   `json:"error,omitempty"`
	Composite      *float64 `json:"composite,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	Summary        string   `json:"summary,omitempty"`
}

type ListOutput struct {
	Tasks []TaskOutput `json:"tasks"`
}

type tools struct {
	tasks Tasks
	log   zerolog.Logger
}

// New builds the server and registers every tool.
func New(tasks Tasks, version string, log zerolog.Logger) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: implementationName, Version: version}, nil)
	t := &tools{tasks: tasks, log: log.With().Str("component", "mcp").Logger()}

	mcp.AddTool(s, &mcp.Tool{
		Name:        "validate_code",
		Description: "Normalize a stock code and report its market and exchange without starting an analysis.",
	}, t.validateCode)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "analyze_stock",
		Description: "Run a full analysis of one stock and return the scored report once it finishes.",
	}, t.analyzeStock)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_task_status",
		Description: "Report the state of an analysis task and its result when finished.",
	}, t.taskStatus)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "cancel_analysis",
		Description: "Cancel a queued or running analysis task.",
	}, t.cancel)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_tasks",
		Description: "List the analysis tasks currently retained by the server.",
	}, t.list)
	return s
}

func (t *tools) validateCode(_ context.Context, _ *mcp.CallToolRequest, in CodeInput) (*mcp.CallToolResult, CodeOutput, error) {
	inst, err := normalizer.Normalize(in.Code)
	if err != nil {
		return nil, CodeOutput{Valid: false, Reason: err.Error()}, nil
	}
	return nil, CodeOutput{
		Valid:         true,
		CanonicalCode: inst.CanonicalCode,
		Market:        string(inst.Market),
		Exchange:      inst.Exchange,
	}, nil
}

func (t *tools) analyzeStock(ctx context.Context, _ *mcp.CallToolRequest, in AnalyzeInput) (*mcp.CallToolResult, TaskOutput, error) {
	task, err := t.tasks.Submit(in.Code, analysis.Options{SessionID: sessionID, SkipAI: in.SkipAI})
	if err != nil {
		return nil, TaskOutput{}, fmt.Errorf("submit %s: %w", in.Code, err)
	}
	id := task.ID()
	t.log.Info().Str("task_id", id).Str("code", in.Code).Msg("analysis requested")

	wait := defaultWait
	if in.WaitSeconds > 0 {
		wait = min(time.Duration(in.WaitSeconds)*time.Second, maxWait)
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	info, err := t.tasks.Wait(waitCtx, id)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, TaskOutput{}, err
	}
	// A task still running after the wait is reported as is and can be
	// polled with get_task_status.
	return nil, taskOutput(info), nil
}

func (t *tools) taskStatus(_ context.Context, _ *mcp.CallToolRequest, in TaskInput) (*mcp.CallToolResult, TaskOutput, error) {
	info, err := t.tasks.Snapshot(in.TaskID)
	if err != nil {
		return nil, TaskOutput{}, fmt.Errorf("task %s: %w", in.TaskID, err)
	}
	return nil, taskOutput(info), nil
}

func (t *tools) cancel(_ context.Context, _ *mcp.CallToolRequest, in TaskInput) (*mcp.CallToolResult, TaskOutput, error) {
	if err := t.tasks.Cancel(in.TaskID); err != nil {
		return nil, TaskOutput{}, fmt.Errorf("cancel %s: %w", in.TaskID, err)
	}
	info, err := t.tasks.Snapshot(in.TaskID)
	if err != nil {
		return nil, TaskOutput{TaskID: in.TaskID, State: string(domain.TaskCancelled)}, nil
	}
	return nil, taskOutput(info), nil
}

func (t *tools) list(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, ListOutput, error) {
	infos := t.tasks.List()
	out := ListOutput{Tasks: make([]TaskOutput, 0, len(infos))}
	for _, info := range infos {
		o := taskOutput(info)
		o.Summary = ""
		out.Tasks = append(out.Tasks, o)
	}
	return nil, out, nil
}

func taskOutput(info domain.TaskInfo) TaskOutput {
	out := TaskOutput{
		TaskID: info.ID,
		Code:   info.Instrument.CanonicalCode,
		Market: string(info.Instrument.Market),
		State:  string(info.State),
		Error:  info.Error,
	}
	if r := info.Report; r != nil {
		composite := r.Scores.Composite
		out.Composite = &composite
		out.Recommendation = r.Scores.Recommendation
		out.Summary = advisor.Summary(r)
	}
	return out
}
