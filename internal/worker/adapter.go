// Package worker implements pipeline workers on an LLM with tool calling.
//
// The Adapter converts a thread transcript into a chat conversation, lets
// the model call the tools allowed by the node's profile, and returns the
// tool call, tool result and final agent turns it produced.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/fleetd/internal/config"
	"github.com/fyrsmithlabs/fleetd/internal/fleet"
	"github.com/fyrsmithlabs/fleetd/internal/logging"
	"github.com/fyrsmithlabs/fleetd/internal/orchestrator"
	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

const (
	defaultMaxToolRounds = 5
	defaultToolTimeout   = 10 * time.Second
	defaultRateLimit     = 2.0
	defaultBurst         = 4
)

// RoundLimitMessage is the final turn content when the model keeps asking
// for tools past the round limit.
const RoundLimitMessage = "ERROR: tool round limit reached."

// ErrInvalidConfig indicates invalid configuration
var ErrInvalidConfig = errors.New("invalid worker configuration")

// Tools resolves and executes tools by name. *fleet.Registry implements it.
type Tools interface {
	Definitions(names []string) ([]fleet.Tool, error)
	Invoke(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// Config configures an Adapter.
type Config struct {
	// Model is the chat model. Required.
	Model llms.Model

	Temperature       float64
	MaxToolRounds     int
	ToolTimeout       time.Duration
	RequestsPerSecond float64
	Burst             int

	Logger *logging.Logger
}

// ConfigFromSettings maps the llm config section onto an adapter config
// for model.
func ConfigFromSettings(s config.LLMConfig, model llms.Model, logger *logging.Logger) Config {
	return Config{
		Model:             model,
		Temperature:       s.Temperature,
		MaxToolRounds:     s.MaxToolRounds,
		ToolTimeout:       s.ToolTimeout.Duration(),
		RequestsPerSecond: s.RequestsPerSecond,
		Burst:             s.Burst,
		Logger:            logger,
	}
}

// NewOpenAIModel creates a client for an OpenAI-compatible endpoint such as
// Ollama's /v1 API.
func NewOpenAIModel(s config.LLMConfig) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(s.Model),
		openai.WithToken(s.APIKey.Value()),
	}
	if s.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(s.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return llm, nil
}

// Adapter is an orchestrator.Worker backed by a chat model. One Adapter
// serves every node; behaviour comes from the request's profile.
type Adapter struct {
	model       llms.Model
	tools       Tools
	temperature float64
	maxRounds   int
	toolTimeout time.Duration
	limiter     *rate.Limiter
	logger      *logging.Logger
}

// New creates an adapter.
func New(cfg Config, tools Tools) (*Adapter, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	if tools == nil {
		return nil, fmt.Errorf("%w: tools are required", ErrInvalidConfig)
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaultMaxToolRounds
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaultToolTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &Adapter{
		model:       cfg.Model,
		tools:       tools,
		temperature: cfg.Temperature,
		maxRounds:   cfg.MaxToolRounds,
		toolTimeout: cfg.ToolTimeout,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:      cfg.Logger.Named("worker"),
	}, nil
}

// Run executes one worker step for req.Node.
func (a *Adapter) Run(ctx context.Context, req orchestrator.WorkerRequest) ([]transcript.Turn, error) {
	defs, err := a.tools.Definitions(req.Profile.Tools)
	if err != nil {
		return nil, fmt.Errorf("resolving tools for %s: %w", req.Node, err)
	}
	opts := []llms.CallOption{llms.WithTemperature(a.temperature)}
	if len(defs) > 0 {
		opts = append(opts, llms.WithTools(toolDefinitions(defs)))
	}

	messages := toMessages(req.Profile.Instructions, req.Transcript)
	var out []transcript.Turn
	for round := 0; ; round++ {
		choice, err := a.generate(ctx, messages, opts)
		if err != nil {
			return nil, err
		}
		if len(choice.ToolCalls) == 0 {
			return append(out, transcript.AgentTurn(choice.Content)), nil
		}
		if round >= a.maxRounds {
			a.logger.Warn(ctx, "tool round limit reached", zap.Int("rounds", round))
			content := choice.Content
			if content == "" {
				content = RoundLimitMessage
			}
			return append(out, transcript.AgentTurn(content)), nil
		}

		calls := make([]transcript.ToolCall, 0, len(choice.ToolCalls))
		for _, tc := range choice.ToolCalls {
			calls = append(calls, toToolCall(tc))
		}
		turn := transcript.AgentTurn(choice.Content, calls...)
		out = append(out, turn)
		messages = append(messages, agentMessage(turn))

		for _, call := range calls {
			result := transcript.ToolTurn(call.ID, a.callTool(ctx, req.Profile, call))
			out = append(out, result)
			messages = append(messages, toolMessage(call.Name, result))
		}
	}
}

func (a *Adapter) generate(ctx context.Context, messages []llms.MessageContent, opts []llms.CallOption) (*llms.ContentChoice, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}
	resp, err := a.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", orchestrator.ErrWorkerUnavailable, err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, fmt.Errorf("%w: empty response from model", orchestrator.ErrWorkerUnavailable)
	}
	return resp.Choices[0], nil
}

// callTool runs one call under the tool timeout. Failures become ERROR
// content so the router sees the absence of a success marker.
func (a *Adapter) callTool(ctx context.Context, profile orchestrator.Profile, call transcript.ToolCall) string {
	if !profile.Allows(call.Name) {
		a.logger.Warn(ctx, "tool refused", zap.String("tool", call.Name))
		return fmt.Sprintf("ERROR: tool %s is not available to this worker.", call.Name)
	}
	if len(call.Args) == 0 {
		return fmt.Sprintf("ERROR: tool %s was called with malformed arguments.", call.Name)
	}

	tctx, cancel := context.WithTimeout(ctx, a.toolTimeout)
	defer cancel()

	start := time.Now()
	result, err := a.tools.Invoke(tctx, call.Name, call.Args)
	fields := []zap.Field{zap.String("tool", call.Name), zap.Duration("duration", time.Since(start))}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		a.logger.Warn(ctx, "tool timed out", fields...)
		return fmt.Sprintf("ERROR: tool %s timed out.", call.Name)
	case err != nil:
		a.logger.Info(ctx, "tool failed", append(fields, zap.Error(err))...)
		return "ERROR: " + err.Error()
	}
	a.logger.Debug(ctx, "tool called", fields...)
	return result
}

func toolDefinitions(defs []fleet.Tool) []llms.Tool {
	out := make([]llms.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

// toToolCall converts a model tool call. Arguments that are not valid JSON
// are dropped; callTool reports them back to the model.
func toToolCall(tc llms.ToolCall) transcript.ToolCall {
	id := tc.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	call := transcript.ToolCall{ID: id}
	if tc.FunctionCall != nil {
		call.Name = tc.FunctionCall.Name
		args := strings.TrimSpace(tc.FunctionCall.Arguments)
		if args == "" {
			args = "{}"
		}
		if json.Valid([]byte(args)) {
			call.Args = json.RawMessage(args)
		}
	}
	if call.Name == "" {
		call.Name = "unknown"
	}
	return call
}

// toMessages renders the transcript as a chat conversation.
func toMessages(instructions string, turns []transcript.Turn) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(turns)+1)
	if instructions != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, instructions))
	}

	names := make(map[string]string)
	for _, t := range turns {
		switch t.Role {
		case transcript.RoleHuman:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, t.Content))
		case transcript.RoleAgent:
			for _, c := range t.ToolCalls {
				names[c.ID] = c.Name
			}
			messages = append(messages, agentMessage(t))
		case transcript.RoleTool:
			messages = append(messages, toolMessage(names[t.ToolCallID], t))
		}
	}
	return messages
}

func agentMessage(t transcript.Turn) llms.MessageContent {
	msg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
	if t.Content != "" || !t.HasToolCalls() {
		msg.Parts = append(msg.Parts, llms.TextContent{Text: t.Content})
	}
	for _, c := range t.ToolCalls {
		args := string(c.Args)
		if args == "" {
			args = "{}"
		}
		msg.Parts = append(msg.Parts, llms.ToolCall{
			ID:   c.ID,
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      c.Name,
				Arguments: args,
			},
		})
	}
	return msg
}

func toolMessage(name string, t transcript.Turn) llms.MessageContent {
	return llms.MessageContent{
		Role: llms.ChatMessageTypeTool,
		Parts: []llms.ContentPart{llms.ToolCallResponse{
			ToolCallID: t.ToolCallID,
			Name:       name,
			Content:    t.Content,
		}},
	}
}
