package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Travel-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Travel-Assistant/agent/state"
)

// ModelFactory returns the chat model an assistant runs on.
type ModelFactory func(ctx context.Context, id statex.AssistantID) (einomodel.ToolCallingChatModel, error)

type Config struct {
	// MaxRetries counts retries after the first attempt.
	MaxRetries    int
	Timeout       time.Duration
	RetryInterval time.Duration
}

// Adapter implements contract.CompletionService on top of eino chat models.
type Adapter struct {
	cfg    Config
	models ModelFactory

	mu      sync.Mutex
	base    map[statex.AssistantID]einomodel.ToolCallingChatModel
	runners map[runnerKey]compose.Runnable[map[string]any, *schema.Message]
}

var _ contractx.CompletionService = (*Adapter)(nil)

type runnerKey struct {
	assistant statex.AssistantID
	persona   string
	tools     string
}

func NewAdapter(models ModelFactory, cfg Config) (*Adapter, error) {
	if models == nil {
		return nil, fmt.Errorf("%w: model factory is required", contractx.ErrValidation)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries must be >= 0", contractx.ErrValidation)
	}
	return &Adapter{
		cfg:     cfg,
		models:  models,
		base:    make(map[statex.AssistantID]einomodel.ToolCallingChatModel),
		runners: make(map[runnerKey]compose.Runnable[map[string]any, *schema.Message]),
	}, nil
}

func (a *Adapter) Complete(ctx context.Context, req contractx.CompletionRequest) (contractx.CompletionResponse, error) {
	if req.Assistant == "" {
		return contractx.CompletionResponse{}, fmt.Errorf("%w: assistant is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(req.Persona) == "" {
		return contractx.CompletionResponse{}, fmt.Errorf("%w: persona for %s", contractx.ErrPromptMissing, req.Assistant)
	}

	runner, err := a.runner(ctx, req)
	if err != nil {
		return contractx.CompletionResponse{}, err
	}

	input := make(map[string]any, len(req.Variables)+1)
	for k, v := range req.Variables {
		input[k] = v
	}
	input[historyKey] = toSchemaMessages(req.Messages)

	logger := log.Logger.With().
		Str("component", "completion").
		Str("assistant", string(req.Assistant)).
		Logger()

	attempt := 0
	resp, err := backoff.Retry(ctx, func() (contractx.CompletionResponse, error) {
		attempt++
		attemptCtx := ctx
		if a.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
			defer cancel()
		}

		msg, err := runner.Invoke(attemptCtx, input)
		if err != nil {
			if ctx.Err() != nil {
				return contractx.CompletionResponse{}, backoff.Permanent(ctx.Err())
			}
			logger.Warn().Err(err).Int("attempt", attempt).Msg("completion attempt failed")
			return contractx.CompletionResponse{}, err
		}
		out, err := fromSchemaMessage(msg)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("completion returned malformed tool call")
			return contractx.CompletionResponse{}, err
		}
		for id, reason := range out.InvalidArgs {
			logger.Warn().Str("call_id", id).Str("reason", reason).Msg("tool call arguments are not valid JSON")
		}
		return out, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(a.cfg.RetryInterval)),
		backoff.WithMaxTries(uint(a.cfg.MaxRetries+1)),
	)
	if err != nil {
		if ctx.Err() != nil {
			return contractx.CompletionResponse{}, fmt.Errorf("completion for %s: %w", req.Assistant, context.Cause(ctx))
		}
		return contractx.CompletionResponse{}, fmt.Errorf("%w: completion for %s failed after %d attempts: %v",
			contractx.ErrServiceUnavailable, req.Assistant, attempt, err)
	}

	logger.Debug().
		Int("attempts", attempt).
		Int("tool_calls", len(resp.ToolCalls)).
		Msg("completion done")
	return resp, nil
}

func (a *Adapter) runner(ctx context.Context, req contractx.CompletionRequest) (compose.Runnable[map[string]any, *schema.Message], error) {
	key := runnerKey{
		assistant: req.Assistant,
		persona:   req.Persona,
		tools:     toolFingerprint(req.Tools),
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if r, ok := a.runners[key]; ok {
		return r, nil
	}

	chatModel, ok := a.base[req.Assistant]
	if !ok {
		m, err := a.models(ctx, req.Assistant)
		if err != nil {
			return nil, fmt.Errorf("%w: create model for %s: %v", contractx.ErrModelInvoke, req.Assistant, err)
		}
		a.base[req.Assistant] = m
		chatModel = m
	}

	bound := chatModel
	if len(req.Tools) > 0 {
		m, err := chatModel.WithTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools for %s: %v", contractx.ErrModelInvoke, req.Assistant, err)
		}
		bound = m
	}

	r, err := compileAssistantGraph(ctx, bound, req.Persona, "assistant."+string(req.Assistant))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	a.runners[key] = r
	return r, nil
}

func toolFingerprint(tools []*schema.ToolInfo) string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		if t != nil {
			names = append(names, t.Name)
		}
	}
	return strings.Join(names, ",")
}

/* ------------------------------ Conversions ------------------------------- */

func toSchemaMessages(msgs []statex.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case statex.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case statex.RoleAssistant:
			out = append(out, &schema.Message{
				Role:      schema.Assistant,
				Content:   m.Content,
				ToolCalls: toSchemaToolCalls(m.ToolCalls),
			})
		case statex.RoleTool:
			out = append(out, schema.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func toSchemaToolCalls(calls []statex.ToolCall) []schema.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schema.ToolCall, 0, len(calls))
	for _, c := range calls {
		args := "{}"
		if len(c.Args) > 0 {
			if raw, err := json.Marshal(c.Args); err == nil {
				args = string(raw)
			}
		}
		out = append(out, schema.ToolCall{
			ID:   c.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      c.Name,
				Arguments: args,
			},
		})
	}
	return out
}

var errEmptyToolName = errors.New("tool call name is empty")

func fromSchemaMessage(msg *schema.Message) (contractx.CompletionResponse, error) {
	if msg == nil {
		return contractx.CompletionResponse{}, nil
	}
	calls := make([]statex.ToolCall, 0, len(msg.ToolCalls))
	var invalid map[string]string
	for _, tc := range msg.ToolCalls {
		name := strings.TrimSpace(tc.Function.Name)
		if name == "" {
			return contractx.CompletionResponse{}, fmt.Errorf("%w: %w", contractx.ErrSchemaViolation, errEmptyToolName)
		}

		id := strings.TrimSpace(tc.ID)
		if id == "" {
			id = uuid.NewString()
		}

		// Unparseable arguments are kept on the call so the driver can answer it with a correction.
		args := map[string]any{}
		if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				if invalid == nil {
					invalid = make(map[string]string)
				}
				invalid[id] = err.Error()
				args = nil
			}
		}
		calls = append(calls, statex.ToolCall{ID: id, Name: name, Args: args})
	}
	if len(calls) == 0 {
		calls = nil
	}
	return contractx.CompletionResponse{
		Reply:       strings.TrimSpace(msg.Content),
		ToolCalls:   calls,
		InvalidArgs: invalid,
	}, nil
}
