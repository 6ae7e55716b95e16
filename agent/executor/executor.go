package executor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Travel-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Travel-Assistant/agent/state"
	"github.com/tanpawarit/Chative-Travel-Assistant/agent/tool"
)

type Config struct {
	// MaxRetries counts retries after the first attempt, for ErrServiceUnavailable only.
	MaxRetries    int           `envconfig:"MAX_RETRIES" split_words:"true" default:"2"`
	Timeout       time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
	RetryInterval time.Duration `envconfig:"RETRY_INTERVAL" split_words:"true" default:"300ms"`
}

// Scope answers whether an assistant may call a tool.
type Scope interface {
	Allowed(id statex.AssistantID, name string) bool
}

// TurnBudget tracks per-turn counters shared by every call executed in one turn.
type TurnBudget struct {
	SchemaViolations int
}

// Outcome describes what happened to one call. Every non-error outcome has exactly one
// tool result appended to the conversation.
type Outcome struct {
	Call    statex.ToolCall
	Content string
	// Executed is true when the handler completed successfully.
	Executed bool
	// Kind classifies a folded error; KindNone on success.
	Kind           contractx.ErrorKind
	ContextChanged bool
}

type Executor struct {
	tools *tool.Registry
	scope Scope
	cfg   Config
	now   func() time.Time
}

type Option func(*Executor)

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func New(reg *tool.Registry, scope Scope, cfg Config, opts ...Option) (*Executor, error) {
	if reg == nil {
		return nil, errors.New("tool registry is required")
	}
	if scope == nil {
		return nil, errors.New("tool scope is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries must be >= 0", contractx.ErrValidation)
	}
	e := &Executor{tools: reg, scope: scope, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Check runs the scope and argument checks without executing anything. A nil error
// means the call may be executed or suspended for approval.
func (e *Executor) Check(call statex.ToolCall, requestedBy statex.AssistantID) (tool.Definition, error) {
	def, ok := e.tools.Lookup(call.Name)
	if !ok || !e.scope.Allowed(requestedBy, call.Name) {
		return tool.Definition{}, fmt.Errorf("%w: %s is not available to the %s assistant",
			contractx.ErrToolNotAvailable, call.Name, requestedBy)
	}
	if err := def.ValidateArgs(call.Args); err != nil {
		if errors.Is(err, contractx.ErrDomain) {
			return def, err
		}
		return def, fmt.Errorf("%w: %s: %v", contractx.ErrToolInvocation, call.Name, err)
	}
	return def, nil
}

// Reject folds the corrective tool result for a call that failed Check. It returns an
// error when the failure ends the turn.
func (e *Executor) Reject(st *statex.ConversationState, call statex.ToolCall, cause error, budget *TurnBudget) (Outcome, error) {
	kind := contractx.KindOf(cause)
	if kind == contractx.KindToolInvocationError {
		if budget == nil {
			budget = &TurnBudget{}
		}
		budget.SchemaViolations++
		if budget.SchemaViolations > 1 {
			return Outcome{Call: call, Kind: kind}, fmt.Errorf("repeated invalid tool call: %w", cause)
		}
	}

	content := correctiveMessage(kind, cause)
	st.AppendToolResult(call, content, e.now())
	return Outcome{Call: call, Content: content, Kind: kind}, nil
}

// Execute checks, runs and folds one tool call into st.
func (e *Executor) Execute(
	ctx context.Context,
	st *statex.ConversationState,
	call statex.ToolCall,
	requestedBy statex.AssistantID,
	budget *TurnBudget,
) (Outcome, error) {
	if st == nil {
		return Outcome{}, fmt.Errorf("%w: nil conversation state", contractx.ErrInvalidState)
	}
	def, err := e.Check(call, requestedBy)
	if err != nil {
		return e.Reject(st, call, err, budget)
	}
	return e.Run(ctx, st, def, call, requestedBy)
}

// Run executes a call that already passed Check, such as an approved pending call.
func (e *Executor) Run(
	ctx context.Context,
	st *statex.ConversationState,
	def tool.Definition,
	call statex.ToolCall,
	requestedBy statex.AssistantID,
) (Outcome, error) {
	logger := log.Logger.With().
		Str("component", "executor").
		Str("session_id", st.SessionID).
		Str("tool", call.Name).
		Str("call_id", call.ID).
		Logger()

	inv := tool.Invocation{
		Call:        call,
		Assistant:   requestedBy,
		UserContext: maps.Clone(st.UserContext),
	}

	attempt := 0
	res, err := backoff.Retry(ctx, func() (tool.Result, error) {
		attempt++
		attemptCtx := ctx
		if e.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()
		}

		out, err := def.Handler.Execute(attemptCtx, inv)
		switch {
		case err == nil:
			return out, nil
		case ctx.Err() != nil:
			return tool.Result{}, backoff.Permanent(ctx.Err())
		case errors.Is(err, context.DeadlineExceeded):
			err = fmt.Errorf("%w: %s timed out after %s", contractx.ErrServiceUnavailable, call.Name, e.cfg.Timeout)
		case !errors.Is(err, contractx.ErrServiceUnavailable):
			return tool.Result{}, backoff.Permanent(err)
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("tool dependency unavailable")
		return tool.Result{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(e.cfg.RetryInterval)),
		backoff.WithMaxTries(uint(e.cfg.MaxRetries+1)),
	)

	if err != nil {
		switch {
		case ctx.Err() != nil:
			return Outcome{Call: call}, fmt.Errorf("execute %s: %w", call.Name, context.Cause(ctx))
		case errors.Is(err, contractx.ErrServiceUnavailable):
			return Outcome{Call: call, Kind: contractx.KindServiceUnavailable},
				fmt.Errorf("execute %s after %d attempts: %w", call.Name, attempt, err)
		case errors.Is(err, contractx.ErrNonRecoverable):
			return Outcome{Call: call, Kind: contractx.KindToolInvocationError},
				fmt.Errorf("execute %s: %w", call.Name, err)
		}

		kind := contractx.KindOf(err)
		logger.Info().Err(err).Str("kind", string(kind)).Msg("tool returned error")
		content := "Error: " + err.Error()
		st.AppendToolResult(call, content, e.now())
		return Outcome{Call: call, Content: content, Kind: kind}, nil
	}

	changed := false
	if len(res.ContextPatch) > 0 {
		if def.MutatesContext {
			if st.UserContext == nil {
				st.UserContext = make(map[string]string, len(res.ContextPatch))
			}
			for k, v := range res.ContextPatch {
				if st.UserContext[k] != v {
					st.UserContext[k] = v
					changed = true
				}
			}
		} else {
			logger.Warn().Msg("ignoring context patch from a tool that may not mutate context")
		}
	}

	st.AppendToolResult(call, res.Content, e.now())
	logger.Debug().Int("attempts", attempt).Bool("context_changed", changed).Msg("tool executed")
	return Outcome{Call: call, Content: res.Content, Executed: true, ContextChanged: changed}, nil
}

func correctiveMessage(kind contractx.ErrorKind, cause error) string {
	switch kind {
	case contractx.KindToolNotAvailable:
		return fmt.Sprintf("Error: %v. Use only the tools you have been given, or hand control back if the request is outside your scope.", cause)
	case contractx.KindToolInvocationError:
		return fmt.Sprintf("Error: invalid arguments. %v. Fix the arguments and call the tool again.", cause)
	default:
		return "Error: " + cause.Error()
	}
}
