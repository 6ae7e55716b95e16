package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	assistantx "github.com/tanpawarit/Chative-Travel-Assistant/agent/agents/assistant"
	"github.com/tanpawarit/Chative-Travel-Assistant/agent/approval"
	contractx "github.com/tanpawarit/Chative-Travel-Assistant/agent/contract"
	"github.com/tanpawarit/Chative-Travel-Assistant/agent/executor"
	promptx "github.com/tanpawarit/Chative-Travel-Assistant/agent/prompt"
	statex "github.com/tanpawarit/Chative-Travel-Assistant/agent/state"
)

var (
	ErrInvalidMessage = fmt.Errorf("%w: message is empty", contractx.ErrValidation)
	ErrInvalidSession = fmt.Errorf("%w: session id is empty", contractx.ErrValidation)

	// errTurnDeadline is the cancellation cause of a turn that ran out of time.
	errTurnDeadline = fmt.Errorf("%w: turn deadline exceeded", contractx.ErrServiceUnavailable)
)

const (
	nudgeMessage = "Respond with a real output."

	// notExecutedMessage answers calls left open when a turn fails.
	notExecutedMessage = "Not executed: the request failed before this action could run."
	// superseded answers calls of a batch issued before control moved to another assistant.
	supersededMessage = "Not executed: control moved to another assistant before this call ran. Re-issue it if it is still needed."

	saveTimeout = 10 * time.Second
)

type Config struct {
	MaxCyclesPerTurn int           `envconfig:"MAX_CYCLES_PER_TURN" split_words:"true" default:"25"`
	TurnTimeout      time.Duration `envconfig:"TURN_TIMEOUT" split_words:"true" default:"3m"`
}

// TurnResult is what a front end receives for one submitted message.
type TurnResult struct {
	SessionID string
	Status    statex.TurnStatus
	Reply     string
	// Approval is set when Status is awaiting_approval.
	Approval *approval.Suspension
	Error    contractx.ErrorKind
}

type Orchestrator struct {
	store      statex.Store
	completion contractx.CompletionService
	router     *assistantx.Router
	gate       *approval.Gate
	exec       *executor.Executor

	maxCycles   int
	turnTimeout time.Duration
	userContext map[string]string

	locks *sessionLocks
	now   func() time.Time
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithUserContext seeds the user context of sessions created by this orchestrator.
func WithUserContext(uc map[string]string) Option {
	return func(o *Orchestrator) {
		o.userContext = maps.Clone(uc)
	}
}

func New(
	store statex.Store,
	completion contractx.CompletionService,
	router *assistantx.Router,
	gate *approval.Gate,
	exec *executor.Executor,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if completion == nil {
		return nil, errors.New("completion service is required")
	}
	if router == nil {
		return nil, errors.New("assistant router is required")
	}
	if gate == nil {
		return nil, errors.New("approval gate is required")
	}
	if exec == nil {
		return nil, errors.New("tool executor is required")
	}

	maxCycles := cfg.MaxCyclesPerTurn
	if maxCycles <= 0 {
		maxCycles = 25
	}

	o := &Orchestrator{
		store:       store,
		completion:  completion,
		router:      router,
		gate:        gate,
		exec:        exec,
		maxCycles:   maxCycles,
		turnTimeout: cfg.TurnTimeout,
		locks:       newSessionLocks(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// turn carries the per-turn working set.
type turn struct {
	st *statex.ConversationState
	// checkpoint is what a failed turn rolls back to. It advances past every
	// approved call that executed.
	checkpoint *statex.ConversationState
	budget     executor.TurnBudget
	cycles     int
	nudge      bool
	logger     zerolog.Logger
}

// SubmitMessage runs one user turn. While a call awaits approval the text is first
// offered to the approval gate.
func (o *Orchestrator) SubmitMessage(ctx context.Context, sessionID string, text string) (TurnResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return TurnResult{Error: contractx.KindValidation}, ErrInvalidSession
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnResult{SessionID: sessionID, Error: contractx.KindValidation}, ErrInvalidMessage
	}

	if o.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, o.turnTimeout, errTurnDeadline)
		defer cancel()
	}

	unlock, err := o.locks.Lock(ctx, sessionID)
	if err != nil {
		err = fmt.Errorf("lock session %s: %w", sessionID, turnCause(ctx, err))
		return TurnResult{SessionID: sessionID, Error: contractx.KindOf(err)}, err
	}
	defer unlock()

	st, err := o.loadOrCreate(ctx, sessionID)
	if err != nil {
		err = turnCause(ctx, err)
		return TurnResult{SessionID: sessionID, Error: contractx.KindOf(err)}, err
	}

	t := &turn{
		st:         st,
		checkpoint: st.Clone(),
		logger: log.Logger.With().
			Str("component", "orchestrator").
			Str("session_id", sessionID).
			Logger(),
	}

	if st.TurnStatus == statex.TurnAwaitingApproval {
		return o.resume(ctx, t, text)
	}

	// A turn interrupted after claiming an approval can leave calls without a result.
	st.CloseDangling(notExecutedMessage, o.now())
	st.TurnStatus = statex.TurnInProgress
	st.AppendUser(text, o.now())
	return o.drive(ctx, t)
}

// Reset clears the stored conversation of sessionID.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidSession
	}
	unlock, err := o.locks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()
	if err := o.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("reset session %s: %w", sessionID, err)
	}
	return nil
}

// State returns a copy of the stored conversation of sessionID.
func (o *Orchestrator) State(ctx context.Context, sessionID string) (*statex.ConversationState, error) {
	return o.store.Load(ctx, strings.TrimSpace(sessionID))
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, sessionID string) (*statex.ConversationState, error) {
	st, err := o.store.Load(ctx, sessionID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, statex.ErrStateNotFound) {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return statex.NewConversationState(sessionID, o.userContext, o.now()), nil
}

func (o *Orchestrator) resume(ctx context.Context, t *turn, text string) (TurnResult, error) {
	decision := approval.ParseDecision(text)
	res, err := o.gate.Resolve(t.st, decision, text)
	if err != nil {
		return o.fail(ctx, t, err)
	}
	t.logger.Info().
		Str("decision", string(decision)).
		Int("queued", len(res.Queued)).
		Msg("pending tool call resolved")

	switch decision {
	case approval.Approve:
		def, err := o.exec.Check(res.Call, res.RequestedBy)
		if err != nil {
			if _, err := o.exec.Reject(t.st, res.Call, err, &t.budget); err != nil {
				return o.fail(ctx, t, err)
			}
		} else {
			// Persist the cleared slot before the side effect. A concurrent resolver of
			// the same approval then fails its save and never runs the call.
			if err := o.save(ctx, t.st); err != nil {
				return o.saveFailed(t, err)
			}
			t.checkpoint = t.st.Clone()
			t.logger.Debug().Str("tool", res.Call.Name).Int64("version", t.st.Version).Msg("approval claimed")

			out, err := o.exec.Run(ctx, t.st, def, res.Call, res.RequestedBy)
			if err != nil {
				return o.fail(ctx, t, err)
			}
			if out.Executed {
				t.checkpoint = t.st.Clone()
			}
		}

		susp, err := o.runBatch(ctx, t, res.Queued)
		if err != nil {
			return o.fail(ctx, t, err)
		}
		if susp != nil {
			return o.suspend(ctx, t, *susp, "")
		}
	case approval.Unrecognized:
		// Anything that is not a decision rejects the pending call and is routed as a new message.
		t.st.AppendUser(text, o.now())
	}

	return o.drive(ctx, t)
}

// drive runs completion cycles until the active assistant answers with text, a call
// needs approval, or the turn fails.
func (o *Orchestrator) drive(ctx context.Context, t *turn) (TurnResult, error) {
	for {
		if t.cycles >= o.maxCycles {
			return o.fail(ctx, t, fmt.Errorf("%w: %d completion cycles", contractx.ErrCycleLimitExceeded, t.cycles))
		}
		t.cycles++

		active, err := o.router.SelectActive(t.st)
		if err != nil {
			return o.fail(ctx, t, err)
		}

		messages := t.st.Messages
		if t.nudge {
			messages = append(slices.Clip(messages), statex.Message{
				Role:      statex.RoleUser,
				Content:   nudgeMessage,
				CreatedAt: o.now().UTC(),
			})
			t.nudge = false
		}

		resp, err := o.completion.Complete(ctx, contractx.CompletionRequest{
			Assistant: active.ID,
			Persona:   active.Persona,
			Tools:     o.router.ToolsFor(active.ID),
			Messages:  messages,
			Variables: o.promptVariables(t.st),
		})
		if err != nil {
			return o.fail(ctx, t, err)
		}
		if resp.Empty() {
			t.logger.Debug().Str("assistant", string(active.ID)).Msg("empty completion, nudging")
			t.nudge = true
			continue
		}

		t.st.AppendAssistant(active.ID, resp.Reply, resp.ToolCalls, o.now())
		if len(resp.ToolCalls) == 0 {
			return o.complete(ctx, t, resp.Reply)
		}

		batch := make([]statex.QueuedToolCall, 0, len(resp.ToolCalls))
		for _, c := range resp.ToolCalls {
			batch = append(batch, statex.QueuedToolCall{
				Call:        c,
				RequestedBy: active.ID,
				ArgsError:   resp.InvalidArgs[c.ID],
			})
		}
		susp, err := o.runBatch(ctx, t, batch)
		if err != nil {
			return o.fail(ctx, t, err)
		}
		if susp != nil {
			return o.suspend(ctx, t, *susp, resp.Reply)
		}
	}
}

// runBatch processes calls in order. A call that requires approval suspends the turn
// and defers the rest of the batch behind it.
func (o *Orchestrator) runBatch(ctx context.Context, t *turn, batch []statex.QueuedToolCall) (*approval.Suspension, error) {
	for i, q := range batch {
		if q.ArgsError != "" {
			cause := fmt.Errorf("%w: arguments are not valid JSON: %s", contractx.ErrToolInvocation, q.ArgsError)
			if _, err := o.exec.Reject(t.st, q.Call, cause, &t.budget); err != nil {
				return nil, err
			}
			continue
		}

		def, err := o.exec.Check(q.Call, q.RequestedBy)
		if err != nil {
			if _, err := o.exec.Reject(t.st, q.Call, err, &t.budget); err != nil {
				return nil, err
			}
			continue
		}

		if def.Sensitivity == statex.RequiresApproval {
			susp, err := o.gate.Begin(t.st, q.Call, q.RequestedBy, batch[i+1:])
			if err != nil {
				return nil, err
			}
			return &susp, nil
		}

		out, err := o.exec.Run(ctx, t.st, def, q.Call, q.RequestedBy)
		if err != nil {
			return nil, err
		}
		if !out.Executed {
			continue
		}

		tr, err := o.router.Dispatch(t.st, q.Call)
		if err != nil {
			return nil, err
		}
		if tr != assistantx.Stay {
			t.logger.Info().
				Str("transition", string(tr)).
				Str("tool", q.Call.Name).
				Str("active", string(t.st.ActiveAssistant())).
				Msg("assistant stack changed")
			for _, rest := range batch[i+1:] {
				t.st.AppendToolResult(rest.Call, supersededMessage, o.now())
			}
			return nil, nil
		}
	}
	return nil, nil
}

func (o *Orchestrator) complete(ctx context.Context, t *turn, reply string) (TurnResult, error) {
	t.st.TurnStatus = statex.TurnCompleted
	t.st.LastFailure = nil
	if err := o.save(ctx, t.st); err != nil {
		return o.saveFailed(t, err)
	}
	t.logger.Info().Int("cycles", t.cycles).Str("active", string(t.st.ActiveAssistant())).Msg("turn completed")
	return TurnResult{
		SessionID: t.st.SessionID,
		Status:    statex.TurnCompleted,
		Reply:     reply,
	}, nil
}

func (o *Orchestrator) suspend(ctx context.Context, t *turn, susp approval.Suspension, reply string) (TurnResult, error) {
	if err := o.save(ctx, t.st); err != nil {
		return o.saveFailed(t, err)
	}
	t.logger.Info().Str("tool", susp.ToolName).Msg("turn awaiting approval")
	return TurnResult{
		SessionID: t.st.SessionID,
		Status:    statex.TurnAwaitingApproval,
		Reply:     reply,
		Approval:  &susp,
	}, nil
}

// fail rolls the session back to the checkpoint, closes calls left open, records the
// failure and persists it.
func (o *Orchestrator) fail(ctx context.Context, t *turn, cause error) (TurnResult, error) {
	cause = turnCause(ctx, cause)
	kind := contractx.KindOf(cause)
	t.logger.Warn().Err(cause).Str("kind", string(kind)).Int("cycles", t.cycles).Msg("turn failed")

	result := TurnResult{
		SessionID: t.st.SessionID,
		Status:    statex.TurnFailed,
		Error:     kind,
	}
	if kind == contractx.KindStateConflict {
		return result, cause
	}

	now := o.now()
	restored := t.checkpoint.Clone()
	restored.CloseDangling(notExecutedMessage, now)
	restored.RecordFailure(string(kind), cause.Error(), now)
	if err := o.save(ctx, restored); err != nil {
		t.logger.Error().Err(err).Msg("persist failed turn")
		return result, errors.Join(cause, err)
	}
	*t.st = *restored
	return result, cause
}

// turnCause attributes err to the turn deadline when that is why ctx ended.
func turnCause(ctx context.Context, err error) error {
	cause := context.Cause(ctx)
	if cause == nil || !errors.Is(cause, errTurnDeadline) || errors.Is(err, errTurnDeadline) {
		return err
	}
	return fmt.Errorf("%w: %w", cause, err)
}

func (o *Orchestrator) saveFailed(t *turn, err error) (TurnResult, error) {
	kind := contractx.KindOf(err)
	t.logger.Warn().Err(err).Str("kind", string(kind)).Msg("save session")
	return TurnResult{
		SessionID: t.st.SessionID,
		Status:    statex.TurnFailed,
		Error:     kind,
	}, err
}

// save persists st even when the turn's context is already cancelled.
func (o *Orchestrator) save(ctx context.Context, st *statex.ConversationState) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	st.Touch(o.now())
	if err := o.store.Save(saveCtx, st); err != nil {
		return fmt.Errorf("save session %s: %w", st.SessionID, err)
	}
	return nil
}

func (o *Orchestrator) promptVariables(st *statex.ConversationState) map[string]any {
	return map[string]any{
		promptx.VarUserInfo: renderUserInfo(st.UserContext),
		promptx.VarTime:     o.now().UTC().Format(time.RFC3339),
	}
}

func renderUserInfo(uc map[string]string) string {
	if len(uc) == 0 {
		return "(none)"
	}
	keys := slices.Sorted(maps.Keys(uc))
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, uc[k]))
	}
	return strings.Join(lines, "\n")
}
