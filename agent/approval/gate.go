package approval

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Travel-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Travel-Assistant/agent/state"
	"github.com/tanpawarit/Chative-Travel-Assistant/agent/tool"
)

type Decision string

const (
	Unrecognized Decision = "unrecognized"
	Approve      Decision = "approve"
	Reject       Decision = "reject"
)

// SkippedMessage answers queued calls that were dropped with a rejected pending call.
const SkippedMessage = "Not executed: an earlier action in the same request was cancelled by the user."

var (
	affirmatives = wordSet("y", "yes", "yep", "yeah", "yes please", "sure", "ok", "okay", "approve", "approved",
		"confirm", "confirmed", "go ahead", "do it", "please do", "go for it")
	negatives = wordSet("n", "no", "nope", "no thanks", "cancel", "stop", "reject", "rejected", "deny", "denied",
		"don't", "dont", "do not", "never mind", "nevermind", "abort")
)

// Suspension describes the action waiting for the user's confirmation.
type Suspension struct {
	CallID      string
	ToolName    string
	Args        map[string]any
	Summary     string
	RequestedBy statex.AssistantID
}

// Resolution is the outcome of resolving a pending call.
type Resolution struct {
	Decision Decision
	// Call is set on Approve: the call to execute now.
	Call        statex.ToolCall
	RequestedBy statex.AssistantID
	// Queued is the deferred remainder of the batch. On Approve it still has to run; on
	// rejection every entry has already been answered.
	Queued []statex.QueuedToolCall
}

// Gate holds sensitive tool calls until the user confirms them.
type Gate struct {
	tools *tool.Registry
	now   func() time.Time
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGate(reg *tool.Registry, opts ...Option) (*Gate, error) {
	if reg == nil {
		return nil, errors.New("tool registry is required")
	}
	g := &Gate{tools: reg, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

func (g *Gate) Classify(call statex.ToolCall) statex.Sensitivity {
	return g.tools.Sensitivity(call.Name)
}

// Begin parks call in the pending slot and queued behind it. Nothing is executed.
func (g *Gate) Begin(
	st *statex.ConversationState,
	call statex.ToolCall,
	requestedBy statex.AssistantID,
	queued []statex.QueuedToolCall,
) (Suspension, error) {
	if st == nil {
		return Suspension{}, fmt.Errorf("%w: nil conversation state", contractx.ErrInvalidState)
	}

	summary := call.Name
	if def, ok := g.tools.Lookup(call.Name); ok {
		summary = tool.Summarize(def, call.Args)
	}

	pending := statex.PendingToolCall{
		Call:        call,
		Sensitivity: g.Classify(call),
		RequestedBy: requestedBy,
		Summary:     summary,
	}
	if err := st.Suspend(pending, queued, g.now()); err != nil {
		return Suspension{}, fmt.Errorf("%w: %v", contractx.ErrInvalidState, err)
	}
	return SuspensionOf(st.PendingToolCall), nil
}

// SuspensionOf describes a pending call for front ends.
func SuspensionOf(p *statex.PendingToolCall) Suspension {
	if p == nil {
		return Suspension{}
	}
	return Suspension{
		CallID:      p.Call.ID,
		ToolName:    p.Call.Name,
		Args:        maps.Clone(p.Call.Args),
		Summary:     p.Summary,
		RequestedBy: p.RequestedBy,
	}
}

// ParseDecision classifies the user's reply to a confirmation prompt.
func ParseDecision(text string) Decision {
	norm := normalize(text)
	switch {
	case norm == "":
		return Unrecognized
	case affirmatives[norm]:
		return Approve
	case negatives[norm]:
		return Reject
	}

	// "no, don't" or "yes, do it": every clause must agree.
	clauses := strings.Split(norm, ",")
	if len(clauses) < 2 {
		return Unrecognized
	}
	decision := Unrecognized
	for _, c := range clauses {
		var d Decision
		switch c = strings.TrimSpace(c); {
		case affirmatives[c]:
			d = Approve
		case negatives[c]:
			d = Reject
		default:
			return Unrecognized
		}
		if decision != Unrecognized && d != decision {
			return Unrecognized
		}
		decision = d
	}
	return decision
}

// Resolve consumes the pending slot. An empty slot is ErrInvalidState, so a second
// resolve of the same suspension can never execute the call twice.
func (g *Gate) Resolve(st *statex.ConversationState, decision Decision, text string) (Resolution, error) {
	if st == nil {
		return Resolution{}, fmt.Errorf("%w: nil conversation state", contractx.ErrInvalidState)
	}
	if st.PendingToolCall == nil || st.TurnStatus != statex.TurnAwaitingApproval {
		return Resolution{}, fmt.Errorf("%w: no pending tool call (status=%s)", contractx.ErrInvalidState, st.TurnStatus)
	}

	pending, queued := st.TakePending()
	now := g.now()
	st.Touch(now)

	if decision == Approve {
		return Resolution{
			Decision:    Approve,
			Call:        pending.Call,
			RequestedBy: pending.RequestedBy,
			Queued:      queued,
		}, nil
	}

	st.AppendToolResult(pending.Call, DenialMessage(text), now)
	for _, q := range queued {
		st.AppendToolResult(q.Call, SkippedMessage, now)
	}
	return Resolution{
		Decision:    decision,
		RequestedBy: pending.RequestedBy,
		Queued:      queued,
	}, nil
}

// DenialMessage is the tool result folded back to the model for a rejected call.
func DenialMessage(reason string) string {
	reason = strings.TrimSpace(reason)
	return fmt.Sprintf("API call denied by user. Reasoning: '%s'. "+
		"Continue assisting, accounting for the user's input and suggest alternatives.", reason)
}

func normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimRight(s, ".!?, ")
	s = strings.ReplaceAll(s, "’", "'")
	return strings.Join(strings.Fields(s), " ")
}

func wordSet(words ...string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[w] = true
	}
	return out
}
