package approval

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Travel-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Travel-Assistant/agent/state"
	"github.com/tanpawarit/Chative-Travel-Assistant/agent/tool"
)

var fixedNow = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	reg, err := tool.NewRegistry(
		tool.Definition{
			Name:        "cancel_ticket",
			Description: "Cancel the user's ticket. Irreversible.",
			Params: map[string]*schema.ParameterInfo{
				"ticket_no": {Type: schema.String, Required: true},
			},
			Sensitivity: statex.RequiresApproval,
			Kind:        tool.KindDomain,
			Handler:     tool.Static("cancelled"),
		},
		tool.Definition{
			Name:        "search_flights",
			Description: "Search flights.",
			Sensitivity: statex.Safe,
			Kind:        tool.KindDomain,
			Handler:     tool.Static("[]"),
		},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	g, err := NewGate(reg, WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	return g
}

func suspended(t *testing.T, g *Gate) *statex.ConversationState {
	t.Helper()
	st := statex.NewConversationState("s1", nil, fixedNow)
	st.TurnStatus = statex.TurnInProgress
	cancel := statex.ToolCall{ID: "c1", Name: "cancel_ticket", Args: map[string]any{"ticket_no": "7240005432906569"}}
	search := statex.ToolCall{ID: "c2", Name: "search_flights"}
	st.AppendAssistant("flight", "", []statex.ToolCall{cancel, search}, fixedNow)
	if _, err := g.Begin(st, cancel, "flight", []statex.QueuedToolCall{{Call: search, RequestedBy: "flight"}}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	return st
}

func TestParseDecision(t *testing.T) {
	t.Parallel()

	cases := map[string]Decision{
		"y":                Approve,
		" Yes ":            Approve,
		"OK.":              Approve,
		"go   ahead!":      Approve,
		"do it":            Approve,
		"n":                Reject,
		"No":               Reject,
		"don’t":            Reject,
		"do not":           Reject,
		"cancel":           Reject,
		"":                 Unrecognized,
		"what about rome?": Unrecognized,
		"yes and no":       Unrecognized,
		"no, don't":        Reject,
		"yes, do it":       Approve,
		"yes, no":          Unrecognized,
		"yes, but to rome": Unrecognized,
	}
	for in, want := range cases {
		if got := ParseDecision(in); got != want {
			t.Fatalf("ParseDecision(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestBeginSuspends(t *testing.T) {
	t.Parallel()

	g := newTestGate(t)
	if g.Classify(statex.ToolCall{Name: "cancel_ticket"}) != statex.RequiresApproval {
		t.Fatal("cancel_ticket must require approval")
	}
	if g.Classify(statex.ToolCall{Name: "unknown"}) != statex.RequiresApproval {
		t.Fatal("unknown tools must require approval")
	}

	st := suspended(t, g)
	if st.TurnStatus != statex.TurnAwaitingApproval || st.PendingToolCall == nil {
		t.Fatalf("state not suspended: %s", st.TurnStatus)
	}
	if len(st.QueuedToolCalls) != 1 || st.QueuedToolCalls[0].Call.ID != "c2" {
		t.Fatalf("unexpected queue: %#v", st.QueuedToolCalls)
	}
	if !strings.Contains(st.PendingToolCall.Summary, "ticket_no=7240005432906569") {
		t.Fatalf("unexpected summary: %s", st.PendingToolCall.Summary)
	}
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestResolveApprove(t *testing.T) {
	t.Parallel()

	g := newTestGate(t)
	st := suspended(t, g)
	before := len(st.Messages)

	res, err := g.Resolve(st, Approve, "yes")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Call.ID != "c1" || len(res.Queued) != 1 || res.RequestedBy != "flight" {
		t.Fatalf("unexpected resolution: %#v", res)
	}
	if st.PendingToolCall != nil || st.TurnStatus != statex.TurnInProgress {
		t.Fatalf("slot not cleared: %s", st.TurnStatus)
	}
	if len(st.Messages) != before {
		t.Fatal("approve must not fold any tool result")
	}
}

func TestResolveRejectFoldsDenial(t *testing.T) {
	t.Parallel()

	g := newTestGate(t)
	st := suspended(t, g)
	stack := append([]statex.AssistantID(nil), st.AssistantStack...)

	res, err := g.Resolve(st, Reject, "no, I changed my mind")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Decision != Reject || res.Call.ID != "" {
		t.Fatalf("unexpected resolution: %#v", res)
	}
	n := len(st.Messages)
	denial, skipped := st.Messages[n-2], st.Messages[n-1]
	if denial.ToolCallID != "c1" || !strings.Contains(denial.Content, "Reasoning: 'no, I changed my mind'") {
		t.Fatalf("unexpected denial: %#v", denial)
	}
	if !strings.Contains(denial.Content, "suggest alternatives") {
		t.Fatalf("denial must ask for alternatives: %s", denial.Content)
	}
	if skipped.ToolCallID != "c2" || skipped.Content != SkippedMessage {
		t.Fatalf("unexpected skipped result: %#v", skipped)
	}
	if len(st.UnansweredCalls()) != 0 {
		t.Fatalf("dangling calls: %#v", st.UnansweredCalls())
	}
	if len(st.AssistantStack) != len(stack) {
		t.Fatalf("stack changed: %v", st.AssistantStack)
	}
}

func TestResolveTwiceIsInvalidState(t *testing.T) {
	t.Parallel()

	g := newTestGate(t)
	st := suspended(t, g)

	if _, err := g.Resolve(st, Approve, "y"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, err := g.Resolve(st, Approve, "y"); !errors.Is(err, contractx.ErrInvalidState) {
		t.Fatalf("second Resolve() error = %v, want ErrInvalidState", err)
	}
}

func TestBeginTwiceIsInvalidState(t *testing.T) {
	t.Parallel()

	g := newTestGate(t)
	st := suspended(t, g)
	if _, err := g.Begin(st, statex.ToolCall{ID: "c3", Name: "cancel_ticket"}, "flight", nil); !errors.Is(err, contractx.ErrInvalidState) {
		t.Fatalf("Begin() error = %v, want ErrInvalidState", err)
	}
}
