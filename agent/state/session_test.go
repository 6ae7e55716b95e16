package state

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

func TestNewConversationStateStartsOnPrimary(t *testing.T) {
	t.Parallel()

	ctx := map[string]string{"passenger_id": "3442 587242"}
	st := NewConversationState("s1", ctx, testNow)
	ctx["passenger_id"] = "mutated"

	if st.ActiveAssistant() != PrimaryAssistant {
		t.Fatalf("ActiveAssistant() = %q, want primary", st.ActiveAssistant())
	}
	if st.UserContext["passenger_id"] != "3442 587242" {
		t.Fatalf("user context must be copied, got %q", st.UserContext["passenger_id"])
	}
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestPushAssistantNoDuplicates(t *testing.T) {
	t.Parallel()

	st := NewConversationState("s1", nil, testNow)

	changed, err := st.PushAssistant("flight")
	if err != nil || !changed {
		t.Fatalf("PushAssistant(flight) = %v, %v", changed, err)
	}
	changed, err = st.PushAssistant("flight")
	if err != nil || changed {
		t.Fatalf("re-entering top frame must be a no-op, got changed=%v err=%v", changed, err)
	}
	if _, err := st.PushAssistant("hotel"); err != nil {
		t.Fatalf("PushAssistant(hotel) error = %v", err)
	}
	if _, err := st.PushAssistant("flight"); err != nil {
		t.Fatalf("PushAssistant(flight) error = %v", err)
	}

	want := []AssistantID{PrimaryAssistant, "flight"}
	if len(st.AssistantStack) != len(want) {
		t.Fatalf("stack = %v, want %v", st.AssistantStack, want)
	}
	for i := range want {
		if st.AssistantStack[i] != want[i] {
			t.Fatalf("stack = %v, want %v", st.AssistantStack, want)
		}
	}
	if _, err := st.PushAssistant(""); !errors.Is(err, ErrEmptyAssistant) {
		t.Fatalf("expected ErrEmptyAssistant, got %v", err)
	}
}

func TestPopAssistantKeepsPrimary(t *testing.T) {
	t.Parallel()

	st := NewConversationState("s1", nil, testNow)
	if _, ok := st.PopAssistant(); ok {
		t.Fatal("primary frame must never be popped")
	}
	_, _ = st.PushAssistant("car_rental")
	popped, ok := st.PopAssistant()
	if !ok || popped != "car_rental" {
		t.Fatalf("PopAssistant() = %q, %v", popped, ok)
	}
	if len(st.AssistantStack) != 1 {
		t.Fatalf("unexpected stack: %v", st.AssistantStack)
	}
}

func TestSuspendAndTakePending(t *testing.T) {
	t.Parallel()

	st := NewConversationState("s1", nil, testNow)
	st.TurnStatus = TurnInProgress

	call := ToolCall{ID: "c1", Name: "cancel_ticket", Args: map[string]any{"ticket_no": "ABC123"}}
	queued := []QueuedToolCall{{Call: ToolCall{ID: "c2", Name: "search_flights"}, RequestedBy: "flight"}}
	if err := st.Suspend(PendingToolCall{Call: call, Sensitivity: RequiresApproval, RequestedBy: "flight"}, queued, testNow); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}
	if st.TurnStatus != TurnAwaitingApproval {
		t.Fatalf("TurnStatus = %s, want awaiting_approval", st.TurnStatus)
	}
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	call.Args["ticket_no"] = "mutated"
	if st.PendingToolCall.Call.Args["ticket_no"] != "ABC123" {
		t.Fatal("pending call args must be copied")
	}

	err := st.Suspend(PendingToolCall{Call: call}, nil, testNow)
	if !errors.Is(err, ErrPendingOccupied) {
		t.Fatalf("expected ErrPendingOccupied, got %v", err)
	}

	pending, rest := st.TakePending()
	if pending == nil || pending.Call.ID != "c1" || len(rest) != 1 {
		t.Fatalf("TakePending() = %#v, %#v", pending, rest)
	}
	if st.PendingToolCall != nil || st.QueuedToolCalls != nil {
		t.Fatal("pending slot must be cleared")
	}
	if st.TurnStatus != TurnInProgress {
		t.Fatalf("TurnStatus = %s, want in_progress", st.TurnStatus)
	}
}

func TestCloseDanglingAnswersEveryCall(t *testing.T) {
	t.Parallel()

	st := NewConversationState("s1", nil, testNow)
	_ = st.Suspend(PendingToolCall{Call: ToolCall{ID: "c1", Name: "book_hotel"}},
		[]QueuedToolCall{{Call: ToolCall{ID: "c2", Name: "book_car_rental"}}}, testNow)

	st.CloseDangling("not executed", testNow)

	if len(st.Messages) != 2 {
		t.Fatalf("expected 2 tool results, got %d", len(st.Messages))
	}
	if st.Messages[0].ToolCallID != "c1" || st.Messages[1].ToolCallID != "c2" {
		t.Fatalf("unexpected tool results: %#v", st.Messages)
	}
}

func TestValidateRejectsCorruptState(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*ConversationState)
		want   error
	}{
		{"empty stack", func(s *ConversationState) { s.AssistantStack = nil }, ErrStackEmpty},
		{"bottom not primary", func(s *ConversationState) { s.AssistantStack = []AssistantID{"flight"} }, ErrStackCorrupt},
		{"duplicate frame", func(s *ConversationState) {
			s.AssistantStack = []AssistantID{PrimaryAssistant, "hotel", "hotel"}
		}, ErrStackCorrupt},
		{"pending while completed", func(s *ConversationState) {
			s.PendingToolCall = &PendingToolCall{Call: ToolCall{ID: "x"}}
		}, ErrPendingMismatch},
		{"awaiting without pending", func(s *ConversationState) { s.TurnStatus = TurnAwaitingApproval }, ErrPendingMismatch},
		{"unknown status", func(s *ConversationState) { s.TurnStatus = "paused" }, ErrInvalidTurnState},
	}

	for _, tc := range cases {
		st := NewConversationState("s1", nil, testNow)
		tc.mutate(st)
		if err := st.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: Validate() error = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	st := NewConversationState("s1", map[string]string{"k": "v"}, testNow)
	st.AppendAssistant(PrimaryAssistant, "", []ToolCall{{ID: "c1", Name: "search_flights", Args: map[string]any{"q": "ZRH"}}}, testNow)

	cp := st.Clone()
	cp.Messages[0].ToolCalls[0].Args["q"] = "BSL"
	cp.UserContext["k"] = "changed"
	_, _ = cp.PushAssistant("flight")

	if st.Messages[0].ToolCalls[0].Args["q"] != "ZRH" {
		t.Fatal("clone shares tool call args")
	}
	if st.UserContext["k"] != "v" {
		t.Fatal("clone shares user context")
	}
	if len(st.AssistantStack) != 1 {
		t.Fatal("clone shares assistant stack")
	}
}

func TestLastReplySkipsToolCallMessages(t *testing.T) {
	t.Parallel()

	st := NewConversationState("s1", nil, testNow)
	st.AppendAssistant(PrimaryAssistant, "first", nil, testNow)
	st.AppendAssistant(PrimaryAssistant, "", []ToolCall{{ID: "c1", Name: "lookup_policy"}}, testNow)

	if got := st.LastReply(); got != "first" {
		t.Fatalf("LastReply() = %q, want %q", got, "first")
	}
}

func TestCloseDanglingAnswersHistoryCallsOnce(t *testing.T) {
	t.Parallel()

	st := NewConversationState("s1", nil, testNow)
	st.AppendUser("book it all", testNow)
	calls := []ToolCall{{ID: "a", Name: "search_hotels"}, {ID: "b", Name: "book_hotel"}, {ID: "c", Name: "book_car_rental"}}
	st.AppendAssistant("hotel", "", calls, testNow)
	st.AppendToolResult(calls[0], "[]", testNow)
	_ = st.Suspend(PendingToolCall{Call: calls[1]}, []QueuedToolCall{{Call: calls[2]}}, testNow)

	st.CloseDangling("not executed", testNow)

	if got := st.UnansweredCalls(); len(got) != 0 {
		t.Fatalf("UnansweredCalls() = %#v, want none", got)
	}
	if len(st.Messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(st.Messages))
	}
	if st.PendingToolCall != nil || st.QueuedToolCalls != nil || st.TurnStatus != TurnInProgress {
		t.Fatalf("pending slot not cleared: %#v", st)
	}
}
