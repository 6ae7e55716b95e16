package state

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// ConversationState is the persistent source-of-truth threaded through every turn.
// - Routing: AssistantStack (LIFO, bottom is always the primary assistant)
// - Approval: PendingToolCall + QueuedToolCalls + TurnStatus (awaiting_approval)
type ConversationState struct {
	// Identity
	SessionID string `json:"session_id"`
	Version   int64  `json:"version"`

	Messages       []Message         `json:"messages,omitempty"`
	AssistantStack []AssistantID     `json:"assistant_stack"`
	UserContext    map[string]string `json:"user_context,omitempty"`

	PendingToolCall *PendingToolCall `json:"pending_tool_call,omitempty"`
	QueuedToolCalls []QueuedToolCall `json:"queued_tool_calls,omitempty"`
	TurnStatus      TurnStatus       `json:"turn_status"`
	LastFailure     *TurnFailure     `json:"last_failure,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AssistantID string

// PrimaryAssistant is the bottom frame of every assistant stack.
const PrimaryAssistant AssistantID = "primary"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type TurnStatus string

const (
	TurnInProgress       TurnStatus = "in_progress"
	TurnAwaitingApproval TurnStatus = "awaiting_approval"
	TurnCompleted        TurnStatus = "completed"
	TurnFailed           TurnStatus = "failed"
)

type Sensitivity string

const (
	Safe             Sensitivity = "safe"
	RequiresApproval Sensitivity = "requires_approval"
)

type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type Message struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	ToolName   string      `json:"tool_name,omitempty"`
	Assistant  AssistantID `json:"assistant,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// PendingToolCall is a proposed, not yet executed call awaiting the user's decision.
type PendingToolCall struct {
	Call        ToolCall    `json:"call"`
	Sensitivity Sensitivity `json:"sensitivity"`
	RequestedBy AssistantID `json:"requested_by"`
	Summary     string      `json:"summary"`
}

// QueuedToolCall is a call from the same model batch that was deferred behind a pending approval.
type QueuedToolCall struct {
	Call        ToolCall    `json:"call"`
	RequestedBy AssistantID `json:"requested_by"`
	// ArgsError is set when the model's arguments for Call were not valid JSON.
	ArgsError string `json:"args_error,omitempty"`
}

type TurnFailure struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

var (
	ErrEmptyAssistant   = errors.New("assistant id is empty")
	ErrStackEmpty       = errors.New("assistant stack is empty")
	ErrStackCorrupt     = errors.New("assistant stack corrupt")
	ErrPendingMismatch  = errors.New("pending tool call does not match turn status")
	ErrPendingOccupied  = errors.New("a tool call is already pending")
	ErrInvalidTurnState = errors.New("invalid turn status")
)

func NewConversationState(sessionID string, userContext map[string]string, now time.Time) *ConversationState {
	ctx := make(map[string]string, len(userContext))
	maps.Copy(ctx, userContext)
	return &ConversationState{
		SessionID:      sessionID,
		AssistantStack: []AssistantID{PrimaryAssistant},
		UserContext:    ctx,
		TurnStatus:     TurnCompleted,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
}

func (s *ConversationState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

/* ------------------------------ Stack helpers ----------------------------- */

// ActiveAssistant returns the top of the assistant stack.
func (s *ConversationState) ActiveAssistant() AssistantID {
	if s == nil || len(s.AssistantStack) == 0 {
		return PrimaryAssistant
	}
	return s.AssistantStack[len(s.AssistantStack)-1]
}

// PushAssistant makes id the active assistant.
// Re-entering the top frame is a no-op; re-entering a deeper frame unwinds back to it,
// so the stack never holds the same assistant twice. Reports whether the stack changed.
func (s *ConversationState) PushAssistant(id AssistantID) (bool, error) {
	if s == nil {
		return false, errors.New("nil conversation state")
	}
	if id == "" {
		return false, ErrEmptyAssistant
	}
	s.ensureStack()
	if s.ActiveAssistant() == id {
		return false, nil
	}
	if idx := slices.Index(s.AssistantStack, id); idx >= 0 {
		s.AssistantStack = s.AssistantStack[:idx+1]
		return true, nil
	}
	s.AssistantStack = append(s.AssistantStack, id)
	return true, nil
}

// PopAssistant removes the active frame. The primary frame is never popped.
func (s *ConversationState) PopAssistant() (AssistantID, bool) {
	if s == nil || len(s.AssistantStack) <= 1 {
		return "", false
	}
	last := s.AssistantStack[len(s.AssistantStack)-1]
	s.AssistantStack = s.AssistantStack[:len(s.AssistantStack)-1]
	return last, true
}

func (s *ConversationState) ensureStack() {
	if len(s.AssistantStack) == 0 {
		s.AssistantStack = []AssistantID{PrimaryAssistant}
	}
}

/* ----------------------------- Message helpers ---------------------------- */

func (s *ConversationState) AppendUser(text string, now time.Time) {
	s.Messages = append(s.Messages, Message{
		Role:      RoleUser,
		Content:   text,
		CreatedAt: now.UTC(),
	})
}

func (s *ConversationState) AppendAssistant(from AssistantID, text string, calls []ToolCall, now time.Time) {
	s.Messages = append(s.Messages, Message{
		Role:      RoleAssistant,
		Content:   text,
		ToolCalls: cloneCalls(calls),
		Assistant: from,
		CreatedAt: now.UTC(),
	})
}

func (s *ConversationState) AppendToolResult(call ToolCall, content string, now time.Time) {
	s.Messages = append(s.Messages, Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Assistant:  s.ActiveAssistant(),
		CreatedAt:  now.UTC(),
	})
}

// LastReply returns the content of the latest assistant message without tool calls.
func (s *ConversationState) LastReply() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Role == RoleAssistant && len(m.ToolCalls) == 0 {
			return m.Content
		}
	}
	return ""
}

/* ----------------------------- Approval helpers --------------------------- */

// Suspend stores a pending call with its deferred batch remainder and moves to awaiting_approval.
func (s *ConversationState) Suspend(p PendingToolCall, queued []QueuedToolCall, now time.Time) error {
	if s == nil {
		return errors.New("nil conversation state")
	}
	if s.PendingToolCall != nil {
		return ErrPendingOccupied
	}
	pending := p
	pending.Call = cloneCall(p.Call)
	s.PendingToolCall = &pending
	s.QueuedToolCalls = cloneQueue(queued)
	s.TurnStatus = TurnAwaitingApproval
	s.Touch(now)
	return nil
}

// TakePending clears the pending slot and queue and returns them.
func (s *ConversationState) TakePending() (*PendingToolCall, []QueuedToolCall) {
	if s == nil {
		return nil, nil
	}
	pending, queued := s.PendingToolCall, s.QueuedToolCalls
	s.PendingToolCall = nil
	s.QueuedToolCalls = nil
	if s.TurnStatus == TurnAwaitingApproval {
		s.TurnStatus = TurnInProgress
	}
	return pending, queued
}

// CloseDangling answers every call still held in the pending slot or queue, and any
// call in the history that never received a tool result, with the given content so
// the message history stays well-formed. The pending slot and queue are cleared.
func (s *ConversationState) CloseDangling(content string, now time.Time) {
	pending, queued := s.TakePending()

	answered := make(map[string]struct{}, len(s.Messages))
	for _, m := range s.Messages {
		if m.Role == RoleTool && m.ToolCallID != "" {
			answered[m.ToolCallID] = struct{}{}
		}
	}
	closeCall := func(call ToolCall) {
		if _, ok := answered[call.ID]; ok {
			return
		}
		answered[call.ID] = struct{}{}
		s.AppendToolResult(call, content, now)
	}

	if pending != nil {
		closeCall(pending.Call)
	}
	for _, q := range queued {
		closeCall(q.Call)
	}
	for _, call := range s.UnansweredCalls() {
		closeCall(call)
	}
}

// UnansweredCalls lists tool calls issued by assistants that have no tool result yet.
func (s *ConversationState) UnansweredCalls() []ToolCall {
	answered := make(map[string]struct{}, len(s.Messages))
	for _, m := range s.Messages {
		if m.Role == RoleTool {
			answered[m.ToolCallID] = struct{}{}
		}
	}
	var out []ToolCall
	for _, m := range s.Messages {
		if m.Role != RoleAssistant {
			continue
		}
		for _, c := range m.ToolCalls {
			if _, ok := answered[c.ID]; !ok {
				out = append(out, cloneCall(c))
			}
		}
	}
	return out
}

func (s *ConversationState) RecordFailure(kind, message string, now time.Time) {
	s.TurnStatus = TurnFailed
	s.LastFailure = &TurnFailure{
		Kind:    kind,
		Message: message,
		At:      now.UTC(),
	}
	s.Touch(now)
}

func (s *ConversationState) Validate() error {
	if s == nil {
		return errors.New("nil conversation state")
	}
	if len(s.AssistantStack) == 0 {
		return ErrStackEmpty
	}
	if s.AssistantStack[0] != PrimaryAssistant {
		return fmt.Errorf("%w: bottom frame is %q", ErrStackCorrupt, s.AssistantStack[0])
	}
	seen := make(map[AssistantID]struct{}, len(s.AssistantStack))
	for _, id := range s.AssistantStack {
		if id == "" {
			return fmt.Errorf("%w: empty frame", ErrStackCorrupt)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate frame %q", ErrStackCorrupt, id)
		}
		seen[id] = struct{}{}
	}

	switch s.TurnStatus {
	case TurnInProgress, TurnCompleted, TurnFailed:
		if s.PendingToolCall != nil || len(s.QueuedToolCalls) > 0 {
			return fmt.Errorf("%w: status=%s", ErrPendingMismatch, s.TurnStatus)
		}
	case TurnAwaitingApproval:
		if s.PendingToolCall == nil {
			return fmt.Errorf("%w: status=%s without pending call", ErrPendingMismatch, s.TurnStatus)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTurnState, s.TurnStatus)
	}
	return nil
}

/* ---------------------------------- Copy ---------------------------------- */

// Clone returns a deep copy suitable for snapshots.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		m.ToolCalls = cloneCalls(m.ToolCalls)
		out.Messages[i] = m
	}
	out.AssistantStack = slices.Clone(s.AssistantStack)
	out.UserContext = maps.Clone(s.UserContext)
	if s.PendingToolCall != nil {
		p := *s.PendingToolCall
		p.Call = cloneCall(p.Call)
		out.PendingToolCall = &p
	}
	out.QueuedToolCalls = cloneQueue(s.QueuedToolCalls)
	if s.LastFailure != nil {
		f := *s.LastFailure
		out.LastFailure = &f
	}
	return &out
}

func cloneCall(c ToolCall) ToolCall {
	c.Args = maps.Clone(c.Args)
	return c
}

func cloneCalls(in []ToolCall) []ToolCall {
	if len(in) == 0 {
		return nil
	}
	out := make([]ToolCall, len(in))
	for i, c := range in {
		out[i] = cloneCall(c)
	}
	return out
}

func cloneQueue(in []QueuedToolCall) []QueuedToolCall {
	if len(in) == 0 {
		return nil
	}
	out := make([]QueuedToolCall, len(in))
	for i, q := range in {
		q.Call = cloneCall(q.Call)
		out[i] = q
	}
	return out
}
