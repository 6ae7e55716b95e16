package contract

import (
	"strings"

	"github.com/cloudwego/eino/schema"
	statex "github.com/tanpawarit/Chative-Travel-Assistant/agent/state"
)

// CompletionRequest is everything the completion service needs for one model step.
type CompletionRequest struct {
	Assistant statex.AssistantID
	// Persona is the assistant's system prompt template (FString variables).
	Persona   string
	Tools     []*schema.ToolInfo
	Messages  []statex.Message
	Variables map[string]any
}

// CompletionResponse carries either a textual reply or one or more tool calls.
type CompletionResponse struct {
	Reply     string
	ToolCalls []statex.ToolCall
	// InvalidArgs maps the id of a tool call whose arguments could not be parsed to the parse error.
	InvalidArgs map[string]string
}

// Empty reports a response with neither text nor tool calls.
func (r CompletionResponse) Empty() bool {
	return strings.TrimSpace(r.Reply) == "" && len(r.ToolCalls) == 0
}

// Passage is one ranked hit from the knowledge index.
type Passage struct {
	ID     string         `json:"id,omitempty"`
	Text   string         `json:"text"`
	Score  float64        `json:"score"`
	Fields map[string]any `json:"fields,omitempty"`
}
