package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	statex "github.com/tanpawarit/Chative-Travel-Assistant/agent/state"
)

var (
	ErrNotFound      = errors.New("tool not found")
	ErrAlreadyExists = errors.New("tool already registered")
	ErrInvalidTool   = errors.New("invalid tool definition")
)

// Kind separates ordinary domain tools from the routing tools that move the
// assistant stack.
type Kind string

const (
	KindDomain     Kind = "domain"
	KindEscalation Kind = "escalation"
	KindReturn     Kind = "return"
)

// Invocation is what a handler sees when it runs.
type Invocation struct {
	Call        statex.ToolCall
	Assistant   statex.AssistantID
	UserContext map[string]string
}

// Result is the handler output folded into the conversation as a tool message.
// ContextPatch is applied to the session's user context when the tool is declared
// MutatesContext.
type Result struct {
	Content      string
	ContextPatch map[string]string
}

type Handler interface {
	Validate(args map[string]any) error
	Execute(ctx context.Context, inv Invocation) (Result, error)
}

type Definition struct {
	Name        string
	Description string
	Params      map[string]*schema.ParameterInfo
	Sensitivity statex.Sensitivity
	Kind        Kind
	Handler     Handler

	// MutatesContext marks the only tools allowed to change the user context.
	MutatesContext bool
	// Target is the assistant an escalation tool enters.
	Target statex.AssistantID
}

func (d Definition) ToolInfo() *schema.ToolInfo {
	info := &schema.ToolInfo{
		Name: d.Name,
		Desc: d.Description,
	}
	if len(d.Params) > 0 {
		info.ParamsOneOf = schema.NewParamsOneOfByParams(d.Params)
	}
	return info
}

// ValidateArgs runs the schema check followed by the handler's own checks.
func (d Definition) ValidateArgs(args map[string]any) error {
	if err := ValidateArgs(d.Params, args); err != nil {
		return err
	}
	if d.Handler == nil {
		return nil
	}
	return d.Handler.Validate(args)
}

// Registry is the static, read-only-after-startup tool catalog.
type Registry struct {
	defs  map[string]Definition
	order []string
}

func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(d Definition) error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidTool)
	}
	if _, ok := r.defs[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	if d.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidTool, name)
	}
	switch d.Kind {
	case KindDomain:
	case KindEscalation:
		if d.Target == "" {
			return fmt.Errorf("%w: escalation tool %s has no target assistant", ErrInvalidTool, name)
		}
	case KindReturn:
	default:
		return fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidTool, name, d.Kind)
	}
	switch d.Sensitivity {
	case statex.Safe:
	case statex.RequiresApproval:
		if d.Kind != KindDomain {
			return fmt.Errorf("%w: routing tool %s must be safe", ErrInvalidTool, name)
		}
	default:
		return fmt.Errorf("%w: %s has unknown sensitivity %q", ErrInvalidTool, name, d.Sensitivity)
	}

	d.Name = name
	r.defs[name] = d
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Sensitivity classifies a tool by name. Unknown tools are treated as requiring approval.
func (r *Registry) Sensitivity(name string) statex.Sensitivity {
	d, ok := r.defs[name]
	if !ok {
		return statex.RequiresApproval
	}
	return d.Sensitivity
}

// Infos returns the eino tool infos for names, in the given order.
func (r *Registry) Infos(names ...string) ([]*schema.ToolInfo, error) {
	out := make([]*schema.ToolInfo, 0, len(names))
	for _, n := range names {
		d, ok := r.defs[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, n)
		}
		out = append(out, d.ToolInfo())
	}
	return out, nil
}

// Names lists registered tools in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Summarize renders a human-readable description of a proposed call for the
// approval prompt.
func Summarize(d Definition, args map[string]any) string {
	var b strings.Builder
	b.WriteString(d.Name)
	if desc := firstSentence(d.Description); desc != "" {
		b.WriteString(" (")
		b.WriteString(desc)
		b.WriteString(")")
	}
	keys := sortedKeys(args)
	if len(keys) > 0 {
		b.WriteString(": ")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, args[k])
		}
	}
	return b.String()
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".\n"); i >= 0 {
		s = s[:i]
	}
	return s
}
