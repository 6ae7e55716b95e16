package assistant

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Travel-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Travel-Assistant/agent/state"
	"github.com/tanpawarit/Chative-Travel-Assistant/agent/tool"
)

// Transition is the effect a dispatched tool call had on the assistant stack.
type Transition string

const (
	Stay       Transition = "stay"
	Escalate   Transition = "escalate"
	Deescalate Transition = "deescalate"
)

var ErrInvalidDefinition = errors.New("invalid assistant definition")

// Router owns the assistant stack discipline: which assistant is active, which tools it
// sees, and how escalation and return tools move control.
type Router struct {
	tools *tool.Registry
	defs  map[statex.AssistantID]Definition
	scope map[statex.AssistantID][]string
	infos map[statex.AssistantID][]*schema.ToolInfo
}

func NewRouter(reg *tool.Registry, defs ...Definition) (*Router, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: tool registry is required", ErrInvalidDefinition)
	}
	r := &Router{
		tools: reg,
		defs:  make(map[statex.AssistantID]Definition, len(defs)),
		scope: make(map[statex.AssistantID][]string, len(defs)),
		infos: make(map[statex.AssistantID][]*schema.ToolInfo, len(defs)),
	}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("%w: empty id", ErrInvalidDefinition)
		}
		if _, dup := r.defs[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate assistant %s", ErrInvalidDefinition, d.ID)
		}
		r.defs[d.ID] = d
	}
	if _, ok := r.defs[statex.PrimaryAssistant]; !ok {
		return nil, fmt.Errorf("%w: primary assistant is missing", ErrInvalidDefinition)
	}

	for _, d := range defs {
		names, err := r.buildScope(d)
		if err != nil {
			return nil, err
		}
		infos, err := reg.Infos(names...)
		if err != nil {
			return nil, fmt.Errorf("%w: assistant %s: %v", ErrInvalidDefinition, d.ID, err)
		}
		r.scope[d.ID] = names
		r.infos[d.ID] = infos
	}
	return r, nil
}

func (r *Router) buildScope(d Definition) ([]string, error) {
	names := make([]string, 0, len(d.Tools)+len(d.Delegates)+1)
	add := func(name string) {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}

	for _, name := range d.Tools {
		td, ok := r.tools.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: assistant %s uses unknown tool %s", ErrInvalidDefinition, d.ID, name)
		}
		if td.Kind != tool.KindDomain {
			return nil, fmt.Errorf("%w: assistant %s lists routing tool %s as a domain tool", ErrInvalidDefinition, d.ID, name)
		}
		add(name)
	}

	for _, id := range d.Delegates {
		target, ok := r.defs[id]
		if !ok {
			return nil, fmt.Errorf("%w: assistant %s delegates to unknown %s", ErrInvalidDefinition, d.ID, id)
		}
		if id == statex.PrimaryAssistant || target.EntryTool == "" {
			return nil, fmt.Errorf("%w: assistant %s cannot be delegated to", ErrInvalidDefinition, id)
		}
		td, ok := r.tools.Lookup(target.EntryTool)
		if !ok || td.Kind != tool.KindEscalation || td.Target != id {
			return nil, fmt.Errorf("%w: entry tool %s does not escalate to %s", ErrInvalidDefinition, target.EntryTool, id)
		}
		add(target.EntryTool)
	}

	switch {
	case d.Specialized() && d.ReturnTool == "":
		return nil, fmt.Errorf("%w: specialized assistant %s has no return tool", ErrInvalidDefinition, d.ID)
	case !d.Specialized() && d.ReturnTool != "":
		return nil, fmt.Errorf("%w: primary assistant cannot declare a return tool", ErrInvalidDefinition)
	case d.ReturnTool != "":
		td, ok := r.tools.Lookup(d.ReturnTool)
		if !ok || td.Kind != tool.KindReturn {
			return nil, fmt.Errorf("%w: return tool %s of %s is not registered", ErrInvalidDefinition, d.ReturnTool, d.ID)
		}
		add(d.ReturnTool)
	}
	return names, nil
}

// Definition returns the static definition of id.
func (r *Router) Definition(id statex.AssistantID) (Definition, bool) {
	d, ok := r.defs[id]
	return d, ok
}

// SelectActive returns the definition of the assistant on top of the stack.
func (r *Router) SelectActive(st *statex.ConversationState) (Definition, error) {
	if st == nil {
		return Definition{}, fmt.Errorf("%w: nil conversation state", contractx.ErrInvalidState)
	}
	id := st.ActiveAssistant()
	d, ok := r.defs[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: unknown active assistant %q", contractx.ErrInvalidState, id)
	}
	return d, nil
}

// ToolsFor returns the tool schemas presented to the model when id is active.
func (r *Router) ToolsFor(id statex.AssistantID) []*schema.ToolInfo {
	return r.infos[id]
}

// Allowed reports whether id may call the tool named name.
func (r *Router) Allowed(id statex.AssistantID, name string) bool {
	return slices.Contains(r.scope[id], name)
}

// Dispatch applies the stack effect of a tool call that has already run. Domain tools
// leave the stack alone.
func (r *Router) Dispatch(st *statex.ConversationState, call statex.ToolCall) (Transition, error) {
	if st == nil {
		return Stay, fmt.Errorf("%w: nil conversation state", contractx.ErrInvalidState)
	}
	active := st.ActiveAssistant()
	if !r.Allowed(active, call.Name) {
		return Stay, fmt.Errorf("%w: tool=%s assistant=%s", contractx.ErrToolNotAvailable, call.Name, active)
	}
	td, _ := r.tools.Lookup(call.Name)

	switch td.Kind {
	case tool.KindEscalation:
		if _, err := st.PushAssistant(td.Target); err != nil {
			return Stay, fmt.Errorf("%w: push %s: %v", contractx.ErrInvalidState, td.Target, err)
		}
		return Escalate, nil
	case tool.KindReturn:
		if _, ok := st.PopAssistant(); !ok {
			return Stay, nil
		}
		return Deescalate, nil
	default:
		return Stay, nil
	}
}
