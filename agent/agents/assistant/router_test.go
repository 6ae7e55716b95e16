package assistant

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Travel-Assistant/agent/contract"
	promptx "github.com/tanpawarit/Chative-Travel-Assistant/agent/prompt"
	statex "github.com/tanpawarit/Chative-Travel-Assistant/agent/state"
	"github.com/tanpawarit/Chative-Travel-Assistant/agent/tool"
)

func stubDomainTools(defs []Definition) []tool.Definition {
	var out []tool.Definition
	seen := map[string]bool{}
	for _, d := range defs {
		for _, name := range d.Tools {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, tool.Definition{
				Name:        name,
				Description: "stub " + name,
				Params:      map[string]*schema.ParameterInfo{},
				Sensitivity: statex.Safe,
				Kind:        tool.KindDomain,
				Handler:     tool.Static("ok"),
			})
		}
	}
	return out
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	defs := TravelAssistants(promptx.LoadPromptSet())
	reg, err := tool.NewRegistry(append(stubDomainTools(defs), RoutingTools(defs)...)...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	r, err := NewRouter(reg, defs...)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return r
}

func newState() *statex.ConversationState {
	return statex.NewConversationState("s1", nil, time.Now())
}

func call(name string) statex.ToolCall {
	return statex.ToolCall{ID: name + "-id", Name: name, Args: map[string]any{}}
}

func TestToolsForScopes(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	names := func(id statex.AssistantID) []string {
		var out []string
		for _, info := range r.ToolsFor(id) {
			out = append(out, info.Name)
		}
		return out
	}

	primary := names(Primary)
	for _, want := range []string{ToolToFlightAssistant, ToolToHotelAssistant, ToolToCarRentalAssistant, ToolToExcursionAssistant, tool.ToolLookupPolicy} {
		if !slices.Contains(primary, want) {
			t.Fatalf("primary tools %v missing %s", primary, want)
		}
	}
	if slices.Contains(primary, tool.ToolCompleteOrEscalate) {
		t.Fatal("primary must not see the return tool")
	}

	hotel := names(Hotel)
	if !slices.Contains(hotel, tool.ToolCompleteOrEscalate) || !slices.Contains(hotel, tool.ToolBookHotel) {
		t.Fatalf("unexpected hotel tools: %v", hotel)
	}
	if slices.Contains(hotel, tool.ToolCancelTicket) || slices.Contains(hotel, ToolToFlightAssistant) {
		t.Fatalf("hotel sees out-of-scope tools: %v", hotel)
	}

	if !r.Allowed(Flight, tool.ToolCancelTicket) || r.Allowed(Primary, tool.ToolCancelTicket) {
		t.Fatal("unexpected scope for cancel_ticket")
	}
}

func TestDispatchEscalateAndReturn(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	st := newState()

	tr, err := r.Dispatch(st, call(ToolToHotelAssistant))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if tr != Escalate || st.ActiveAssistant() != Hotel {
		t.Fatalf("transition=%s active=%s", tr, st.ActiveAssistant())
	}

	active, err := r.SelectActive(st)
	if err != nil {
		t.Fatalf("SelectActive() error = %v", err)
	}
	if active.ID != Hotel {
		t.Fatalf("unexpected active: %s", active.ID)
	}

	tr, err = r.Dispatch(st, call(tool.ToolSearchHotels))
	if err != nil || tr != Stay {
		t.Fatalf("Dispatch() = %s, %v", tr, err)
	}

	tr, err = r.Dispatch(st, call(tool.ToolCompleteOrEscalate))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if tr != Deescalate || !slices.Equal(st.AssistantStack, []statex.AssistantID{Primary}) {
		t.Fatalf("transition=%s stack=%v", tr, st.AssistantStack)
	}
}

func TestDispatchRejectsOutOfScope(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	st := newState()

	if _, err := r.Dispatch(st, call(tool.ToolCompleteOrEscalate)); !errors.Is(err, contractx.ErrToolNotAvailable) {
		t.Fatalf("Dispatch() error = %v, want ErrToolNotAvailable", err)
	}
	if _, err := r.Dispatch(st, call(tool.ToolBookHotel)); !errors.Is(err, contractx.ErrToolNotAvailable) {
		t.Fatalf("Dispatch() error = %v, want ErrToolNotAvailable", err)
	}
	if _, err := r.Dispatch(st, call("made_up")); !errors.Is(err, contractx.ErrToolNotAvailable) {
		t.Fatalf("Dispatch() error = %v, want ErrToolNotAvailable", err)
	}
	if len(st.AssistantStack) != 1 {
		t.Fatalf("stack changed: %v", st.AssistantStack)
	}
}

func TestStackBoundsUnderArbitraryDispatch(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	st := newState()
	seq := []string{
		ToolToFlightAssistant, tool.ToolCompleteOrEscalate, tool.ToolCompleteOrEscalate,
		ToolToExcursionAssistant, ToolToHotelAssistant, tool.ToolSearchTripRecommendations,
		tool.ToolCompleteOrEscalate, ToolToCarRentalAssistant, tool.ToolBookCarRental,
	}
	for _, name := range seq {
		_, _ = r.Dispatch(st, call(name))
		if len(st.AssistantStack) < 1 || st.AssistantStack[0] != Primary {
			t.Fatalf("stack lost primary after %s: %v", name, st.AssistantStack)
		}
		if err := st.Validate(); err != nil {
			t.Fatalf("Validate() after %s error = %v", name, err)
		}
	}
}

func TestNewRouterValidatesDefinitions(t *testing.T) {
	t.Parallel()

	defs := TravelAssistants(promptx.LoadPromptSet())
	reg, err := tool.NewRegistry(append(stubDomainTools(defs), RoutingTools(defs)...)...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	cases := map[string][]Definition{
		"missing primary": defs[1:],
		"unknown tool": {
			{ID: Primary, Tools: []string{"nope"}},
		},
		"unknown delegate": {
			{ID: Primary, Delegates: []statex.AssistantID{"ghost"}},
		},
		"specialist without return": {
			{ID: Primary, Delegates: []statex.AssistantID{Hotel}},
			{ID: Hotel, EntryTool: ToolToHotelAssistant},
		},
		"primary with return": {
			{ID: Primary, ReturnTool: tool.ToolCompleteOrEscalate},
		},
		"duplicate": {
			{ID: Primary}, {ID: Primary},
		},
	}
	for name, c := range cases {
		if _, err := NewRouter(reg, c...); !errors.Is(err, ErrInvalidDefinition) {
			t.Fatalf("%s: NewRouter() error = %v, want ErrInvalidDefinition", name, err)
		}
	}
}

func TestSelectActiveUnknownAssistant(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	st := newState()
	st.AssistantStack = append(st.AssistantStack, "ghost")
	if _, err := r.SelectActive(st); !errors.Is(err, contractx.ErrInvalidState) {
		t.Fatalf("SelectActive() error = %v, want ErrInvalidState", err)
	}
}
