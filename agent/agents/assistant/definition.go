package assistant

import (
	promptx "github.com/tanpawarit/Chative-Travel-Assistant/agent/prompt"
	statex "github.com/tanpawarit/Chative-Travel-Assistant/agent/state"
	"github.com/tanpawarit/Chative-Travel-Assistant/agent/tool"
)

const (
	Primary   statex.AssistantID = statex.PrimaryAssistant
	Flight    statex.AssistantID = "flight"
	Hotel     statex.AssistantID = "hotel"
	CarRental statex.AssistantID = "car_rental"
	Excursion statex.AssistantID = "excursion"
)

const (
	ToolToFlightAssistant    = "to_flight_assistant"
	ToolToHotelAssistant     = "to_hotel_assistant"
	ToolToCarRentalAssistant = "to_car_rental_assistant"
	ToolToExcursionAssistant = "to_excursion_assistant"
)

// Definition is the static description of one assistant.
type Definition struct {
	ID   statex.AssistantID
	Name string
	// Persona is an FString template rendered with the prompt variables.
	Persona string
	// Tools are the domain tools the assistant may call.
	Tools []string
	// EntryTool is declared on the assistants that delegate to this one.
	EntryTool string
	// Purpose is appended to the entry tool description.
	Purpose    string
	ReturnTool string
	Delegates  []statex.AssistantID
}

func (d Definition) Specialized() bool {
	return d.ID != statex.PrimaryAssistant
}

// EntryToolDefinition builds the escalation tool that hands control to this assistant.
func (d Definition) EntryToolDefinition() tool.Definition {
	return tool.EntryTool(d.EntryTool, d.ID, d.Name, d.Purpose)
}

// TravelAssistants returns the primary assistant and the four travel specialists.
func TravelAssistants(prompts promptx.PromptSet) []Definition {
	return []Definition{
		{
			ID:      Primary,
			Name:    "Primary Assistant",
			Persona: prompts.Primary,
			Tools: []string{
				tool.ToolFetchUserFlightInformation,
				tool.ToolSearchFlights,
				tool.ToolLookupPolicy,
				tool.ToolUpdateTravelerContext,
			},
			Delegates: []statex.AssistantID{Flight, Hotel, CarRental, Excursion},
		},
		{
			ID:        Flight,
			Name:      "Flight Updates & Booking Assistant",
			Persona:   prompts.Flight,
			EntryTool: ToolToFlightAssistant,
			Purpose:   "Use it for updating or cancelling flights.",
			Tools: []string{
				tool.ToolFetchUserFlightInformation,
				tool.ToolSearchFlights,
				tool.ToolLookupPolicy,
				tool.ToolUpdateTicketToNewFlight,
				tool.ToolCancelTicket,
			},
			ReturnTool: tool.ToolCompleteOrEscalate,
		},
		{
			ID:        Hotel,
			Name:      "Hotel Booking Assistant",
			Persona:   prompts.Hotel,
			EntryTool: ToolToHotelAssistant,
			Purpose:   "Use it for searching, booking, updating or cancelling hotel reservations.",
			Tools: []string{
				tool.ToolSearchHotels,
				tool.ToolBookHotel,
				tool.ToolUpdateHotel,
				tool.ToolCancelHotel,
			},
			ReturnTool: tool.ToolCompleteOrEscalate,
		},
		{
			ID:        CarRental,
			Name:      "Car Rental Assistant",
			Persona:   prompts.CarRental,
			EntryTool: ToolToCarRentalAssistant,
			Purpose:   "Use it for searching, booking, updating or cancelling car rentals.",
			Tools: []string{
				tool.ToolSearchCarRentals,
				tool.ToolBookCarRental,
				tool.ToolUpdateCarRental,
				tool.ToolCancelCarRental,
			},
			ReturnTool: tool.ToolCompleteOrEscalate,
		},
		{
			ID:        Excursion,
			Name:      "Trip Recommendation Assistant",
			Persona:   prompts.Excursion,
			EntryTool: ToolToExcursionAssistant,
			Purpose:   "Use it for finding, booking, updating or cancelling excursions and trip recommendations.",
			Tools: []string{
				tool.ToolSearchTripRecommendations,
				tool.ToolBookExcursion,
				tool.ToolUpdateExcursion,
				tool.ToolCancelExcursion,
			},
			ReturnTool: tool.ToolCompleteOrEscalate,
		},
	}
}

// RoutingTools returns the entry tools of every specialized assistant plus the shared
// return tool, ready to be registered next to the domain catalog.
func RoutingTools(defs []Definition) []tool.Definition {
	var out []tool.Definition
	hasReturn := false
	for _, d := range defs {
		if d.EntryTool != "" {
			out = append(out, d.EntryToolDefinition())
		}
		if d.ReturnTool == tool.ToolCompleteOrEscalate {
			hasReturn = true
		}
	}
	if hasReturn {
		out = append(out, tool.CompleteOrEscalate())
	}
	return out
}
