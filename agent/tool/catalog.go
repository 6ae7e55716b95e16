package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Travel-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Travel-Assistant/agent/state"
	travelx "github.com/tanpawarit/Chative-Travel-Assistant/agent/travel"
)

const (
	ToolFetchUserFlightInformation = "fetch_user_flight_information"
	ToolSearchFlights              = "search_flights"
	ToolLookupPolicy               = "lookup_policy"
	ToolUpdateTravelerContext      = "update_traveler_context"

	ToolUpdateTicketToNewFlight = "update_ticket_to_new_flight"
	ToolCancelTicket            = "cancel_ticket"

	ToolSearchHotels = "search_hotels"
	ToolBookHotel    = "book_hotel"
	ToolUpdateHotel  = "update_hotel"
	ToolCancelHotel  = "cancel_hotel"

	ToolSearchCarRentals = "search_car_rentals"
	ToolBookCarRental    = "book_car_rental"
	ToolUpdateCarRental  = "update_car_rental"
	ToolCancelCarRental  = "cancel_car_rental"

	ToolSearchTripRecommendations = "search_trip_recommendations"
	ToolBookExcursion             = "book_excursion"
	ToolUpdateExcursion           = "update_excursion"
	ToolCancelExcursion           = "cancel_excursion"
)

// PassengerKey is the user context entry naming the traveler whose tickets the tools act on.
const PassengerKey = "passenger_id"

// EditableContextKeys are the user context entries update_traveler_context may write.
var EditableContextKeys = []string{"home_city", "seat_preference", "dietary_needs", "loyalty_number", "preferred_language"}

// Bookings is the booking backend the travel tools run against.
type Bookings interface {
	UserFlights(ctx context.Context, passengerID string) ([]travelx.TicketFlightInfo, error)
	SearchFlights(ctx context.Context, q travelx.FlightQuery) ([]travelx.FlightInfo, error)
	UpdateTicketFlight(ctx context.Context, passengerID, ticketNo string, newFlightID int64) error
	CancelTicket(ctx context.Context, passengerID, ticketNo string) error

	SearchHotels(ctx context.Context, q travelx.HotelQuery) ([]travelx.Hotel, error)
	BookHotel(ctx context.Context, id int64) error
	UpdateHotel(ctx context.Context, id int64, checkin, checkout *time.Time) error
	CancelHotel(ctx context.Context, id int64) error

	SearchCarRentals(ctx context.Context, q travelx.CarRentalQuery) ([]travelx.CarRental, error)
	BookCarRental(ctx context.Context, id int64) error
	UpdateCarRental(ctx context.Context, id int64, start, end *time.Time) error
	CancelCarRental(ctx context.Context, id int64) error

	SearchExcursions(ctx context.Context, q travelx.ExcursionQuery) ([]travelx.Excursion, error)
	BookExcursion(ctx context.Context, id int64) error
	UpdateExcursion(ctx context.Context, id int64, details string) error
	CancelExcursion(ctx context.Context, id int64) error
}

type CatalogDeps struct {
	Bookings Bookings
	// Policies backs lookup_policy. Optional.
	Policies contractx.KnowledgeIndex
	// Recommendations switches search_trip_recommendations to semantic search. Optional.
	Recommendations contractx.KnowledgeIndex
	PolicyTopK      int
}

// TravelCatalog builds every domain tool definition.
func TravelCatalog(deps CatalogDeps) ([]Definition, error) {
	if deps.Bookings == nil {
		return nil, errors.New("bookings backend is required")
	}
	b := deps.Bookings
	topK := deps.PolicyTopK
	if topK <= 0 {
		topK = 2
	}

	defs := []Definition{
		{
			Name:        ToolFetchUserFlightInformation,
			Description: "Fetch all tickets for the user along with corresponding flight information and seat assignments.",
			Sensitivity: statex.Safe,
			Kind:        KindDomain,
			Handler: Typed(func(ctx context.Context, inv Invocation, _ struct{}) (Result, error) {
				rows, err := b.UserFlights(ctx, inv.UserContext[PassengerKey])
				if err != nil {
					return Result{}, err
				}
				return jsonResult(rows)
			}),
		},
		{
			Name:        ToolSearchFlights,
			Description: "Search for flights by departure city, arrival city and departure date window.",
			Params: map[string]*schema.ParameterInfo{
				"origin":      {Type: schema.String, Desc: "Departure city."},
				"destination": {Type: schema.String, Desc: "Arrival city."},
				"start_date":  {Type: schema.String, Desc: "Earliest departure date, YYYY-MM-DD.", Required: true},
				"end_date":    {Type: schema.String, Desc: "Latest departure date (exclusive), YYYY-MM-DD. Defaults to one day after start_date."},
				"limit":       {Type: schema.Integer, Desc: "Maximum number of results."},
			},
			Sensitivity: statex.Safe,
			Kind:        KindDomain,
			Handler: TypedWithCheck(
				func(a searchFlightsArgs) error {
					if _, err := parseDate(a.StartDate); err != nil {
						return err
					}
					if a.EndDate != "" {
						if _, err := parseDate(a.EndDate); err != nil {
							return err
						}
					}
					return nil
				},
				func(ctx context.Context, _ Invocation, a searchFlightsArgs) (Result, error) {
					start, _ := parseDate(a.StartDate)
					var end time.Time
					if a.EndDate != "" {
						end, _ = parseDate(a.EndDate)
					}
					rows, err := b.SearchFlights(ctx, travelx.FlightQuery{
						Origin:      a.Origin,
						Destination: a.Destination,
						Start:       start,
						End:         end,
						Limit:       a.Limit,
					})
					if err != nil {
						return Result{}, err
					}
					if len(rows) == 0 {
						return Result{Content: "No matching flights found. Try changing the date or city."}, nil
					}
					return jsonResult(rows)
				}),
		},
		{
			Name:        ToolLookupPolicy,
			Description: "Consult the company policies to check whether certain options are permitted. Use this before making any flight changes or other 'write' events.",
			Params: map[string]*schema.ParameterInfo{
				"query": {Type: schema.String, Desc: "The policy question.", Required: true},
			},
			Sensitivity: statex.Safe,
			Kind:        KindDomain,
			Handler: Typed(func(ctx context.Context, _ Invocation, a queryArgs) (Result, error) {
				if deps.Policies == nil {
					return Result{}, fmt.Errorf("%w: no policy documents are configured", contractx.ErrDomain)
				}
				passages, err := deps.Policies.Search(ctx, a.Query, topK)
				if err != nil {
					return Result{}, err
				}
				return Result{Content: joinPassages(passages)}, nil
			}),
		},
		{
			Name:        ToolUpdateTravelerContext,
			Description: "Remember a traveler preference for the rest of the conversation.",
			Params: map[string]*schema.ParameterInfo{
				"key":   {Type: schema.String, Desc: "Which preference to store.", Enum: EditableContextKeys, Required: true},
				"value": {Type: schema.String, Desc: "The preference value.", Required: true},
			},
			Sensitivity:    statex.Safe,
			Kind:           KindDomain,
			MutatesContext: true,
			Handler: TypedWithCheck(
				func(a contextArgs) error {
					if !slices.Contains(EditableContextKeys, a.Key) {
						return fmt.Errorf("key %q is not editable", a.Key)
					}
					if strings.TrimSpace(a.Value) == "" {
						return errors.New("value is empty")
					}
					return nil
				},
				func(_ context.Context, _ Invocation, a contextArgs) (Result, error) {
					v := strings.TrimSpace(a.Value)
					return Result{
						Content:      fmt.Sprintf("Saved %s = %s.", a.Key, v),
						ContextPatch: map[string]string{a.Key: v},
					}, nil
				}),
		},
		{
			Name:        ToolUpdateTicketToNewFlight,
			Description: "Update the user's ticket to a new valid flight.",
			Params: map[string]*schema.ParameterInfo{
				"ticket_no":     {Type: schema.String, Desc: "Ticket number to change.", Required: true},
				"new_flight_id": {Type: schema.Integer, Desc: "Flight id to move the ticket onto.", Required: true},
			},
			Sensitivity: statex.RequiresApproval,
			Kind:        KindDomain,
			Handler: Typed(func(ctx context.Context, inv Invocation, a updateTicketArgs) (Result, error) {
				if err := b.UpdateTicketFlight(ctx, inv.UserContext[PassengerKey], a.TicketNo, a.NewFlightID); err != nil {
					return Result{}, err
				}
				return Result{Content: fmt.Sprintf("Ticket %s successfully updated to flight %d.", a.TicketNo, a.NewFlightID)}, nil
			}),
		},
		{
			Name:        ToolCancelTicket,
			Description: "Cancel the user's ticket and remove it from the database.",
			Params: map[string]*schema.ParameterInfo{
				"ticket_no": {Type: schema.String, Desc: "Ticket number to cancel.", Required: true},
			},
			Sensitivity: statex.RequiresApproval,
			Kind:        KindDomain,
			Handler: Typed(func(ctx context.Context, inv Invocation, a ticketArgs) (Result, error) {
				if err := b.CancelTicket(ctx, inv.UserContext[PassengerKey], a.TicketNo); err != nil {
					return Result{}, err
				}
				return Result{Content: fmt.Sprintf("Ticket %s successfully cancelled.", a.TicketNo)}, nil
			}),
		},

		{
			Name:        ToolSearchHotels,
			Description: "Search for hotels based on location, name and price tier.",
			Params:      lodgingSearchParams("hotel"),
			Sensitivity: statex.Safe,
			Kind:        KindDomain,
			Handler: Typed(func(ctx context.Context, _ Invocation, a lodgingSearchArgs) (Result, error) {
				rows, err := b.SearchHotels(ctx, travelx.HotelQuery{Location: a.Location, Name: a.Name, PriceTier: a.PriceTier, Limit: a.Limit})
				if err != nil {
					return Result{}, err
				}
				return jsonResult(rows)
			}),
		},
		bookingTool(ToolBookHotel, "Book a hotel by its id.", "hotel", b.BookHotel, "Hotel %d successfully booked."),
		{
			Name:        ToolUpdateHotel,
			Description: "Update a hotel's check-in and check-out dates by its id.",
			Params: map[string]*schema.ParameterInfo{
				"hotel_id":      {Type: schema.Integer, Desc: "Hotel id.", Required: true},
				"checkin_date":  {Type: schema.String, Desc: "New check-in date, YYYY-MM-DD."},
				"checkout_date": {Type: schema.String, Desc: "New check-out date, YYYY-MM-DD."},
			},
			Sensitivity: statex.RequiresApproval,
			Kind:        KindDomain,
			Handler: TypedWithCheck(
				func(a updateHotelArgs) error { return checkDateRange(a.CheckinDate, a.CheckoutDate) },
				func(ctx context.Context, _ Invocation, a updateHotelArgs) (Result, error) {
					in, out := optionalDate(a.CheckinDate), optionalDate(a.CheckoutDate)
					if err := b.UpdateHotel(ctx, a.HotelID, in, out); err != nil {
						return Result{}, err
					}
					return Result{Content: fmt.Sprintf("Hotel %d successfully updated.", a.HotelID)}, nil
				}),
		},
		bookingTool(ToolCancelHotel, "Cancel a hotel reservation by its id.", "hotel", b.CancelHotel, "Hotel %d successfully cancelled."),

		{
			Name:        ToolSearchCarRentals,
			Description: "Search for car rentals based on location, name and price tier.",
			Params:      lodgingSearchParams("car rental company"),
			Sensitivity: statex.Safe,
			Kind:        KindDomain,
			Handler: Typed(func(ctx context.Context, _ Invocation, a lodgingSearchArgs) (Result, error) {
				rows, err := b.SearchCarRentals(ctx, travelx.CarRentalQuery{Location: a.Location, Name: a.Name, PriceTier: a.PriceTier, Limit: a.Limit})
				if err != nil {
					return Result{}, err
				}
				return jsonResult(rows)
			}),
		},
		bookingTool(ToolBookCarRental, "Book a car rental by its id.", "rental", b.BookCarRental, "Car rental %d successfully booked."),
		{
			Name:        ToolUpdateCarRental,
			Description: "Update a car rental's start and end dates by its id.",
			Params: map[string]*schema.ParameterInfo{
				"rental_id":  {Type: schema.Integer, Desc: "Car rental id.", Required: true},
				"start_date": {Type: schema.String, Desc: "New start date, YYYY-MM-DD."},
				"end_date":   {Type: schema.String, Desc: "New end date, YYYY-MM-DD."},
			},
			Sensitivity: statex.RequiresApproval,
			Kind:        KindDomain,
			Handler: TypedWithCheck(
				func(a updateRentalArgs) error { return checkDateRange(a.StartDate, a.EndDate) },
				func(ctx context.Context, _ Invocation, a updateRentalArgs) (Result, error) {
					start, end := optionalDate(a.StartDate), optionalDate(a.EndDate)
					if err := b.UpdateCarRental(ctx, a.RentalID, start, end); err != nil {
						return Result{}, err
					}
					return Result{Content: fmt.Sprintf("Car rental %d successfully updated.", a.RentalID)}, nil
				}),
		},
		bookingTool(ToolCancelCarRental, "Cancel a car rental by its id.", "rental", b.CancelCarRental, "Car rental %d successfully cancelled."),

		{
			Name:        ToolSearchTripRecommendations,
			Description: "Search for trip recommendations (excursions) based on location, name and keywords.",
			Params: map[string]*schema.ParameterInfo{
				"location": {Type: schema.String, Desc: "City of the excursion."},
				"name":     {Type: schema.String, Desc: "Name of the excursion."},
				"keywords": {Type: schema.String, Desc: "Comma-separated keywords, e.g. 'history, boat'."},
				"limit":    {Type: schema.Integer, Desc: "Maximum number of results."},
			},
			Sensitivity: statex.Safe,
			Kind:        KindDomain,
			Handler: Typed(func(ctx context.Context, _ Invocation, a tripSearchArgs) (Result, error) {
				if deps.Recommendations != nil {
					query := strings.TrimSpace(strings.Join([]string{a.Name, a.Location, a.Keywords}, " "))
					if query != "" {
						passages, err := deps.Recommendations.Search(ctx, query, a.Limit)
						if err != nil {
							return Result{}, err
						}
						return Result{Content: joinPassages(passages)}, nil
					}
				}
				rows, err := b.SearchExcursions(ctx, travelx.ExcursionQuery{
					Location: a.Location,
					Name:     a.Name,
					Keywords: strings.Split(a.Keywords, ","),
					Limit:    a.Limit,
				})
				if err != nil {
					return Result{}, err
				}
				return jsonResult(rows)
			}),
		},
		bookingTool(ToolBookExcursion, "Book an excursion by its recommendation id.", "recommendation", b.BookExcursion, "Trip recommendation %d successfully booked."),
		{
			Name:        ToolUpdateExcursion,
			Description: "Update a trip recommendation's details by its id.",
			Params: map[string]*schema.ParameterInfo{
				"recommendation_id": {Type: schema.Integer, Desc: "Trip recommendation id.", Required: true},
				"details":           {Type: schema.String, Desc: "New details.", Required: true},
			},
			Sensitivity: statex.RequiresApproval,
			Kind:        KindDomain,
			Handler: Typed(func(ctx context.Context, _ Invocation, a updateExcursionArgs) (Result, error) {
				if err := b.UpdateExcursion(ctx, a.RecommendationID, a.Details); err != nil {
					return Result{}, err
				}
				return Result{Content: fmt.Sprintf("Trip recommendation %d successfully updated.", a.RecommendationID)}, nil
			}),
		},
		bookingTool(ToolCancelExcursion, "Cancel a trip recommendation by its id.", "recommendation", b.CancelExcursion, "Trip recommendation %d successfully cancelled."),
	}
	return defs, nil
}

type searchFlightsArgs struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Limit       int    `json:"limit"`
}

type queryArgs struct {
	Query string `json:"query"`
}

type contextArgs struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type ticketArgs struct {
	TicketNo string `json:"ticket_no"`
}

type updateTicketArgs struct {
	TicketNo    string `json:"ticket_no"`
	NewFlightID int64  `json:"new_flight_id"`
}

type lodgingSearchArgs struct {
	Location  string `json:"location"`
	Name      string `json:"name"`
	PriceTier string `json:"price_tier"`
	Limit     int    `json:"limit"`
}

type updateHotelArgs struct {
	HotelID      int64  `json:"hotel_id"`
	CheckinDate  string `json:"checkin_date"`
	CheckoutDate string `json:"checkout_date"`
}

type updateRentalArgs struct {
	RentalID  int64  `json:"rental_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type tripSearchArgs struct {
	Location string `json:"location"`
	Name     string `json:"name"`
	Keywords string `json:"keywords"`
	Limit    int    `json:"limit"`
}

type updateExcursionArgs struct {
	RecommendationID int64  `json:"recommendation_id"`
	Details          string `json:"details"`
}

func lodgingSearchParams(noun string) map[string]*schema.ParameterInfo {
	return map[string]*schema.ParameterInfo{
		"location":   {Type: schema.String, Desc: fmt.Sprintf("City of the %s.", noun)},
		"name":       {Type: schema.String, Desc: fmt.Sprintf("Name of the %s.", noun)},
		"price_tier": {Type: schema.String, Desc: "Price tier, e.g. Economy, Midscale, Upscale, Luxury."},
		"limit":      {Type: schema.Integer, Desc: "Maximum number of results."},
	}
}

// bookingTool builds the approval-gated tools that act on a single record id.
func bookingTool(name, desc, idNoun string, act func(context.Context, int64) error, done string) Definition {
	param := idNoun + "_id"
	return Definition{
		Name:        name,
		Description: desc,
		Params: map[string]*schema.ParameterInfo{
			param: {Type: schema.Integer, Desc: fmt.Sprintf("The %s id.", idNoun), Required: true},
		},
		Sensitivity: statex.RequiresApproval,
		Kind:        KindDomain,
		Handler: Typed(func(ctx context.Context, inv Invocation, args map[string]any) (Result, error) {
			id, ok := asNumber(args[param])
			if !ok {
				return Result{}, fmt.Errorf("argument %q must be an integer", param)
			}
			if err := act(ctx, int64(id)); err != nil {
				return Result{}, err
			}
			return Result{Content: fmt.Sprintf(done, int64(id))}, nil
		}),
	}
}

func jsonResult(v any) (Result, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Result{}, fmt.Errorf("encode tool result: %w", err)
	}
	return Result{Content: string(raw)}, nil
}

func joinPassages(passages []contractx.Passage) string {
	if len(passages) == 0 {
		return "No relevant documents found."
	}
	parts := make([]string, 0, len(passages))
	for _, p := range passages {
		parts = append(parts, strings.TrimSpace(p.Text))
	}
	return strings.Join(parts, "\n\n")
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04"}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q must be YYYY-MM-DD", s)
}

func optionalDate(s string) *time.Time {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil
	}
	return &t
}

func checkDateRange(from, to string) error {
	if strings.TrimSpace(from) == "" && strings.TrimSpace(to) == "" {
		return errors.New("at least one date is required")
	}
	var start, end time.Time
	var err error
	if strings.TrimSpace(from) != "" {
		if start, err = parseDate(from); err != nil {
			return err
		}
	}
	if strings.TrimSpace(to) != "" {
		if end, err = parseDate(to); err != nil {
			return err
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("end date %s is before start date %s", to, from)
	}
	return nil
}
