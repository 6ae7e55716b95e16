package travel

import (
	"time"

	"github.com/uptrace/bun"
)

type Airport struct {
	bun.BaseModel `bun:"table:airports_data,alias:a"`

	AirportCode string `bun:"airport_code,pk" json:"airport_code"`
	AirportName string `bun:"airport_name" json:"airport_name"`
	City        string `bun:"city,notnull" json:"city"`
	Timezone    string `bun:"timezone" json:"timezone,omitempty"`
}

type Flight struct {
	bun.BaseModel `bun:"table:flights,alias:f"`

	FlightID           int64     `bun:"flight_id,pk,autoincrement" json:"flight_id"`
	FlightNo           string    `bun:"flight_no,notnull" json:"flight_no"`
	ScheduledDeparture time.Time `bun:"scheduled_departure,notnull" json:"scheduled_departure"`
	ScheduledArrival   time.Time `bun:"scheduled_arrival,notnull" json:"scheduled_arrival"`
	DepartureAirport   string    `bun:"departure_airport,notnull" json:"departure_airport"`
	ArrivalAirport     string    `bun:"arrival_airport,notnull" json:"arrival_airport"`
	Status             string    `bun:"status" json:"status"`
	AircraftCode       string    `bun:"aircraft_code" json:"aircraft_code"`
}

type Ticket struct {
	bun.BaseModel `bun:"table:tickets,alias:t"`

	TicketNo    string `bun:"ticket_no,pk" json:"ticket_no"`
	BookRef     string `bun:"book_ref" json:"book_ref"`
	PassengerID string `bun:"passenger_id,notnull" json:"passenger_id"`
}

type TicketFlight struct {
	bun.BaseModel `bun:"table:ticket_flights,alias:tf"`

	TicketNo       string  `bun:"ticket_no,pk" json:"ticket_no"`
	FlightID       int64   `bun:"flight_id,pk" json:"flight_id"`
	FareConditions string  `bun:"fare_conditions" json:"fare_conditions"`
	Amount         float64 `bun:"amount" json:"amount"`
}

type BoardingPass struct {
	bun.BaseModel `bun:"table:boarding_passes,alias:bp"`

	TicketNo   string `bun:"ticket_no,pk" json:"ticket_no"`
	FlightID   int64  `bun:"flight_id,pk" json:"flight_id"`
	BoardingNo int    `bun:"boarding_no" json:"boarding_no"`
	SeatNo     string `bun:"seat_no" json:"seat_no"`
}

type Hotel struct {
	bun.BaseModel `bun:"table:hotels,alias:h"`

	ID           int64     `bun:"id,pk,autoincrement" json:"id"`
	Name         string    `bun:"name,notnull" json:"name"`
	Location     string    `bun:"location,notnull" json:"location"`
	PriceTier    string    `bun:"price_tier" json:"price_tier"`
	CheckinDate  time.Time `bun:"checkin_date" json:"checkin_date"`
	CheckoutDate time.Time `bun:"checkout_date" json:"checkout_date"`
	Booked       bool      `bun:"booked,notnull,default:false" json:"booked"`
}

type CarRental struct {
	bun.BaseModel `bun:"table:car_rentals,alias:cr"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Location  string    `bun:"location,notnull" json:"location"`
	PriceTier string    `bun:"price_tier" json:"price_tier"`
	StartDate time.Time `bun:"start_date" json:"start_date"`
	EndDate   time.Time `bun:"end_date" json:"end_date"`
	Booked    bool      `bun:"booked,notnull,default:false" json:"booked"`
}

// Excursion is a trip recommendation that can be booked.
type Excursion struct {
	bun.BaseModel `bun:"table:trip_recommendations,alias:tr"`

	ID       int64  `bun:"id,pk,autoincrement" json:"id"`
	Name     string `bun:"name,notnull" json:"name"`
	Location string `bun:"location,notnull" json:"location"`
	Keywords string `bun:"keywords" json:"keywords"`
	Details  string `bun:"details" json:"details"`
	Booked   bool   `bun:"booked,notnull,default:false" json:"booked"`
}

// TicketFlightInfo is one flight segment on a passenger's ticket.
type TicketFlightInfo struct {
	TicketNo           string    `bun:"ticket_no" json:"ticket_no"`
	BookRef            string    `bun:"book_ref" json:"book_ref"`
	FlightID           int64     `bun:"flight_id" json:"flight_id"`
	FlightNo           string    `bun:"flight_no" json:"flight_no"`
	DepartureAirport   string    `bun:"departure_airport" json:"departure_airport"`
	ArrivalAirport     string    `bun:"arrival_airport" json:"arrival_airport"`
	ScheduledDeparture time.Time `bun:"scheduled_departure" json:"scheduled_departure"`
	ScheduledArrival   time.Time `bun:"scheduled_arrival" json:"scheduled_arrival"`
	SeatNo             *string   `bun:"seat_no" json:"seat_no"`
	FareConditions     string    `bun:"fare_conditions" json:"fare_conditions"`
}

// FlightInfo is a search hit with resolved airport cities.
type FlightInfo struct {
	FlightID           int64     `bun:"flight_id" json:"flight_id"`
	FlightNo           string    `bun:"flight_no" json:"flight_no"`
	DepartureAirport   string    `bun:"departure_airport" json:"departure_airport"`
	DepartureCity      string    `bun:"departure_city" json:"departure_city"`
	ArrivalAirport     string    `bun:"arrival_airport" json:"arrival_airport"`
	ArrivalCity        string    `bun:"arrival_city" json:"arrival_city"`
	ScheduledDeparture time.Time `bun:"scheduled_departure" json:"scheduled_departure"`
	ScheduledArrival   time.Time `bun:"scheduled_arrival" json:"scheduled_arrival"`
	Status             string    `bun:"status" json:"status"`
	AircraftCode       string    `bun:"aircraft_code" json:"aircraft_code"`
}

var allModels = []any{
	(*Airport)(nil),
	(*Flight)(nil),
	(*Ticket)(nil),
	(*TicketFlight)(nil),
	(*BoardingPass)(nil),
	(*Hotel)(nil),
	(*CarRental)(nil),
	(*Excursion)(nil),
}
