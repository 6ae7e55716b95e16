package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/primary.txt
	primaryRaw string

	//go:embed template/flight.txt
	flightRaw string

	//go:embed template/hotel.txt
	hotelRaw string

	//go:embed template/car_rental.txt
	carRentalRaw string

	//go:embed template/excursion.txt
	excursionRaw string
)

// Persona templates are eino FString templates with {user_info} and {time} variables.
const (
	VarUserInfo = "user_info"
	VarTime     = "time"
)

// PromptSet holds the persona template of every assistant.
type PromptSet struct {
	Primary   string
	Flight    string
	Hotel     string
	CarRental string
	Excursion string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Primary:   strings.TrimSpace(primaryRaw),
		Flight:    strings.TrimSpace(flightRaw),
		Hotel:     strings.TrimSpace(hotelRaw),
		CarRental: strings.TrimSpace(carRentalRaw),
		Excursion: strings.TrimSpace(excursionRaw),
	}
}
