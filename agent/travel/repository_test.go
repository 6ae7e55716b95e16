package travel

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	contractx "github.com/tanpawarit/Chative-Travel-Assistant/agent/contract"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

var testNow = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func newTestRepository(t *testing.T) (*Repository, *bun.DB) {
	t.Helper()

	sqldb, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	repo, err := NewRepository(db, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	ctx := context.Background()
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	seed(t, db)
	return repo, db
}

func seed(t *testing.T, db *bun.DB) {
	t.Helper()
	ctx := context.Background()

	day := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	rows := []any{
		&[]Airport{
			{AirportCode: "BSL", AirportName: "Basel EuroAirport", City: "Basel"},
			{AirportCode: "ZRH", AirportName: "Zurich Airport", City: "Zurich"},
			{AirportCode: "CDG", AirportName: "Charles de Gaulle", City: "Paris"},
		},
		&[]Flight{
			{FlightID: 1, FlightNo: "LX0112", DepartureAirport: "CDG", ArrivalAirport: "BSL",
				ScheduledDeparture: testNow.Add(2 * time.Hour), ScheduledArrival: testNow.Add(3 * time.Hour), Status: "Scheduled"},
			{FlightID: 2, FlightNo: "LX0114", DepartureAirport: "CDG", ArrivalAirport: "BSL",
				ScheduledDeparture: day.Add(9 * time.Hour), ScheduledArrival: day.Add(10 * time.Hour), Status: "Scheduled"},
			{FlightID: 3, FlightNo: "LX0200", DepartureAirport: "ZRH", ArrivalAirport: "CDG",
				ScheduledDeparture: day.Add(12 * time.Hour), ScheduledArrival: day.Add(13 * time.Hour), Status: "Scheduled"},
		},
		&[]Ticket{
			{TicketNo: "T1", BookRef: "B1", PassengerID: "P1"},
			{TicketNo: "T2", BookRef: "B2", PassengerID: "P2"},
		},
		&[]TicketFlight{
			{TicketNo: "T1", FlightID: 1, FareConditions: "Economy"},
			{TicketNo: "T2", FlightID: 3, FareConditions: "Business"},
		},
		&[]BoardingPass{{TicketNo: "T1", FlightID: 1, BoardingNo: 1, SeatNo: "18E"}},
		&[]Hotel{
			{ID: 1, Name: "Hilton Basel", Location: "Basel", PriceTier: "Luxury"},
			{ID: 2, Name: "Hyatt Regency Zurich", Location: "Zurich", PriceTier: "Upper Upscale"},
		},
		&[]CarRental{
			{ID: 1, Name: "Europcar", Location: "Basel", PriceTier: "Economy"},
			{ID: 2, Name: "Avis", Location: "Zurich", PriceTier: "Luxury"},
		},
		&[]Excursion{
			{ID: 1, Name: "Basel Minster", Location: "Basel", Keywords: "landmark, history", Details: "Gothic cathedral"},
			{ID: 2, Name: "Lake Zurich cruise", Location: "Zurich", Keywords: "boat, scenic", Details: "Evening cruise"},
		},
	}
	for _, r := range rows {
		if _, err := db.NewInsert().Model(r).Exec(ctx); err != nil {
			t.Fatalf("seed %T error = %v", r, err)
		}
	}
}

func TestUserFlights(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepository(t)
	got, err := repo.UserFlights(context.Background(), "P1")
	if err != nil {
		t.Fatalf("UserFlights() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("UserFlights() returned %d rows, want 1", len(got))
	}
	if got[0].TicketNo != "T1" || got[0].FlightNo != "LX0112" {
		t.Fatalf("unexpected row: %#v", got[0])
	}
	if got[0].SeatNo == nil || *got[0].SeatNo != "18E" {
		t.Fatalf("unexpected seat: %v", got[0].SeatNo)
	}

	if _, err := repo.UserFlights(context.Background(), ""); !errors.Is(err, ErrNoPassenger) {
		t.Fatalf("UserFlights(\"\") error = %v, want ErrNoPassenger", err)
	}
}

func TestSearchFlights(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepository(t)
	got, err := repo.SearchFlights(context.Background(), FlightQuery{
		Origin:      "paris",
		Destination: "Basel",
		Start:       time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("SearchFlights() error = %v", err)
	}
	if len(got) != 1 || got[0].FlightID != 2 {
		t.Fatalf("SearchFlights() = %#v, want flight 2", got)
	}
	if got[0].DepartureCity != "Paris" || got[0].ArrivalCity != "Basel" {
		t.Fatalf("unexpected cities: %#v", got[0])
	}

	if _, err := repo.SearchFlights(context.Background(), FlightQuery{Origin: "Paris"}); !errors.Is(err, contractx.ErrDomain) {
		t.Fatalf("SearchFlights() without date error = %v, want domain error", err)
	}
}

func TestUpdateTicketFlight(t *testing.T) {
	t.Parallel()

	repo, db := newTestRepository(t)
	ctx := context.Background()

	if err := repo.UpdateTicketFlight(ctx, "P1", "T1", 2); err != nil {
		t.Fatalf("UpdateTicketFlight() error = %v", err)
	}
	var tf TicketFlight
	if err := db.NewSelect().Model(&tf).Where("ticket_no = ?", "T1").Scan(ctx); err != nil {
		t.Fatalf("select ticket flight error = %v", err)
	}
	if tf.FlightID != 2 {
		t.Fatalf("flight_id = %d, want 2", tf.FlightID)
	}

	cases := []struct {
		name      string
		passenger string
		ticket    string
		flight    int64
		want      error
	}{
		{"other passenger", "P2", "T1", 2, ErrTicketNotOwned},
		{"unknown flight", "P1", "T1", 99, ErrNotFound},
		{"departs too soon", "P1", "T1", 1, ErrTooLate},
		{"no passenger", "", "T1", 2, ErrNoPassenger},
	}
	for _, tc := range cases {
		err := repo.UpdateTicketFlight(ctx, tc.passenger, tc.ticket, tc.flight)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: error = %v, want %v", tc.name, err, tc.want)
		}
		if !errors.Is(err, contractx.ErrDomain) {
			t.Fatalf("%s: error must be a domain error, got %v", tc.name, err)
		}
	}
}

func TestCancelTicket(t *testing.T) {
	t.Parallel()

	repo, db := newTestRepository(t)
	ctx := context.Background()

	if err := repo.CancelTicket(ctx, "P2", "T1"); !errors.Is(err, ErrTicketNotOwned) {
		t.Fatalf("CancelTicket() foreign error = %v", err)
	}
	if err := repo.CancelTicket(ctx, "P1", "T1"); err != nil {
		t.Fatalf("CancelTicket() error = %v", err)
	}
	n, err := db.NewSelect().Model((*Ticket)(nil)).Where("ticket_no = ?", "T1").Count(ctx)
	if err != nil {
		t.Fatalf("count tickets error = %v", err)
	}
	if n != 0 {
		t.Fatalf("ticket still present")
	}
	got, err := repo.UserFlights(ctx, "P1")
	if err != nil {
		t.Fatalf("UserFlights() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no flights after cancel, got %d", len(got))
	}
}

func TestHotelLifecycle(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepository(t)
	ctx := context.Background()

	hotels, err := repo.SearchHotels(ctx, HotelQuery{Location: "basel"})
	if err != nil {
		t.Fatalf("SearchHotels() error = %v", err)
	}
	if len(hotels) != 1 || hotels[0].ID != 1 || hotels[0].Booked {
		t.Fatalf("SearchHotels() = %#v", hotels)
	}

	if err := repo.BookHotel(ctx, 1); err != nil {
		t.Fatalf("BookHotel() error = %v", err)
	}
	in := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := repo.UpdateHotel(ctx, 1, &in, nil); err != nil {
		t.Fatalf("UpdateHotel() error = %v", err)
	}
	hotels, err = repo.SearchHotels(ctx, HotelQuery{Name: "hilton"})
	if err != nil {
		t.Fatalf("SearchHotels() error = %v", err)
	}
	if !hotels[0].Booked || !hotels[0].CheckinDate.Equal(in) {
		t.Fatalf("hotel not updated: %#v", hotels[0])
	}
	if err := repo.CancelHotel(ctx, 1); err != nil {
		t.Fatalf("CancelHotel() error = %v", err)
	}
	if err := repo.BookHotel(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("BookHotel(42) error = %v, want ErrNotFound", err)
	}
	if err := repo.UpdateHotel(ctx, 1, nil, nil); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("UpdateHotel() without dates error = %v", err)
	}
}

func TestCarRentalLifecycle(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepository(t)
	ctx := context.Background()

	cars, err := repo.SearchCarRentals(ctx, CarRentalQuery{PriceTier: "luxury"})
	if err != nil {
		t.Fatalf("SearchCarRentals() error = %v", err)
	}
	if len(cars) != 1 || cars[0].Name != "Avis" {
		t.Fatalf("SearchCarRentals() = %#v", cars)
	}
	if err := repo.BookCarRental(ctx, 2); err != nil {
		t.Fatalf("BookCarRental() error = %v", err)
	}
	end := time.Date(2026, 6, 5, 0, 0, 0, 0, time.UTC)
	if err := repo.UpdateCarRental(ctx, 2, nil, &end); err != nil {
		t.Fatalf("UpdateCarRental() error = %v", err)
	}
	if err := repo.CancelCarRental(ctx, 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("CancelCarRental(3) error = %v", err)
	}
}

func TestExcursionLifecycle(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepository(t)
	ctx := context.Background()

	got, err := repo.SearchExcursions(ctx, ExcursionQuery{Keywords: []string{"boat", "museum"}})
	if err != nil {
		t.Fatalf("SearchExcursions() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("SearchExcursions() = %#v", got)
	}
	if err := repo.BookExcursion(ctx, 2); err != nil {
		t.Fatalf("BookExcursion() error = %v", err)
	}
	if err := repo.UpdateExcursion(ctx, 2, "Sunset cruise"); err != nil {
		t.Fatalf("UpdateExcursion() error = %v", err)
	}
	ex, err := repo.Excursion(ctx, 2)
	if err != nil {
		t.Fatalf("Excursion() error = %v", err)
	}
	if !ex.Booked || ex.Details != "Sunset cruise" {
		t.Fatalf("unexpected excursion: %#v", ex)
	}
	if err := repo.CancelExcursion(ctx, 2); err != nil {
		t.Fatalf("CancelExcursion() error = %v", err)
	}
	if _, err := repo.Excursion(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Excursion(7) error = %v", err)
	}
}

func TestDBErrorClassification(t *testing.T) {
	t.Parallel()

	if err := dbError("op", context.DeadlineExceeded); !errors.Is(err, contractx.ErrServiceUnavailable) {
		t.Fatalf("dbError(deadline) = %v, want ErrServiceUnavailable", err)
	}
	if err := dbError("op", errors.New("syntax error")); errors.Is(err, contractx.ErrServiceUnavailable) {
		t.Fatalf("dbError(syntax) must not be retryable: %v", err)
	}
}
