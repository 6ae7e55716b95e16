package travel

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Travel-Assistant/agent/contract"
	"github.com/uptrace/bun"
)

var (
	ErrNoPassenger    = fmt.Errorf("%w: no passenger id configured", contractx.ErrDomain)
	ErrNotFound       = fmt.Errorf("%w: record not found", contractx.ErrDomain)
	ErrTicketNotOwned = fmt.Errorf("%w: ticket not found for passenger", contractx.ErrDomain)
	ErrTooLate        = fmt.Errorf("%w: flight departs too soon to reschedule", contractx.ErrDomain)
	ErrInvalidQuery   = fmt.Errorf("%w: invalid search", contractx.ErrDomain)
)

const (
	defaultSearchLimit    = 5
	maxSearchLimit        = 20
	defaultRescheduleLead = 3 * time.Hour
)

type Option func(*Repository)

// WithClock overrides the time source used for reschedule checks.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRescheduleLead sets how long before departure a new flight must still be.
func WithRescheduleLead(d time.Duration) Option {
	return func(r *Repository) {
		if d >= 0 {
			r.rescheduleLead = d
		}
	}
}

// Repository is the booking backend behind every travel tool.
type Repository struct {
	db             *bun.DB
	now            func() time.Time
	rescheduleLead time.Duration
}

func NewRepository(db *bun.DB, opts ...Option) (*Repository, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	r := &Repository{
		db:             db,
		now:            time.Now,
		rescheduleLead: defaultRescheduleLead,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Migrate creates the booking tables when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, m := range allModels {
		if _, err := r.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	return nil
}

/* --------------------------------- Flights -------------------------------- */

// UserFlights lists every ticket segment of the passenger with seat assignments.
func (r *Repository) UserFlights(ctx context.Context, passengerID string) ([]TicketFlightInfo, error) {
	if strings.TrimSpace(passengerID) == "" {
		return nil, ErrNoPassenger
	}

	var out []TicketFlightInfo
	err := r.db.NewSelect().
		TableExpr("tickets AS t").
		ColumnExpr("t.ticket_no, t.book_ref").
		ColumnExpr("f.flight_id, f.flight_no, f.departure_airport, f.arrival_airport, f.scheduled_departure, f.scheduled_arrival").
		ColumnExpr("bp.seat_no, tf.fare_conditions").
		Join("JOIN ticket_flights AS tf ON t.ticket_no = tf.ticket_no").
		Join("JOIN flights AS f ON tf.flight_id = f.flight_id").
		Join("LEFT JOIN boarding_passes AS bp ON bp.ticket_no = t.ticket_no AND bp.flight_id = f.flight_id").
		Where("t.passenger_id = ?", passengerID).
		OrderExpr("f.scheduled_departure ASC").
		Scan(ctx, &out)
	if err != nil {
		return nil, dbError("fetch user flights", err)
	}
	return out, nil
}

type FlightQuery struct {
	Origin      string
	Destination string
	Start       time.Time
	End         time.Time
	Limit       int
}

// SearchFlights matches departure and arrival cities by substring and departures
// within [Start, End).
func (r *Repository) SearchFlights(ctx context.Context, q FlightQuery) ([]FlightInfo, error) {
	if q.Start.IsZero() {
		return nil, fmt.Errorf("%w: departure date is required", ErrInvalidQuery)
	}
	end := q.End
	if end.IsZero() || !end.After(q.Start) {
		end = q.Start.Add(24 * time.Hour)
	}

	sel := r.db.NewSelect().
		TableExpr("flights AS f").
		ColumnExpr("f.flight_id, f.flight_no, f.departure_airport, dep.city AS departure_city").
		ColumnExpr("f.arrival_airport, arr.city AS arrival_city").
		ColumnExpr("f.scheduled_departure, f.scheduled_arrival, f.status, f.aircraft_code").
		Join("JOIN airports_data AS dep ON f.departure_airport = dep.airport_code").
		Join("JOIN airports_data AS arr ON f.arrival_airport = arr.airport_code").
		Where("f.scheduled_departure >= ?", q.Start.UTC()).
		Where("f.scheduled_departure < ?", end.UTC()).
		OrderExpr("f.scheduled_departure ASC").
		Limit(clampLimit(q.Limit))
	if v := strings.TrimSpace(q.Origin); v != "" {
		sel = sel.Where("LOWER(dep.city) LIKE ?", like(v))
	}
	if v := strings.TrimSpace(q.Destination); v != "" {
		sel = sel.Where("LOWER(arr.city) LIKE ?", like(v))
	}

	var out []FlightInfo
	if err := sel.Scan(ctx, &out); err != nil {
		return nil, dbError("search flights", err)
	}
	return out, nil
}

// UpdateTicketFlight moves the passenger's ticket onto newFlightID.
func (r *Repository) UpdateTicketFlight(ctx context.Context, passengerID, ticketNo string, newFlightID int64) error {
	if strings.TrimSpace(passengerID) == "" {
		return ErrNoPassenger
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := r.ensureOwned(ctx, tx, passengerID, ticketNo); err != nil {
			return err
		}

		var flight Flight
		err := tx.NewSelect().Model(&flight).Where("flight_id = ?", newFlightID).Limit(1).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: flight %d", ErrNotFound, newFlightID)
		}
		if err != nil {
			return dbError("load flight", err)
		}
		if flight.ScheduledDeparture.Sub(r.now()) < r.rescheduleLead {
			return fmt.Errorf("%w: flight %d departs at %s", ErrTooLate, newFlightID, flight.ScheduledDeparture.UTC().Format(time.RFC3339))
		}

		res, err := tx.NewUpdate().
			Model((*TicketFlight)(nil)).
			Set("flight_id = ?", newFlightID).
			Where("ticket_no = ?", ticketNo).
			Exec(ctx)
		if err != nil {
			return dbError("update ticket flight", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: ticket %s has no flight", ErrNotFound, ticketNo)
		}

		if _, err := tx.NewDelete().
			Model((*BoardingPass)(nil)).
			Where("ticket_no = ?", ticketNo).
			Exec(ctx); err != nil {
			return dbError("drop boarding passes", err)
		}
		return nil
	})
}

// CancelTicket removes the passenger's ticket with its segments and boarding passes.
func (r *Repository) CancelTicket(ctx context.Context, passengerID, ticketNo string) error {
	if strings.TrimSpace(passengerID) == "" {
		return ErrNoPassenger
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := r.ensureOwned(ctx, tx, passengerID, ticketNo); err != nil {
			return err
		}
		for _, m := range []any{(*BoardingPass)(nil), (*TicketFlight)(nil), (*Ticket)(nil)} {
			if _, err := tx.NewDelete().Model(m).Where("ticket_no = ?", ticketNo).Exec(ctx); err != nil {
				return dbError("cancel ticket", err)
			}
		}
		return nil
	})
}

func (r *Repository) ensureOwned(ctx context.Context, tx bun.Tx, passengerID, ticketNo string) error {
	exists, err := tx.NewSelect().
		Model((*Ticket)(nil)).
		Where("ticket_no = ?", ticketNo).
		Where("passenger_id = ?", passengerID).
		Exists(ctx)
	if err != nil {
		return dbError("check ticket owner", err)
	}
	if !exists {
		return fmt.Errorf("%w: ticket %s, passenger %s", ErrTicketNotOwned, ticketNo, passengerID)
	}
	return nil
}

/* --------------------------------- Hotels --------------------------------- */

type HotelQuery struct {
	Location  string
	Name      string
	PriceTier string
	Limit     int
}

func (r *Repository) SearchHotels(ctx context.Context, q HotelQuery) ([]Hotel, error) {
	var out []Hotel
	sel := r.db.NewSelect().Model(&out).OrderExpr("id ASC").Limit(clampLimit(q.Limit))
	sel = whereLike(sel, "location", q.Location)
	sel = whereLike(sel, "name", q.Name)
	if v := strings.TrimSpace(q.PriceTier); v != "" {
		sel = sel.Where("LOWER(price_tier) = ?", strings.ToLower(v))
	}
	if err := sel.Scan(ctx); err != nil {
		return nil, dbError("search hotels", err)
	}
	return out, nil
}

func (r *Repository) BookHotel(ctx context.Context, id int64) error {
	return r.setBooked(ctx, (*Hotel)(nil), "hotel", id, true)
}

func (r *Repository) CancelHotel(ctx context.Context, id int64) error {
	return r.setBooked(ctx, (*Hotel)(nil), "hotel", id, false)
}

// UpdateHotel changes the stay dates; nil leaves a date untouched.
func (r *Repository) UpdateHotel(ctx context.Context, id int64, checkin, checkout *time.Time) error {
	upd := r.db.NewUpdate().Model((*Hotel)(nil)).Where("id = ?", id)
	if checkin == nil && checkout == nil {
		return fmt.Errorf("%w: nothing to update for hotel %d", ErrInvalidQuery, id)
	}
	if checkin != nil {
		upd = upd.Set("checkin_date = ?", checkin.UTC())
	}
	if checkout != nil {
		upd = upd.Set("checkout_date = ?", checkout.UTC())
	}
	return execOne(ctx, upd, "hotel", id)
}

/* ------------------------------- Car rentals ------------------------------ */

type CarRentalQuery struct {
	Location  string
	Name      string
	PriceTier string
	Limit     int
}

func (r *Repository) SearchCarRentals(ctx context.Context, q CarRentalQuery) ([]CarRental, error) {
	var out []CarRental
	sel := r.db.NewSelect().Model(&out).OrderExpr("id ASC").Limit(clampLimit(q.Limit))
	sel = whereLike(sel, "location", q.Location)
	sel = whereLike(sel, "name", q.Name)
	if v := strings.TrimSpace(q.PriceTier); v != "" {
		sel = sel.Where("LOWER(price_tier) = ?", strings.ToLower(v))
	}
	if err := sel.Scan(ctx); err != nil {
		return nil, dbError("search car rentals", err)
	}
	return out, nil
}

func (r *Repository) BookCarRental(ctx context.Context, id int64) error {
	return r.setBooked(ctx, (*CarRental)(nil), "car rental", id, true)
}

func (r *Repository) CancelCarRental(ctx context.Context, id int64) error {
	return r.setBooked(ctx, (*CarRental)(nil), "car rental", id, false)
}

func (r *Repository) UpdateCarRental(ctx context.Context, id int64, start, end *time.Time) error {
	if start == nil && end == nil {
		return fmt.Errorf("%w: nothing to update for car rental %d", ErrInvalidQuery, id)
	}
	upd := r.db.NewUpdate().Model((*CarRental)(nil)).Where("id = ?", id)
	if start != nil {
		upd = upd.Set("start_date = ?", start.UTC())
	}
	if end != nil {
		upd = upd.Set("end_date = ?", end.UTC())
	}
	return execOne(ctx, upd, "car rental", id)
}

/* ------------------------------- Excursions ------------------------------- */

type ExcursionQuery struct {
	Location string
	Name     string
	Keywords []string
	Limit    int
}

func (r *Repository) SearchExcursions(ctx context.Context, q ExcursionQuery) ([]Excursion, error) {
	var out []Excursion
	sel := r.db.NewSelect().Model(&out).OrderExpr("id ASC").Limit(clampLimit(q.Limit))
	sel = whereLike(sel, "location", q.Location)
	sel = whereLike(sel, "name", q.Name)

	var keywords []string
	for _, k := range q.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) > 0 {
		sel = sel.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			for _, k := range keywords {
				q = q.WhereOr("LOWER(keywords) LIKE ?", like(k))
			}
			return q
		})
	}
	if err := sel.Scan(ctx); err != nil {
		return nil, dbError("search excursions", err)
	}
	return out, nil
}

func (r *Repository) Excursion(ctx context.Context, id int64) (Excursion, error) {
	var out Excursion
	err := r.db.NewSelect().Model(&out).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Excursion{}, fmt.Errorf("%w: excursion %d", ErrNotFound, id)
	}
	if err != nil {
		return Excursion{}, dbError("load excursion", err)
	}
	return out, nil
}

func (r *Repository) BookExcursion(ctx context.Context, id int64) error {
	return r.setBooked(ctx, (*Excursion)(nil), "excursion", id, true)
}

func (r *Repository) CancelExcursion(ctx context.Context, id int64) error {
	return r.setBooked(ctx, (*Excursion)(nil), "excursion", id, false)
}

func (r *Repository) UpdateExcursion(ctx context.Context, id int64, details string) error {
	if strings.TrimSpace(details) == "" {
		return fmt.Errorf("%w: details are required for excursion %d", ErrInvalidQuery, id)
	}
	upd := r.db.NewUpdate().Model((*Excursion)(nil)).Set("details = ?", details).Where("id = ?", id)
	return execOne(ctx, upd, "excursion", id)
}

/* --------------------------------- Helpers -------------------------------- */

func (r *Repository) setBooked(ctx context.Context, model any, kind string, id int64, booked bool) error {
	upd := r.db.NewUpdate().Model(model).Set("booked = ?", booked).Where("id = ?", id)
	return execOne(ctx, upd, kind, id)
}

func execOne(ctx context.Context, upd *bun.UpdateQuery, kind string, id int64) error {
	res, err := upd.Exec(ctx)
	if err != nil {
		return dbError("update "+kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %d", ErrNotFound, kind, id)
	}
	return nil
}

func whereLike(sel *bun.SelectQuery, column, value string) *bun.SelectQuery {
	value = strings.TrimSpace(value)
	if value == "" {
		return sel
	}
	return sel.Where("LOWER(?) LIKE ?", bun.Ident(column), like(value))
}

func like(v string) string {
	return "%" + strings.ToLower(strings.TrimSpace(v)) + "%"
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultSearchLimit
	case n > maxSearchLimit:
		return maxSearchLimit
	default:
		return n
	}
}

// dbError marks connectivity failures as ErrServiceUnavailable so callers retry them.
func dbError(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%w: %s: %v", contractx.ErrServiceUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
