// Package repository implements all database queries for the
// attendance core. It uses pgx directly (no ORM) for transparency and
// performance. Every state-changing query is a single-row conditional
// update so concurrent attempts against the same row serialize through
// the store, not through in-process locks.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatherly/attendance/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrEventFull is returned when an event has no remaining capacity.
var ErrEventFull = errors.New("event is fully booked")

// ErrAlreadyRegistered is returned when a user holds a non-cancelled
// registration for the event.
var ErrAlreadyRegistered = errors.New("already registered for this event")

// ErrStateConflict is returned when a conditional update finds the row
// in a state other than the expected one.
var ErrStateConflict = errors.New("state conflict")

const eventColumns = `id, owner_id, title, capacity_limit, status,
	start_datetime, end_datetime, registration_deadline, approval_mode,
	is_free, price, currency`

// EventRepository reads event snapshots. Events are owned by the event
// CRUD collaborator; this core never writes them.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.OwnerID, &e.Title, &e.CapacityLimit, &e.Status,
		&e.StartDatetime, &e.EndDatetime, &e.RegistrationDeadline,
		&e.ApprovalMode, &e.IsFree, &e.Price, &e.Currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return &e, nil
}

// GetEvent returns a single event or ErrNotFound.
func (r *EventRepository) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	return scanEvent(row)
}

// EventsStartingBetween returns published events whose start time
// falls inside [from, to]. Used by the reminder sweep.
func (r *EventRepository) EventsStartingBetween(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE status = 'published' AND start_datetime BETWEEN $1 AND $2
		 ORDER BY start_datetime ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list upcoming events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}
