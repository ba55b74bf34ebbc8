// Package session keeps the client-side reference to the slot a patron is booking
// and reconciles it with the bookings the backend knows about.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"parkslot/internal/models"
)

// Key is the fixed, application-wide name of the stored reference.
const Key = "activeBooking"

// DefaultTTL is how long a stored reference lives.
const DefaultTTL = 24 * time.Hour

// Reference points at the slot of an in-progress or completed booking.
type Reference struct {
	SlotID    int64     `json:"slot_id"`
	ExpiresAt time.Time `json:"expires_at"`
	// Committed is set once the reservation for SlotID was confirmed by the backend.
	Committed bool `json:"committed,omitempty"`
}

// Expired reports whether the reference outlived its TTL at now.
func (r Reference) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Decision is the outcome of reconciling a reference.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionDiscard
	DecisionResume
)

func (d Decision) String() string {
	switch d {
	case DecisionDiscard:
		return "discard"
	case DecisionResume:
		return "resume"
	default:
		return "none"
	}
}

// Resolve decides what to do with a stored reference given how many bookings the
// backend reports for its slot. A failed lookup keeps the reference untouched. An
// uncommitted reference is never resumed: a booking on its slot may be anyone's.
func Resolve(ref *Reference, now time.Time, bookings int, lookupErr error) Decision {
	switch {
	case ref == nil:
		return DecisionNone
	case ref.Expired(now), !ref.Committed:
		return DecisionDiscard
	case lookupErr != nil:
		return DecisionNone
	case bookings == 0:
		return DecisionDiscard
	default:
		return DecisionResume
	}
}

// Store persists at most one reference.
type Store interface {
	// Load returns nil when nothing (or only an expired reference) is stored.
	Load(ctx context.Context) (*Reference, error)
	Save(ctx context.Context, ref Reference) error
	Clear(ctx context.Context) error
}

// BookingLookup lists the bookings of a slot.
type BookingLookup interface {
	ListBookings(ctx context.Context, slotID int64) ([]models.Booking, error)
}

// Manager ties a Store to the backend booking lookup.
type Manager struct {
	store  Store
	lookup BookingLookup
	ttl    time.Duration
	now    func() time.Time
	logger *zerolog.Logger
}

// Option customises a Manager.
type Option func(*Manager)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager.
func NewManager(store Store, lookup BookingLookup, opts ...Option) *Manager {
	nop := zerolog.Nop()
	m := &Manager{
		store:  store,
		lookup: lookup,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: &nop,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Resume reconciles the stored reference. On DecisionResume the returned slot id is
// the one to show as booked; on DecisionDiscard the reference has been cleared.
func (m *Manager) Resume(ctx context.Context) (Decision, int64, error) {
	ref, err := m.store.Load(ctx)
	if err != nil {
		return DecisionNone, 0, fmt.Errorf("load session: %w", err)
	}
	if ref == nil {
		return DecisionNone, 0, nil
	}

	var (
		count     int
		lookupErr error
	)
	if ref.Committed && !ref.Expired(m.now()) {
		bookings, err := m.lookup.ListBookings(ctx, ref.SlotID)
		count, lookupErr = len(bookings), err
	}

	decision := Resolve(ref, m.now(), count, lookupErr)
	m.logger.Debug().
		Int64("slot_id", ref.SlotID).
		Int("bookings", count).
		Str("decision", decision.String()).
		Msg("session resolved")

	switch decision {
	case DecisionResume:
		return decision, ref.SlotID, nil
	case DecisionDiscard:
		if err := m.store.Clear(ctx); err != nil {
			return decision, 0, fmt.Errorf("clear session: %w", err)
		}
		return decision, 0, nil
	default:
		if lookupErr != nil {
			return decision, 0, fmt.Errorf("lookup bookings for slot %d: %w", ref.SlotID, lookupErr)
		}
		return decision, 0, nil
	}
}

// Track stores slotID as the slot of interest. A committed reference is never
// replaced; an uncommitted one follows the latest selection.
func (m *Manager) Track(ctx context.Context, slotID int64) error {
	ref, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if ref != nil && (ref.Committed || ref.SlotID == slotID) {
		return nil
	}
	return m.save(ctx, slotID, false)
}

// Commit stores slotID after a confirmed reservation, replacing any earlier reference.
func (m *Manager) Commit(ctx context.Context, slotID int64) error {
	return m.save(ctx, slotID, true)
}

// Forget drops an uncommitted reference to slotID, used when the slot went to
// another patron.
func (m *Manager) Forget(ctx context.Context, slotID int64) error {
	ref, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if ref == nil || ref.Committed || ref.SlotID != slotID {
		return nil
	}
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Current returns the stored reference, if any.
func (m *Manager) Current(ctx context.Context) (*Reference, error) {
	return m.store.Load(ctx)
}

func (m *Manager) save(ctx context.Context, slotID int64, committed bool) error {
	ref := Reference{SlotID: slotID, ExpiresAt: m.now().Add(m.ttl), Committed: committed}
	if err := m.store.Save(ctx, ref); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
