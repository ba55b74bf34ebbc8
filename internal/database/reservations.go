package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"parkslot/internal/models"
)

// ReserveParams carries everything one reservation needs.
type ReserveParams struct {
	Name      string
	Phone     string
	VehicleNo string
	SlotID    int64
	Time      string
}

// Reservation is the result of a successful Reserve.
type Reservation struct {
	BookingID int64 `json:"id"`
	PatronID  int64 `json:"user_id"`
	SlotID    int64 `json:"slot_id"`
}

// Reserve creates the patron and the booking and takes the slot in one transaction.
// It returns ErrSlotUnavailable when the slot is already taken.
func (db *DB) Reserve(ctx context.Context, p ReserveParams) (*Reservation, error) {
	if p.Name == "" || !models.IsValidPhone(p.Phone) {
		return nil, fmt.Errorf("%w: name and a 10 digit phone are required", ErrInvalidInput)
	}
	if !models.IsValidReservationTime(p.Time) {
		return nil, fmt.Errorf("%w: time must be HH:MM:SS", ErrInvalidInput)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := takeSlot(ctx, tx, p.SlotID); err != nil {
		return nil, err
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO users (name, phone, vehicle_no, created_at) VALUES (?, ?, ?, ?)`,
		p.Name, p.Phone, p.VehicleNo, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	patronID, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	bookingID, err := insertBooking(ctx, tx, patronID, p.SlotID, p.Time, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	if db.logger != nil {
		db.logger.Info().
			Int64("booking_id", bookingID).
			Int64("slot_id", p.SlotID).
			Int64("user_id", patronID).
			Msg("slot reserved")
	}
	return &Reservation{BookingID: bookingID, PatronID: patronID, SlotID: p.SlotID}, nil
}

// CreatePatron inserts a patron. Patrons are never de-duplicated by phone.
func (db *DB) CreatePatron(ctx context.Context, p *models.Patron) error {
	if p.Name == "" || !models.IsValidPhone(p.Phone) {
		return fmt.Errorf("%w: name and a 10 digit phone are required", ErrInvalidInput)
	}
	result, err := db.ExecContext(ctx,
		`INSERT INTO users (name, phone, vehicle_no, created_at) VALUES (?, ?, ?, ?)`,
		p.Name, p.Phone, p.VehicleNo, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	p.ID, err = result.LastInsertId()
	return err
}

// CreateBooking books a slot for an existing patron and takes the slot in the same
// transaction.
func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	if !models.IsValidReservationTime(b.Time) {
		return fmt.Errorf("%w: time must be HH:MM:SS", ErrInvalidInput)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE id = ?`, b.PatronID,
	).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("user %d: %w", b.PatronID, ErrNotFound)
	}

	if err := takeSlot(ctx, tx, b.SlotID); err != nil {
		return err
	}

	now := time.Now()
	id, err := insertBooking(ctx, tx, b.PatronID, b.SlotID, b.Time, now)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	b.ID = id
	b.CreatedAt = now
	return nil
}

// takeSlot flips is_available from 1 to 0, failing if the slot is missing or taken.
func takeSlot(ctx context.Context, tx *sql.Tx, slotID int64) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE slots SET is_available = 0, updated_at = ? WHERE id = ? AND is_available = 1`,
		time.Now(), slotID,
	)
	if err != nil {
		return fmt.Errorf("take slot: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM slots WHERE id = ?`, slotID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("slot %d: %w", slotID, ErrNotFound)
	}
	return ErrSlotUnavailable
}

func insertBooking(ctx context.Context, tx *sql.Tx, patronID, slotID int64, at string, now time.Time) (int64, error) {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO bookings (user_id, slot_id, time, created_at) VALUES (?, ?, ?, ?)`,
		patronID, slotID, at, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrSlotUnavailable
		}
		return 0, fmt.Errorf("insert booking: %w", err)
	}
	return result.LastInsertId()
}

// ListBookingsBySlot returns the bookings referencing a slot (zero or one).
func (db *DB) ListBookingsBySlot(ctx context.Context, slotID int64) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, slot_id, time, created_at FROM bookings
		WHERE slot_id = ? ORDER BY id`, slotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := make([]models.Booking, 0)
	for rows.Next() {
		var b models.Booking
		if err := rows.Scan(&b.ID, &b.PatronID, &b.SlotID, &b.Time, &b.CreatedAt); err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// ListOccupantsBySlot returns the patrons holding a slot.
func (db *DB) ListOccupantsBySlot(ctx context.Context, slotID int64) ([]models.Occupant, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT u.name, u.phone, COALESCE(u.vehicle_no, '') FROM bookings b
		JOIN users u ON u.id = b.user_id
		WHERE b.slot_id = ? ORDER BY b.id`, slotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	occupants := make([]models.Occupant, 0)
	for rows.Next() {
		var o models.Occupant
		if err := rows.Scan(&o.Name, &o.Phone, &o.VehicleNo); err != nil {
			return nil, err
		}
		occupants = append(occupants, o)
	}
	return occupants, rows.Err()
}

// FacilityOccupancy is one row of the occupancy export.
type FacilityOccupancy struct {
	Slot     models.Slot
	Occupant *models.Occupant
	Time     string
}

// ListFacilityOccupancy returns every slot of a facility with its occupant, if any.
func (db *DB) ListFacilityOccupancy(ctx context.Context, facilityID int64) ([]FacilityOccupancy, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.id, s.mall_id, s.floor_no, s.slot_no, s.is_available,
		       u.name, u.phone, u.vehicle_no, b.time
		FROM slots s
		LEFT JOIN bookings b ON b.slot_id = s.id
		LEFT JOIN users u ON u.id = b.user_id
		WHERE s.mall_id = ?
		ORDER BY s.floor_no, s.slot_no`, facilityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FacilityOccupancy
	for rows.Next() {
		var row FacilityOccupancy
		var name, phone, vehicle, at sql.NullString
		if err := rows.Scan(
			&row.Slot.ID, &row.Slot.FacilityID, &row.Slot.FloorNo, &row.Slot.SlotNo, &row.Slot.IsAvailable,
			&name, &phone, &vehicle, &at,
		); err != nil {
			return nil, err
		}
		if name.Valid {
			row.Occupant = &models.Occupant{Name: name.String, Phone: phone.String, VehicleNo: vehicle.String}
			row.Time = at.String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
