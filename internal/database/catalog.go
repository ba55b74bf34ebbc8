package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"parkslot/internal/models"
)

// ListLocations returns the distinct locations of registered facilities.
func (db *DB) ListLocations(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT location FROM malls ORDER BY location`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locations := make([]string, 0)
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

// ListFacilitiesByLocation returns facilities whose location equals loc.
func (db *DB) ListFacilitiesByLocation(ctx context.Context, loc string) ([]models.Facility, error) {
	return db.queryFacilities(ctx, `
		SELECT id, name, location, admin_id FROM malls
		WHERE location = ? ORDER BY name, id`, loc)
}

// ListFacilitiesByAdmin returns the facilities owned by an administrator (zero or one).
func (db *DB) ListFacilitiesByAdmin(ctx context.Context, adminID int64) ([]models.Facility, error) {
	return db.queryFacilities(ctx, `
		SELECT id, name, location, admin_id FROM malls
		WHERE admin_id = ? ORDER BY id`, adminID)
}

func (db *DB) queryFacilities(ctx context.Context, query string, args ...any) ([]models.Facility, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	facilities := make([]models.Facility, 0)
	for rows.Next() {
		var f models.Facility
		if err := rows.Scan(&f.ID, &f.Name, &f.Location, &f.AdminID); err != nil {
			return nil, err
		}
		facilities = append(facilities, f)
	}
	return facilities, rows.Err()
}

// GetFacility returns a facility by id.
func (db *DB) GetFacility(ctx context.Context, id int64) (*models.Facility, error) {
	var f models.Facility
	err := db.QueryRowContext(ctx,
		`SELECT id, name, location, admin_id, planned_slots FROM malls WHERE id = ?`, id,
	).Scan(&f.ID, &f.Name, &f.Location, &f.AdminID, &f.PlannedSlots)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateFacility registers a facility for an administrator. An administrator owns at most one.
func (db *DB) CreateFacility(ctx context.Context, f *models.Facility) error {
	if f.Name == "" || f.Location == "" {
		return fmt.Errorf("%w: name and location are required", ErrInvalidInput)
	}
	if f.PlannedSlots < 0 {
		return fmt.Errorf("%w: planned_slots must not be negative", ErrInvalidInput)
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO malls (admin_id, name, location, planned_slots, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.AdminID, f.Name, f.Location, f.PlannedSlots, time.Now(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("admin %d: %w", f.AdminID, ErrNotFound)
		}
		return fmt.Errorf("insert mall: %w", err)
	}

	f.ID, err = result.LastInsertId()
	return err
}

// SlotProgress returns the planned and the created slot count of a facility.
func (db *DB) SlotProgress(ctx context.Context, facilityID int64) (planned, created int, err error) {
	err = db.QueryRowContext(ctx,
		`SELECT m.planned_slots, COUNT(s.id) FROM malls m
		 LEFT JOIN slots s ON s.mall_id = m.id
		 WHERE m.id = ? GROUP BY m.id`, facilityID,
	).Scan(&planned, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrNotFound
	}
	return planned, created, err
}

// DeleteFacility removes a facility and its slots. It refuses when any slot is booked,
// so it is only usable as a rollback of a failed provisioning.
func (db *DB) DeleteFacility(ctx context.Context, id int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var booked int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings b
		JOIN slots s ON s.id = b.slot_id
		WHERE s.mall_id = ?`, id,
	).Scan(&booked)
	if err != nil {
		return fmt.Errorf("count bookings: %w", err)
	}
	if booked > 0 {
		return ErrFacilityInUse
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM slots WHERE mall_id = ?`, id); err != nil {
		return fmt.Errorf("delete slots: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM malls WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete mall: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// ListFloors returns the distinct floor numbers present among a facility's slots.
func (db *DB) ListFloors(ctx context.Context, facilityID int64) ([]int, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT floor_no FROM slots WHERE mall_id = ? ORDER BY floor_no`, facilityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	floors := make([]int, 0)
	for rows.Next() {
		var f int
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		floors = append(floors, f)
	}
	return floors, rows.Err()
}

// ListSlots returns the slots of one facility floor ordered by slot number.
func (db *DB) ListSlots(ctx context.Context, facilityID int64, floor int) ([]models.Slot, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, mall_id, floor_no, slot_no, is_available FROM slots
		WHERE mall_id = ? AND floor_no = ? ORDER BY slot_no`, facilityID, floor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	slots := make([]models.Slot, 0)
	for rows.Next() {
		var s models.Slot
		if err := rows.Scan(&s.ID, &s.FacilityID, &s.FloorNo, &s.SlotNo, &s.IsAvailable); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// GetSlot returns a slot by id.
func (db *DB) GetSlot(ctx context.Context, id int64) (*models.Slot, error) {
	var s models.Slot
	err := db.QueryRowContext(ctx,
		`SELECT id, mall_id, floor_no, slot_no, is_available FROM slots WHERE id = ?`, id,
	).Scan(&s.ID, &s.FacilityID, &s.FloorNo, &s.SlotNo, &s.IsAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSlot inserts a single free slot.
func (db *DB) CreateSlot(ctx context.Context, facilityID int64, spec models.SlotSpec) (int64, error) {
	if spec.FloorNo <= 0 || spec.SlotNo <= 0 {
		return 0, fmt.Errorf("%w: floor_no and slot_no must be positive", ErrInvalidInput)
	}
	result, err := db.ExecContext(ctx, `
		INSERT INTO slots (mall_id, floor_no, slot_no, is_available, updated_at)
		VALUES (?, ?, ?, 1, ?)`,
		facilityID, spec.FloorNo, spec.SlotNo, time.Now(),
	)
	if err != nil {
		return 0, mapSlotInsertErr(err, facilityID)
	}
	return result.LastInsertId()
}

// CreateSlots inserts a whole floor x slot matrix in one transaction; either every
// slot is created or none is.
func (db *DB) CreateSlots(ctx context.Context, facilityID int64, specs []models.SlotSpec) ([]int64, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no slots given", ErrInvalidInput)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO slots (mall_id, floor_no, slot_no, is_available, updated_at)
		VALUES (?, ?, ?, 1, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	ids := make([]int64, 0, len(specs))
	for _, spec := range specs {
		if spec.FloorNo <= 0 || spec.SlotNo <= 0 {
			return nil, fmt.Errorf("%w: floor_no and slot_no must be positive", ErrInvalidInput)
		}
		result, err := stmt.ExecContext(ctx, facilityID, spec.FloorNo, spec.SlotNo, now)
		if err != nil {
			return nil, fmt.Errorf("slot %d/%d: %w", spec.FloorNo, spec.SlotNo, mapSlotInsertErr(err, facilityID))
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

func mapSlotInsertErr(err error, facilityID int64) error {
	switch {
	case isUniqueViolation(err):
		return ErrAlreadyExists
	case isForeignKeyViolation(err):
		return fmt.Errorf("mall %d: %w", facilityID, ErrNotFound)
	default:
		return fmt.Errorf("insert slot: %w", err)
	}
}

// SetSlotAvailability reconciles the availability flag with the booking table.
// Only values consistent with the slot's bookings are accepted: a booked slot cannot
// be freed and a slot without a booking cannot be marked taken.
func (db *DB) SetSlotAvailability(ctx context.Context, slotID int64, available bool) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current bool
	err = tx.QueryRowContext(ctx, `SELECT is_available FROM slots WHERE id = ?`, slotID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var booked int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE slot_id = ?`, slotID,
	).Scan(&booked); err != nil {
		return err
	}
	if available == (booked > 0) {
		return ErrSlotUnavailable
	}
	if current == available {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE slots SET is_available = ?, updated_at = ? WHERE id = ?`,
		available, time.Now(), slotID,
	); err != nil {
		return err
	}
	return tx.Commit()
}
