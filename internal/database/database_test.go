package database

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkslot/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "parkslot.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedAdmin(t *testing.T, db *DB, email string) *models.Admin {
	t.Helper()
	admin := &models.Admin{Name: "Admin", Email: email, Phone: "9000000000"}
	require.NoError(t, db.CreateAdmin(context.Background(), admin, "secret"))
	return admin
}

// seedFacility creates a facility with floors x perFloor free slots.
func seedFacility(t *testing.T, db *DB, email, name, location string, floors, perFloor int) *models.Facility {
	t.Helper()
	ctx := context.Background()
	admin := seedAdmin(t, db, email)
	f := &models.Facility{AdminID: admin.ID, Name: name, Location: location}
	require.NoError(t, db.CreateFacility(ctx, f))

	var specs []models.SlotSpec
	for floor := 1; floor <= floors; floor++ {
		for n := 1; n <= perFloor; n++ {
			specs = append(specs, models.SlotSpec{FloorNo: floor, SlotNo: n})
		}
	}
	_, err := db.CreateSlots(ctx, f.ID, specs)
	require.NoError(t, err)
	return f
}

func TestCascadingQueries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	central := seedFacility(t, db, "a@x.io", "Central Mall", "Downtown", 2, 3)
	seedFacility(t, db, "b@x.io", "Harbour Point", "Downtown", 1, 2)
	seedFacility(t, db, "c@x.io", "Airport Plaza", "Uptown", 1, 1)

	locations, err := db.ListLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Downtown", "Uptown"}, locations)

	facilities, err := db.ListFacilitiesByLocation(ctx, "Downtown")
	require.NoError(t, err)
	require.Len(t, facilities, 2)
	for _, f := range facilities {
		assert.Equal(t, "Downtown", f.Location)
	}

	floors, err := db.ListFloors(ctx, central.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, floors)

	for _, floor := range floors {
		slots, err := db.ListSlots(ctx, central.ID, floor)
		require.NoError(t, err)
		require.NotEmpty(t, slots, "floor %d must have slots", floor)
		for i, s := range slots {
			assert.Equal(t, central.ID, s.FacilityID)
			assert.Equal(t, floor, s.FloorNo)
			assert.Equal(t, i+1, s.SlotNo)
			assert.True(t, s.IsAvailable)
		}
	}

	empty, err := db.ListFacilitiesByLocation(ctx, "Nowhere")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCreateFacility_OnePerAdmin(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	admin := seedAdmin(t, db, "owner@x.io")

	require.NoError(t, db.CreateFacility(ctx, &models.Facility{AdminID: admin.ID, Name: "One", Location: "L"}))
	err := db.CreateFacility(ctx, &models.Facility{AdminID: admin.ID, Name: "Two", Location: "L"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	err = db.CreateFacility(ctx, &models.Facility{AdminID: 999, Name: "Ghost", Location: "L"})
	assert.ErrorIs(t, err, ErrNotFound)

	owned, err := db.ListFacilitiesByAdmin(ctx, admin.ID)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "One", owned[0].Name)
}

func TestCreateSlots_AllOrNothing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	admin := seedAdmin(t, db, "owner@x.io")
	f := &models.Facility{AdminID: admin.ID, Name: "Central Mall", Location: "Downtown"}
	require.NoError(t, db.CreateFacility(ctx, f))

	_, err := db.CreateSlots(ctx, f.ID, []models.SlotSpec{
		{FloorNo: 1, SlotNo: 1},
		{FloorNo: 1, SlotNo: 2},
		{FloorNo: 1, SlotNo: 1},
	})
	require.ErrorIs(t, err, ErrAlreadyExists)

	floors, err := db.ListFloors(ctx, f.ID)
	require.NoError(t, err)
	assert.Empty(t, floors, "a failed batch must not leave slots behind")

	_, err = db.CreateSlots(ctx, 12345, []models.SlotSpec{{FloorNo: 1, SlotNo: 1}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSlotProgress(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	admin := seedAdmin(t, db, "owner@x.io")
	f := &models.Facility{AdminID: admin.ID, Name: "Central Mall", Location: "Downtown", PlannedSlots: 2}
	require.NoError(t, db.CreateFacility(ctx, f))

	planned, created, err := db.SlotProgress(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, planned)
	assert.Zero(t, created)

	_, err = db.CreateSlot(ctx, f.ID, models.SlotSpec{FloorNo: 1, SlotNo: 1})
	require.NoError(t, err)
	_, created, err = db.SlotProgress(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	got, err := db.GetFacility(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.PlannedSlots)

	_, _, err = db.SlotProgress(ctx, 12345)
	assert.ErrorIs(t, err, ErrNotFound)

	err = db.CreateFacility(ctx, &models.Facility{AdminID: admin.ID, Name: "X", Location: "L", PlannedSlots: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReserve(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := seedFacility(t, db, "a@x.io", "Central Mall", "Downtown", 2, 3)

	slots, err := db.ListSlots(ctx, f.ID, 2)
	require.NoError(t, err)
	slot := slots[0]

	res, err := db.Reserve(ctx, ReserveParams{
		Name: "Asha", Phone: "9876543210", VehicleNo: "KA01AB1234", SlotID: slot.ID, Time: "14:30:00",
	})
	require.NoError(t, err)
	assert.Positive(t, res.BookingID)
	assert.Positive(t, res.PatronID)

	got, err := db.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.False(t, got.IsAvailable)

	bookings, err := db.ListBookingsBySlot(ctx, slot.ID)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, "14:30:00", bookings[0].Time)
	assert.Equal(t, res.PatronID, bookings[0].PatronID)

	occupants, err := db.ListOccupantsBySlot(ctx, slot.ID)
	require.NoError(t, err)
	require.Len(t, occupants, 1)
	assert.Equal(t, models.Occupant{Name: "Asha", Phone: "9876543210", VehicleNo: "KA01AB1234"}, occupants[0])

	t.Run("second reservation conflicts", func(t *testing.T) {
		_, err := db.Reserve(ctx, ReserveParams{Name: "Ravi", Phone: "9123456780", SlotID: slot.ID, Time: "15:00:00"})
		assert.ErrorIs(t, err, ErrSlotUnavailable)
	})

	t.Run("unknown slot", func(t *testing.T) {
		_, err := db.Reserve(ctx, ReserveParams{Name: "Ravi", Phone: "9123456780", SlotID: 9999, Time: "15:00:00"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := db.Reserve(ctx, ReserveParams{Name: "Ravi", Phone: "12345", SlotID: slots[1].ID, Time: "15:00:00"})
		assert.ErrorIs(t, err, ErrInvalidInput)
		_, err = db.Reserve(ctx, ReserveParams{Name: "Ravi", Phone: "9123456780", SlotID: slots[1].ID, Time: "3pm"})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestReserve_ConcurrentSubmissions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := seedFacility(t, db, "a@x.io", "Central Mall", "Downtown", 1, 1)
	slots, err := db.ListSlots(ctx, f.ID, 1)
	require.NoError(t, err)
	slotID := slots[0].ID

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.Reserve(ctx, ReserveParams{Name: "Racer", Phone: "9000000001", SlotID: slotID, Time: "10:00:00"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotUnavailable):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)

	bookings, err := db.ListBookingsBySlot(ctx, slotID)
	require.NoError(t, err)
	assert.Len(t, bookings, 1)

	slot, err := db.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.False(t, slot.IsAvailable)
}

func TestCreateBooking_TakesSlot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := seedFacility(t, db, "a@x.io", "Central Mall", "Downtown", 1, 2)
	slots, err := db.ListSlots(ctx, f.ID, 1)
	require.NoError(t, err)

	patron := &models.Patron{Name: "Asha", Phone: "9876543210", VehicleNo: "KA01AB1234"}
	require.NoError(t, db.CreatePatron(ctx, patron))

	b := &models.Booking{PatronID: patron.ID, SlotID: slots[0].ID, Time: "09:15:00"}
	require.NoError(t, db.CreateBooking(ctx, b))
	assert.Positive(t, b.ID)

	got, err := db.GetSlot(ctx, slots[0].ID)
	require.NoError(t, err)
	assert.False(t, got.IsAvailable)

	err = db.CreateBooking(ctx, &models.Booking{PatronID: patron.ID, SlotID: slots[0].ID, Time: "09:15:00"})
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	err = db.CreateBooking(ctx, &models.Booking{PatronID: 777, SlotID: slots[1].ID, Time: "09:15:00"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetSlotAvailability(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := seedFacility(t, db, "a@x.io", "Central Mall", "Downtown", 1, 2)
	slots, err := db.ListSlots(ctx, f.ID, 1)
	require.NoError(t, err)
	booked, free := slots[0].ID, slots[1].ID

	_, err = db.Reserve(ctx, ReserveParams{Name: "Asha", Phone: "9876543210", SlotID: booked, Time: "10:00:00"})
	require.NoError(t, err)

	assert.NoError(t, db.SetSlotAvailability(ctx, booked, false), "matching the booking is a no-op")
	assert.ErrorIs(t, db.SetSlotAvailability(ctx, booked, true), ErrSlotUnavailable)
	assert.ErrorIs(t, db.SetSlotAvailability(ctx, free, false), ErrSlotUnavailable)
	assert.NoError(t, db.SetSlotAvailability(ctx, free, true))
	assert.ErrorIs(t, db.SetSlotAvailability(ctx, 4242, true), ErrNotFound)
}

func TestDeleteFacility(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	fresh := seedFacility(t, db, "a@x.io", "Fresh", "Downtown", 1, 2)
	require.NoError(t, db.DeleteFacility(ctx, fresh.ID))
	_, err := db.GetFacility(ctx, fresh.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	floors, err := db.ListFloors(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Empty(t, floors)

	used := seedFacility(t, db, "b@x.io", "Used", "Downtown", 1, 1)
	slots, err := db.ListSlots(ctx, used.ID, 1)
	require.NoError(t, err)
	_, err = db.Reserve(ctx, ReserveParams{Name: "Asha", Phone: "9876543210", SlotID: slots[0].ID, Time: "10:00:00"})
	require.NoError(t, err)
	assert.ErrorIs(t, db.DeleteFacility(ctx, used.ID), ErrFacilityInUse)

	assert.ErrorIs(t, db.DeleteFacility(ctx, 5555), ErrNotFound)
}

func TestAdminAuthentication(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	admin := &models.Admin{Name: "Meera", Email: "Meera@Example.com", Phone: "9988776655"}
	require.NoError(t, db.CreateAdmin(ctx, admin, "hunter2"))
	assert.NotEqual(t, "hunter2", admin.PasswordHash)

	err := db.CreateAdmin(ctx, &models.Admin{Name: "Dup", Email: "meera@example.com", Phone: "9988776655"}, "x")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	err = db.CreateAdmin(ctx, &models.Admin{Name: "Bad", Email: "bad@example.com", Phone: "123"}, "x")
	assert.ErrorIs(t, err, ErrInvalidInput)

	got, err := db.Authenticate(ctx, "meera@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, got.ID)

	_, err = db.Authenticate(ctx, "meera@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = db.Authenticate(ctx, "nobody@example.com", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestListFacilityOccupancy(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := seedFacility(t, db, "a@x.io", "Central Mall", "Downtown", 2, 2)
	slots, err := db.ListSlots(ctx, f.ID, 2)
	require.NoError(t, err)
	_, err = db.Reserve(ctx, ReserveParams{Name: "Asha", Phone: "9876543210", VehicleNo: "KA01", SlotID: slots[1].ID, Time: "11:00:00"})
	require.NoError(t, err)

	rows, err := db.ListFacilityOccupancy(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	occupied := 0
	for _, r := range rows {
		if r.Occupant != nil {
			occupied++
			assert.Equal(t, slots[1].ID, r.Slot.ID)
			assert.Equal(t, "Asha", r.Occupant.Name)
			assert.Equal(t, "11:00:00", r.Time)
		}
	}
	assert.Equal(t, 1, occupied)
}

func TestBackupAndCleanup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedFacility(t, db, "a@x.io", "Central Mall", "Downtown", 1, 1)

	dir := t.TempDir()
	dest := filepath.Join(dir, "copy.db")
	require.NoError(t, db.Backup(ctx, dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	old := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(dest, old, old))

	deleted, err := CleanupBackups(dir, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}
