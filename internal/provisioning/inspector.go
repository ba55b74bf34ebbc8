package provisioning

import (
	"context"
	"errors"
	"fmt"

	"parkslot/internal/models"
)

var ErrNoOccupant = errors.New("no occupant for slot")

// InspectorBackend is the read side used by the administrator dashboard.
type InspectorBackend interface {
	ListFloors(ctx context.Context, facilityID int64) ([]int, error)
	ListSlots(ctx context.Context, facilityID int64, floor int) ([]models.Slot, error)
	ListOccupants(ctx context.Context, slotID int64) ([]models.Occupant, error)
}

// Grid is one floor of a facility as drawn on the dashboard.
type Grid struct {
	Floors []int
	Floor  int
	Slots  []models.Slot
}

// Occupied counts the slots on the floor that are taken.
func (g Grid) Occupied() int {
	n := 0
	for _, s := range g.Slots {
		if !s.IsAvailable {
			n++
		}
	}
	return n
}

type Inspector struct {
	backend InspectorBackend
}

func NewInspector(backend InspectorBackend) *Inspector {
	return &Inspector{backend: backend}
}

// Occupant returns the first occupant recorded for slotID.
func (i *Inspector) Occupant(ctx context.Context, slotID int64) (*models.Occupant, error) {
	list, err := i.backend.ListOccupants(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("get occupant of slot %d: %w", slotID, err)
	}
	if len(list) == 0 {
		return nil, ErrNoOccupant
	}
	o := list[0]
	return &o, nil
}

// Grid loads the floors of a facility and the slots of one of them. A floor of
// zero, or one the facility does not have, selects the lowest floor.
func (i *Inspector) Grid(ctx context.Context, facilityID int64, floor int) (*Grid, error) {
	floors, err := i.backend.ListFloors(ctx, facilityID)
	if err != nil {
		return nil, fmt.Errorf("list floors: %w", err)
	}
	g := &Grid{Floors: floors}
	if len(floors) == 0 {
		return g, nil
	}

	g.Floor = floors[0]
	for _, f := range floors {
		if f == floor {
			g.Floor = f
			break
		}
	}

	g.Slots, err = i.backend.ListSlots(ctx, facilityID, g.Floor)
	if err != nil {
		return nil, fmt.Errorf("list slots on floor %d: %w", g.Floor, err)
	}
	return g, nil
}

// Select returns the occupant of an occupied slot. Free slots yield nil.
func (i *Inspector) Select(ctx context.Context, slot models.Slot) (*models.Occupant, error) {
	if slot.IsAvailable {
		return nil, nil
	}
	return i.Occupant(ctx, slot.ID)
}
