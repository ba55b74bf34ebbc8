// Package booking provides the FSM-based reservation wizard.
package booking

import (
	"errors"
	"fmt"

	"parkslot/internal/catalog"
	"parkslot/internal/models"
)

// Step is the current position of the wizard.
type Step int

const (
	StepIdentity Step = iota + 1
	StepLocationFacility
	StepFloorSlot
	StepConfirm
	StepSuccess
)

func (s Step) String() string {
	switch s {
	case StepIdentity:
		return "identity"
	case StepLocationFacility:
		return "location_facility"
	case StepFloorSlot:
		return "floor_slot"
	case StepConfirm:
		return "confirm"
	case StepSuccess:
		return "success"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// transitions lists the allowed moves. Success is terminal.
var transitions = map[Step][]Step{
	StepIdentity:         {StepLocationFacility, StepSuccess},
	StepLocationFacility: {StepFloorSlot, StepIdentity},
	StepFloorSlot:        {StepConfirm, StepLocationFacility},
	StepConfirm:          {StepSuccess, StepFloorSlot},
	StepSuccess:          {},
}

// CanTransition checks if transition is allowed.
func CanTransition(from, to Step) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	// ErrStepInvalid is returned when the current step's data does not allow moving on.
	ErrStepInvalid = errors.New("step is not complete")
	// ErrWrongStep is returned for an operation that does not belong to the current step.
	ErrWrongStep = errors.New("operation not available at this step")
	// ErrUnknownChoice is returned when a selection is not among the offered choices.
	ErrUnknownChoice = errors.New("not one of the offered choices")
	// ErrBusy is returned while a submission is in flight.
	ErrBusy = errors.New("reservation already in progress")
	// ErrTimeNotSelectable is returned by ChooseTime under the automatic time policy.
	ErrTimeNotSelectable = errors.New("reservation time is chosen automatically")
)

// ConflictError reports that the selected slot was taken before the reservation landed.
type ConflictError struct {
	SlotID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %d was taken by another booking", e.SlotID)
}

func (e *ConflictError) Unwrap() error {
	return catalog.ErrConflict
}

// Form holds the identity entered on the first step.
type Form struct {
	Name      string
	Phone     string
	VehicleNo string
}

// Selection holds the cascading choices of steps two and three.
type Selection struct {
	Location   string
	FacilityID int64
	Floor      int
	SlotID     int64
}

// Choices are the options currently offered for each cascading dimension.
type Choices struct {
	Locations  []string
	Facilities []models.Facility
	Floors     []int
	Slots      []models.Slot
}

// validate reports why the wizard may not leave step s going forward.
func validate(s Step, f Form, sel Selection) error {
	switch s {
	case StepIdentity:
		if f.Name == "" {
			return fmt.Errorf("%w: name is required", ErrStepInvalid)
		}
		if !models.IsValidPhone(f.Phone) {
			return fmt.Errorf("%w: phone number must be 10 digits", ErrStepInvalid)
		}
	case StepLocationFacility:
		if sel.Location == "" || sel.FacilityID == 0 {
			return fmt.Errorf("%w: choose a location and a facility", ErrStepInvalid)
		}
	case StepFloorSlot:
		if sel.SlotID == 0 {
			return fmt.Errorf("%w: choose a free slot", ErrStepInvalid)
		}
	case StepConfirm:
		return fmt.Errorf("%w: confirm by submitting the reservation", ErrStepInvalid)
	case StepSuccess:
		return fmt.Errorf("%w: reservation already completed", ErrWrongStep)
	}
	return nil
}
