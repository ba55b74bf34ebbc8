package booking

import (
	"errors"
	"fmt"
	"time"

	"parkslot/internal/models"
)

// ErrTimeRequired is returned when the explicit policy has no chosen time yet.
var ErrTimeRequired = errors.New("choose a reservation time")

// TimeChoice is a 12-hour clock pick plus the intended stay.
type TimeChoice struct {
	Hour     int
	Minute   int
	PM       bool
	Duration time.Duration
}

var pickerMinutes = map[int]bool{0: true, 15: true, 30: true, 45: true}

// Validate checks the picker ranges.
func (c TimeChoice) Validate() error {
	if c.Hour < 1 || c.Hour > 12 {
		return fmt.Errorf("hour must be between 1 and 12, got %d", c.Hour)
	}
	if !pickerMinutes[c.Minute] {
		return fmt.Errorf("minute must be 0, 15, 30 or 45, got %d", c.Minute)
	}
	if c.Duration <= 0 {
		return errors.New("duration must be positive")
	}
	return nil
}

// TimePolicy decides the reservation time when the wizard reaches the confirm step.
type TimePolicy interface {
	// Selectable reports whether the patron picks the time via ChooseTime.
	Selectable() bool
	// Resolve returns the "HH:MM:SS" time to reserve. choice is nil until one is made.
	Resolve(now time.Time, choice *TimeChoice) (string, error)
}

// AutoOffset reserves at a fixed offset from the moment the confirm step is entered.
type AutoOffset struct {
	Offset time.Duration
}

func (AutoOffset) Selectable() bool { return false }

func (p AutoOffset) Resolve(now time.Time, _ *TimeChoice) (string, error) {
	offset := p.Offset
	if offset <= 0 {
		offset = 30 * time.Minute
	}
	return now.Add(offset).Format("15:04") + ":00", nil
}

// Explicit lets the patron pick the time. A pick earlier than now moves to the top of
// the next hour.
type Explicit struct{}

func (Explicit) Selectable() bool { return true }

func (Explicit) Resolve(now time.Time, choice *TimeChoice) (string, error) {
	if choice == nil {
		return "", ErrTimeRequired
	}
	if err := choice.Validate(); err != nil {
		return "", err
	}

	hour := choice.Hour % 12
	if choice.PM {
		hour += 12
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, choice.Minute, 0, 0, now.Location())
	if at.Before(now) {
		at = time.Date(now.Year(), now.Month(), now.Day(), now.Hour()+1, 0, 0, 0, now.Location())
	}
	return at.Format(models.ReservationTimeLayout), nil
}
