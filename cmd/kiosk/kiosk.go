package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"parkslot/internal/booking"
	"parkslot/internal/terminal"
)

// kiosk drives one booking wizard from a terminal.
type kiosk struct {
	wizard *booking.Wizard
	p      *terminal.Prompter
}

func (k *kiosk) run(ctx context.Context) error {
	if err := k.wizard.Start(ctx); err != nil {
		k.p.Printf("could not load locations: %v\n", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		v := k.wizard.View()
		k.showError(v)

		var err error
		switch v.Step {
		case booking.StepIdentity:
			err = k.identity(v)
		case booking.StepLocationFacility:
			err = k.locationFacility(ctx, v)
		case booking.StepFloorSlot:
			err = k.floorSlot(ctx, v)
		case booking.StepConfirm:
			err = k.confirm(ctx, v)
		case booking.StepSuccess:
			k.success(v)
			return nil
		}

		switch {
		case err == nil:
		case errors.Is(err, terminal.ErrQuit):
			return err
		case errors.Is(err, terminal.ErrBack):
			_ = k.wizard.Prev()
		case errors.Is(err, context.Canceled):
			return err
		default:
			k.p.Printf("! %v\n", err)
		}
	}
}

func (k *kiosk) showError(v booking.View) {
	if v.LastError == nil {
		return
	}
	var conflict *booking.ConflictError
	if errors.As(v.LastError, &conflict) {
		k.p.Printf("! that slot was just taken, please pick another one\n")
	} else {
		k.p.Printf("! %v\n", v.LastError)
	}
	k.wizard.DismissError()
}

func (k *kiosk) identity(v booking.View) error {
	k.p.Printf("\nStep 1 of 4: your details\n")
	name, err := k.p.AskDefault("name", v.Form.Name)
	if err != nil {
		return err
	}
	phone, err := k.p.AskDefault("phone (10 digits)", v.Form.Phone)
	if err != nil {
		return err
	}
	vehicle, err := k.p.AskDefault("vehicle number", v.Form.VehicleNo)
	if err != nil {
		return err
	}
	if err := k.wizard.SetIdentity(name, phone, vehicle); err != nil {
		return err
	}
	return k.wizard.Next()
}

func (k *kiosk) locationFacility(ctx context.Context, v booking.View) error {
	k.p.Printf("\nStep 2 of 4: where do you want to park?\n")
	if len(v.Choices.Locations) == 0 {
		if err := k.wizard.Refresh(ctx); err != nil {
			return err
		}
		v = k.wizard.View()
		if len(v.Choices.Locations) == 0 {
			k.p.Printf("no parking locations are open\n")
			return terminal.ErrQuit
		}
	}

	i, err := k.p.Choose(terminal.Menu{Title: "Locations", Items: v.Choices.Locations, Back: true})
	if err != nil {
		return err
	}
	if err := k.wizard.SelectLocation(ctx, v.Choices.Locations[i]); err != nil {
		return err
	}

	v = k.wizard.View()
	labels := make([]string, len(v.Choices.Facilities))
	for j, f := range v.Choices.Facilities {
		labels[j] = f.Name
	}
	j, err := k.p.Choose(terminal.Menu{Title: "Parking at " + v.Selection.Location, Items: labels, Back: true})
	if errors.Is(err, terminal.ErrBack) {
		// back to the location list, same step
		return nil
	}
	if err != nil {
		return err
	}
	if err := k.wizard.SelectFacility(ctx, v.Choices.Facilities[j].ID); err != nil {
		return err
	}
	return k.wizard.Next()
}

func (k *kiosk) floorSlot(ctx context.Context, v booking.View) error {
	k.p.Printf("\nStep 3 of 4: pick a slot\n")
	labels := make([]string, len(v.Choices.Floors))
	for i, f := range v.Choices.Floors {
		labels[i] = fmt.Sprintf("Floor %d", f)
	}
	i, err := k.p.Choose(terminal.Menu{Title: "Floors", Items: labels, Back: true})
	if err != nil {
		return err
	}
	if err := k.wizard.SelectFloor(ctx, v.Choices.Floors[i]); err != nil {
		return err
	}

	v = k.wizard.View()
	terminal.RenderGrid(k.p.Out(), v.Selection.Floor, v.Choices.Slots, 10)
	answer, err := k.p.Ask("slot number (b: other floor)")
	if err != nil {
		return err
	}
	if strings.EqualFold(answer, "b") {
		return nil
	}

	for _, s := range v.Choices.Slots {
		if fmt.Sprint(s.SlotNo) != answer {
			continue
		}
		ok, err := k.wizard.SelectSlot(ctx, s.ID)
		if err != nil {
			return err
		}
		if !ok {
			k.p.Printf("slot %d is taken\n", s.SlotNo)
			return nil
		}
		return k.wizard.Next()
	}
	k.p.Printf("no slot %q on this floor\n", answer)
	return nil
}

func (k *kiosk) confirm(ctx context.Context, v booking.View) error {
	k.p.Printf("\nStep 4 of 4: confirm\n")
	if v.TimeSelectable {
		if err := k.chooseTime(); err != nil {
			return err
		}
		v = k.wizard.View()
	}

	k.p.Printf("  name:    %s\n  phone:   %s\n  vehicle: %s\n  slot id: %d (floor %d)\n  time:    %s\n",
		v.Form.Name, v.Form.Phone, v.Form.VehicleNo, v.Selection.SlotID, v.Selection.Floor, v.ReservationTime)

	ok, err := k.p.Confirm("reserve this slot")
	if err != nil {
		return err
	}
	if !ok {
		return terminal.ErrBack
	}

	var conflict *booking.ConflictError
	if err := k.wizard.Submit(ctx); err != nil && !errors.As(err, &conflict) {
		return err
	}
	return nil
}

func (k *kiosk) chooseTime() error {
	hour, err := k.p.AskInt("hour (1-12)", 1, 12)
	if err != nil {
		return err
	}
	minute, err := k.p.AskInt("minute (0, 15, 30, 45)", 0, 45)
	if err != nil {
		return err
	}
	half, err := k.p.AskDefault("am or pm", "pm")
	if err != nil {
		return err
	}
	hours, err := k.p.AskInt("duration in hours", 1, 24)
	if err != nil {
		return err
	}
	return k.wizard.ChooseTime(hour, minute, strings.EqualFold(half, "pm"), time.Duration(hours)*time.Hour)
}

func (k *kiosk) success(v booking.View) {
	k.p.Printf("\nBooking confirmed.\n")
	if v.BookingID != 0 {
		k.p.Printf("  booking id: %d\n", v.BookingID)
	}
	k.p.Printf("  show this slot id at the gate: %d\n", v.ConfirmedSlotID)
}
