package api

import (
	"github.com/rs/zerolog"

	"parkslot/internal/events"
	"parkslot/internal/metrics"
)

// SubscribeAudit logs domain events and counts them in metrics.
func SubscribeAudit(bus *events.EventBus, logger *zerolog.Logger) {
	bus.Subscribe(events.ReservationCreated, func(e events.Event) error {
		var p events.ReservationPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		metrics.IncReservation("created")
		logger.Info().
			Int64("booking_id", p.BookingID).
			Int64("user_id", p.PatronID).
			Int64("slot_id", p.SlotID).
			Str("time", p.Time).
			Msg("reservation created")
		return nil
	})

	bus.Subscribe(events.ReservationConflict, func(e events.Event) error {
		var p events.ReservationPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		metrics.IncReservation("conflict")
		logger.Info().Int64("slot_id", p.SlotID).Msg("reservation conflict")
		return nil
	})

	bus.Subscribe(events.FacilityProvisioned, func(e events.Event) error {
		var p events.FacilityPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		metrics.IncFacility("provisioned")
		logger.Info().Int64("mall_id", p.FacilityID).Int("slots", p.Slots).Msg("facility provisioned")
		return nil
	})

	bus.Subscribe(events.FacilityRolledBack, func(e events.Event) error {
		var p events.FacilityPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		metrics.IncFacility("rolled_back")
		logger.Warn().Int64("mall_id", p.FacilityID).Msg("facility rolled back")
		return nil
	})
}
