package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"parkslot/internal/models"
)

// SequentialBackend is the three-call reservation contract.
type SequentialBackend interface {
	CreatePatron(ctx context.Context, p models.Patron) (int64, error)
	CreateBooking(ctx context.Context, patronID, slotID int64, at string) (int64, error)
	UpdateSlot(ctx context.Context, slotID int64, available bool) error
}

// ErrSlotNotMarked is returned when the booking exists but the slot could not be
// marked taken. Submitting the same request again only retries the slot update.
var ErrSlotNotMarked = errors.New("booking created but slot not marked taken")

// SequentialReserver creates the patron, then the booking, then marks the slot taken,
// awaiting each call. A conflict on the booking call surfaces unchanged, so it still
// matches catalog.ErrConflict. A patron created before a failed booking is left behind.
type SequentialReserver struct {
	backend SequentialBackend
	logger  *zerolog.Logger

	mu sync.Mutex
	// unmarked holds bookings whose slot update failed, by request.
	unmarked map[ReserveRequest]int64
}

// NewSequentialReserver wraps backend.
func NewSequentialReserver(backend SequentialBackend, logger *zerolog.Logger) *SequentialReserver {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SequentialReserver{backend: backend, logger: logger, unmarked: make(map[ReserveRequest]int64)}
}

func (r *SequentialReserver) Reserve(ctx context.Context, req ReserveRequest) (int64, error) {
	r.mu.Lock()
	bookingID, retry := r.unmarked[req]
	r.mu.Unlock()
	if retry {
		return r.markTaken(ctx, req, bookingID)
	}

	patronID, err := r.backend.CreatePatron(ctx, models.Patron{
		Name:      req.Name,
		Phone:     req.Phone,
		VehicleNo: req.VehicleNo,
	})
	if err != nil {
		return 0, fmt.Errorf("create patron: %w", err)
	}

	bookingID, err = r.backend.CreateBooking(ctx, patronID, req.SlotID, req.Time)
	if err != nil {
		r.logger.Warn().Err(err).Int64("user_id", patronID).Int64("slot_id", req.SlotID).Msg("booking failed after patron creation")
		return 0, fmt.Errorf("create booking: %w", err)
	}

	return r.markTaken(ctx, req, bookingID)
}

func (r *SequentialReserver) markTaken(ctx context.Context, req ReserveRequest, bookingID int64) (int64, error) {
	err := r.backend.UpdateSlot(ctx, req.SlotID, false)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.unmarked[req] = bookingID
		r.logger.Warn().Err(err).Int64("booking_id", bookingID).Int64("slot_id", req.SlotID).Msg("slot update failed after booking")
		return 0, fmt.Errorf("%w: slot %d: %w", ErrSlotNotMarked, req.SlotID, err)
	}
	delete(r.unmarked, req)
	return bookingID, nil
}
