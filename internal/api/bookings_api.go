package api

import (
	"errors"
	"net/http"
	"strings"

	"parkslot/internal/database"
	"parkslot/internal/events"
	"parkslot/internal/metrics"
	"parkslot/internal/models"
)

// CreatePatronRequest is the body of POST /users.
type CreatePatronRequest struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	VehicleNo string `json:"vehicle_no"`
}

// CreateBookingRequest is the body of POST /book.
type CreateBookingRequest struct {
	PatronID int64  `json:"user_id"`
	SlotID   int64  `json:"slot_id"`
	Time     string `json:"time"`
}

// ReserveRequest is the body of POST /reserve.
type ReserveRequest struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	VehicleNo string `json:"vehicle_no"`
	SlotID    int64  `json:"slot_id"`
	Time      string `json:"time"`
}

// handleUsers creates a patron.
// POST /users
func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("users")

	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req CreatePatronRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p := &models.Patron{
		Name:      strings.TrimSpace(req.Name),
		Phone:     strings.TrimSpace(req.Phone),
		VehicleNo: strings.TrimSpace(req.VehicleNo),
	}
	if err := s.db.CreatePatron(r.Context(), p); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: p.ID})
}

// handleBook lists a slot's bookings or books a slot for an existing patron.
// GET /book?slot_id=S, POST /book
func (s *HTTPServer) handleBook(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("book")

	switch r.Method {
	case http.MethodGet:
		slotID, err := queryID(r, "slot_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		bookings, err := s.db.ListBookingsBySlot(r.Context(), slotID)
		if err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, bookings)

	case http.MethodPost:
		var req CreateBookingRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.PatronID <= 0 || req.SlotID <= 0 {
			writeError(w, http.StatusBadRequest, "user_id and slot_id are required")
			return
		}
		b := &models.Booking{PatronID: req.PatronID, SlotID: req.SlotID, Time: strings.TrimSpace(req.Time)}
		if err := s.db.CreateBooking(r.Context(), b); err != nil {
			s.reservationFailed(req.SlotID, err)
			s.writeStoreError(w, r, err)
			return
		}
		s.publish(events.ReservationCreated, events.ReservationPayload{
			BookingID: b.ID, PatronID: b.PatronID, SlotID: b.SlotID, Time: b.Time,
		})
		writeJSON(w, http.StatusCreated, idResponse{ID: b.ID})

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleReserve creates the patron and the booking and takes the slot atomically.
// POST /reserve
func (s *HTTPServer) handleReserve(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("reserve")

	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req ReserveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SlotID <= 0 {
		writeError(w, http.StatusBadRequest, "slot_id is required")
		return
	}

	res, err := s.db.Reserve(r.Context(), database.ReserveParams{
		Name:      strings.TrimSpace(req.Name),
		Phone:     strings.TrimSpace(req.Phone),
		VehicleNo: strings.TrimSpace(req.VehicleNo),
		SlotID:    req.SlotID,
		Time:      strings.TrimSpace(req.Time),
	})
	if err != nil {
		s.reservationFailed(req.SlotID, err)
		s.writeStoreError(w, r, err)
		return
	}

	s.publish(events.ReservationCreated, events.ReservationPayload{
		BookingID: res.BookingID, PatronID: res.PatronID, SlotID: res.SlotID, Time: req.Time,
	})
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) reservationFailed(slotID int64, err error) {
	if errors.Is(err, database.ErrSlotUnavailable) {
		s.publish(events.ReservationConflict, events.ReservationPayload{SlotID: slotID})
	}
}
