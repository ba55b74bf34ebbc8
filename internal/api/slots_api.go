package api

import (
	"context"
	"net/http"
	"strconv"

	"parkslot/internal/events"
	"parkslot/internal/metrics"
	"parkslot/internal/models"
)

// CreateSlotRequest is the body of POST /slots.
type CreateSlotRequest struct {
	FacilityID int64 `json:"mall_id"`
	FloorNo    int   `json:"floor_no"`
	SlotNo     int   `json:"slot_no"`
}

// CreateSlotsRequest is the body of POST /slots/batch.
type CreateSlotsRequest struct {
	FacilityID int64             `json:"mall_id"`
	Slots      []models.SlotSpec `json:"slots"`
}

// UpdateSlotRequest is the body of PUT /slots.
type UpdateSlotRequest struct {
	ID          int64 `json:"id"`
	IsAvailable *bool `json:"is_available"`
}

// handleSlots lists the slots of a floor, creates a slot or updates its availability.
// GET /slots?mall_id=M&floor_no=F, POST /slots, PUT /slots
func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("slots")

	switch r.Method {
	case http.MethodGet:
		facilityID, err := queryID(r, "mall_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		floor, err := strconv.Atoi(r.URL.Query().Get("floor_no"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "floor_no must be an integer")
			return
		}
		slots, err := s.db.ListSlots(r.Context(), facilityID, floor)
		if err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, slots)

	case http.MethodPost:
		var req CreateSlotRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.FacilityID <= 0 {
			writeError(w, http.StatusBadRequest, "mall_id is required")
			return
		}
		id, err := s.db.CreateSlot(r.Context(), req.FacilityID, models.SlotSpec{FloorNo: req.FloorNo, SlotNo: req.SlotNo})
		if err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		metrics.AddSlotsProvisioned(1)
		s.provisioned(r.Context(), req.FacilityID, false)
		writeJSON(w, http.StatusCreated, idResponse{ID: id})

	case http.MethodPut:
		var req UpdateSlotRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.ID <= 0 || req.IsAvailable == nil {
			writeError(w, http.StatusBadRequest, "id and is_available are required")
			return
		}
		if err := s.db.SetSlotAvailability(r.Context(), req.ID, *req.IsAvailable); err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": req.ID, "is_available": *req.IsAvailable})

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodPut)
	}
}

// handleSlotsBatch creates a facility's whole slot matrix in one transaction.
// POST /slots/batch
func (s *HTTPServer) handleSlotsBatch(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("slots_batch")

	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req CreateSlotsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FacilityID <= 0 {
		writeError(w, http.StatusBadRequest, "mall_id is required")
		return
	}

	ids, err := s.db.CreateSlots(r.Context(), req.FacilityID, req.Slots)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	metrics.AddSlotsProvisioned(len(ids))
	s.provisioned(r.Context(), req.FacilityID, true)
	writeJSON(w, http.StatusCreated, map[string][]int64{"ids": ids})
}

// provisioned publishes facility.provisioned once the facility holds its planned
// slot count. Without a plan only a batch counts as the complete matrix.
func (s *HTTPServer) provisioned(ctx context.Context, facilityID int64, batch bool) {
	planned, created, err := s.db.SlotProgress(ctx, facilityID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("mall_id", facilityID).Msg("failed to count facility slots")
		return
	}
	if (planned > 0 && created != planned) || (planned == 0 && !batch) {
		return
	}
	s.publish(events.FacilityProvisioned, events.FacilityPayload{FacilityID: facilityID, Slots: created})
}
