package api

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"parkslot/internal/events"
	"parkslot/internal/export"
	"parkslot/internal/metrics"
	"parkslot/internal/models"
)

// CreateFacilityRequest is the body of POST /malls.
type CreateFacilityRequest struct {
	AdminID  int64  `json:"admin_id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	// PlannedSlots lets the server tell when slot-by-slot provisioning is complete.
	PlannedSlots int `json:"planned_slots,omitempty"`
}

// handleLocations lists the distinct facility locations.
// GET /malls/locations
func (s *HTTPServer) handleLocations(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("malls_locations")

	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	locations, err := s.db.ListLocations(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, locations)
}

// handleMalls lists facilities at a location, creates a facility or deletes one.
// GET /malls?location=L, POST /malls, DELETE /malls?id=M
func (s *HTTPServer) handleMalls(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("malls")

	switch r.Method {
	case http.MethodGet:
		location := strings.TrimSpace(r.URL.Query().Get("location"))
		if location == "" {
			writeError(w, http.StatusBadRequest, "location is required")
			return
		}
		list, err := s.db.ListFacilitiesByLocation(r.Context(), location)
		if err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)

	case http.MethodPost:
		var req CreateFacilityRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.AdminID <= 0 {
			writeError(w, http.StatusBadRequest, "admin_id is required")
			return
		}
		f := &models.Facility{
			AdminID:      req.AdminID,
			Name:         strings.TrimSpace(req.Name),
			Location:     strings.TrimSpace(req.Location),
			PlannedSlots: req.PlannedSlots,
		}
		if err := s.db.CreateFacility(r.Context(), f); err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, idResponse{ID: f.ID})

	case http.MethodDelete:
		id, err := queryID(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.db.DeleteFacility(r.Context(), id); err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		s.publish(events.FacilityRolledBack, events.FacilityPayload{FacilityID: id})
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

// handleAdminMalls lists the facilities owned by an administrator.
// GET /malls/admin?id=ID
func (s *HTTPServer) handleAdminMalls(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("malls_admin")

	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	adminID, err := queryID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.db.ListFacilitiesByAdmin(r.Context(), adminID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleExport streams the occupancy workbook of a facility.
// GET /malls/export?id=M
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("malls_export")

	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	id, err := queryID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	facility, err := s.db.GetFacility(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	rows, err := s.db.ListFacilityOccupancy(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	// Render fully before writing headers so a failure can still become a 500.
	var buf bytes.Buffer
	if err := export.WriteOccupancy(&buf, *facility, rows); err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(*facility)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
