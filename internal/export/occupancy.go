// Package export renders facility occupancy as an xlsx workbook.
package export

import (
	"fmt"
	"io"

	"parkslot/internal/database"
	"parkslot/internal/models"
)

// ContentType is the MIME type of the produced workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var occupancyColumns = []string{"Slot ID", "Floor", "Slot", "Available", "Name", "Phone", "Vehicle", "Time"}

// Filename returns the download name for a facility's workbook.
func Filename(f models.Facility) string {
	return fmt.Sprintf("occupancy_mall_%d.xlsx", f.ID)
}

// WriteOccupancy writes one summary sheet plus one sheet per floor. rows must be
// ordered by floor then slot number.
func WriteOccupancy(wr io.Writer, f models.Facility, rows []database.FacilityOccupancy) error {
	w := newSheetWriter()
	defer func() { _ = w.close() }()

	if err := w.addSheet("Summary"); err != nil {
		return err
	}
	occupied := 0
	for _, r := range rows {
		if r.Occupant != nil {
			occupied++
		}
	}
	summary := [][]any{
		{"Facility", f.Name},
		{"Location", f.Location},
		{"Slots", len(rows)},
		{"Occupied", occupied},
		{"Free", len(rows) - occupied},
	}
	for _, line := range summary {
		if err := w.writeRow(line); err != nil {
			return err
		}
	}

	floor := 0
	for _, r := range rows {
		if r.Slot.FloorNo != floor {
			floor = r.Slot.FloorNo
			if err := w.addSheet(fmt.Sprintf("Floor %d", floor)); err != nil {
				return err
			}
			if err := w.writeHeader(occupancyColumns); err != nil {
				return err
			}
		}

		line := []any{r.Slot.ID, r.Slot.FloorNo, r.Slot.SlotNo, r.Slot.IsAvailable, "", "", "", ""}
		if r.Occupant != nil {
			line[4], line[5], line[6], line[7] = r.Occupant.Name, r.Occupant.Phone, r.Occupant.VehicleNo, r.Time
		}
		if err := w.writeRow(line); err != nil {
			return fmt.Errorf("slot %d: %w", r.Slot.ID, err)
		}
	}

	return w.save(wr)
}
