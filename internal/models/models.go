package models

import (
	"regexp"
	"strings"
	"time"
)

// Facility is a parking structure ("mall" on the wire) owned by one administrator.
type Facility struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	AdminID  int64  `json:"admin_id,omitempty"`
	// PlannedSlots is the size of the slot matrix announced at registration, 0 if unknown.
	PlannedSlots int `json:"planned_slots,omitempty"`
}

// Slot is one bookable parking space.
type Slot struct {
	ID          int64 `json:"id"`
	FacilityID  int64 `json:"mall_id,omitempty"`
	FloorNo     int   `json:"floor_no"`
	SlotNo      int   `json:"slot_no"`
	IsAvailable bool  `json:"is_available"`
}

// SlotSpec is a floor/slot-number pair used when provisioning.
type SlotSpec struct {
	FloorNo int `json:"floor_no"`
	SlotNo  int `json:"slot_no"`
}

// Patron is the walk-in user a booking is made for.
type Patron struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	VehicleNo string `json:"vehicle_no"`
}

// Booking binds a patron to a slot for a reservation time ("HH:MM:SS").
type Booking struct {
	ID        int64     `json:"id"`
	PatronID  int64     `json:"user_id"`
	SlotID    int64     `json:"slot_id"`
	Time      string    `json:"time"`
	CreatedAt time.Time `json:"created_at"`
}

// Occupant is the patron currently holding a slot, as shown to administrators.
type Occupant struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	VehicleNo string `json:"vehicle_no"`
}

// Admin is a facility administrator account.
type Admin struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ReservationTimeLayout is the wire layout of Booking.Time.
const ReservationTimeLayout = "15:04:05"

var phoneRegex = regexp.MustCompile(`^\d{10}$`)

// IsValidPhone reports whether phone is exactly ten digits.
func IsValidPhone(phone string) bool {
	return phoneRegex.MatchString(phone)
}

// IsValidReservationTime reports whether s is a valid "HH:MM:SS" clock value.
func IsValidReservationTime(s string) bool {
	_, err := time.Parse(ReservationTimeLayout, strings.TrimSpace(s))
	return err == nil
}
