package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"parkslot/internal/config"
	"parkslot/internal/database"
	"parkslot/internal/events"
	"parkslot/internal/export"
	"parkslot/internal/models"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type testEnv struct {
	server  *HTTPServer
	db      *database.DB
	handler http.Handler

	mu     sync.Mutex
	events []events.Event
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "parkslot.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{db: db}
	bus := events.NewEventBus(&logger)
	for _, typ := range []string{events.ReservationCreated, events.ReservationConflict, events.FacilityProvisioned, events.FacilityRolledBack} {
		bus.Subscribe(typ, func(e events.Event) error {
			env.mu.Lock()
			env.events = append(env.events, e)
			env.mu.Unlock()
			return nil
		})
	}
	SubscribeAudit(bus, &logger)

	env.server = NewHTTPServer(cfg, db, bus, &logger)
	env.handler = env.server.Handler()
	return env
}

func (e *testEnv) eventTypes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// seedFacility registers an administrator and a facility with floors x perFloor slots
// through the API, returning the facility id.
func (e *testEnv) seedFacility(t *testing.T, email, name, location string, floors, perFloor int) int64 {
	t.Helper()
	w := e.do(t, http.MethodPost, "/admin/register", RegisterAdminRequest{Name: "Admin", Email: email, Phone: "9000000000", Password: "secret"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	adminID := decodeBody[idResponse](t, w).ID

	w = e.do(t, http.MethodPost, "/malls", CreateFacilityRequest{AdminID: adminID, Name: name, Location: location})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	facilityID := decodeBody[idResponse](t, w).ID

	var specs []models.SlotSpec
	for f := 1; f <= floors; f++ {
		for s := 1; s <= perFloor; s++ {
			specs = append(specs, models.SlotSpec{FloorNo: f, SlotNo: s})
		}
	}
	w = e.do(t, http.MethodPost, "/slots/batch", CreateSlotsRequest{FacilityID: facilityID, Slots: specs})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return facilityID
}

func TestCatalogEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	central := env.seedFacility(t, "a@x.com", "Central Mall", "Downtown", 2, 3)
	env.seedFacility(t, "b@x.com", "Harbour Point", "Waterfront", 1, 2)

	w := env.do(t, http.MethodGet, "/malls/locations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Downtown", "Waterfront"}, decodeBody[[]string](t, w))

	w = env.do(t, http.MethodGet, "/malls?location=Downtown", nil)
	require.Equal(t, http.StatusOK, w.Code)
	malls := decodeBody[[]models.Facility](t, w)
	require.Len(t, malls, 1)
	assert.Equal(t, central, malls[0].ID)
	assert.Equal(t, "Central Mall", malls[0].Name)

	w = env.do(t, http.MethodGet, "/malls?location=Nowhere", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())

	w = env.do(t, http.MethodGet, "/slots/floors?mall_id="+itoa(central), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int{1, 2}, decodeBody[[]int](t, w))

	w = env.do(t, http.MethodGet, "/slots?mall_id="+itoa(central)+"&floor_no=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	slots := decodeBody[[]models.Slot](t, w)
	require.Len(t, slots, 3)
	for i, s := range slots {
		assert.Equal(t, 2, s.FloorNo)
		assert.Equal(t, i+1, s.SlotNo)
		assert.True(t, s.IsAvailable)
	}
}

func TestValidationErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantError  string
	}{
		{"malls without location", http.MethodGet, "/malls", nil, http.StatusBadRequest, "location is required"},
		{"floors without mall", http.MethodGet, "/slots/floors", nil, http.StatusBadRequest, "mall_id is required"},
		{"floors with bad mall", http.MethodGet, "/slots/floors?mall_id=abc", nil, http.StatusBadRequest, "mall_id must be a positive integer"},
		{"slots without floor", http.MethodGet, "/slots?mall_id=1", nil, http.StatusBadRequest, "floor_no must be an integer"},
		{"bookings without slot", http.MethodGet, "/book", nil, http.StatusBadRequest, "slot_id is required"},
		{"invalid json", http.MethodPost, "/users", "not json", http.StatusBadRequest, "invalid JSON body"},
		{"unknown field", http.MethodPost, "/users", map[string]string{"nickname": "x"}, http.StatusBadRequest, "invalid JSON body"},
		{"short phone", http.MethodPost, "/users", CreatePatronRequest{Name: "Asha", Phone: "12345"}, http.StatusBadRequest, ""},
		{"update without flag", http.MethodPut, "/slots", map[string]int64{"id": 1}, http.StatusBadRequest, "id and is_available are required"},
		{"wrong method", http.MethodPatch, "/malls", nil, http.StatusMethodNotAllowed, "method not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, decodeBody[ErrorResponse](t, w).Error)
			}
		})
	}
}

func TestReserveEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	central := env.seedFacility(t, "a@x.com", "Central Mall", "Downtown", 2, 3)

	w := env.do(t, http.MethodGet, "/slots?mall_id="+itoa(central)+"&floor_no=2", nil)
	slot := decodeBody[[]models.Slot](t, w)[1]

	req := ReserveRequest{Name: "Asha", Phone: "9876543210", VehicleNo: "KA01AB1234", SlotID: slot.ID, Time: "14:30:00"}
	w = env.do(t, http.MethodPost, "/reserve", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decodeBody[database.Reservation](t, w)
	assert.NotZero(t, res.BookingID)
	assert.NotZero(t, res.PatronID)

	w = env.do(t, http.MethodGet, "/book?slot_id="+itoa(slot.ID), nil)
	bookings := decodeBody[[]models.Booking](t, w)
	require.Len(t, bookings, 1)
	assert.Equal(t, "14:30:00", bookings[0].Time)

	w = env.do(t, http.MethodGet, "/slots/admin?slot_id="+itoa(slot.ID), nil)
	occupants := decodeBody[[]models.Occupant](t, w)
	require.Len(t, occupants, 1)
	assert.Equal(t, "KA01AB1234", occupants[0].VehicleNo)

	req.Name = "Ravi"
	w = env.do(t, http.MethodPost, "/reserve", req)
	assert.Equal(t, http.StatusConflict, w.Code)

	req.SlotID = 9999
	w = env.do(t, http.MethodPost, "/reserve", req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req.SlotID = slot.ID + 1
	req.Time = "2:30 PM"
	w = env.do(t, http.MethodPost, "/reserve", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, []string{events.FacilityProvisioned, events.ReservationCreated, events.ReservationConflict}, env.eventTypes())
}

func TestSequentialBookingEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	central := env.seedFacility(t, "a@x.com", "Central Mall", "Downtown", 1, 2)
	slots := decodeBody[[]models.Slot](t, env.do(t, http.MethodGet, "/slots?mall_id="+itoa(central)+"&floor_no=1", nil))
	taken, free := slots[0], slots[1]

	w := env.do(t, http.MethodPost, "/users", CreatePatronRequest{Name: "Asha", Phone: "9876543210", VehicleNo: "KA01AB1234"})
	require.Equal(t, http.StatusCreated, w.Code)
	patronID := decodeBody[idResponse](t, w).ID

	w = env.do(t, http.MethodPost, "/book", CreateBookingRequest{PatronID: patronID, SlotID: taken.ID, Time: "09:00:00"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// the booking already took the slot; marking it taken again is accepted
	w = env.do(t, http.MethodPut, "/slots", map[string]any{"id": taken.ID, "is_available": false})
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/book", CreateBookingRequest{PatronID: patronID, SlotID: taken.ID, Time: "10:00:00"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPut, "/slots", map[string]any{"id": taken.ID, "is_available": true})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPut, "/slots", map[string]any{"id": free.ID, "is_available": false})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/book", CreateBookingRequest{PatronID: 777, SlotID: free.ID, Time: "10:00:00"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/book?slot_id="+itoa(free.ID), nil)
	assert.Equal(t, "[]\n", w.Body.String())
}

func TestProvisioningEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/admin/register", RegisterAdminRequest{Name: "Meera", Email: "m@x.com", Phone: "9000000000", Password: "pw"})
	require.Equal(t, http.StatusCreated, w.Code)
	adminID := decodeBody[idResponse](t, w).ID

	w = env.do(t, http.MethodGet, "/malls/admin?id="+itoa(adminID), nil)
	assert.Equal(t, "[]\n", w.Body.String())

	w = env.do(t, http.MethodPost, "/malls", CreateFacilityRequest{AdminID: adminID, Name: "Central Mall", Location: "Downtown"})
	require.Equal(t, http.StatusCreated, w.Code)
	facilityID := decodeBody[idResponse](t, w).ID

	w = env.do(t, http.MethodPost, "/malls", CreateFacilityRequest{AdminID: adminID, Name: "Second", Location: "Downtown"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/slots", CreateSlotRequest{FacilityID: facilityID, FloorNo: 1, SlotNo: 1})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/slots", CreateSlotRequest{FacilityID: facilityID, FloorNo: 1, SlotNo: 1})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/slots/batch", CreateSlotsRequest{FacilityID: facilityID, Slots: []models.SlotSpec{{FloorNo: 2, SlotNo: 1}, {FloorNo: 1, SlotNo: 1}}})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodGet, "/slots/floors?mall_id="+itoa(facilityID), nil)
	assert.Equal(t, []int{1}, decodeBody[[]int](t, w), "failed batch leaves nothing behind")

	w = env.do(t, http.MethodGet, "/malls/admin?id="+itoa(adminID), nil)
	malls := decodeBody[[]models.Facility](t, w)
	require.Len(t, malls, 1)
	assert.Equal(t, facilityID, malls[0].ID)

	w = env.do(t, http.MethodDelete, "/malls?id="+itoa(facilityID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodDelete, "/malls?id="+itoa(facilityID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, []string{events.FacilityRolledBack}, env.eventTypes())
}

func TestSlotBySlotProvisioningPublishesOnce(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/admin/register", RegisterAdminRequest{Name: "Meera", Email: "m@x.com", Phone: "9000000000", Password: "pw"})
	require.Equal(t, http.StatusCreated, w.Code)
	adminID := decodeBody[idResponse](t, w).ID

	w = env.do(t, http.MethodPost, "/malls", CreateFacilityRequest{AdminID: adminID, Name: "Central Mall", Location: "Downtown", PlannedSlots: 3})
	require.Equal(t, http.StatusCreated, w.Code)
	facilityID := decodeBody[idResponse](t, w).ID

	for slot := 1; slot <= 3; slot++ {
		assert.Empty(t, env.eventTypes(), "no event before slot %d", slot)
		w = env.do(t, http.MethodPost, "/slots", CreateSlotRequest{FacilityID: facilityID, FloorNo: 1, SlotNo: slot})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	require.Equal(t, []string{events.FacilityProvisioned}, env.eventTypes())

	env.mu.Lock()
	var payload events.FacilityPayload
	require.NoError(t, env.events[0].Decode(&payload))
	env.mu.Unlock()
	assert.Equal(t, facilityID, payload.FacilityID)
	assert.Equal(t, 3, payload.Slots)

	w = env.do(t, http.MethodPost, "/malls", CreateFacilityRequest{AdminID: adminID, Name: "Bad", Location: "Downtown", PlannedSlots: -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/admin/register", RegisterAdminRequest{Name: "Meera", Email: "Meera@X.com", Phone: "9000000000", Password: "pw"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/admin/register", RegisterAdminRequest{Name: "Meera", Email: "meera@x.com", Phone: "9000000000", Password: "pw"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/admin/register", RegisterAdminRequest{Name: "Ravi", Email: "r@x.com", Phone: "90000", Password: "pw"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/admin/login", LoginRequest{Email: "meera@x.com", Password: "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotZero(t, decodeBody[idResponse](t, w).ID)

	w = env.do(t, http.MethodPost, "/admin/login", LoginRequest{Email: "meera@x.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/admin/login", LoginRequest{Email: "meera@x.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRateLimit(t *testing.T) {
	cfg := &config.Config{}
	cfg.RateLimit.RequestsPerMinute = 1
	cfg.RateLimit.Burst = 2
	env := newTestEnv(t, cfg)

	login := LoginRequest{Email: "nobody@x.com", Password: "pw"}
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/admin/login", login).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/admin/login", login).Code)

	w := env.do(t, http.MethodPost, "/admin/login", login)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// catalog routes are not limited
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/malls/locations", nil).Code)
}

func TestExportEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	central := env.seedFacility(t, "a@x.com", "Central Mall", "Downtown", 2, 2)
	slots := decodeBody[[]models.Slot](t, env.do(t, http.MethodGet, "/slots?mall_id="+itoa(central)+"&floor_no=1", nil))
	w := env.do(t, http.MethodPost, "/reserve", ReserveRequest{Name: "Asha", Phone: "9876543210", SlotID: slots[0].ID, Time: "08:15:00"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodGet, "/malls/export?id="+itoa(central), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.ContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "occupancy_mall_")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Summary", "Floor 1", "Floor 2"}, f.GetSheetList())

	name, err := f.GetCellValue("Floor 1", "E2")
	require.NoError(t, err)
	assert.Equal(t, "Asha", name)

	w = env.do(t, http.MethodGet, "/malls/export?id=999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = env.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", w.Body.String())

	env.server.AddReadinessCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	w = env.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis")
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/healthz", nil)
	generated := w.Header().Get(requestIDHeader)
	assert.Len(t, generated, 36)

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	req.Header.Set(requestIDHeader, "6f1c2b9e-3d4a-4b5c-8d7e-9f0a1b2c3d4e")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "6f1c2b9e-3d4a-4b5c-8d7e-9f0a1b2c3d4e", rec.Header().Get(requestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	req.Header.Set(requestIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(requestIDHeader))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
