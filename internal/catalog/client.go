package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"parkslot/internal/models"
)

var (
	// ErrConflict matches any *APIError carrying HTTP 409.
	ErrConflict = errors.New("conflict")
	// ErrNotFound matches any *APIError carrying HTTP 404.
	ErrNotFound = errors.New("not found")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

const cachePrefix = "parkslot:catalog:"

// Client calls the parking backend. Lookups of locations, facilities and floors can
// be cached in redis; slot lists never are.
type Client struct {
	baseURL    string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

// NewClient constructs a client for baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// UseRedisCache configures optional Redis caching for catalog lookups.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// ListLocations returns the distinct facility locations.
func (c *Client) ListLocations(ctx context.Context) ([]string, error) {
	key := cachePrefix + "locations"
	var out []string
	if c.readCache(ctx, key, &out) {
		return out, nil
	}
	if err := c.doGet(ctx, "/malls/locations", nil, &out); err != nil {
		return nil, err
	}
	c.writeCache(ctx, key, out)
	return out, nil
}

// ListFacilities returns the facilities at a location.
func (c *Client) ListFacilities(ctx context.Context, location string) ([]models.Facility, error) {
	key := cachePrefix + "facilities:" + location
	var out []models.Facility
	if c.readCache(ctx, key, &out) {
		return out, nil
	}
	if err := c.doGet(ctx, "/malls", url.Values{"location": {location}}, &out); err != nil {
		return nil, err
	}
	c.writeCache(ctx, key, out)
	return out, nil
}

// ListFacilitiesByAdmin returns the facilities owned by an administrator; empty means none yet.
func (c *Client) ListFacilitiesByAdmin(ctx context.Context, adminID int64) ([]models.Facility, error) {
	var out []models.Facility
	if err := c.doGet(ctx, "/malls/admin", url.Values{"id": {itoa(adminID)}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateFacility registers a facility and returns its id.
func (c *Client) CreateFacility(ctx context.Context, f models.Facility) (int64, error) {
	var out idResponse
	body := map[string]any{"admin_id": f.AdminID, "name": f.Name, "location": f.Location}
	if f.PlannedSlots > 0 {
		body["planned_slots"] = f.PlannedSlots
	}
	if err := c.doJSON(ctx, http.MethodPost, "/malls", body, &out); err != nil {
		return 0, err
	}
	c.invalidate(ctx)
	return out.ID, nil
}

// DeleteFacility removes a facility that has no bookings.
func (c *Client) DeleteFacility(ctx context.Context, facilityID int64) error {
	err := c.doJSON(ctx, http.MethodDelete, "/malls?id="+itoa(facilityID), nil, nil)
	c.invalidate(ctx)
	return err
}

// ListFloors returns the distinct floor numbers of a facility.
func (c *Client) ListFloors(ctx context.Context, facilityID int64) ([]int, error) {
	key := cachePrefix + "floors:" + itoa(facilityID)
	var out []int
	if c.readCache(ctx, key, &out) {
		return out, nil
	}
	if err := c.doGet(ctx, "/slots/floors", url.Values{"mall_id": {itoa(facilityID)}}, &out); err != nil {
		return nil, err
	}
	// A facility mid-provisioning has no floors yet.
	if len(out) > 0 {
		c.writeCache(ctx, key, out)
	}
	return out, nil
}

// ListSlots returns the slots of one floor. Never cached.
func (c *Client) ListSlots(ctx context.Context, facilityID int64, floor int) ([]models.Slot, error) {
	var out []models.Slot
	q := url.Values{"mall_id": {itoa(facilityID)}, "floor_no": {strconv.Itoa(floor)}}
	if err := c.doGet(ctx, "/slots", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSlot creates one free slot.
func (c *Client) CreateSlot(ctx context.Context, facilityID int64, spec models.SlotSpec) (int64, error) {
	var out idResponse
	body := map[string]any{"mall_id": facilityID, "floor_no": spec.FloorNo, "slot_no": spec.SlotNo}
	if err := c.doJSON(ctx, http.MethodPost, "/slots", body, &out); err != nil {
		return 0, err
	}
	c.invalidate(ctx)
	return out.ID, nil
}

// CreateSlots creates a whole matrix of slots in one server-side transaction.
func (c *Client) CreateSlots(ctx context.Context, facilityID int64, specs []models.SlotSpec) ([]int64, error) {
	var out struct {
		IDs []int64 `json:"ids"`
	}
	body := map[string]any{"mall_id": facilityID, "slots": specs}
	if err := c.doJSON(ctx, http.MethodPost, "/slots/batch", body, &out); err != nil {
		return nil, err
	}
	c.invalidate(ctx)
	return out.IDs, nil
}

// UpdateSlot sets a slot's availability flag.
func (c *Client) UpdateSlot(ctx context.Context, slotID int64, available bool) error {
	body := map[string]any{"id": slotID, "is_available": available}
	return c.doJSON(ctx, http.MethodPut, "/slots", body, nil)
}

// ListOccupants returns the patrons holding a slot.
func (c *Client) ListOccupants(ctx context.Context, slotID int64) ([]models.Occupant, error) {
	var out []models.Occupant
	if err := c.doGet(ctx, "/slots/admin", url.Values{"slot_id": {itoa(slotID)}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreatePatron creates a patron and returns its id.
func (c *Client) CreatePatron(ctx context.Context, p models.Patron) (int64, error) {
	var out idResponse
	body := map[string]any{"name": p.Name, "phone": p.Phone, "vehicle_no": p.VehicleNo}
	if err := c.doJSON(ctx, http.MethodPost, "/users", body, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// CreateBooking books a slot for an existing patron. A taken slot yields ErrConflict.
func (c *Client) CreateBooking(ctx context.Context, patronID, slotID int64, at string) (int64, error) {
	var out idResponse
	body := map[string]any{"user_id": patronID, "slot_id": slotID, "time": at}
	if err := c.doJSON(ctx, http.MethodPost, "/book", body, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// ListBookings returns the bookings referencing a slot; empty means none.
func (c *Client) ListBookings(ctx context.Context, slotID int64) ([]models.Booking, error) {
	var out []models.Booking
	if err := c.doGet(ctx, "/book", url.Values{"slot_id": {itoa(slotID)}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReserveRequest is the input of an atomic reservation.
type ReserveRequest struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	VehicleNo string `json:"vehicle_no"`
	SlotID    int64  `json:"slot_id"`
	Time      string `json:"time"`
}

// Reserve creates patron and booking and takes the slot in one call. A taken slot
// yields ErrConflict.
func (c *Client) Reserve(ctx context.Context, req ReserveRequest) (int64, error) {
	var out idResponse
	if err := c.doJSON(ctx, http.MethodPost, "/reserve", req, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// Login checks administrator credentials and returns the administrator id.
func (c *Client) Login(ctx context.Context, email, password string) (int64, error) {
	var out idResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/admin/login", body, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// RegisterAdminRequest is the body of POST /admin/register.
type RegisterAdminRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// RegisterAdmin creates an administrator account.
func (c *Client) RegisterAdmin(ctx context.Context, req RegisterAdminRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/admin/register", req, nil)
}

// ExportOccupancy streams a facility's occupancy workbook into w.
func (c *Client) ExportOccupancy(ctx context.Context, facilityID int64, w io.Writer) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/malls/export?id="+itoa(facilityID), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// HealthCheck checks if the backend is available.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

type idResponse struct {
	ID int64 `json:"id"`
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

// invalidate drops every cached catalog lookup after a write.
func (c *Client) invalidate(ctx context.Context) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	iter := c.redis.Scan(ctx, 0, cachePrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		_ = c.redis.Del(ctx, keys...).Err()
	}
}

func (c *Client) doGet(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
