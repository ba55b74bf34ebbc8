package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parkslot/internal/catalog"
	"parkslot/internal/models"
	"parkslot/internal/session"
)

// Catalog is the read side of the backend used to populate the wizard's choices.
type Catalog interface {
	ListLocations(ctx context.Context) ([]string, error)
	ListFacilities(ctx context.Context, location string) ([]models.Facility, error)
	ListFloors(ctx context.Context, facilityID int64) ([]int, error)
	ListSlots(ctx context.Context, facilityID int64, floor int) ([]models.Slot, error)
}

// ReserveRequest is everything one reservation needs.
type ReserveRequest = catalog.ReserveRequest

// Reserver books a slot. A slot taken in the meantime yields an error matching
// catalog.ErrConflict.
type Reserver interface {
	Reserve(ctx context.Context, req ReserveRequest) (int64, error)
}

// Sessions persists the slot of interest across restarts.
type Sessions interface {
	Resume(ctx context.Context) (session.Decision, int64, error)
	Track(ctx context.Context, slotID int64) error
	Commit(ctx context.Context, slotID int64) error
	Forget(ctx context.Context, slotID int64) error
}

// Deps are the collaborators of a Wizard. Sessions may be nil.
type Deps struct {
	Catalog  Catalog
	Reserver Reserver
	Sessions Sessions
	Policy   TimePolicy
}

// Option customises a Wizard.
type Option func(*Wizard)

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(w *Wizard) { w.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Wizard) { w.now = now }
}

// dimension is one cascading lookup whose responses may race.
type dimension int

const (
	dimLocations dimension = iota
	dimFacilities
	dimFloors
	dimSlots
	dimCount
)

// View is an immutable snapshot of the wizard for rendering.
type View struct {
	Step            Step
	Form            Form
	Selection       Selection
	Choices         Choices
	Loading         bool
	LastError       error
	TimeSelectable  bool
	ReservationTime string
	Duration        time.Duration
	ConfirmedSlotID int64
	BookingID       int64
}

// Wizard walks a patron from identity to a confirmed reservation. It is safe for
// concurrent use; network calls are made without holding the lock and a response is
// applied only while the request that produced it is still the latest of its kind.
type Wizard struct {
	deps   Deps
	logger *zerolog.Logger
	now    func() time.Time

	mu         sync.Mutex
	step       Step
	form       Form
	sel        Selection
	choices    Choices
	timeChoice *TimeChoice
	resTime    string
	confirmed  int64
	bookingID  int64
	lastErr    error
	pending    int
	submitting bool

	gens    [dimCount]uint64
	cancels [dimCount]context.CancelFunc
}

// NewWizard creates a wizard positioned at the identity step.
func NewWizard(deps Deps, opts ...Option) *Wizard {
	if deps.Policy == nil {
		deps.Policy = AutoOffset{Offset: 30 * time.Minute}
	}
	nop := zerolog.Nop()
	w := &Wizard{
		deps:   deps,
		logger: &nop,
		now:    time.Now,
		step:   StepIdentity,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start resumes a stored reservation if the backend still has it; otherwise it loads
// the locations for a fresh booking.
func (w *Wizard) Start(ctx context.Context) error {
	if w.deps.Sessions != nil {
		decision, slotID, err := w.deps.Sessions.Resume(ctx)
		if err != nil {
			w.logger.Warn().Err(err).Msg("session resumption failed")
		}
		if decision == session.DecisionResume {
			w.mu.Lock()
			w.step = StepSuccess
			w.confirmed = slotID
			w.mu.Unlock()
			w.logger.Info().Int64("slot_id", slotID).Msg("resumed confirmed reservation")
			return nil
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loadLocations(ctx)
}

// Refresh reloads the choices shown at the current step.
func (w *Wizard) Refresh(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.step {
	case StepIdentity:
		return w.loadLocations(ctx)
	case StepLocationFacility:
		if err := w.loadLocations(ctx); err != nil {
			return err
		}
		if w.sel.Location != "" {
			return w.loadFacilities(ctx)
		}
	case StepFloorSlot:
		if err := w.loadFloors(ctx); err != nil {
			return err
		}
		if w.sel.Floor != 0 {
			return w.loadSlots(ctx)
		}
	}
	return nil
}

// SetIdentity edits the first step's fields.
func (w *Wizard) SetIdentity(name, phone, vehicleNo string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != StepIdentity {
		return ErrWrongStep
	}
	w.form = Form{Name: name, Phone: phone, VehicleNo: vehicleNo}
	return nil
}

// SelectLocation chooses a location and loads its facilities. Choosing another
// location clears the facility, floor and slot.
func (w *Wizard) SelectLocation(ctx context.Context, location string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != StepLocationFacility {
		return ErrWrongStep
	}
	if location == w.sel.Location && w.choices.Facilities != nil {
		return nil
	}
	if !containsString(w.choices.Locations, location) {
		return fmt.Errorf("location %q: %w", location, ErrUnknownChoice)
	}

	w.sel = Selection{Location: location}
	w.choices.Facilities, w.choices.Floors, w.choices.Slots = nil, nil, nil
	w.invalidate(dimFloors)
	w.invalidate(dimSlots)
	return w.loadFacilities(ctx)
}

// SelectFacility chooses a facility and loads its floors. Choosing another facility
// clears the floor and slot.
func (w *Wizard) SelectFacility(ctx context.Context, facilityID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != StepLocationFacility {
		return ErrWrongStep
	}
	if facilityID == w.sel.FacilityID && w.choices.Floors != nil {
		return nil
	}
	if !containsFacility(w.choices.Facilities, facilityID) {
		return fmt.Errorf("facility %d: %w", facilityID, ErrUnknownChoice)
	}

	w.sel.FacilityID, w.sel.Floor, w.sel.SlotID = facilityID, 0, 0
	w.choices.Floors, w.choices.Slots = nil, nil
	w.invalidate(dimSlots)
	return w.loadFloors(ctx)
}

// SelectFloor chooses a floor and loads its slots. Choosing another floor clears the slot.
func (w *Wizard) SelectFloor(ctx context.Context, floor int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != StepFloorSlot {
		return ErrWrongStep
	}
	if floor == w.sel.Floor && w.choices.Slots != nil {
		return nil
	}
	if !containsInt(w.choices.Floors, floor) {
		return fmt.Errorf("floor %d: %w", floor, ErrUnknownChoice)
	}

	w.sel.Floor, w.sel.SlotID = floor, 0
	w.choices.Slots = nil
	return w.loadSlots(ctx)
}

// SelectSlot chooses an available slot from the current floor. Unknown or occupied
// slots leave the selection untouched and report false.
func (w *Wizard) SelectSlot(ctx context.Context, slotID int64) (bool, error) {
	w.mu.Lock()
	if w.step != StepFloorSlot {
		w.mu.Unlock()
		return false, ErrWrongStep
	}
	ok := false
	for _, s := range w.choices.Slots {
		if s.ID == slotID {
			ok = s.IsAvailable
			break
		}
	}
	if ok {
		w.sel.SlotID = slotID
	}
	w.mu.Unlock()

	if !ok {
		return false, nil
	}
	if w.deps.Sessions != nil {
		if err := w.deps.Sessions.Track(ctx, slotID); err != nil {
			w.logger.Warn().Err(err).Int64("slot_id", slotID).Msg("failed to remember selected slot")
		}
	}
	return true, nil
}

// ChooseTime sets the reservation time under the explicit time policy.
func (w *Wizard) ChooseTime(hour, minute int, pm bool, duration time.Duration) error {
	if !w.deps.Policy.Selectable() {
		return ErrTimeNotSelectable
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != StepConfirm {
		return ErrWrongStep
	}

	choice := &TimeChoice{Hour: hour, Minute: minute, PM: pm, Duration: duration}
	at, err := w.deps.Policy.Resolve(w.now(), choice)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStepInvalid, err)
	}
	w.timeChoice = choice
	w.resTime = at
	return nil
}

// Next moves forward when the current step is complete. The confirm step is left
// only through Submit.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := validate(w.step, w.form, w.sel); err != nil {
		return err
	}
	to := w.step + 1
	if !CanTransition(w.step, to) {
		return ErrWrongStep
	}

	if to == StepConfirm {
		w.resTime = ""
		at, err := w.deps.Policy.Resolve(w.now(), w.timeChoice)
		switch {
		case err == nil:
			w.resTime = at
		case !errors.Is(err, ErrTimeRequired):
			return fmt.Errorf("%w: %v", ErrStepInvalid, err)
		}
	}

	w.step = to
	return nil
}

// Prev moves one step back keeping everything entered so far.
func (w *Wizard) Prev() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	to := w.step - 1
	if w.step == StepSuccess || !CanTransition(w.step, to) {
		return ErrWrongStep
	}
	w.step = to
	return nil
}

// Submit reserves the selected slot and waits for the backend to acknowledge it. A
// slot taken in the meantime sends the wizard back to the slot step with a refreshed
// slot list and returns a *ConflictError.
func (w *Wizard) Submit(ctx context.Context) error {
	w.mu.Lock()
	if w.step != StepConfirm {
		w.mu.Unlock()
		return ErrWrongStep
	}
	if w.submitting {
		w.mu.Unlock()
		return ErrBusy
	}
	if w.resTime == "" {
		w.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrStepInvalid, ErrTimeRequired)
	}
	req := ReserveRequest{
		Name:      w.form.Name,
		Phone:     w.form.Phone,
		VehicleNo: w.form.VehicleNo,
		SlotID:    w.sel.SlotID,
		Time:      w.resTime,
	}
	w.submitting = true
	w.pending++
	w.mu.Unlock()

	bookingID, err := w.deps.Reserver.Reserve(ctx, req)
	if w.deps.Sessions != nil {
		switch {
		case err == nil:
			if commitErr := w.deps.Sessions.Commit(ctx, req.SlotID); commitErr != nil {
				w.logger.Warn().Err(commitErr).Int64("slot_id", req.SlotID).Msg("failed to persist reservation reference")
			}
		case errors.Is(err, catalog.ErrConflict):
			// the booking on this slot belongs to someone else
			if forgetErr := w.deps.Sessions.Forget(ctx, req.SlotID); forgetErr != nil {
				w.logger.Warn().Err(forgetErr).Int64("slot_id", req.SlotID).Msg("failed to drop lost slot reference")
			}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitting = false
	w.pending--

	switch {
	case err == nil:
		w.step = StepSuccess
		w.confirmed = req.SlotID
		w.bookingID = bookingID
		w.lastErr = nil
		w.logger.Info().
			Int64("booking_id", bookingID).
			Int64("slot_id", req.SlotID).
			Str("time", req.Time).
			Msg("reservation confirmed")
		return nil

	case errors.Is(err, catalog.ErrConflict):
		conflict := &ConflictError{SlotID: req.SlotID}
		w.step = StepFloorSlot
		w.sel.SlotID = 0
		w.lastErr = conflict
		w.logger.Info().Int64("slot_id", req.SlotID).Msg("slot taken before reservation, back to slot selection")
		if refreshErr := w.loadSlots(ctx); refreshErr != nil {
			w.logger.Warn().Err(refreshErr).Msg("failed to refresh slots after conflict")
		}
		// The conflict stays visible even if the refresh failed.
		w.lastErr = conflict
		return conflict

	default:
		w.lastErr = err
		w.logger.Error().Err(err).Int64("slot_id", req.SlotID).Msg("reservation failed")
		return fmt.Errorf("reserve slot %d: %w", req.SlotID, err)
	}
}

// DismissError clears the last reported error.
func (w *Wizard) DismissError() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastErr = nil
}

// View returns a snapshot of the wizard.
func (w *Wizard) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()

	v := View{
		Step:      w.step,
		Form:      w.form,
		Selection: w.sel,
		Choices: Choices{
			Locations:  append([]string(nil), w.choices.Locations...),
			Facilities: append([]models.Facility(nil), w.choices.Facilities...),
			Floors:     append([]int(nil), w.choices.Floors...),
			Slots:      append([]models.Slot(nil), w.choices.Slots...),
		},
		Loading:         w.pending > 0,
		LastError:       w.lastErr,
		TimeSelectable:  w.deps.Policy.Selectable(),
		ReservationTime: w.resTime,
		ConfirmedSlotID: w.confirmed,
		BookingID:       w.bookingID,
	}
	if w.timeChoice != nil {
		v.Duration = w.timeChoice.Duration
	}
	return v
}

func (w *Wizard) loadLocations(ctx context.Context) error {
	return load(ctx, w, dimLocations, w.deps.Catalog.ListLocations, func(v []string) {
		w.choices.Locations = nonNil(v)
	})
}

func (w *Wizard) loadFacilities(ctx context.Context) error {
	location := w.sel.Location
	return load(ctx, w, dimFacilities,
		func(ctx context.Context) ([]models.Facility, error) {
			return w.deps.Catalog.ListFacilities(ctx, location)
		},
		func(v []models.Facility) { w.choices.Facilities = nonNil(v) },
	)
}

func (w *Wizard) loadFloors(ctx context.Context) error {
	facilityID := w.sel.FacilityID
	return load(ctx, w, dimFloors,
		func(ctx context.Context) ([]int, error) {
			return w.deps.Catalog.ListFloors(ctx, facilityID)
		},
		func(v []int) { w.choices.Floors = nonNil(v) },
	)
}

func (w *Wizard) loadSlots(ctx context.Context) error {
	facilityID, floor := w.sel.FacilityID, w.sel.Floor
	return load(ctx, w, dimSlots,
		func(ctx context.Context) ([]models.Slot, error) {
			return w.deps.Catalog.ListSlots(ctx, facilityID, floor)
		},
		func(v []models.Slot) { w.choices.Slots = nonNil(v) },
	)
}

// invalidate supersedes any in-flight request of dimension d. w.mu must be held.
func (w *Wizard) invalidate(d dimension) {
	w.gens[d]++
	if w.cancels[d] != nil {
		w.cancels[d]()
		w.cancels[d] = nil
	}
}

// load issues one request of dimension d, superseding the previous one. w.mu must be
// held on entry; it is released while call runs and held again on return. The result
// is applied only if no newer request of the same dimension was issued meanwhile;
// a superseded request returns nil.
func load[T any](ctx context.Context, w *Wizard, d dimension, call func(context.Context) (T, error), apply func(T)) error {
	w.invalidate(d)
	gen := w.gens[d]
	fetchCtx, cancel := context.WithCancel(ctx)
	w.cancels[d] = cancel
	w.pending++

	w.mu.Unlock()
	result, err := call(fetchCtx)
	w.mu.Lock()

	w.pending--
	cancel()
	if w.gens[d] != gen {
		return nil
	}
	w.cancels[d] = nil

	if err != nil {
		w.lastErr = err
		w.logger.Warn().Err(err).Int("dimension", int(d)).Msg("catalog lookup failed")
		return err
	}
	apply(result)
	return nil
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsFacility(list []models.Facility, id int64) bool {
	for _, f := range list {
		if f.ID == id {
			return true
		}
	}
	return false
}
