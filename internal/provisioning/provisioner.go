package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"parkslot/internal/config"
	"parkslot/internal/models"
)

var ErrInvalidRequest = errors.New("invalid provisioning request")

// Backend is the subset of the catalog API used to create a facility.
type Backend interface {
	CreateFacility(ctx context.Context, f models.Facility) (int64, error)
	DeleteFacility(ctx context.Context, facilityID int64) error
	CreateSlot(ctx context.Context, facilityID int64, spec models.SlotSpec) (int64, error)
	CreateSlots(ctx context.Context, facilityID int64, specs []models.SlotSpec) ([]int64, error)
	ListFacilitiesByAdmin(ctx context.Context, adminID int64) ([]models.Facility, error)
}

// RegisterRequest describes a facility and its uniform floor/slot layout.
type RegisterRequest struct {
	AdminID       int64
	Name          string
	Location      string
	Floors        int
	SlotsPerFloor int
}

// ProvisioningError reports a facility whose slots could not all be created.
// The facility has been deleted unless RollbackErr is set.
type ProvisioningError struct {
	FacilityID  int64
	Created     int
	Cause       error
	RollbackErr error
}

func (e *ProvisioningError) Error() string {
	msg := fmt.Sprintf("provision facility %d: %d slots created before failure: %v", e.FacilityID, e.Created, e.Cause)
	if e.RollbackErr != nil {
		msg += fmt.Sprintf(" (rollback failed: %v)", e.RollbackErr)
	}
	return msg
}

func (e *ProvisioningError) Unwrap() error { return e.Cause }

// RolledBack reports whether the partial facility was removed.
func (e *ProvisioningError) RolledBack() bool { return e.RollbackErr == nil }

// Matrix returns the floor-major slot layout (1,1) (1,2) ... (floors, perFloor).
func Matrix(floors, perFloor int) ([]models.SlotSpec, error) {
	if floors <= 0 || perFloor <= 0 {
		return nil, fmt.Errorf("%w: floors and slots per floor must be positive, got %d and %d", ErrInvalidRequest, floors, perFloor)
	}
	specs := make([]models.SlotSpec, 0, floors*perFloor)
	for f := 1; f <= floors; f++ {
		for s := 1; s <= perFloor; s++ {
			specs = append(specs, models.SlotSpec{FloorNo: f, SlotNo: s})
		}
	}
	return specs, nil
}

// Limits bounds the layout an administrator may request.
type Limits struct {
	MaxFloors        int
	MaxSlotsPerFloor int
}

// Provisioner creates a facility together with all of its slots.
type Provisioner struct {
	backend Backend
	mode    string
	limits  Limits
	logger  *zerolog.Logger
}

// NewProvisioner builds a provisioner. mode is config.ProvisionBatch or
// config.ProvisionSequential; anything else means batch.
func NewProvisioner(backend Backend, mode string, limits Limits, logger *zerolog.Logger) *Provisioner {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if mode != config.ProvisionSequential {
		mode = config.ProvisionBatch
	}
	return &Provisioner{backend: backend, mode: mode, limits: limits, logger: logger}
}

// Register validates req, creates the facility and then every slot. When slot
// creation fails the facility is deleted and a *ProvisioningError is returned.
func (p *Provisioner) Register(ctx context.Context, req RegisterRequest) (*models.Facility, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Location = strings.TrimSpace(req.Location)
	if err := p.validate(req); err != nil {
		return nil, err
	}
	specs, err := Matrix(req.Floors, req.SlotsPerFloor)
	if err != nil {
		return nil, err
	}

	facility := models.Facility{Name: req.Name, Location: req.Location, AdminID: req.AdminID, PlannedSlots: len(specs)}
	id, err := p.backend.CreateFacility(ctx, facility)
	if err != nil {
		return nil, fmt.Errorf("create facility: %w", err)
	}
	facility.ID = id

	created, err := p.createSlots(ctx, id, specs)
	if err != nil {
		perr := &ProvisioningError{FacilityID: id, Created: created, Cause: err}
		// The request context may already be done; the rollback still has to run.
		perr.RollbackErr = p.backend.DeleteFacility(context.WithoutCancel(ctx), id)
		p.logger.Error().Err(err).
			Int64("mall_id", id).
			Int("created", created).
			Bool("rolled_back", perr.RolledBack()).
			Msg("facility provisioning failed")
		return nil, perr
	}

	p.logger.Info().
		Int64("mall_id", id).
		Int64("admin_id", req.AdminID).
		Int("slots", len(specs)).
		Str("mode", p.mode).
		Msg("facility provisioned")
	return &facility, nil
}

func (p *Provisioner) createSlots(ctx context.Context, facilityID int64, specs []models.SlotSpec) (int, error) {
	if p.mode == config.ProvisionBatch {
		ids, err := p.backend.CreateSlots(ctx, facilityID, specs)
		if err != nil {
			return 0, fmt.Errorf("create slots: %w", err)
		}
		if len(ids) != len(specs) {
			return len(ids), fmt.Errorf("create slots: expected %d ids, got %d", len(specs), len(ids))
		}
		return len(ids), nil
	}

	for i, spec := range specs {
		if _, err := p.backend.CreateSlot(ctx, facilityID, spec); err != nil {
			return i, fmt.Errorf("create slot %d on floor %d: %w", spec.SlotNo, spec.FloorNo, err)
		}
	}
	return len(specs), nil
}

func (p *Provisioner) validate(req RegisterRequest) error {
	switch {
	case req.AdminID <= 0:
		return fmt.Errorf("%w: admin id is required", ErrInvalidRequest)
	case req.Name == "":
		return fmt.Errorf("%w: facility name is required", ErrInvalidRequest)
	case req.Location == "":
		return fmt.Errorf("%w: location is required", ErrInvalidRequest)
	case p.limits.MaxFloors > 0 && req.Floors > p.limits.MaxFloors:
		return fmt.Errorf("%w: at most %d floors", ErrInvalidRequest, p.limits.MaxFloors)
	case p.limits.MaxSlotsPerFloor > 0 && req.SlotsPerFloor > p.limits.MaxSlotsPerFloor:
		return fmt.Errorf("%w: at most %d slots per floor", ErrInvalidRequest, p.limits.MaxSlotsPerFloor)
	}
	return nil
}

// FacilityForAdmin returns the facility owned by adminID, if any.
func (p *Provisioner) FacilityForAdmin(ctx context.Context, adminID int64) (*models.Facility, bool, error) {
	list, err := p.backend.ListFacilitiesByAdmin(ctx, adminID)
	if err != nil {
		return nil, false, fmt.Errorf("list facilities for admin %d: %w", adminID, err)
	}
	if len(list) == 0 {
		return nil, false, nil
	}
	f := list[0]
	return &f, true, nil
}
