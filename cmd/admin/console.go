package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"parkslot/internal/catalog"
	"parkslot/internal/export"
	"parkslot/internal/models"
	"parkslot/internal/provisioning"
	"parkslot/internal/terminal"
)

// accounts is the administrator side of the catalog API.
type accounts interface {
	RegisterAdmin(ctx context.Context, req catalog.RegisterAdminRequest) error
	Login(ctx context.Context, email, password string) (int64, error)
	ExportOccupancy(ctx context.Context, facilityID int64, w io.Writer) error
}

type console struct {
	accounts    accounts
	provisioner *provisioning.Provisioner
	inspector   *provisioning.Inspector
	p           *terminal.Prompter
	exportDir   string
}

func (c *console) run(ctx context.Context) error {
	adminID, err := c.signIn(ctx)
	if err != nil {
		return err
	}

	facility, found, err := c.provisioner.FacilityForAdmin(ctx, adminID)
	if err != nil {
		return err
	}
	for !found {
		c.p.Printf("\nYou have no facility yet. Register one.\n")
		facility, err = c.registerFacility(ctx, adminID)
		if errors.Is(err, terminal.ErrQuit) {
			return err
		}
		if err != nil {
			c.p.Printf("! %v\n", err)
			if facility, found, err = c.leftover(ctx, adminID, err); err != nil {
				return err
			}
			continue
		}
		found = true
	}

	return c.dashboard(ctx, facility)
}

func (c *console) signIn(ctx context.Context) (int64, error) {
	for {
		i, err := c.p.Choose(terminal.Menu{Title: "Administrator", Items: []string{"Log in", "Register"}})
		if err != nil {
			return 0, err
		}
		if i == 1 {
			if err := c.register(ctx); err != nil {
				if errors.Is(err, terminal.ErrQuit) {
					return 0, err
				}
				c.p.Printf("! %v\n", err)
				continue
			}
			c.p.Printf("account created, please log in\n")
		}

		email, err := c.p.Ask("email")
		if err != nil {
			return 0, err
		}
		password, err := c.p.Ask("password")
		if err != nil {
			return 0, err
		}
		id, err := c.accounts.Login(ctx, email, password)
		if err == nil {
			return id, nil
		}
		var apiErr *catalog.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			c.p.Printf("! wrong email or password\n")
			continue
		}
		return 0, err
	}
}

func (c *console) register(ctx context.Context) error {
	var req catalog.RegisterAdminRequest
	var err error
	if req.Name, err = c.p.Ask("name"); err != nil {
		return err
	}
	if req.Email, err = c.p.Ask("email"); err != nil {
		return err
	}
	if req.Phone, err = c.p.Ask("phone"); err != nil {
		return err
	}
	if !models.IsValidPhone(req.Phone) {
		return errors.New("phone number must be 10 digits long")
	}
	if req.Password, err = c.p.Ask("password"); err != nil {
		return err
	}
	confirm, err := c.p.Ask("confirm password")
	if err != nil {
		return err
	}
	if confirm != req.Password {
		return errors.New("passwords do not match")
	}
	return c.accounts.RegisterAdmin(ctx, req)
}

func (c *console) registerFacility(ctx context.Context, adminID int64) (*models.Facility, error) {
	name, err := c.p.Ask("facility name")
	if err != nil {
		return nil, err
	}
	location, err := c.p.Ask("location")
	if err != nil {
		return nil, err
	}
	floors, err := c.p.AskInt("number of floors", 1, 1<<16)
	if err != nil {
		return nil, err
	}
	perFloor, err := c.p.AskInt("slots per floor", 1, 1<<16)
	if err != nil {
		return nil, err
	}

	f, err := c.provisioner.Register(ctx, provisioning.RegisterRequest{
		AdminID: adminID, Name: name, Location: location, Floors: floors, SlotsPerFloor: perFloor,
	})
	if err != nil {
		return nil, err
	}
	c.p.Printf("registered %s with %d slots\n", f.Name, floors*perFloor)
	return f, nil
}

// leftover looks for a facility that a failed registration could not remove, or
// that already existed, so the console opens it instead of asking again.
func (c *console) leftover(ctx context.Context, adminID int64, regErr error) (*models.Facility, bool, error) {
	var perr *provisioning.ProvisioningError
	stuck := errors.As(regErr, &perr) && !perr.RolledBack()
	if !stuck && !errors.Is(regErr, catalog.ErrConflict) {
		return nil, false, nil
	}
	f, found, err := c.provisioner.FacilityForAdmin(ctx, adminID)
	if err != nil || !found {
		return nil, false, err
	}
	if stuck {
		c.p.Printf("%s was only partly provisioned, opening it as it is\n", f.Name)
	} else {
		c.p.Printf("this account already has %s, opening it\n", f.Name)
	}
	return f, true, nil
}

func (c *console) dashboard(ctx context.Context, f *models.Facility) error {
	floor := 0
	for {
		grid, err := c.inspector.Grid(ctx, f.ID, floor)
		if err != nil {
			return err
		}
		floor = grid.Floor

		c.p.Printf("\n%s, %s\n", f.Name, f.Location)
		if len(grid.Floors) == 0 {
			c.p.Printf("no slots yet\n")
		} else {
			terminal.RenderGrid(c.p.Out(), grid.Floor, grid.Slots, 10)
		}

		items := []string{"Inspect a slot", "Export occupancy"}
		for _, n := range grid.Floors {
			items = append(items, fmt.Sprintf("Show floor %d", n))
		}
		i, err := c.p.Choose(terminal.Menu{Title: "Dashboard", Items: items})
		if err != nil {
			return err
		}

		switch {
		case i == 0:
			if err := c.inspect(ctx, grid); err != nil {
				if errors.Is(err, terminal.ErrQuit) {
					return err
				}
				c.p.Printf("! %v\n", err)
			}
		case i == 1:
			path, err := c.export(ctx, f)
			if err != nil {
				c.p.Printf("! export failed: %v\n", err)
				continue
			}
			c.p.Printf("occupancy written to %s\n", path)
		default:
			floor = grid.Floors[i-2]
		}
	}
}

func (c *console) inspect(ctx context.Context, grid *provisioning.Grid) error {
	answer, err := c.p.Ask("slot number")
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(answer)
	if err != nil {
		return fmt.Errorf("%q is not a slot number", answer)
	}
	for _, s := range grid.Slots {
		if s.SlotNo != n {
			continue
		}
		o, err := c.inspector.Select(ctx, s)
		if errors.Is(err, provisioning.ErrNoOccupant) {
			c.p.Printf("slot %d is marked taken but has no booking\n", n)
			return nil
		}
		if err != nil {
			return err
		}
		if o == nil {
			c.p.Printf("slot %d is free\n", n)
			return nil
		}
		c.p.Printf("slot %d: %s, %s, vehicle %s\n", n, o.Name, o.Phone, strings.ToUpper(o.VehicleNo))
		return nil
	}
	return fmt.Errorf("no slot %d on floor %d", n, grid.Floor)
}

func (c *console) export(ctx context.Context, f *models.Facility) (string, error) {
	path := filepath.Join(c.exportDir, export.Filename(*f))
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := c.accounts.ExportOccupancy(ctx, f.ID, file); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", err
	}
	return path, file.Close()
}
