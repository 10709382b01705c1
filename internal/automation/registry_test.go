package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeTrigger records registry calls.
type fakeTrigger struct {
	mu           sync.Mutex
	registered   map[int64]bool
	registers    int
	deregistered []int64
	failWith     error
}

func newFakeTrigger() *fakeTrigger {
	return &fakeTrigger{registered: make(map[int64]bool)}
}

func (f *fakeTrigger) Register(_ context.Context, s *Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers++
	if f.failWith != nil {
		return f.failWith
	}
	f.registered[s.ID] = true
	return nil
}

func (f *fakeTrigger) Deregister(_ context.Context, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registered, id)
	f.deregistered = append(f.deregistered, id)
}

func (f *fakeTrigger) isRegistered(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered[id]
}

func setupRegistry(t *testing.T) (*Registry, *fakeTrigger) {
	t.Helper()
	reg := NewRegistry(setupTestRepo(t))
	trig := newFakeTrigger()
	reg.SetTrigger(trig)
	return reg, trig
}

func TestRegistry_CreateRegistersTopLevel(t *testing.T) {
	reg, trig := setupRegistry(t)
	ctx := context.Background()

	created, err := reg.CreateSchedule(ctx, testSchedule("daily"))
	if err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}
	if !trig.isRegistered(created.ID) {
		t.Error("enabled top-level schedule not registered")
	}

	disabled := testSchedule("off")
	disabled.Enabled = false
	created2, err := reg.CreateSchedule(ctx, disabled)
	if err != nil {
		t.Fatalf("CreateSchedule(disabled) error = %v", err)
	}
	if trig.isRegistered(created2.ID) {
		t.Error("disabled schedule registered")
	}

	child := testSchedule("child")
	child.ParentScheduleID = &created.ID
	created3, err := reg.CreateSchedule(ctx, child)
	if err != nil {
		t.Fatalf("CreateSchedule(child) error = %v", err)
	}
	if trig.isRegistered(created3.ID) {
		t.Error("child schedule registered on its own")
	}

	if _, err := reg.CreateSchedule(ctx, &Schedule{Name: "bad"}); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("invalid create error = %v", err)
	}
}

func TestRegistry_RegistrationErrorKeepsSchedule(t *testing.T) {
	reg, trig := setupRegistry(t)
	trig.failWith = errors.New("date in the past")

	s := testSchedule("old one-shot")
	s.ScheduleType = ScheduleOnce
	s.SpecificDate = strPtr("2001-01-01")

	created, err := reg.CreateSchedule(context.Background(), s)
	if err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}
	if created.ID == 0 || trig.isRegistered(created.ID) {
		t.Errorf("schedule should be stored and dormant, got id=%d", created.ID)
	}
}

func TestRegistry_UpdateReregistersAndDisableDeregisters(t *testing.T) {
	reg, trig := setupRegistry(t)
	ctx := context.Background()

	s, err := reg.CreateSchedule(ctx, testSchedule("toggle"))
	if err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}

	s.Time = "07:45"
	if _, err := reg.UpdateSchedule(ctx, s); err != nil {
		t.Fatalf("UpdateSchedule() error = %v", err)
	}
	if trig.registers != 2 || !trig.isRegistered(s.ID) {
		t.Errorf("registers = %d, registered = %v; want re-registration", trig.registers, trig.isRegistered(s.ID))
	}

	s.Enabled = false
	updated, err := reg.UpdateSchedule(ctx, s)
	if err != nil {
		t.Fatalf("UpdateSchedule(disable) error = %v", err)
	}
	if trig.isRegistered(s.ID) || updated.Enabled {
		t.Error("disabled schedule still registered")
	}

	ghost := testSchedule("ghost")
	ghost.ID = 999
	if _, err := reg.UpdateSchedule(ctx, ghost); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("UpdateSchedule(missing) error = %v", err)
	}
}

func TestRegistry_ChainRules(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	parent, err := reg.CreateSchedule(ctx, testSchedule("parent"))
	if err != nil {
		t.Fatalf("CreateSchedule(parent) error = %v", err)
	}
	childSpec := testSchedule("child")
	childSpec.ParentScheduleID = &parent.ID
	child, err := reg.CreateSchedule(ctx, childSpec)
	if err != nil {
		t.Fatalf("CreateSchedule(child) error = %v", err)
	}

	grandchild := testSchedule("grandchild")
	grandchild.ParentScheduleID = &child.ID
	if _, err := reg.CreateSchedule(ctx, grandchild); !errors.Is(err, ErrInvalidChain) {
		t.Errorf("grandchild error = %v, want ErrInvalidChain", err)
	}

	missingParent := int64(12345)
	orphan := testSchedule("orphan")
	orphan.ParentScheduleID = &missingParent
	if _, err := reg.CreateSchedule(ctx, orphan); !errors.Is(err, ErrInvalidChain) {
		t.Errorf("missing parent error = %v, want ErrInvalidChain", err)
	}

	other, err := reg.CreateSchedule(ctx, testSchedule("other"))
	if err != nil {
		t.Fatalf("CreateSchedule(other) error = %v", err)
	}
	parent.ParentScheduleID = &other.ID
	if _, err := reg.UpdateSchedule(ctx, parent); !errors.Is(err, ErrInvalidChain) {
		t.Errorf("parent becoming child error = %v, want ErrInvalidChain", err)
	}

	other.ParentScheduleID = &other.ID
	if _, err := reg.UpdateSchedule(ctx, other); !errors.Is(err, ErrInvalidChain) {
		t.Errorf("self parent error = %v, want ErrInvalidChain", err)
	}
}

func TestRegistry_DeleteDeregistersChain(t *testing.T) {
	reg, trig := setupRegistry(t)
	ctx := context.Background()

	parent, err := reg.CreateSchedule(ctx, testSchedule("parent"))
	if err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}
	childSpec := testSchedule("child")
	childSpec.ParentScheduleID = &parent.ID
	child, err := reg.CreateSchedule(ctx, childSpec)
	if err != nil {
		t.Fatalf("CreateSchedule(child) error = %v", err)
	}

	trig.deregistered = nil
	if err := reg.DeleteSchedule(ctx, parent.ID); err != nil {
		t.Fatalf("DeleteSchedule() error = %v", err)
	}
	if trig.isRegistered(parent.ID) {
		t.Error("deleted schedule still registered")
	}
	if len(trig.deregistered) != 2 || trig.deregistered[1] != child.ID {
		t.Errorf("deregistered = %v, want [%d %d]", trig.deregistered, parent.ID, child.ID)
	}
	if _, err := reg.GetSchedule(ctx, child.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("child survived parent delete: %v", err)
	}
	if err := reg.DeleteSchedule(ctx, parent.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("second delete error = %v", err)
	}
}

func TestRegistry_Triggerable(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	top, _ := reg.CreateSchedule(ctx, testSchedule("top")) //nolint:errcheck // Checked via Triggerable
	off := testSchedule("off")
	off.Enabled = false
	reg.CreateSchedule(ctx, off) //nolint:errcheck // Checked via Triggerable
	child := testSchedule("child")
	child.ParentScheduleID = &top.ID
	reg.CreateSchedule(ctx, child) //nolint:errcheck // Checked via Triggerable

	got, err := reg.Triggerable(ctx)
	if err != nil {
		t.Fatalf("Triggerable() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != top.ID {
		t.Errorf("Triggerable() = %+v, want only %d", got, top.ID)
	}

	all, err := reg.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("ListSchedules() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListSchedules() = %d, want 3", len(all))
	}
}
