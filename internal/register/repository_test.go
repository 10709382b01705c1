package register

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/grott-scheduler/internal/infrastructure/database"
	_ "github.com/nerrad567/grott-scheduler/migrations"
)

func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestSeededBlock(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	values, encodings, err := repo.BlockSnapshot(ctx, BlockStart, BlockEnd)
	if err != nil {
		t.Fatalf("BlockSnapshot() error = %v", err)
	}
	if len(values) != 19 {
		t.Fatalf("seeded values = %d, want 19", len(values))
	}
	if values[1070] != 100 || values[1071] != 10 || values[1075] != 0 {
		t.Errorf("seed values wrong: 1070=%d 1071=%d 1075=%d", values[1070], values[1071], values[1075])
	}
	for _, n := range []int{1080, 1081, 1083, 1084, 1086, 1087} {
		if !encodings[n].PackedTime() {
			t.Errorf("register %d should be a packed time", n)
		}
	}
	if encodings[1082].PackedTime() {
		t.Error("register 1082 should not be a packed time")
	}

	groups, err := repo.ListGroups(ctx)
	if err != nil {
		t.Fatalf("ListGroups() error = %v", err)
	}
	if len(groups) != 8 || groups[0].Name != "Ungrouped" || groups[1].Name != "Grid First" {
		t.Errorf("groups = %+v", groups)
	}

	m, err := repo.GetMetadata(ctx, 1080)
	if err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	if m.GroupName == nil || *m.GroupName != "Grid First" {
		t.Errorf("GroupName = %v, want Grid First", m.GroupName)
	}
}

func TestMetadataCRUD(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	desc := "Export limit in percent"
	lo, hi := 0, 100
	m := &Metadata{Number: 122, Name: "Export Limit", Description: &desc, Type: TypeDecimal, ValueType: "percent", MinValue: &lo, MaxValue: &hi}
	if err := ValidateMetadata(m); err != nil {
		t.Fatalf("ValidateMetadata() error = %v", err)
	}
	if err := repo.CreateMetadata(ctx, m); err != nil {
		t.Fatalf("CreateMetadata() error = %v", err)
	}
	if err := repo.CreateMetadata(ctx, m); !errors.Is(err, ErrRegisterExists) {
		t.Errorf("duplicate CreateMetadata() error = %v, want ErrRegisterExists", err)
	}

	m.Name = "Export Limit Rate"
	if err := repo.UpdateMetadata(ctx, m); err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}
	got, err := repo.GetMetadata(ctx, 122)
	if err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	if got.Name != "Export Limit Rate" || got.MaxValue == nil || *got.MaxValue != 100 {
		t.Errorf("GetMetadata() = %+v", got)
	}

	if err := repo.DeleteMetadata(ctx, 122); err != nil {
		t.Fatalf("DeleteMetadata() error = %v", err)
	}
	if _, err := repo.GetMetadata(ctx, 122); !errors.Is(err, ErrRegisterNotFound) {
		t.Errorf("GetMetadata() after delete error = %v, want ErrRegisterNotFound", err)
	}
	if err := repo.UpdateMetadata(ctx, m); !errors.Is(err, ErrRegisterNotFound) {
		t.Errorf("UpdateMetadata() missing error = %v, want ErrRegisterNotFound", err)
	}
}

func TestValues(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if _, err := repo.GetValue(ctx, 3); !errors.Is(err, ErrValueNotFound) {
		t.Errorf("GetValue() missing error = %v, want ErrValueNotFound", err)
	}

	if err := repo.SetValue(ctx, 1075, 42, false); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	v, err := repo.GetValue(ctx, 1075)
	if err != nil {
		t.Fatalf("GetValue() error = %v", err)
	}
	if v.CurrentValue != 42 || v.LastReadFromInverter != nil {
		t.Errorf("GetValue() = %+v", v)
	}
	if v.Name == nil || *v.Name != "Grid First Reserved 4" {
		t.Errorf("Name = %v, want metadata name", v.Name)
	}

	if err := repo.SetValue(ctx, 1075, 43, true); err != nil {
		t.Fatalf("SetValue(fromDevice) error = %v", err)
	}
	v, _ = repo.GetValue(ctx, 1075) //nolint:errcheck // checked above
	if v.CurrentValue != 43 || v.LastReadFromInverter == nil {
		t.Errorf("after device read = %+v", v)
	}

	// A later commanded value keeps the device read stamp.
	if err := repo.SetValue(ctx, 1075, 44, false); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	v, _ = repo.GetValue(ctx, 1075) //nolint:errcheck // checked above
	if v.LastReadFromInverter == nil {
		t.Error("last_read_from_inverter was cleared")
	}

	if err := repo.SetValues(ctx, map[int]int{3: 1, 1070: 50}); err != nil {
		t.Fatalf("SetValues() error = %v", err)
	}
	all, err := repo.ListValues(ctx)
	if err != nil {
		t.Fatalf("ListValues() error = %v", err)
	}
	if len(all) != 20 || all[0].Number != 3 || all[0].Name != nil {
		t.Errorf("ListValues() len=%d first=%+v", len(all), all[0])
	}
}

func TestValidateMetadata(t *testing.T) {
	lo, hi := 10, 5
	tests := []struct {
		name string
		m    Metadata
		ok   bool
	}{
		{"valid", Metadata{Number: 1, Name: "x", Type: TypeHex}, true},
		{"blank name", Metadata{Number: 1, Name: "  "}, false},
		{"bad type", Metadata{Number: 1, Name: "x", Type: 2}, false},
		{"min above max", Metadata{Number: 1, Name: "x", MinValue: &lo, MaxValue: &hi}, false},
		{"negative number", Metadata{Number: -1, Name: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.m
			err := ValidateMetadata(&m)
			if tt.ok && err != nil {
				t.Errorf("ValidateMetadata() error = %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidRegister) {
				t.Errorf("ValidateMetadata() error = %v, want ErrInvalidRegister", err)
			}
		})
	}
}

func TestValidateValue(t *testing.T) {
	tests := []struct {
		value int
		ok    bool
	}{
		{0, true},
		{0xFFFF, true},
		{-1, false},
		{0x10000, false},
	}
	for _, tt := range tests {
		err := ValidateValue(1071, tt.value)
		if tt.ok != (err == nil) {
			t.Errorf("ValidateValue(1071, %d) error = %v", tt.value, err)
		}
		if err != nil && !errors.Is(err, ErrValueOutOfRange) {
			t.Errorf("ValidateValue(1071, %d) error = %v, want ErrValueOutOfRange", tt.value, err)
		}
	}
}
