package register

import (
	"fmt"
	"strings"
)

const maxNameLength = 100

// ValidateMetadata checks a metadata row before it is stored.
func ValidateMetadata(m *Metadata) error {
	if m.Number < 0 || m.Number > maxRegisterValue {
		return fmt.Errorf("%w: register_number must be between 0 and %d", ErrInvalidRegister, maxRegisterValue)
	}
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRegister)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidRegister, maxNameLength)
	}
	if m.Type != TypeHex && m.Type != TypeDecimal {
		return fmt.Errorf("%w: type must be 0 (hex) or 1 (decimal)", ErrInvalidRegister)
	}
	if m.MinValue != nil && m.MaxValue != nil && *m.MinValue > *m.MaxValue {
		return fmt.Errorf("%w: min_value exceeds max_value", ErrInvalidRegister)
	}
	if m.ValueType == "" {
		m.ValueType = "decimal"
	}
	return nil
}

// ValidateValue checks that a value fits one register.
func ValidateValue(number, value int) error {
	if value < 0 || value > maxRegisterValue {
		return fmt.Errorf("%w: register %d = %d", ErrValueOutOfRange, number, value)
	}
	return nil
}
