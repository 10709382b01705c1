package register

import "errors"

var (
	// ErrRegisterNotFound is returned when no metadata row exists.
	ErrRegisterNotFound = errors.New("register: not found")

	// ErrRegisterExists is returned when creating metadata for a number already present.
	ErrRegisterExists = errors.New("register: already exists")

	// ErrValueNotFound is returned when no cached value exists.
	ErrValueNotFound = errors.New("register: value not found")

	// ErrInvalidRegister is returned when metadata validation fails.
	ErrInvalidRegister = errors.New("register: invalid")

	// ErrInvalidRange is returned when a block range is empty or reversed.
	ErrInvalidRange = errors.New("register: invalid range")

	// ErrValueOutOfRange is returned when a value does not fit one 16-bit register.
	ErrValueOutOfRange = errors.New("register: value does not fit 16 bits")
)
