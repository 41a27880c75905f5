package registry

import (
	"errors"
	"fmt"
)

// Error kinds reported to the caller of a registry or relay operation.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrAliasTaken        = errors.New("alias taken")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrNotRegistered     = errors.New("not registered")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrBanned            = errors.New("banned")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// Narrower not-found kinds. Both satisfy errors.Is(err, ErrNotFound).
var (
	ErrGameNotFound  = fmt.Errorf("game %w", ErrNotFound)
	ErrAliasNotFound = fmt.Errorf("alias %w", ErrNotFound)
)

// PersistError reports a failed snapshot write. The mutation that caused it
// was not applied; the process should treat it as fatal.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must stop the process.
func IsFatal(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}
