package block

import (
	"errors"
	"fmt"
)

var (
	// ErrConflictingConfiguration reports a block configured to both read and calibrate.
	ErrConflictingConfiguration = errors.New("block: conflicting read and calibration configuration")
	// ErrUnknownBlockType reports a type name missing from the registry.
	ErrUnknownBlockType = errors.New("block: unknown block type")
	// ErrMissingInput reports a variable or auxiliary field an operation requires but cannot find.
	ErrMissingInput = errors.New("block: missing input")
	// ErrNotInvertible declares that a block has no left inverse.
	ErrNotInvertible = errors.New("block: not invertible")
	// ErrNotImplemented declares an operator direction that exists but is not coded.
	ErrNotImplemented = errors.New("block: not implemented")
	// ErrDuplicateBlockType reports a second registration of the same type name.
	ErrDuplicateBlockType = errors.New("block: type already registered")
	// ErrRegistrySealed reports a registration attempted after the registry was first used.
	ErrRegistrySealed = errors.New("block: registry sealed")
	// ErrInvalidConfiguration reports a malformed block configuration.
	ErrInvalidConfiguration = errors.New("block: invalid configuration")
)

// Error records which block and operation failed.
type Error struct {
	Block string
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("block %s: %s: %v", e.Block, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap annotates err with the block and operation. It returns nil for a nil err.
func Wrap(name, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Block: name, Op: op, Err: err}
}

// Missing builds an ErrMissingInput error naming the absent variable.
func Missing(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingInput, name)
}
