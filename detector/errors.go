package detector

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNaN matches every *NaNError.
	ErrNaN = errors.New("NaN detected")
	// ErrInvalidConfig is returned by New for out-of-range sizes or unknown
	// parameter groups.
	ErrInvalidConfig = errors.New("invalid detector configuration")
	// ErrShape is returned when a tensor does not have the layout an
	// operation requires.
	ErrShape = errors.New("unexpected tensor shape")
)

// Forward pass checkpoints reported by NaNError.
const (
	CheckpointInput    = "input"
	CheckpointFeatures = "res_feature"
	CheckpointOutput   = "output"
	CheckpointFinal    = "final output"
)

// NaNError reports NaN values found at a forward pass checkpoint. It points
// at diverging activations and is not meant to be recovered from.
type NaNError struct {
	// Checkpoint is one of the Checkpoint* constants.
	Checkpoint string
}

func (e *NaNError) Error() string {
	return fmt.Sprintf("NaN in %s", e.Checkpoint)
}

// Is reports whether target is ErrNaN.
func (e *NaNError) Is(target error) bool {
	return target == ErrNaN
}
