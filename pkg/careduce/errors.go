package careduce

import(
	"fmt"

	"github.com/pkg/errors"
)

var(
	ErrInputShapeMismatch          = errors.New("input shape mismatch")
	ErrInsufficientDetections      = errors.New("insufficient detections")
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")
	ErrDegenerateFit               = errors.New("degenerate fit")
	ErrExcessiveResidual           = errors.New("excessive residual")
	ErrDimensionMismatch           = errors.New("dimension mismatch")
)

// A ChannelError is how a single target channel failed. It carries
// whatever diagnostics were gathered before the failure, so the
// caller can see how close it got.
type ChannelError struct {
	Channel     string
	Diagnostics Diagnostics
	Err         error
}

func (ce *ChannelError)Error() string {
	return fmt.Sprintf("align '%s': %v", ce.Channel, ce.Err)
}

func (ce *ChannelError)Unwrap() error { return ce.Err }

// IsChannelFailure is true for the errors that mean "this channel
// could not be aligned", as opposed to bad input or cancellation.
func IsChannelFailure(err error) bool {
	return errors.Is(err, ErrInsufficientDetections) ||
		errors.Is(err, ErrInsufficientCorrespondences) ||
		errors.Is(err, ErrDegenerateFit) ||
		errors.Is(err, ErrExcessiveResidual)
}
