package research

import (
	"context"
	"errors"
	"fmt"
)

// ErrCancelled marks a run stopped on purpose by its caller.
var ErrCancelled = errors.New("research cancelled")

// ParseError is returned when model output cannot be decoded as the
// structured value a stage expects.
type ParseError struct {
	Stage string
	Raw   string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: could not parse model output: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsCancellation reports whether err stems from a cancelled run rather than
// a genuine failure. A bare context.DeadlineExceeded is a collaborator
// timeout and counts as a failure; a run whose own ctx expired is reported
// through ErrCancelled.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// checkCancelled returns ErrCancelled once ctx is done.
func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}
