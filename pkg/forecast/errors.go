package forecast

import (
	"errors"
	"fmt"
)

// ErrModelUnavailable is returned when no healthy predictor is bound.
var ErrModelUnavailable = errors.New("ml model unavailable")

// ModelError is a failure of the ML strategy.
type ModelError struct {
	Op  string
	Err error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("ml strategy %s: %v", e.Op, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}
