package engine

import (
	"errors"
	"fmt"
	"time"
)

// tooBusyError signals that no analysis slot freed up in time.
type tooBusyError struct {
	limit int
	wait  time.Duration
}

func (e tooBusyError) Error() string {
	return fmt.Sprintf("too busy: %d analyses in flight, waited %s", e.limit, e.wait)
}

// IsTooBusy reports whether err is an admission timeout.
func IsTooBusy(err error) bool {
	var target tooBusyError
	return errors.As(err, &target)
}
