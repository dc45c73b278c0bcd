package adaptive

import "errors"

// notInitializedError is returned before Init has published a config.
type notInitializedError struct{ op string }

func (e notInitializedError) Error() string { return "not initialized: " + e.op }

// ErrNotInitialized constructs the error for operation op.
func ErrNotInitialized(op string) error { return notInitializedError{op: op} }

// IsNotInitialized reports whether err is a not-initialized error.
func IsNotInitialized(err error) bool {
	var target notInitializedError
	return errors.As(err, &target)
}
