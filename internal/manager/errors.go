package manager

import (
	"errors"
	"fmt"

	"perfd/internal/device"
)

// insufficientMemoryError signals that a load cannot fit even after the
// freeing cascade.
type insufficientMemoryError struct {
	id        string
	required  int64
	available int64
}

func (e insufficientMemoryError) Error() string {
	return fmt.Sprintf("insufficient memory for %s: required %d bytes, available %d", e.id, e.required, e.available)
}

// IsInsufficientMemory reports whether err indicates a budget shortfall.
func IsInsufficientMemory(err error) bool {
	var target insufficientMemoryError
	return errors.As(err, &target)
}

// complexityTooHighError rejects demanding models on a constrained device.
type complexityTooHighError struct {
	id         string
	complexity device.Complexity
	tier       device.Tier
	pressure   device.PressureLevel
}

func (e complexityTooHighError) Error() string {
	return fmt.Sprintf("complexity too high for device: %s is %s, tier %s allows %s under %s pressure",
		e.id, e.complexity, e.tier, device.RecommendedComplexity(e.tier), e.pressure)
}

// IsComplexityTooHigh reports whether err is a complexity gate rejection.
func IsComplexityTooHigh(err error) bool {
	var target complexityTooHighError
	return errors.As(err, &target)
}

// loaderFailureError wraps the error returned by a model loader.
type loaderFailureError struct {
	id  string
	err error
}

func (e loaderFailureError) Error() string { return "loader failure: " + e.id + ": " + e.err.Error() }

func (e loaderFailureError) Unwrap() error { return e.err }

// IsLoaderFailure reports whether err came from a model loader.
func IsLoaderFailure(err error) bool {
	var target loaderFailureError
	return errors.As(err, &target)
}

// errInvalidSize rejects negative size estimates.
var errInvalidSize = errors.New("manager: negative size")
