package device

// probeUnavailableError wraps any failure to read device capabilities.
type probeUnavailableError struct {
	op  string
	err error
}

func (e probeUnavailableError) Error() string {
	if e.err == nil {
		return "probe unavailable: " + e.op
	}
	return "probe unavailable: " + e.op + ": " + e.err.Error()
}

func (e probeUnavailableError) Unwrap() error { return e.err }

// ErrProbeUnavailable constructs a probe failure for operation op.
func ErrProbeUnavailable(op string, err error) error {
	return probeUnavailableError{op: op, err: err}
}

// IsProbeUnavailable reports whether err (or anything it wraps) is a probe failure.
func IsProbeUnavailable(err error) bool {
	for err != nil {
		if _, ok := err.(probeUnavailableError); ok {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
