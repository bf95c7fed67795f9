package queue

import "errors"

// PermanentError marks a failure that must never be retried regardless of
// any status code, such as a payload that fails validation before the
// network is touched.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so ShouldRetry classifies it as non-retriable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// statusCoder is satisfied by remote.Error; the classifier depends on the
// shape rather than the package so it stays a pure decision function.
type statusCoder interface {
	StatusCode() int
}

// ShouldRetry decides whether a failed mutation is worth another attempt.
//
// The asymmetry is the central policy: 4xx responses describe a request that
// will never succeed unchanged, so retrying them only burns battery and
// network, while 5xx, 408, 429 and plain transport errors are transient.
func ShouldRetry(err error) bool {
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}

	var coded statusCoder
	if !errors.As(err, &coded) {
		// No status at all: a transport-level failure, assumed transient.
		return true
	}

	status := coded.StatusCode()
	if status == 408 || status == 429 {
		return true
	}
	if status >= 400 && status < 500 {
		return false
	}
	return true
}
