package retry

// NoRetryError wraps a handler error that must not be retried: the pair goes
// straight to dead_letter regardless of the remaining policy budget.
type NoRetryError struct {
	error
}

func WithNoRetryErr(err error) error {
	return NoRetryError{err}
}

// AlreadyTerminalError marks an attempt against a pair that is already
// completed or dead lettered. Duplicate deliveries are skipped, not failed.
type AlreadyTerminalError struct {
	error
}

func WithAlreadyTerminalErr(err error) error {
	return AlreadyTerminalError{err}
}

func IsAlreadyTerminalErr(err error) bool {
	type causer interface {
		Cause() error
	}

	for err != nil {
		if _, ok := err.(AlreadyTerminalError); ok {
			return true
		}

		cause, ok := err.(causer)
		if !ok {
			break
		}
		err = cause.Cause()
	}

	return false
}

func isNoRetry(err error) bool {
	type causer interface {
		Cause() error
	}

	for err != nil {
		if _, ok := err.(NoRetryError); ok {
			return true
		}

		cause, ok := err.(causer)
		if !ok {
			break
		}
		err = cause.Cause()
	}

	return false
}
