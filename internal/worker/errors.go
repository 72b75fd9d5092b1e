package worker

import "errors"

var (
	// ErrTransientFailure marks an attempt that failed in a way that is expected
	// to succeed on redelivery, such as an injected delivery failure.
	ErrTransientFailure = errors.New("transient delivery failure")

	// ErrStoreFailure marks an attempt that could not read or write its job record.
	ErrStoreFailure = errors.New("job store failure")
)
