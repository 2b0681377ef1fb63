package common

import "fmt"

// IntegrityError reports a mismatch between a client-declared content hash
// and the digest recomputed server-side. The write that produced it must not
// leave any state behind.
type IntegrityError struct {
	FileID   string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// Unwrap makes errors.Is(err, ErrIntegrity) match.
func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// QuotaExceededError reports a denied quota reservation together with the
// usage figures the client needs to display.
type QuotaExceededError struct {
	UserID         string
	UsedBytes      int64
	LimitBytes     int64
	RequestedBytes int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: used %d of %d bytes, requested %d more",
		e.UsedBytes, e.LimitBytes, e.RequestedBytes)
}

// Unwrap makes errors.Is(err, ErrQuotaExceeded) match.
func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }
