package models

// QuotaRecord tracks storage consumption per user. UsedBytes equals the sum
// of current, non-tombstoned version sizes owned by the user; it is updated
// in the same transaction as every version creation or tombstone and
// reconciled by periodic recomputation.
type QuotaRecord struct {
	UserID     string
	LimitBytes int64
	UsedBytes  int64
}
