package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Wrap them with fmt.Errorf("...: %w") and classify with errors.Is.
var (
	// ErrInsufficientData marks a parcel without enough valid support; the parcel is skipped.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrMalformedRecord marks an unparseable field; the row or parcel is skipped.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrConfiguration marks an invalid parameter; processing must not start.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrWorkerFailure marks an unexpected failure inside one work item.
	ErrWorkerFailure = errors.New("worker failure")
)

// InsufficientData builds an ErrInsufficientData error for a parcel.
func InsufficientData(id ParcelID, have, need int) error {
	return fmt.Errorf("parcel %s: %w: %d of %d required", id, ErrInsufficientData, have, need)
}

// SkipReason maps an error to the label used in logs and metrics.
func SkipReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrMalformedRecord):
		return "malformed_record"
	case errors.Is(err, ErrWorkerFailure):
		return "worker_failure"
	default:
		return "other"
	}
}
