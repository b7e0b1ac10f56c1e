package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrEntityRequired     = errors.New("entity id is required")
	ErrMissingCoordinates = errors.New("fix has no coordinates")
	ErrInvalidCoordinates = errors.New("fix coordinates out of range")
	ErrInvalidRange       = errors.New("start date is after end date")
)

// AcquisitionKind classifies positioning failures.
type AcquisitionKind string

const (
	PermissionDenied AcquisitionKind = "permission_denied"
	Unavailable      AcquisitionKind = "unavailable"
	Timeout          AcquisitionKind = "timeout"
)

// AcquisitionError is returned when the positioning subsystem cannot deliver a fix.
type AcquisitionError struct {
	Kind     AcquisitionKind
	EntityID string
	Err      error
}

func (e *AcquisitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acquire fix for %s: %s: %v", e.EntityID, e.Kind, e.Err)
	}
	return fmt.Sprintf("acquire fix for %s: %s", e.EntityID, e.Kind)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Hint returns a user-facing remediation for the failure.
func (e *AcquisitionError) Hint() string {
	switch e.Kind {
	case PermissionDenied:
		return "allow location access for this device and try again"
	case Timeout:
		return "go outdoors with a clear view of the sky and enable high-accuracy mode"
	default:
		return "check that location services are enabled on the device"
	}
}

// AccuracyRejected is returned when a fix is too coarse for the active policy.
// It is not a hard failure: the sample is recorded as rejected and skipped.
type AccuracyRejected struct {
	AccuracyMeters float64
	ThresholdM     float64
}

func (e *AccuracyRejected) Error() string {
	return fmt.Sprintf("accuracy %.1fm exceeds %.1fm threshold", e.AccuracyMeters, e.ThresholdM)
}

// Hint returns a user-facing remediation for the rejection.
func (e *AccuracyRejected) Hint() string {
	return "location is too imprecise (likely Wi-Fi or cell based); go outdoors and enable high-accuracy mode"
}

// EnrichmentFailed wraps a reverse-geocoding failure. Non-fatal.
type EnrichmentFailed struct {
	Err error
}

func (e *EnrichmentFailed) Error() string { return "enrichment failed: " + e.Err.Error() }
func (e *EnrichmentFailed) Unwrap() error { return e.Err }

// SyncFailed wraps a failed scheduler tick. The scheduler keeps running.
type SyncFailed struct {
	EntityID string
	At       time.Time
	Err      error
}

func (e *SyncFailed) Error() string {
	return fmt.Sprintf("sync %s: %v", e.EntityID, e.Err)
}

func (e *SyncFailed) Unwrap() error { return e.Err }

// Hinter is implemented by errors that carry a remediation hint.
type Hinter interface {
	Hint() string
}
