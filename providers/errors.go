package providers

import (
	"errors"
	"fmt"
)

var (
	// ErrStateUnavailable is matched by every *StateUnavailableError.
	ErrStateUnavailable = errors.New("declared state unavailable")
	// ErrScanUnavailable is matched by every *ScanUnavailableError.
	ErrScanUnavailable = errors.New("observed state unavailable")
)

// StateUnavailableError reports a declared-state fetch or parse failure.
type StateUnavailableError struct {
	Source string
	Reason string
	Err    error
}

func (e *StateUnavailableError) Error() string {
	msg := fmt.Sprintf("state %s: %s", e.Source, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StateUnavailableError) Unwrap() error {
	return e.Err
}

func (e *StateUnavailableError) Is(target error) bool {
	return target == ErrStateUnavailable
}

// ScanUnavailableError reports an observed-state failure for one region.
type ScanUnavailableError struct {
	Region string
	// Scanner names the resource scanner that failed, when known.
	Scanner string
	Err     error
}

func (e *ScanUnavailableError) Error() string {
	if e.Scanner != "" {
		return fmt.Sprintf("scan %s/%s: %v", e.Region, e.Scanner, e.Err)
	}
	return fmt.Sprintf("scan %s: %v", e.Region, e.Err)
}

func (e *ScanUnavailableError) Unwrap() error {
	return e.Err
}

func (e *ScanUnavailableError) Is(target error) bool {
	return target == ErrScanUnavailable
}
