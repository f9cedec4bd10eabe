package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is matched by every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid alert transition")
	// ErrScanBusy is matched by every *ScanBusyError.
	ErrScanBusy = errors.New("scan already running")
)

// InvalidTransitionError rejects a human action that is not legal from the alert's state.
type InvalidTransitionError struct {
	AlertID string
	Action  Action
	From    AlertStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("alert %s: cannot %s from %s", e.AlertID, e.Action, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ScanBusyError rejects a trigger while another ScanRun is in flight.
type ScanBusyError struct {
	RunningID string
	Trigger   Trigger
}

func (e *ScanBusyError) Error() string {
	if e.RunningID == "" {
		return fmt.Sprintf("%s trigger rejected: %s", e.Trigger, ErrScanBusy)
	}
	return fmt.Sprintf("%s trigger rejected: scan %s already running", e.Trigger, e.RunningID)
}

func (e *ScanBusyError) Is(target error) bool {
	return target == ErrScanBusy
}
