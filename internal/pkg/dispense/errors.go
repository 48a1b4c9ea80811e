package dispense

import "fmt"

// SkipReasonNoConfirmation is recorded on schedules abandoned after the
// dispatch retry cap.
const SkipReasonNoConfirmation = "no confirmation from device"

// ValidationError rejects a manual dispense request before anything is
// enqueued. Surfaced synchronously to the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}
