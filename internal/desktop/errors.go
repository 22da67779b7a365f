// internal/desktop/errors.go
package desktop

// ErrorCode is a string type used for structured error reporting from the
// action executor. Using a custom type ensures that only predefined constants
// can be used where an ErrorCode is expected.
type ErrorCode string

const (
	// -- Recoverable failures: the planner can observe them and re-plan. --

	// ErrCodeOutOfBounds indicates click coordinates outside the known
	// virtual-desktop bounds. Crucial signal for the planner to re-target.
	ErrCodeOutOfBounds ErrorCode = "OUT_OF_BOUNDS"
	// ErrCodeExecutionFailure is a generic failure during an interaction.
	ErrCodeExecutionFailure ErrorCode = "EXECUTION_FAILURE"
	// ErrCodeInvalidParameters indicates an action carried parameters the
	// executor could not act on.
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	// ErrCodeInterrupted indicates the action was cut short by cancellation.
	ErrCodeInterrupted ErrorCode = "INTERRUPTED"

	// -- Fatal failures: the session terminates immediately. --

	// ErrCodePermissionDenied indicates the OS refused input or capture
	// access (e.g. missing accessibility permissions).
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	// ErrCodeDeviceUnavailable indicates no usable display or input device.
	ErrCodeDeviceUnavailable ErrorCode = "DEVICE_UNAVAILABLE"
)

// Fatal reports whether the code describes a capability loss that no amount
// of re-planning can recover from.
func (c ErrorCode) Fatal() bool {
	switch c {
	case ErrCodePermissionDenied, ErrCodeDeviceUnavailable:
		return true
	}
	return false
}
