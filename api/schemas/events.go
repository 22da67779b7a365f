// api/schemas/events.go
package schemas

// EventStatus classifies an outbound Event for the consuming front end.
type EventStatus string

const (
	StatusLoading  EventStatus = "loading"  // Work in progress (planning, executing, evaluating).
	StatusSuccess  EventStatus = "success"  // A step finished successfully.
	StatusError    EventStatus = "error"    // A step or the session failed.
	StatusComplete EventStatus = "complete" // The session reached its goal.
)

// Event is one outbound status message, serialized as a single JSON line.
// ComputerUse is present only while the event describes an in-flight or
// just-completed primitive action; consumers must tolerate and ignore fields
// they do not recognize.
type Event struct {
	ActionLog   string       `json:"action_log"`
	Status      EventStatus  `json:"status"`
	Response    string       `json:"response"`
	ComputerUse *ComputerUse `json:"computer_use,omitempty"`
}
