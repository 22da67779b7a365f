// api/schemas/actions.go
package schemas

import (
	"fmt"
	"time"
)

// Kind identifies a primitive desktop operation. The set is closed: the
// executor switches exhaustively over it, so adding a new primitive is a
// compile-time checked change.
type Kind string

const (
	KindScreenshot Kind = "screenshot" // Capture the full virtual desktop.
	KindClick      Kind = "click"      // Primary-button click at pixel coordinates.
	KindType       Kind = "type"       // Inject literal text at the current focus.
	KindScroll     Kind = "scroll"     // Scroll by a signed pixel amount.
	KindWait       Kind = "wait"       // Suspend execution for a duration.
)

// Valid reports whether k is one of the recognized primitive kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindScreenshot, KindClick, KindType, KindScroll, KindWait:
		return true
	}
	return false
}

// Action is one primitive desktop operation, immutable once constructed.
// Only the fields relevant to Kind are meaningful; construct values through
// the New* constructors so the invariant holds.
type Action struct {
	Kind     Kind
	X, Y     int           // click only
	Text     string        // type only
	Amount   int           // scroll only, signed pixels
	Duration time.Duration // wait only
}

// ActionSequence is the ordered output of one planning call. Order is
// execution order; the controller never reorders it.
type ActionSequence []Action

// NewScreenshot returns a screenshot action.
func NewScreenshot() Action { return Action{Kind: KindScreenshot} }

// NewClick returns a click action targeting the given pixel coordinates.
func NewClick(x, y int) Action { return Action{Kind: KindClick, X: x, Y: y} }

// NewType returns a type action injecting the literal text.
func NewType(text string) Action { return Action{Kind: KindType, Text: text} }

// NewScroll returns a scroll action for the signed pixel amount. Negative
// amounts scroll up, positive down.
func NewScroll(amount int) Action { return Action{Kind: KindScroll, Amount: amount} }

// NewWait returns a wait action for the given duration.
func NewWait(d time.Duration) Action { return Action{Kind: KindWait, Duration: d} }

// Describe renders a short human-readable summary used in event logs.
func (a Action) Describe() string {
	switch a.Kind {
	case KindScreenshot:
		return "capturing screenshot"
	case KindClick:
		return fmt.Sprintf("clicking at (%d, %d)", a.X, a.Y)
	case KindType:
		return fmt.Sprintf("typing %q", a.Text)
	case KindScroll:
		return fmt.Sprintf("scrolling %d px", a.Amount)
	case KindWait:
		return fmt.Sprintf("waiting %s", a.Duration)
	default:
		return fmt.Sprintf("unknown action %q", a.Kind)
	}
}

// ComputerUse is the wire representation of an Action inside an outbound
// Event. Exactly one of the optional parameter fields is populated, matching
// the action's kind.
type ComputerUse struct {
	Type        string   `json:"type"`
	Coordinates []int    `json:"coordinates,omitempty"` // click: [x, y]
	Text        *string  `json:"text,omitempty"`        // type
	Amount      *int     `json:"amount,omitempty"`      // scroll
	Duration    *float64 `json:"duration,omitempty"`    // wait, seconds
}

// ToWire converts an Action to its ComputerUse wire shape.
func (a Action) ToWire() *ComputerUse {
	cu := &ComputerUse{Type: string(a.Kind)}
	switch a.Kind {
	case KindClick:
		cu.Coordinates = []int{a.X, a.Y}
	case KindType:
		text := a.Text
		cu.Text = &text
	case KindScroll:
		amount := a.Amount
		cu.Amount = &amount
	case KindWait:
		secs := a.Duration.Seconds()
		cu.Duration = &secs
	}
	return cu
}

// FromWire parses a ComputerUse wire shape back into an Action. The type
// must be a recognized kind and the kind-specific parameter must be present;
// anything else is an error, never silently skipped.
func FromWire(cu *ComputerUse) (Action, error) {
	if cu == nil {
		return Action{}, fmt.Errorf("computer_use payload is nil")
	}
	kind := Kind(cu.Type)
	if !kind.Valid() {
		return Action{}, fmt.Errorf("unknown action type %q", cu.Type)
	}

	switch kind {
	case KindScreenshot:
		return NewScreenshot(), nil
	case KindClick:
		if len(cu.Coordinates) != 2 {
			return Action{}, fmt.Errorf("click requires coordinates [x, y], got %v", cu.Coordinates)
		}
		return NewClick(cu.Coordinates[0], cu.Coordinates[1]), nil
	case KindType:
		if cu.Text == nil {
			return Action{}, fmt.Errorf("type requires a text parameter")
		}
		return NewType(*cu.Text), nil
	case KindScroll:
		if cu.Amount == nil {
			return Action{}, fmt.Errorf("scroll requires an amount parameter")
		}
		return NewScroll(*cu.Amount), nil
	case KindWait:
		if cu.Duration == nil {
			return Action{}, fmt.Errorf("wait requires a duration parameter")
		}
		return NewWait(time.Duration(*cu.Duration * float64(time.Second))), nil
	}
	// Unreachable: Valid() covers the full set.
	return Action{}, fmt.Errorf("unhandled action type %q", cu.Type)
}
