// internal/desktop/device.go
package desktop

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/go-vgo/robotgo"
	"github.com/kbinani/screenshot"
)

// Device defines the contract for raw OS interactions, allowing for mocking
// during tests. This interface is the cornerstone of the package's
// testability strategy: the executor holds all policy (bounds checks, wait
// clamping, error classification) while the Device does nothing but touch
// the hardware.
type Device interface {
	// MoveClick moves the pointer to (x, y) and performs a primary-button click.
	MoveClick(x, y int) error

	// TypeText injects the literal text as keystrokes at the current focus.
	TypeText(text string) error

	// Scroll generates a vertical scroll of the signed pixel amount at the
	// current pointer location.
	Scroll(amount int) error

	// Bounds returns the bounding rectangle of the full virtual desktop.
	Bounds() (image.Rectangle, error)

	// Capture grabs the full virtual desktop as an image.
	Capture() (image.Image, error)

	// Sleep pauses for the given duration, returning early on context
	// cancellation.
	Sleep(ctx context.Context, d time.Duration) error
}

// RobotDevice is the production implementation of the Device interface. It
// drives the pointer and keyboard through robotgo and captures the screen
// through the screenshot library, which also knows the display topology.
type RobotDevice struct{}

// NewRobotDevice creates a production-ready device.
func NewRobotDevice() *RobotDevice {
	return &RobotDevice{}
}

func (d *RobotDevice) MoveClick(x, y int) error {
	robotgo.Move(x, y)
	// Brief settle between move and press so the hover state registers.
	robotgo.MilliSleep(50)
	robotgo.Click("left", false)
	return nil
}

func (d *RobotDevice) TypeText(text string) error {
	robotgo.TypeStr(text)
	return nil
}

func (d *RobotDevice) Scroll(amount int) error {
	robotgo.Scroll(0, amount)
	return nil
}

// Bounds returns the union of all active displays.
func (d *RobotDevice) Bounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return image.Rectangle{}, fmt.Errorf("no active displays")
	}
	bounds := screenshot.GetDisplayBounds(0)
	for i := 1; i < n; i++ {
		bounds = bounds.Union(screenshot.GetDisplayBounds(i))
	}
	return bounds, nil
}

func (d *RobotDevice) Capture() (image.Image, error) {
	bounds, err := d.Bounds()
	if err != nil {
		return nil, err
	}
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("screen capture failed: %w", err)
	}
	return img, nil
}

func (d *RobotDevice) Sleep(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
