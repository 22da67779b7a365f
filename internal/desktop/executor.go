// internal/desktop/executor.go
package desktop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// Result is the standardized outcome of executing one primitive action. A
// failed result carries a machine-readable code so the session controller can
// distinguish recoverable failures (the planner re-plans around them) from
// fatal capability loss (the session terminates).
type Result struct {
	Success    bool
	Message    string
	Code       ErrorCode
	Screenshot *Screenshot // populated by screenshot actions only
}

// Fatal reports whether the result describes a non-recoverable failure.
func (r Result) Fatal() bool {
	return !r.Success && r.Code.Fatal()
}

// Executor translates a single Action into an OS-level effect and reports
// the outcome. It performs no retries internally: retry policy belongs to
// the planning loop, since recovery may require re-planning, not
// re-execution.
type Executor struct {
	device Device
	store  *ScreenshotStore
	cfg    config.DesktopConfig
	logger *zap.Logger
}

// NewExecutor creates an executor over the given device.
func NewExecutor(device Device, cfg config.DesktopConfig, logger *zap.Logger) (*Executor, error) {
	store, err := NewScreenshotStore(cfg.ScreenshotDir)
	if err != nil {
		return nil, err
	}
	return &Executor{
		device: device,
		store:  store,
		cfg:    cfg,
		logger: logger.Named("desktop"),
	}, nil
}

// Execute runs one primitive action. The switch over kinds is exhaustive;
// an unrecognized kind here means a bug upstream (the planner's parser must
// reject it), so it is reported as a failure rather than silently skipped.
func (e *Executor) Execute(ctx context.Context, action schemas.Action) Result {
	e.logger.Debug("Executing action", zap.String("kind", string(action.Kind)))

	switch action.Kind {
	case schemas.KindScreenshot:
		return e.executeScreenshot()
	case schemas.KindClick:
		return e.executeClick(action.X, action.Y)
	case schemas.KindType:
		return e.executeType(action.Text)
	case schemas.KindScroll:
		return e.executeScroll(action.Amount)
	case schemas.KindWait:
		return e.executeWait(ctx, action)
	default:
		return Result{
			Success: false,
			Code:    ErrCodeInvalidParameters,
			Message: fmt.Sprintf("unrecognized action kind %q", action.Kind),
		}
	}
}

// CaptureScreenshot grabs and persists the full virtual desktop. The session
// controller calls this once at the end of each round, and the transport
// uses it directly for screenshot_request messages.
func (e *Executor) CaptureScreenshot() (*Screenshot, error) {
	img, err := e.device.Capture()
	if err != nil {
		return nil, err
	}
	shot, err := e.store.Save(img)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Screenshot captured",
		zap.String("path", shot.Path),
		zap.Int("width", shot.Size.X),
		zap.Int("height", shot.Size.Y))
	return shot, nil
}

func (e *Executor) executeScreenshot() Result {
	shot, err := e.CaptureScreenshot()
	if err != nil {
		return e.classify(err, "screen capture failed")
	}
	return Result{
		Success:    true,
		Message:    fmt.Sprintf("screenshot saved to %s", shot.Path),
		Screenshot: shot,
	}
}

func (e *Executor) executeClick(x, y int) Result {
	bounds, err := e.device.Bounds()
	if err != nil {
		return Result{
			Success: false,
			Code:    ErrCodeDeviceUnavailable,
			Message: fmt.Sprintf("display bounds unavailable: %v", err),
		}
	}
	if !image.Pt(x, y).In(bounds) {
		return Result{
			Success: false,
			Code:    ErrCodeOutOfBounds,
			Message: fmt.Sprintf("click target (%d, %d) outside display bounds %v", x, y, bounds),
		}
	}
	if err := e.device.MoveClick(x, y); err != nil {
		return e.classify(err, fmt.Sprintf("click at (%d, %d) failed", x, y))
	}
	return Result{Success: true, Message: fmt.Sprintf("clicked at (%d, %d)", x, y)}
}

func (e *Executor) executeType(text string) Result {
	if err := e.device.TypeText(text); err != nil {
		return e.classify(err, "typing failed")
	}
	return Result{Success: true, Message: fmt.Sprintf("typed %q", text)}
}

func (e *Executor) executeScroll(amount int) Result {
	if err := e.device.Scroll(amount); err != nil {
		return e.classify(err, "scroll failed")
	}
	return Result{Success: true, Message: fmt.Sprintf("scrolled %d px", amount)}
}

func (e *Executor) executeWait(ctx context.Context, action schemas.Action) Result {
	duration := action.Duration
	if duration > e.cfg.MaxWait {
		// Clamped, not rejected: one over-long wait must never stall the loop.
		e.logger.Warn("Clamping wait action",
			zap.Duration("requested", duration),
			zap.Duration("max", e.cfg.MaxWait))
		duration = e.cfg.MaxWait
	}
	if err := e.device.Sleep(ctx, duration); err != nil {
		return Result{
			Success: false,
			Code:    ErrCodeInterrupted,
			Message: fmt.Sprintf("wait interrupted: %v", err),
		}
	}
	return Result{Success: true, Message: fmt.Sprintf("waited %s", duration)}
}

// classify maps a device error to a structured failure result.
func (e *Executor) classify(err error, context string) Result {
	code := ErrCodeExecutionFailure
	if errors.Is(err, os.ErrPermission) {
		code = ErrCodePermissionDenied
	}
	return Result{
		Success: false,
		Code:    code,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}
