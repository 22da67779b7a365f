package desktop

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// -- Test Setup Helpers --

// fakeDevice records calls and returns scripted errors.
type fakeDevice struct {
	bounds     image.Rectangle
	boundsErr  error
	clickErr   error
	typeErr    error
	scrollErr  error
	capture    image.Image
	captureErr error

	clicks  []image.Point
	typed   []string
	scrolls []int
	slept   []time.Duration
}

func (d *fakeDevice) MoveClick(x, y int) error {
	d.clicks = append(d.clicks, image.Pt(x, y))
	return d.clickErr
}

func (d *fakeDevice) TypeText(text string) error {
	d.typed = append(d.typed, text)
	return d.typeErr
}

func (d *fakeDevice) Scroll(amount int) error {
	d.scrolls = append(d.scrolls, amount)
	return d.scrollErr
}

func (d *fakeDevice) Bounds() (image.Rectangle, error) {
	return d.bounds, d.boundsErr
}

func (d *fakeDevice) Capture() (image.Image, error) {
	if d.captureErr != nil {
		return nil, d.captureErr
	}
	return d.capture, nil
}

func (d *fakeDevice) Sleep(ctx context.Context, duration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.slept = append(d.slept, duration)
	return nil
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	return img
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		bounds:  image.Rect(0, 0, 1920, 1080),
		capture: testImage(),
	}
}

func newTestExecutor(t *testing.T, device Device) *Executor {
	t.Helper()
	cfg := config.DesktopConfig{
		ScreenshotDir: t.TempDir(),
		MaxWait:       30 * time.Second,
	}
	exec, err := NewExecutor(device, cfg, zap.NewNop())
	require.NoError(t, err)
	return exec
}

// -- Test Cases: Click --

func TestExecuteClick_Success(t *testing.T) {
	device := newFakeDevice()
	exec := newTestExecutor(t, device)

	result := exec.Execute(context.Background(), schemas.NewClick(100, 200))

	assert.True(t, result.Success)
	require.Len(t, device.clicks, 1)
	assert.Equal(t, image.Pt(100, 200), device.clicks[0])
}

func TestExecuteClick_OutOfBoundsIsRecoverable(t *testing.T) {
	device := newFakeDevice()
	exec := newTestExecutor(t, device)

	result := exec.Execute(context.Background(), schemas.NewClick(5000, 5000))

	assert.False(t, result.Success)
	assert.Equal(t, ErrCodeOutOfBounds, result.Code)
	assert.False(t, result.Fatal())
	assert.Empty(t, device.clicks, "no click may be attempted for out-of-bounds coordinates")
}

func TestExecuteClick_NoDisplayIsFatal(t *testing.T) {
	device := newFakeDevice()
	device.boundsErr = fmt.Errorf("no active displays")
	exec := newTestExecutor(t, device)

	result := exec.Execute(context.Background(), schemas.NewClick(10, 10))

	assert.False(t, result.Success)
	assert.Equal(t, ErrCodeDeviceUnavailable, result.Code)
	assert.True(t, result.Fatal())
}

func TestExecuteClick_PermissionDeniedIsFatal(t *testing.T) {
	device := newFakeDevice()
	device.clickErr = fmt.Errorf("input injection: %w", os.ErrPermission)
	exec := newTestExecutor(t, device)

	result := exec.Execute(context.Background(), schemas.NewClick(10, 10))

	assert.False(t, result.Success)
	assert.Equal(t, ErrCodePermissionDenied, result.Code)
	assert.True(t, result.Fatal())
}

// -- Test Cases: Type / Scroll --

func TestExecuteType(t *testing.T) {
	device := newFakeDevice()
	exec := newTestExecutor(t, device)

	result := exec.Execute(context.Background(), schemas.NewType("hello"))

	assert.True(t, result.Success)
	assert.Equal(t, []string{"hello"}, device.typed)
}

func TestExecuteScroll(t *testing.T) {
	device := newFakeDevice()
	exec := newTestExecutor(t, device)

	result := exec.Execute(context.Background(), schemas.NewScroll(-250))

	assert.True(t, result.Success)
	assert.Equal(t, []int{-250}, device.scrolls)
}

func TestExecuteScroll_DeviceFailureIsRecoverable(t *testing.T) {
	device := newFakeDevice()
	device.scrollErr = fmt.Errorf("synthetic scroll rejected")
	exec := newTestExecutor(t, device)

	result := exec.Execute(context.Background(), schemas.NewScroll(10))

	assert.False(t, result.Success)
	assert.Equal(t, ErrCodeExecutionFailure, result.Code)
	assert.False(t, result.Fatal())
}

// -- Test Cases: Wait --

func TestExecuteWait_ClampsToMaximum(t *testing.T) {
	device := newFakeDevice()
	exec := newTestExecutor(t, device)

	result := exec.Execute(context.Background(), schemas.NewWait(10*time.Minute))

	assert.True(t, result.Success, "over-long waits are clamped, not rejected")
	require.Len(t, device.slept, 1)
	assert.Equal(t, 30*time.Second, device.slept[0])
}

func TestExecuteWait_ShortDurationUnclamped(t *testing.T) {
	device := newFakeDevice()
	exec := newTestExecutor(t, device)

	result := exec.Execute(context.Background(), schemas.NewWait(2*time.Second))

	assert.True(t, result.Success)
	require.Len(t, device.slept, 1)
	assert.Equal(t, 2*time.Second, device.slept[0])
}

func TestExecuteWait_Cancelled(t *testing.T) {
	device := newFakeDevice()
	exec := newTestExecutor(t, device)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := exec.Execute(ctx, schemas.NewWait(time.Second))

	assert.False(t, result.Success)
	assert.Equal(t, ErrCodeInterrupted, result.Code)
}

// -- Test Cases: Screenshot --

func TestExecuteScreenshot_PersistsPNG(t *testing.T) {
	device := newFakeDevice()
	exec := newTestExecutor(t, device)

	result := exec.Execute(context.Background(), schemas.NewScreenshot())

	require.True(t, result.Success)
	require.NotNil(t, result.Screenshot)
	assert.Equal(t, image.Pt(4, 4), result.Screenshot.Size)
	assert.NotEmpty(t, result.Screenshot.PNG)

	// The file must exist on disk with the expected naming scheme.
	assert.FileExists(t, result.Screenshot.Path)
	name := filepath.Base(result.Screenshot.Path)
	assert.Regexp(t, `^screenshot_\d+\.png$`, name)

	raw, err := os.ReadFile(result.Screenshot.Path)
	require.NoError(t, err)
	assert.Equal(t, result.Screenshot.PNG, raw)
}

func TestExecuteScreenshot_CaptureFailure(t *testing.T) {
	device := newFakeDevice()
	device.captureErr = fmt.Errorf("grab failed")
	exec := newTestExecutor(t, device)

	result := exec.Execute(context.Background(), schemas.NewScreenshot())

	assert.False(t, result.Success)
	assert.Equal(t, ErrCodeExecutionFailure, result.Code)
	assert.Nil(t, result.Screenshot)
}

// -- Test Cases: Unknown Kind --

func TestExecuteUnknownKindFails(t *testing.T) {
	device := newFakeDevice()
	exec := newTestExecutor(t, device)

	result := exec.Execute(context.Background(), schemas.Action{Kind: "launch"})

	assert.False(t, result.Success)
	assert.Equal(t, ErrCodeInvalidParameters, result.Code)
}
