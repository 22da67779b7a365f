// internal/desktop/screenshot.go
package desktop

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Screenshot is an opaque handle to one persisted screen capture. The active
// session owns at most one of these at a time; it is overwritten each
// iteration and never retained across sessions.
type Screenshot struct {
	Path       string
	PNG        []byte
	Size       image.Point
	CapturedAt time.Time
}

// ScreenshotStore persists captures as PNG files under a single directory.
// Save is safe for concurrent use: a direct capture request can land while a
// session round is capturing its own frame.
type ScreenshotStore struct {
	dir string
	now func() time.Time

	mu        sync.Mutex
	lastStamp int64
	seq       int
}

// NewScreenshotStore creates the store, ensuring the directory exists.
func NewScreenshotStore(dir string) (*ScreenshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot directory %q: %w", dir, err)
	}
	return &ScreenshotStore{dir: dir, now: time.Now}, nil
}

// Save encodes the image as PNG and writes it to screenshot_<unix>.png.
func (s *ScreenshotStore) Save(img image.Image) (*Screenshot, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode screenshot: %w", err)
	}

	capturedAt := s.now()
	path := filepath.Join(s.dir, s.nextName(capturedAt.Unix()))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write screenshot %q: %w", path, err)
	}

	return &Screenshot{
		Path:       path,
		PNG:        buf.Bytes(),
		Size:       img.Bounds().Size(),
		CapturedAt: capturedAt,
	}, nil
}

// nextName yields screenshot_<unix>.png, suffixing a counter when several
// captures land in the same second so no file is ever overwritten.
func (s *ScreenshotStore) nextName(stamp int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stamp != s.lastStamp {
		s.lastStamp = stamp
		s.seq = 0
		return fmt.Sprintf("screenshot_%d.png", stamp)
	}
	s.seq++
	return fmt.Sprintf("screenshot_%d_%d.png", stamp, s.seq)
}
