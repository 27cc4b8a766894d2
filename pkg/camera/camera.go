// Package camera provides the frame capture collaborators consumed by the
// scanning session: a webcam implementation (behind the gocv build tag) and
// a file-backed replay camera for the CLI and tests.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"github.com/jpamaran/gourdsight/pkg/types"
)

// Capture failure classes. Capture errors are transient from the scan
// loop's point of view; it retries on the next tick.
var (
	ErrCaptureFailed = errors.New("camera: capture failed")
	ErrNotSupported  = errors.New("camera: webcam support not compiled in (build with -tags gocv)")
	ErrExhausted     = errors.New("camera: no more frames")
)

// Camera captures single frames on demand.
type Camera interface {
	Capture(ctx context.Context) (*types.FrameRef, error)
	Close() error
}

// FileCamera replays a fixed list of image files as frames, looping when
// configured to. It stands in for a live camera in the CLI and in tests.
type FileCamera struct {
	mu    sync.Mutex
	paths []string
	next  int
	loop  bool
}

// NewFileCamera creates a replay camera over the given image files.
func NewFileCamera(paths []string, loop bool) *FileCamera {
	return &FileCamera{paths: paths, loop: loop}
}

// Capture returns the next file as a frame. When the list is exhausted and
// looping is off, it returns ErrExhausted.
func (f *FileCamera) Capture(ctx context.Context) (*types.FrameRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.next >= len(f.paths) {
		if !f.loop || len(f.paths) == 0 {
			f.mu.Unlock()
			return nil, ErrExhausted
		}
		f.next = 0
	}
	path := f.paths[f.next]
	f.next++
	f.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrCaptureFailed, path, err)
	}

	return &types.FrameRef{
		ID:     uuid.NewString(),
		Data:   data,
		Width:  cfg.Width,
		Height: cfg.Height,
		Taken:  time.Now(),
	}, nil
}

// Close is a no-op for the file camera.
func (f *FileCamera) Close() error { return nil }
