package camera

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestFrame(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))))
	return path
}

func TestFileCamera_Capture(t *testing.T) {
	dir := t.TempDir()
	p1 := writeTestFrame(t, dir, "a.png", 4, 3)
	p2 := writeTestFrame(t, dir, "b.png", 8, 6)

	cam := NewFileCamera([]string{p1, p2}, false)
	defer cam.Close()

	ctx := context.Background()
	frame, err := cam.Capture(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, frame.ID)
	require.NotEmpty(t, frame.Data)
	require.Equal(t, 4, frame.Width)
	require.Equal(t, 3, frame.Height)

	second, err := cam.Capture(ctx)
	require.NoError(t, err)
	require.Equal(t, 8, second.Width)
	require.NotEqual(t, frame.ID, second.ID)
}

func TestFileCamera_ExhaustionAndLoop(t *testing.T) {
	dir := t.TempDir()
	p := writeTestFrame(t, dir, "a.png", 2, 2)
	ctx := context.Background()

	once := NewFileCamera([]string{p}, false)
	_, err := once.Capture(ctx)
	require.NoError(t, err)
	_, err = once.Capture(ctx)
	require.ErrorIs(t, err, ErrExhausted)

	looping := NewFileCamera([]string{p}, true)
	for i := 0; i < 5; i++ {
		_, err := looping.Capture(ctx)
		require.NoError(t, err)
	}
}

func TestFileCamera_EmptyList(t *testing.T) {
	cam := NewFileCamera(nil, true)
	_, err := cam.Capture(context.Background())
	require.ErrorIs(t, err, ErrExhausted)
}

func TestFileCamera_MissingFile(t *testing.T) {
	cam := NewFileCamera([]string{filepath.Join(t.TempDir(), "ghost.png")}, false)
	_, err := cam.Capture(context.Background())
	require.ErrorIs(t, err, ErrCaptureFailed)
}

func TestFileCamera_NotAnImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0644))

	cam := NewFileCamera([]string{path}, false)
	_, err := cam.Capture(context.Background())
	require.ErrorIs(t, err, ErrCaptureFailed)
}

func TestFileCamera_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	p := writeTestFrame(t, dir, "a.png", 2, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cam := NewFileCamera([]string{p}, false)
	_, err := cam.Capture(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
