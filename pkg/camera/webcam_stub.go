//go:build !gocv
// +build !gocv

package camera

import (
	"context"

	"github.com/jpamaran/gourdsight/pkg/types"
)

// Webcam is a stub without OpenCV. All captures fail with ErrNotSupported.
type Webcam struct{}

// NewWebcam always succeeds so that wiring code compiles; captures fail.
func NewWebcam(deviceID int) (*Webcam, error) {
	_ = deviceID
	return &Webcam{}, nil
}

func (w *Webcam) Capture(ctx context.Context) (*types.FrameRef, error) {
	return nil, ErrNotSupported
}

func (w *Webcam) Close() error { return nil }
