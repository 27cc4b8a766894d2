//go:build gocv
// +build gocv

package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/jpamaran/gourdsight/pkg/types"
)

// Webcam captures frames from a local video device via OpenCV.
type Webcam struct {
	mu     sync.Mutex
	device *gocv.VideoCapture
	mat    gocv.Mat
}

// NewWebcam opens the video device with the given ID.
func NewWebcam(deviceID int) (*Webcam, error) {
	device, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("open video device %d: %w", deviceID, err)
	}
	return &Webcam{device: device, mat: gocv.NewMat()}, nil
}

// Capture grabs one frame and returns it JPEG-encoded.
func (w *Webcam) Capture(ctx context.Context) (*types.FrameRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if ok := w.device.Read(&w.mat); !ok || w.mat.Empty() {
		return nil, ErrCaptureFailed
	}

	buf, err := gocv.IMEncode(".jpg", w.mat)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrCaptureFailed, err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	return &types.FrameRef{
		ID:     uuid.NewString(),
		Data:   data,
		Width:  w.mat.Cols(),
		Height: w.mat.Rows(),
		Taken:  time.Now(),
	}, nil
}

// Close releases the device and reusable buffers.
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mat.Close()
	return w.device.Close()
}
