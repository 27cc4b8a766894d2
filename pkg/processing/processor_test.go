package processing

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/jpamaran/gourdsight/pkg/types"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 100, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeBytes(t *testing.T) {
	p := NewProcessor()

	img, err := p.DecodeBytes(pngBytes(t, testImage(10, 8)))
	if err != nil {
		t.Fatalf("DecodeBytes failed: %v", err)
	}
	if img.Bounds().Dx() != 10 || img.Bounds().Dy() != 8 {
		t.Errorf("Decoded bounds = %v, want 10x8", img.Bounds())
	}

	if _, err := p.DecodeBytes([]byte("garbage")); err == nil {
		t.Error("Expected error for non-image data")
	}
}

func TestDecodeFrame(t *testing.T) {
	p := NewProcessor()

	frame := types.FrameRef{ID: "f1", Data: pngBytes(t, testImage(6, 6))}
	if _, err := p.DecodeFrame(frame); err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}

	if _, err := p.DecodeFrame(types.FrameRef{ID: "empty"}); err == nil {
		t.Error("Expected error for frame without data")
	}
}

func TestPrepareImageForModel(t *testing.T) {
	p := NewProcessor()

	b64, err := p.PrepareImageForModel(testImage(400, 200), "jpg", 100, 85)
	if err != nil {
		t.Fatalf("PrepareImageForModel failed: %v", err)
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("Result is not valid base64: %v", err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to decode prepared payload: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("Payload format = %s, want jpeg", format)
	}
	// Long side fits maxDim, aspect ratio preserved.
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Errorf("Prepared bounds = %v, want 100x50", img.Bounds())
	}
}

func TestPrepareImageForModel_NoUpscale(t *testing.T) {
	p := NewProcessor()

	b64, err := p.PrepareImageForModel(testImage(20, 10), "png", 100, 85)
	if err != nil {
		t.Fatalf("PrepareImageForModel failed: %v", err)
	}
	data, _ := base64.StdEncoding.DecodeString(b64)
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to decode prepared payload: %v", err)
	}
	if format != "png" {
		t.Errorf("Payload format = %s, want png", format)
	}
	if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 10 {
		t.Errorf("Small image was resized: %v", img.Bounds())
	}
}

func TestPrepareFrameForModel(t *testing.T) {
	p := NewProcessor()

	frame := types.FrameRef{ID: "f1", Data: pngBytes(t, testImage(32, 32))}
	b64, err := p.PrepareFrameForModel(frame)
	if err != nil {
		t.Fatalf("PrepareFrameForModel failed: %v", err)
	}
	if _, err := base64.StdEncoding.DecodeString(b64); err != nil {
		t.Errorf("Result is not valid base64: %v", err)
	}
}

func TestSaveAndLoadImage(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()

	for _, format := range []string{"jpg", "png", "webp"} {
		path := filepath.Join(dir, "out."+format)
		if err := p.SaveImage(testImage(16, 16), path, format, 90, false); err != nil {
			t.Fatalf("SaveImage(%s) failed: %v", format, err)
		}
		img, err := p.LoadImage(path)
		if err != nil {
			t.Fatalf("LoadImage(%s) failed: %v", format, err)
		}
		if img.Bounds().Dx() != 16 {
			t.Errorf("LoadImage(%s) bounds = %v, want 16x16", format, img.Bounds())
		}
	}
}

func TestLoadImageSmart_RejectsBadScheme(t *testing.T) {
	p := NewProcessor()
	if _, err := p.LoadImageFromURL("ftp://example.com/a.png"); err == nil {
		t.Error("Expected error for unsupported scheme")
	}
}
