// Package local wraps the on-device ONNX classifier: model loading, tensor
// preprocessing and single-image inference over the fixed label vocabulary.
package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/jpamaran/gourdsight/pkg/types"
)

// ErrModelNotReady means Predict was called before the session was
// initialized or after Close.
var ErrModelNotReady = errors.New("local: model not ready")

// Metadata describes the exported model: tensor shapes, the ordered label
// vocabulary and the square input image size.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// Classifier owns one ONNX session with pre-allocated input and output
// tensors. It is not safe for concurrent use; the scan loop serializes all
// calls, and the session must never run two inferences at once.
type Classifier struct {
	session      *ort.AdvancedSession
	metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	ready        bool
}

// New loads the model and its metadata and prepares an inference session.
func New(modelPath, metadataPath string) (*Classifier, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	metaFile, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if len(metadata.Classes) == 0 {
		return nil, fmt.Errorf("metadata lists no classes")
	}

	inputShape := ort.NewShape(metadata.InputShape...)
	outputShape := ort.NewShape(metadata.OutputShape...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Classifier{
		session:      session,
		metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		ready:        true,
	}, nil
}

// Ready reports whether the session can run inference.
func (c *Classifier) Ready() bool { return c != nil && c.ready }

// Classes returns the ordered label vocabulary.
func (c *Classifier) Classes() []string {
	out := make([]string, len(c.metadata.Classes))
	copy(out, c.metadata.Classes)
	return out
}

// InputShape returns the model's input tensor shape.
func (c *Classifier) InputShape() []int64 {
	out := make([]int64, len(c.metadata.InputShape))
	copy(out, c.metadata.InputShape)
	return out
}

// Predict runs one inference and returns the full probability distribution
// in vocabulary order.
func (c *Classifier) Predict(img image.Image) ([]types.RawPrediction, error) {
	if !c.Ready() {
		return nil, ErrModelNotReady
	}

	input := c.preprocess(img)
	copy(c.inputTensor.GetData(), input)

	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	outputData := c.outputTensor.GetData()
	preds := make([]types.RawPrediction, 0, len(c.metadata.Classes))
	for i, label := range c.metadata.Classes {
		var p float64
		if i < len(outputData) {
			p = float64(outputData[i])
		}
		preds = append(preds, types.RawPrediction{Label: label, Probability: p})
	}
	return preds, nil
}

// preprocess resizes the image to the model's square input and flattens it
// to CHW float32 in [0,1].
func (c *Classifier) preprocess(img image.Image) []float32 {
	size := c.metadata.ImageSize
	if size <= 0 {
		size = 224
	}
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)

	data := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			i := y*size + x
			data[i] = float32(r>>8) / 255.0
			data[plane+i] = float32(g>>8) / 255.0
			data[2*plane+i] = float32(b>>8) / 255.0
		}
	}
	return data
}

// Close releases the session and tensors. The classifier is not usable
// afterwards.
func (c *Classifier) Close() {
	c.ready = false
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
	}
	if c.session != nil {
		c.session.Destroy()
	}
	ort.DestroyEnvironment()
}
