// Package gourdsight provides dual-model classification of gourd flowers:
// an on-device ONNX classifier scanned continuously against live camera
// frames, verified on demand by a cloud vision model, with deterministic
// arbitration of disagreements.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		"github.com/jpamaran/gourdsight"
//		"github.com/jpamaran/gourdsight/config"
//	)
//
//	func main() {
//		cfg := config.Default()
//		cfg.ApplyEnv()
//
//		engine, err := gourdsight.New(cfg)
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer engine.Close()
//
//		sess, err := engine.NewSession()
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer sess.Close()
//
//		ctx := context.Background()
//		if err := sess.Start(ctx); err != nil {
//			log.Fatal(err)
//		}
//
//		// ... point the camera at a flower until the reading stabilizes ...
//
//		analysis, err := sess.Capture(ctx)
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Printf("%s %s (%.0f%%, %s)\n",
//			analysis.Final.Variety, analysis.Final.Gender,
//			analysis.Final.Confidence, analysis.Final.Source)
//	}
//
// The engine consists of these components:
//
//  1. Local classifier (pkg/local): ONNX inference over the fixed vocabulary
//  2. Temporal smoother (pkg/smoothing): windowed averaging with reject synthesis
//  3. Stability tracker (pkg/stability): consecutive-label runs and best-frame cache
//  4. Frame selector (pkg/capture): priority policy for the frame to verify
//  5. Focus finder (pkg/focus): saliency crop of the flower region
//  6. Remote classifier (pkg/remote): vision-model call with salvage parsing
//  7. Arbiter (pkg/arbiter): ordered decision table over the two verdicts
//
// Sessions (pkg/session) tie these together: a cancellable scan loop feeds
// the smoother and tracker, and a user-triggered capture stops the loop,
// verifies the chosen frame remotely and reconciles the outcome. When the
// arbiter defers to the user the analysis stays pending until resolved.
package gourdsight

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jpamaran/gourdsight/config"
	"github.com/jpamaran/gourdsight/internal/history"
	"github.com/jpamaran/gourdsight/pkg/camera"
	"github.com/jpamaran/gourdsight/pkg/client"
	"github.com/jpamaran/gourdsight/pkg/focus"
	"github.com/jpamaran/gourdsight/pkg/llamacpp"
	"github.com/jpamaran/gourdsight/pkg/local"
	"github.com/jpamaran/gourdsight/pkg/ollama"
	"github.com/jpamaran/gourdsight/pkg/processing"
	"github.com/jpamaran/gourdsight/pkg/remote"
	"github.com/jpamaran/gourdsight/pkg/session"
)

// Version of the gourdsight library
const Version = "1.0.0"

// Engine bundles the long-lived collaborators (model session, remote client,
// history store) and mints scanning sessions.
type Engine struct {
	cfg        *config.Config
	classifier *local.Classifier
	analyzer   session.RemoteAnalyzer
	store      *history.Store
	cam        session.Camera
	logger     *slog.Logger
}

// New builds an engine from configuration: loads the ONNX model, connects
// the configured remote backend (if enabled) and opens the history store.
func New(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	classifier, err := local.New(cfg.Local.ModelPath, cfg.Local.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("load local model: %w", err)
	}

	e := &Engine{cfg: cfg, classifier: classifier, logger: slog.Default()}

	if cfg.Remote.Enabled {
		var visionClient client.VisionClient
		switch cfg.Remote.Backend {
		case "llamacpp":
			visionClient, err = llamacpp.NewClient(cfg.Remote.URL)
		default:
			visionClient, err = ollama.NewClient(cfg.Remote.URL)
		}
		if err != nil {
			classifier.Close()
			return nil, fmt.Errorf("create %s client: %w", cfg.Remote.Backend, err)
		}
		e.analyzer = remote.New(visionClient, cfg.Remote.Model)
	}

	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			classifier.Close()
			return nil, fmt.Errorf("open history: %w", err)
		}
		e.store = store
	}

	return e, nil
}

// SetCamera overrides the default webcam with another frame source, such as
// a camera.FileCamera.
func (e *Engine) SetCamera(cam session.Camera) { e.cam = cam }

// SetLogger replaces the default logger.
func (e *Engine) SetLogger(logger *slog.Logger) { e.logger = logger }

// NewSession creates a scanning session over the engine's collaborators.
// Each session owns fresh smoothing and stability state.
func (e *Engine) NewSession() (*session.Session, error) {
	cam := e.cam
	if cam == nil {
		webcam, err := camera.NewWebcam(0)
		if err != nil {
			return nil, fmt.Errorf("open webcam: %w", err)
		}
		cam = webcam
	}

	var recorder session.Recorder
	if e.store != nil {
		recorder = e.store
	}

	preparer := processing.NewProcessor()
	preparer.SetFocus(focus.New())

	return session.New(session.Deps{
		Camera:   cam,
		Local:    e.classifier,
		Remote:   e.analyzer,
		Preparer: preparer,
		Recorder: recorder,
		Logger:   e.logger,
	}, session.Options{
		Interval:        time.Duration(e.cfg.Scan.IntervalMS) * time.Millisecond,
		Window:          e.cfg.Scan.Window,
		History:         e.cfg.Scan.History,
		RunLength:       e.cfg.Scan.RunLength,
		RejectThreshold: e.cfg.Scan.RejectThreshold,
	})
}

// History returns the scan history store, or nil if none is configured.
func (e *Engine) History() *history.Store { return e.store }

// Close releases the model session and the history store.
func (e *Engine) Close() {
	e.classifier.Close()
	if e.store != nil {
		e.store.Close()
	}
}
