// Package session owns one scanning session: the repeating scan loop that
// feeds the local classifier's output through smoothing and stability
// tracking, and the user-triggered capture flow that verifies the chosen
// frame against the remote classifier and arbitrates the outcome.
//
// Sessions are constructed per scanning screen and explicitly closed. No
// state survives a session; the stability window and best frame start empty
// on every Start.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpamaran/gourdsight/pkg/remote"
	"github.com/jpamaran/gourdsight/pkg/smoothing"
	"github.com/jpamaran/gourdsight/pkg/stability"
	"github.com/jpamaran/gourdsight/pkg/types"
)

var (
	// ErrClosed means the session was closed while work was in flight;
	// the result has been discarded.
	ErrClosed = errors.New("session: closed")
	// ErrAnalysisFailed means both the strict and salvage parse of the
	// remote reply failed and no usable verification exists.
	ErrAnalysisFailed = errors.New("session: analysis failed")
	// ErrNoFrame means no cached frame qualified and the fresh capture
	// also failed.
	ErrNoFrame = errors.New("session: no frame available")
)

// Camera captures single frames on demand.
type Camera interface {
	Capture(ctx context.Context) (*types.FrameRef, error)
}

// LocalPredictor is the on-device classifier capability.
type LocalPredictor interface {
	Predict(img image.Image) ([]types.RawPrediction, error)
}

// RemoteAnalyzer is the cloud classifier capability. A nil analyzer means
// remote verification is disabled and the session degrades to local-only.
type RemoteAnalyzer interface {
	Analyze(ctx context.Context, imgB64 string, hint *remote.Hint) (*types.RemotePrediction, error)
}

// FramePreparer decodes captured frames and encodes them for the remote
// model.
type FramePreparer interface {
	DecodeFrame(frame types.FrameRef) (image.Image, error)
	PrepareFrameForModel(frame types.FrameRef) (string, error)
}

// Recorder persists finalized predictions. The session never writes storage
// itself; it hands each finalized result to the recorder, if one is set.
type Recorder interface {
	Record(ctx context.Context, pred types.FinalPrediction) error
}

// Ticker abstracts the repeating scan trigger so start, stop and individual
// ticks are deterministic under test.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type intervalTicker struct{ t *time.Ticker }

func (it intervalTicker) C() <-chan time.Time { return it.t.C }
func (it intervalTicker) Stop()               { it.t.Stop() }

// NewIntervalTicker returns a Ticker backed by time.Ticker. Ticks that fire
// while a previous tick is still being processed are dropped by the runtime,
// which is exactly the non-reentrancy the scan loop needs.
func NewIntervalTicker(d time.Duration) Ticker {
	return intervalTicker{t: time.NewTicker(d)}
}

// Deps are the collaborators a session consumes. Camera, Local and Preparer
// are required; Remote and Recorder are optional.
type Deps struct {
	Camera   Camera
	Local    LocalPredictor
	Remote   RemoteAnalyzer
	Preparer FramePreparer
	Recorder Recorder
	Logger   *slog.Logger
}

// Options tune the scan loop and the smoothing/stability windows. Zero
// values fall back to defaults.
type Options struct {
	Interval        time.Duration
	Window          int
	History         int
	RunLength       int
	RejectThreshold float64
	NewTicker       func(time.Duration) Ticker
}

// DefaultInterval is the continuous scan cadence.
const DefaultInterval = 200 * time.Millisecond

// Session drives one scanning session. The scan loop and the capture flow
// are mutually exclusive in time: Capture stops the loop before reading the
// stability state.
type Session struct {
	id       string
	deps     Deps
	opts     Options
	log      *slog.Logger
	smoother *smoothing.Smoother
	tracker  *stability.Tracker

	mu       sync.Mutex
	running  bool
	closed   bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	analysis *Analysis
}

// New creates a session. It does not start scanning; call Start.
func New(deps Deps, opts Options) (*Session, error) {
	if deps.Camera == nil {
		return nil, fmt.Errorf("session: camera is required")
	}
	if deps.Local == nil {
		return nil, fmt.Errorf("session: local predictor is required")
	}
	if deps.Preparer == nil {
		return nil, fmt.Errorf("session: frame preparer is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewIntervalTicker
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		id:       uuid.NewString(),
		deps:     deps,
		opts:     opts,
		log:      logger,
		smoother: smoothing.New(opts.Window, opts.RejectThreshold),
		tracker:  stability.New(opts.History, opts.RunLength),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Tracker exposes the stability tracker for observation (current best frame,
// history snapshot). Mutation stays inside the session.
func (s *Session) Tracker() *stability.Tracker { return s.tracker }

// Start clears all smoothing and stability state and begins the scan loop.
// Starting an already running or closed session is an error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running {
		return fmt.Errorf("session: already running")
	}

	// Fresh window every session start, before any update is accepted.
	s.smoother.Reset()
	s.tracker.Reset()

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	ticker := s.opts.NewTicker(s.opts.Interval)
	s.wg.Add(1)
	go s.loop(loopCtx, ticker)

	s.log.Info("session: scan loop started", "id", s.id, "interval", s.opts.Interval)
	return nil
}

// Stop halts the scan loop and waits for the loop goroutine to exit. An
// in-flight tick sees a cancelled context and skips itself. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.Info("session: scan loop stopped", "id", s.id)
}

// Close stops the loop and marks the session dead. Results of any remote
// call still in flight are discarded by the capture path.
func (s *Session) Close() {
	s.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// loop runs ticks until the context is cancelled. Ticks execute serially on
// this goroutine, so two inference calls never race against the classifier.
func (s *Session) loop(ctx context.Context, ticker Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.tick(ctx)
		}
	}
}

// tick captures one frame, classifies it and feeds the result through the
// smoother and the stability tracker. Any error skips the tick: nothing is
// appended to the stability window, and the loop continues on the next
// interval.
func (s *Session) tick(ctx context.Context) {
	frame, err := s.deps.Camera.Capture(ctx)
	if err != nil {
		s.log.Debug("session: tick skipped, capture failed", "id", s.id, "err", err)
		return
	}

	img, err := s.deps.Preparer.DecodeFrame(*frame)
	if err != nil {
		s.log.Debug("session: tick skipped, decode failed", "id", s.id, "err", err)
		return
	}

	raw, err := s.deps.Local.Predict(img)
	if err != nil {
		s.log.Debug("session: tick skipped, inference failed", "id", s.id, "err", err)
		return
	}

	smoothed := s.smoother.Observe(raw)
	status := s.tracker.Update(*frame, smoothed.Top.Label, smoothed.Top.Probability)

	if status.Stable {
		s.log.Debug("session: stable reading",
			"id", s.id,
			"label", smoothed.Top.Label,
			"confidence", smoothed.Top.Probability,
			"best", status.Best.Label)
	}
}
