package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jpamaran/gourdsight/pkg/labels"
	"github.com/jpamaran/gourdsight/pkg/remote"
	"github.com/jpamaran/gourdsight/pkg/types"
)

// --- fakes ---

type fakeCamera struct {
	mu    sync.Mutex
	count int
	errs  int // number of leading Capture calls that fail
}

func (c *fakeCamera) Capture(ctx context.Context) (*types.FrameRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	if c.count <= c.errs {
		return nil, errors.New("camera glitch")
	}
	return &types.FrameRef{
		ID:    fmt.Sprintf("frame-%d", c.count),
		Data:  []byte{0x01},
		Taken: time.Now(),
	}, nil
}

func (c *fakeCamera) captures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

type fakeLocal struct {
	dist []types.RawPrediction
	err  error
}

func (l *fakeLocal) Predict(img image.Image) ([]types.RawPrediction, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.dist, nil
}

type fakeRemote struct {
	pred *types.RemotePrediction
	err  error
	hint atomic.Pointer[remote.Hint]
	hits atomic.Int32
}

func (r *fakeRemote) Analyze(ctx context.Context, imgB64 string, hint *remote.Hint) (*types.RemotePrediction, error) {
	r.hits.Add(1)
	if hint != nil {
		r.hint.Store(hint)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.pred, nil
}

type fakePreparer struct{}

func (fakePreparer) DecodeFrame(frame types.FrameRef) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

func (fakePreparer) PrepareFrameForModel(frame types.FrameRef) (string, error) {
	return "aW1n", nil
}

type fakeRecorder struct {
	mu    sync.Mutex
	preds []types.FinalPrediction
}

func (r *fakeRecorder) Record(ctx context.Context, pred types.FinalPrediction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preds = append(r.preds, pred)
	return nil
}

func (r *fakeRecorder) recorded() []types.FinalPrediction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.FinalPrediction, len(r.preds))
	copy(out, r.preds)
	return out
}

// manualTicker hands ticks to the scan loop one at a time. The unbuffered
// send returns only once the loop has picked the tick up, and the loop is
// single-goroutine, so after N+1 sends at least N ticks are fully processed.
type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}
func (m *manualTicker) tick()               { m.ch <- time.Time{} }

// --- helpers ---

func dist(label string, prob float64) []types.RawPrediction {
	return []types.RawPrediction{
		{Label: label, Probability: prob},
		{Label: "upo_male", Probability: 1 - prob},
	}
}

func remotePred(v labels.Variety, g labels.Gender, conf float64) *types.RemotePrediction {
	return &types.RemotePrediction{
		Variety:    v,
		Gender:     g,
		Confidence: conf,
		Reasoning:  "test verdict",
	}
}

type harness struct {
	sess     *Session
	cam      *fakeCamera
	local    *fakeLocal
	rem      *fakeRemote
	recorder *fakeRecorder
	ticker   *manualTicker
}

func newHarness(t *testing.T, rem *fakeRemote) *harness {
	t.Helper()
	h := &harness{
		cam:      &fakeCamera{},
		local:    &fakeLocal{dist: dist("patola_male", 0.90)},
		rem:      rem,
		recorder: &fakeRecorder{},
		ticker:   newManualTicker(),
	}

	var remoteDep RemoteAnalyzer
	if rem != nil {
		remoteDep = rem
	}

	sess, err := New(Deps{
		Camera:   h.cam,
		Local:    h.local,
		Remote:   remoteDep,
		Preparer: fakePreparer{},
		Recorder: h.recorder,
	}, Options{
		Window:    3,
		History:   5,
		RunLength: 3,
		NewTicker: func(time.Duration) Ticker { return h.ticker },
	})
	require.NoError(t, err)
	h.sess = sess
	t.Cleanup(sess.Close)
	return h
}

// runTicks drives n scan ticks and waits until the tracker has absorbed the
// successful ones.
func (h *harness) runTicks(t *testing.T, n, wantRecords int) {
	t.Helper()
	for i := 0; i < n; i++ {
		h.ticker.tick()
	}
	require.Eventually(t, func() bool {
		return len(h.sess.Tracker().Snapshot()) >= wantRecords
	}, 2*time.Second, time.Millisecond)
}

// --- tests ---

func TestNew_RequiresCoreDeps(t *testing.T) {
	base := Deps{Camera: &fakeCamera{}, Local: &fakeLocal{}, Preparer: fakePreparer{}}

	for _, tt := range []struct {
		name string
		mod  func(Deps) Deps
	}{
		{"no camera", func(d Deps) Deps { d.Camera = nil; return d }},
		{"no local", func(d Deps) Deps { d.Local = nil; return d }},
		{"no preparer", func(d Deps) Deps { d.Preparer = nil; return d }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.mod(base), Options{})
			require.Error(t, err)
		})
	}

	sess, err := New(base, Options{})
	require.NoError(t, err)
	sess.Close()
}

func TestSession_ScanLoopReachesStability(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sess.Start(context.Background()))

	h.runTicks(t, 3, 3)
	h.sess.Stop()

	best := h.sess.Tracker().Best()
	require.False(t, best.IsZero())
	require.Equal(t, "patola_male", best.Label)
}

func TestSession_FailedTicksSkipped(t *testing.T) {
	h := newHarness(t, nil)
	h.cam.errs = 2
	require.NoError(t, h.sess.Start(context.Background()))

	// Two failing ticks, then three good ones. Only the good ones may
	// enter the stability window.
	h.runTicks(t, 5, 3)
	h.sess.Stop()

	snap := h.sess.Tracker().Snapshot()
	require.Len(t, snap, 3)
	for _, rec := range snap {
		require.Equal(t, "patola_male", rec.Label)
	}
	require.Equal(t, 5, h.cam.captures())
}

func TestSession_StartResetsState(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sess.Start(context.Background()))
	h.runTicks(t, 3, 3)
	h.sess.Stop()
	require.False(t, h.sess.Tracker().Best().IsZero())

	h.ticker = newManualTicker()
	require.NoError(t, h.sess.Start(context.Background()))
	defer h.sess.Stop()

	// The previous session's window and best frame are gone.
	require.Empty(t, h.sess.Tracker().Snapshot())
	require.True(t, h.sess.Tracker().Best().IsZero())
}

func TestSession_StartTwiceFails(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sess.Start(context.Background()))
	require.Error(t, h.sess.Start(context.Background()))
	h.sess.Stop()
}

func TestCapture_AgreementFinalizes(t *testing.T) {
	rem := &fakeRemote{pred: remotePred(labels.VarietyPatola, labels.GenderMale, 0.95)}
	h := newHarness(t, rem)
	require.NoError(t, h.sess.Start(context.Background()))
	h.runTicks(t, 3, 3)

	a, err := h.sess.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateFinalized, a.State)
	require.Equal(t, "best-stable", a.Rationale.Rule)
	require.NotNil(t, a.Comparison)
	require.True(t, a.Comparison.Agree)
	require.NotNil(t, a.Final)
	require.Equal(t, types.SourceRemote, a.Final.Source)
	require.InDelta(t, 95, a.Final.Confidence, 1e-9)
	require.Equal(t, labels.VarietyPatola, a.Final.Variety)

	// The remote call was seeded with the local verdict.
	hint := rem.hint.Load()
	require.NotNil(t, hint)
	require.Equal(t, "patola_male", hint.Label)
	require.InDelta(t, 0.90, hint.Confidence, 1e-9)

	recs := h.recorder.recorded()
	require.Len(t, recs, 1)
	require.Equal(t, types.SourceRemote, recs[0].Source)
}

func TestCapture_DisagreementAwaitsChoiceThenResolves(t *testing.T) {
	// Local patola_male 0.90 vs remote kalabasa_male 0.92: both sides are
	// confident, no rule resolves the conflict, the user decides.
	rem := &fakeRemote{pred: remotePred(labels.VarietyKalabasa, labels.GenderMale, 0.92)}
	h := newHarness(t, rem)
	require.NoError(t, h.sess.Start(context.Background()))
	h.runTicks(t, 3, 3)

	a, err := h.sess.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateAwaitingUserChoice, a.State)
	require.Nil(t, a.Final)
	require.Empty(t, h.recorder.recorded(), "nothing recorded while pending")

	_, err = h.sess.Resolve(context.Background(), types.Source("coin-flip"))
	require.Error(t, err)

	resolved, err := h.sess.Resolve(context.Background(), types.SourceRemote)
	require.NoError(t, err)
	require.Equal(t, StateFinalized, resolved.State)
	require.Equal(t, types.SourceRemote, resolved.Final.Source)
	require.Equal(t, labels.VarietyKalabasa, resolved.Final.Variety)
	require.InDelta(t, 92, resolved.Final.Confidence, 1e-9)
	require.Len(t, h.recorder.recorded(), 1)

	// Already finalized: nothing left to resolve.
	_, err = h.sess.Resolve(context.Background(), types.SourceLocal)
	require.Error(t, err)
}

func TestCapture_LocalOnlyWhenRemoteDisabled(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sess.Start(context.Background()))
	h.runTicks(t, 3, 3)

	a, err := h.sess.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateFinalized, a.State)
	require.Nil(t, a.Remote)
	require.Nil(t, a.Comparison)
	require.Equal(t, types.SourceLocal, a.Final.Source)
	require.InDelta(t, 90, a.Final.Confidence, 1e-9)
	require.Len(t, h.recorder.recorded(), 1)
}

func TestCapture_RemoteUnavailableDegradesToLocal(t *testing.T) {
	rem := &fakeRemote{err: remote.ErrUnavailable}
	h := newHarness(t, rem)
	require.NoError(t, h.sess.Start(context.Background()))
	h.runTicks(t, 3, 3)

	a, err := h.sess.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateFinalized, a.State)
	require.Equal(t, types.SourceLocal, a.Final.Source)
	require.Equal(t, int32(1), rem.hits.Load())
}

func TestCapture_RateLimitDegradesToLocal(t *testing.T) {
	rem := &fakeRemote{err: remote.ErrRateLimited}
	h := newHarness(t, rem)
	require.NoError(t, h.sess.Start(context.Background()))
	h.runTicks(t, 3, 3)

	a, err := h.sess.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.SourceLocal, a.Final.Source)
}

func TestCapture_ParseFailureIsAnError(t *testing.T) {
	rem := &fakeRemote{err: fmt.Errorf("%w: gibberish", remote.ErrParse)}
	h := newHarness(t, rem)
	require.NoError(t, h.sess.Start(context.Background()))
	h.runTicks(t, 3, 3)

	_, err := h.sess.Capture(context.Background())
	require.ErrorIs(t, err, ErrAnalysisFailed)
}

func TestCapture_FreshFrameWhenNothingCached(t *testing.T) {
	h := newHarness(t, nil)

	// No scan loop ran: the selector has nothing and a fresh synchronous
	// capture backs the analysis.
	a, err := h.sess.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fresh-capture", a.Rationale.Rule)
	require.Equal(t, types.SourceLocal, a.Final.Source)
	require.Equal(t, 1, h.cam.captures())
}

func TestCapture_NoFrameAtAll(t *testing.T) {
	h := newHarness(t, nil)
	h.cam.errs = 1000

	_, err := h.sess.Capture(context.Background())
	require.ErrorIs(t, err, ErrNoFrame)
}

func TestCapture_AfterCloseReturnsErrClosed(t *testing.T) {
	h := newHarness(t, nil)
	h.sess.Close()

	_, err := h.sess.Capture(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestCancel_AbandonsPendingAnalysis(t *testing.T) {
	rem := &fakeRemote{pred: remotePred(labels.VarietyKalabasa, labels.GenderMale, 0.92)}
	h := newHarness(t, rem)
	require.NoError(t, h.sess.Start(context.Background()))
	h.runTicks(t, 3, 3)

	a, err := h.sess.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateAwaitingUserChoice, a.State)

	h.sess.Cancel()
	require.Nil(t, h.sess.Current())
	_, err = h.sess.Resolve(context.Background(), types.SourceLocal)
	require.Error(t, err)
	require.Empty(t, h.recorder.recorded())
}

func TestOverride_ProducesManualCorrection(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sess.Start(context.Background()))
	h.runTicks(t, 3, 3)

	a, err := h.sess.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateFinalized, a.State)

	corrected, err := h.sess.Override(context.Background(), labels.VarietyUpo, labels.GenderFemale)
	require.NoError(t, err)
	require.Equal(t, types.SourceManual, corrected.Source)
	require.Equal(t, labels.VarietyUpo, corrected.Variety)
	require.InDelta(t, 100, corrected.Confidence, 1e-9)

	// The original final prediction is untouched.
	require.Equal(t, types.SourceLocal, a.Final.Source)

	recs := h.recorder.recorded()
	require.Len(t, recs, 2)
	require.Equal(t, types.SourceManual, recs[1].Source)
}

func TestOverride_WithoutFinalizedAnalysis(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.sess.Override(context.Background(), labels.VarietyUpo, labels.GenderMale)
	require.Error(t, err)
}
