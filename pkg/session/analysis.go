package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jpamaran/gourdsight/pkg/arbiter"
	"github.com/jpamaran/gourdsight/pkg/capture"
	"github.com/jpamaran/gourdsight/pkg/labels"
	"github.com/jpamaran/gourdsight/pkg/remote"
	"github.com/jpamaran/gourdsight/pkg/types"
)

// State is the phase of one analysis.
type State string

const (
	StateIdle               State = "idle"
	StateLocalRunning       State = "local_running"
	StateLocalDone          State = "local_done"
	StateRemoteRunning      State = "remote_running"
	StateAgreed             State = "agreed"
	StateDisagreed          State = "disagreed"
	StateAwaitingUserChoice State = "awaiting_user_choice"
	StateFinalized          State = "finalized"
)

// Analysis is the record of one user-triggered capture. Local is always
// present; Remote and Comparison are absent when the session ran local-only.
// Final is nil while the analysis awaits a user choice.
type Analysis struct {
	ID         string                  `json:"id"`
	State      State                   `json:"state"`
	Frame      types.FrameRef          `json:"frame"`
	Rationale  capture.Rationale       `json:"rationale"`
	Local      types.FinalPrediction   `json:"local"`
	Remote     *types.RemotePrediction `json:"remote,omitempty"`
	Comparison *types.ComparisonResult `json:"comparison,omitempty"`
	Final      *types.FinalPrediction  `json:"final,omitempty"`
}

// Capture runs one full verification: stop the scan loop, pick the frame to
// submit, get the remote verdict and arbitrate. A recommendation of "manual"
// leaves the analysis in StateAwaitingUserChoice; the caller resolves it via
// Resolve or Cancel. Remote being disabled or unreachable degrades to a
// local-only result, which is not an error.
func (s *Session) Capture(ctx context.Context) (*Analysis, error) {
	// Freeze the stability state and free the camera before verifying.
	s.Stop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	frame, rationale, err := s.selectFrame(ctx)
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		ID:        uuid.NewString(),
		State:     StateLocalRunning,
		Frame:     frame,
		Rationale: rationale,
	}

	localLabel, localConf, err := s.localVerdict(frame, rationale)
	if err != nil {
		return nil, fmt.Errorf("%w: local classification: %v", ErrAnalysisFailed, err)
	}
	variety, gender := labels.Parse(localLabel)
	a.Local = types.FinalPrediction{
		Variety:    variety,
		Gender:     gender,
		Confidence: localConf * 100,
		Source:     types.SourceLocal,
		IsRejected: labels.IsReject(localLabel),
	}
	a.State = StateLocalDone

	if s.deps.Remote == nil {
		s.finalizeLocalOnly(ctx, a)
		return a, nil
	}

	a.State = StateRemoteRunning
	remotePred, err := s.runRemote(ctx, frame, localLabel, localConf)
	switch {
	case err == nil:
		// fall through to arbitration
	case errors.Is(err, remote.ErrParse):
		a.State = StateIdle
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	case errors.Is(err, remote.ErrUnavailable):
		s.log.Debug("session: remote unavailable, local-only result", "id", s.id, "err", err)
		s.finalizeLocalOnly(ctx, a)
		return a, nil
	default:
		// Transient remote failure: fall back to local-only, keep going.
		s.log.Warn("session: remote verification failed, local-only result", "id", s.id, "err", err)
		s.finalizeLocalOnly(ctx, a)
		return a, nil
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		// The screen is gone; the remote result must not surface.
		return nil, ErrClosed
	}

	a.Remote = remotePred
	s.arbitrate(ctx, a)

	s.mu.Lock()
	s.analysis = a
	s.mu.Unlock()
	return a, nil
}

// selectFrame applies the frame selection policy, falling back to a fresh
// synchronous capture when nothing usable is cached.
func (s *Session) selectFrame(ctx context.Context) (types.FrameRef, capture.Rationale, error) {
	var last *types.FrameRef
	if f, ok := s.tracker.Last(); ok {
		last = &f
	}

	frame, rationale, err := capture.Select(s.tracker.Best(), s.tracker.Snapshot(), last)
	if err == nil {
		s.log.Info("session: frame selected", "id", s.id, "rationale", rationale.String())
		return frame, rationale, nil
	}
	if !errors.Is(err, capture.ErrNoFrame) {
		return types.FrameRef{}, capture.Rationale{}, err
	}

	fresh, cerr := s.deps.Camera.Capture(ctx)
	if cerr != nil {
		return types.FrameRef{}, capture.Rationale{}, fmt.Errorf("%w: fresh capture: %v", ErrNoFrame, cerr)
	}
	rationale = capture.Rationale{Rule: "fresh-capture"}
	s.log.Info("session: no cached frame, captured fresh", "id", s.id)
	return *fresh, rationale, nil
}

// localVerdict produces the local (label, confidence) pair for the selected
// frame. Selections justified by a tracked reading reuse it; frames chosen
// without one (last-frame, fresh capture) are classified once, directly.
func (s *Session) localVerdict(frame types.FrameRef, rationale capture.Rationale) (string, float64, error) {
	if rationale.Label != "" {
		return rationale.Label, rationale.Confidence, nil
	}

	img, err := s.deps.Preparer.DecodeFrame(frame)
	if err != nil {
		return "", 0, err
	}
	raw, err := s.deps.Local.Predict(img)
	if err != nil {
		return "", 0, err
	}
	top := types.RawPrediction{Label: labels.Reject}
	for _, p := range raw {
		if p.Probability > top.Probability {
			top = p
		}
	}
	return top.Label, top.Probability, nil
}

// runRemote encodes the frame and calls the remote classifier, seeded with
// the local verdict.
func (s *Session) runRemote(ctx context.Context, frame types.FrameRef, label string, conf float64) (*types.RemotePrediction, error) {
	imgB64, err := s.deps.Preparer.PrepareFrameForModel(frame)
	if err != nil {
		return nil, fmt.Errorf("prepare frame: %w", err)
	}

	hint := &remote.Hint{Label: label, Confidence: conf}
	if labels.IsReject(label) {
		hint = nil
	}
	return s.deps.Remote.Analyze(ctx, imgB64, hint)
}

// arbitrate reconciles the two predictions and finalizes unless the verdict
// defers to the user.
func (s *Session) arbitrate(ctx context.Context, a *Analysis) {
	localV := arbiter.Verdict{
		Variety:    a.Local.Variety,
		Gender:     a.Local.Gender,
		Confidence: a.Local.Confidence / 100,
	}
	remoteV := arbiter.Verdict{
		Variety:    a.Remote.Variety,
		Gender:     a.Remote.Gender,
		Confidence: a.Remote.Confidence,
	}

	cmp := arbiter.Reconcile(localV, remoteV)
	a.Comparison = &cmp

	if cmp.Agree {
		a.State = StateAgreed
	} else {
		a.State = StateDisagreed
	}

	if cmp.Recommendation == types.SourceManual {
		a.State = StateAwaitingUserChoice
		s.log.Info("session: arbitration deferred to user",
			"id", s.id,
			"local", labels.Join(a.Local.Variety, a.Local.Gender),
			"remote", labels.Join(a.Remote.Variety, a.Remote.Gender))
		return
	}

	final := s.buildFinal(a, cmp.Recommendation)
	final.Confidence = cmp.Confidence * 100
	s.finalize(ctx, a, final)
}

// finalizeLocalOnly completes an analysis without remote verification.
func (s *Session) finalizeLocalOnly(ctx context.Context, a *Analysis) {
	final := a.Local
	s.finalize(ctx, a, final)
	s.mu.Lock()
	s.analysis = a
	s.mu.Unlock()
}

// buildFinal assembles the final prediction from the recommended side.
func (s *Session) buildFinal(a *Analysis, source types.Source) types.FinalPrediction {
	if source == types.SourceRemote {
		return types.FinalPrediction{
			Variety:    a.Remote.Variety,
			Gender:     a.Remote.Gender,
			Confidence: a.Remote.Confidence * 100,
			Source:     types.SourceRemote,
			IsRejected: a.Remote.ShouldReject(),
			Aux:        a.Remote.Aux(),
		}
	}
	final := a.Local
	if a.Remote != nil {
		final.Aux = a.Remote.Aux()
	}
	return final
}

func (s *Session) finalize(ctx context.Context, a *Analysis, final types.FinalPrediction) {
	a.Final = &final
	a.State = StateFinalized

	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.Record(ctx, final); err != nil {
			s.log.Warn("session: failed to record result", "id", s.id, "err", err)
		}
	}
	s.log.Info("session: analysis finalized",
		"id", s.id,
		"variety", final.Variety,
		"gender", final.Gender,
		"confidence", final.Confidence,
		"source", final.Source)
}

// Resolve completes an analysis left in StateAwaitingUserChoice with the
// side the user chose. There is no timeout on the pending state; resolution
// only ever happens through this explicit call or Cancel.
func (s *Session) Resolve(ctx context.Context, source types.Source) (*Analysis, error) {
	s.mu.Lock()
	a := s.analysis
	s.mu.Unlock()

	if a == nil || a.State != StateAwaitingUserChoice {
		return nil, fmt.Errorf("session: no analysis awaiting a choice")
	}
	if source != types.SourceLocal && source != types.SourceRemote {
		return nil, fmt.Errorf("session: invalid choice %q", source)
	}

	final := s.buildFinal(a, source)
	s.finalize(ctx, a, final)
	return a, nil
}

// Override replaces the outcome of a finalized analysis with an explicit
// user correction, producing a new final prediction with a manual source.
// The previous final prediction is left untouched on the analysis history.
func (s *Session) Override(ctx context.Context, variety labels.Variety, gender labels.Gender) (*types.FinalPrediction, error) {
	s.mu.Lock()
	a := s.analysis
	s.mu.Unlock()

	if a == nil || a.Final == nil {
		return nil, fmt.Errorf("session: no finalized analysis to override")
	}

	final := types.FinalPrediction{
		Variety:    variety,
		Gender:     gender,
		Confidence: 100,
		Source:     types.SourceManual,
		IsRejected: variety == labels.VarietyUnknown,
	}
	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.Record(ctx, final); err != nil {
			s.log.Warn("session: failed to record override", "id", s.id, "err", err)
		}
	}
	return &final, nil
}

// Cancel abandons a pending analysis and returns the session to idle. The
// caller may Start scanning again afterwards.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analysis != nil && s.analysis.State == StateAwaitingUserChoice {
		s.analysis.State = StateIdle
		s.analysis = nil
	}
}

// Current returns the most recent analysis, if any.
func (s *Session) Current() *Analysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analysis
}
