// Package session coordinates one capture lifecycle: camera stream, snapshot,
// analysis request and annotated result.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/facelens/internal/analysis"
	"github.com/andresmejia3/facelens/internal/logging"
	"github.com/andresmejia3/facelens/internal/media"
	"github.com/andresmejia3/facelens/internal/notify"
	"github.com/andresmejia3/facelens/internal/render"
	"github.com/andresmejia3/facelens/internal/snapshot"
	"github.com/andresmejia3/facelens/internal/types"
	"github.com/sirupsen/logrus"
)

type State int

const (
	Idle State = iota
	Live
	Captured
	Submitting
	Annotated
	Rejected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Live:
		return "live"
	case Captured:
		return "captured"
	case Submitting:
		return "submitting"
	case Annotated:
		return "annotated"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Transition struct {
	From, To State
}

// User-facing messages for acquisition failures.
const (
	MsgUnsupported = "Camera capture is not supported in this environment. Install ffmpeg or analyze a still image with --input."
	MsgUnavailable = "Could not open the camera. Check that it is connected, permitted and not used by another program, then start again."
)

const (
	wakeTimeout   = 30 * time.Second
	recordTimeout = 5 * time.Second
)

// Session is safe for concurrent use. Analysis runs on its own goroutine;
// its completion is applied only if the snapshot it was started for is still current.
type Session struct {
	source      media.Source
	constraints media.Constraints
	analyzer    analysis.Client
	render      Renderer
	notifier    notify.Sink
	log         *logrus.Logger
	recorder    Recorder
	observers   []Observer

	mu        sync.Mutex
	state     State
	starting  bool
	startGen  uint64
	stream    media.Stream
	snap      *types.Snapshot
	result    types.Result
	annotated *types.AnnotatedImage
	reason    string
	cancel    context.CancelFunc

	events   []Transition
	emitting bool

	wg sync.WaitGroup
}

// New builds a session from options. A source and an analyzer are required.
func New(opts ...Option) (*Session, error) {
	s := &Session{
		notifier: notify.Discard,
		log:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.source == nil {
		return nil, errors.New("session: no media source")
	}
	if s.analyzer == nil {
		return nil, errors.New("session: no analysis client")
	}
	if s.render == nil {
		WithRenderOptions(render.Options{})(s)
	}
	return s, nil
}

// Start acquires the stream: Idle → Live. On failure the session stays Idle and
// the user is notified once.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle || s.starting {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: start while %s", types.ErrIllegalTransition, st)
	}
	s.starting = true
	s.startGen++
	gen := s.startGen
	s.mu.Unlock()

	stream, err := s.source.Acquire(ctx, s.constraints)

	s.mu.Lock()
	if s.startGen != gen {
		// Stop (and possibly a newer Start) superseded this attempt.
		s.mu.Unlock()
		if err == nil {
			stream.Close()
		}
		return fmt.Errorf("%w: session stopped during start", types.ErrIllegalTransition)
	}
	s.starting = false
	if err != nil {
		s.mu.Unlock()
		s.log.WithError(err).Warn("camera acquisition failed")
		if msg := acquireMessage(err); msg != "" {
			s.notifier.Notify(msg)
		}
		return err
	}

	s.stream = stream
	stream.Play()
	s.setLocked(Live)
	s.mu.Unlock()
	s.flush()

	s.log.WithField("size", stream.Size().String()).Info("camera stream live")
	s.wake()
	return nil
}

func acquireMessage(err error) string {
	switch {
	case errors.Is(err, types.ErrUnsupportedEnvironment):
		return MsgUnsupported
	case errors.Is(err, types.ErrDeviceUnavailable):
		return MsgUnavailable
	case errors.Is(err, context.Canceled):
		return ""
	default:
		return "Camera start failed: " + err.Error()
	}
}

// wake warms up a sleeping analysis endpoint without holding up the caller.
func (s *Session) wake() {
	w, ok := s.analyzer.(analysis.Waker)
	if !ok {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), wakeTimeout)
		defer cancel()
		if err := w.Wake(ctx); err != nil {
			s.log.WithError(err).Debug("analysis endpoint warm-up failed")
		}
	}()
}

// Capture takes a snapshot of the live stream, pauses it and submits the
// snapshot for analysis: Live → Captured → Submitting. It returns as soon as the
// request is in flight. ErrNotReady leaves the session untouched.
func (s *Session) Capture(ctx context.Context) (*types.Snapshot, error) {
	s.mu.Lock()
	if s.state != Live {
		st := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: capture while %s", types.ErrIllegalTransition, st)
	}

	snap, err := snapshot.Capture(s.stream)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.stream.Pause()

	s.snap = snap
	s.result = nil
	s.annotated = nil
	s.reason = ""
	s.setLocked(Captured)

	actx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setLocked(Submitting)
	s.wg.Add(1)
	s.mu.Unlock()
	s.flush()

	s.log.WithFields(logrus.Fields{
		"snapshot_id": snap.ID().String(),
		"size":        fmt.Sprintf("%dx%d", snap.Width(), snap.Height()),
	}).Info("snapshot submitted")

	go s.submit(actx, snap)
	return snap, nil
}

func (s *Session) submit(ctx context.Context, snap *types.Snapshot) {
	defer s.wg.Done()

	res := s.analyze(ctx, snap)

	var annotated *types.AnnotatedImage
	var renderErr error
	if succ, ok := res.(types.Success); ok {
		annotated, renderErr = s.safeRender(snap, succ.Details)
	}

	s.mu.Lock()
	if s.snap == nil || s.snap.ID() != snap.ID() || s.state != Submitting {
		s.mu.Unlock()
		s.log.WithField("snapshot_id", snap.ID().String()).Debug("dropping stale analysis result")
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.result = res

	var message string
	switch r := res.(type) {
	case types.Success:
		if renderErr != nil {
			s.reason = renderErr.Error()
			message = s.reason
			s.setLocked(Rejected)
		} else {
			s.annotated = annotated
			s.setLocked(Annotated)
		}
	case types.Rejected:
		s.reason = r.Reason
		message = r.Reason
		s.setLocked(Rejected)
	case types.TransportError:
		s.reason = r.Error()
		message = "Face analysis failed: " + r.Error()
		s.setLocked(Rejected)
	}
	record := types.NewAnalysisRecord(snap, res, s.reason)
	s.mu.Unlock()
	s.flush()

	s.log.WithFields(logrus.Fields{
		"snapshot_id": snap.ID().String(),
		"outcome":     record.Outcome,
		"reason":      record.Reason,
	}).Info("analysis applied")

	if message != "" {
		s.notifier.Notify(message)
	}
	if s.recorder != nil {
		rctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := s.recorder.RecordAnalysis(rctx, record); err != nil {
			s.log.WithError(err).Warn("failed to record analysis")
		}
	}
}

// analyze shields the session from misbehaving clients.
func (s *Session) analyze(ctx context.Context, snap *types.Snapshot) (res types.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = types.TransportError{Detail: fmt.Sprintf("analysis client panicked: %v", r)}
		}
	}()
	res = s.analyzer.Analyze(ctx, snap)
	switch res.(type) {
	case types.Success, types.Rejected, types.TransportError:
		return res
	default:
		return types.TransportError{Detail: fmt.Sprintf("analysis client returned %T", res)}
	}
}

func (s *Session) safeRender(snap *types.Snapshot, d *types.FaceDetails) (img *types.AnnotatedImage, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("%w: renderer panicked: %v", types.ErrMalformedResult, r)
		}
	}()
	img, err = s.render(snap, d)
	if err != nil && !errors.Is(err, types.ErrMalformedResult) {
		err = fmt.Errorf("%w: %v", types.ErrMalformedResult, err)
	}
	return img, err
}

// Delete discards the snapshot with its result and annotation and resumes the
// stream. A request still in flight is cancelled and its answer ignored.
func (s *Session) Delete() error {
	s.mu.Lock()
	switch s.state {
	case Captured, Submitting, Annotated, Rejected:
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: delete while %s", types.ErrIllegalTransition, st)
	}
	s.clearLocked()
	s.stream.Play()
	s.setLocked(Live)
	s.mu.Unlock()
	s.flush()
	return nil
}

// Stop releases the stream from any state and returns to Idle.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.starting {
		s.starting = false
		s.startGen++
	}
	if s.state == Idle {
		s.mu.Unlock()
		return nil
	}
	s.clearLocked()
	stream := s.stream
	s.stream = nil
	s.setLocked(Idle)
	s.mu.Unlock()
	s.flush()

	if stream != nil {
		return stream.Close()
	}
	return nil
}

func (s *Session) clearLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.snap = nil
	s.result = nil
	s.annotated = nil
	s.reason = ""
}

// Download returns the annotated PNG once available, otherwise the raw snapshot.
func (s *Session) Download() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Annotated:
		return s.annotated.Encoded, nil
	case Captured, Submitting, Rejected:
		return s.snap.PNG(), nil
	default:
		return nil, fmt.Errorf("%w: nothing to download while %s", types.ErrIllegalTransition, s.state)
	}
}

// Wait blocks until background work (analysis, warm-up) has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() *types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *Session) Result() types.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Session) Annotated() *types.AnnotatedImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.annotated
}

// Reason is the message behind the Rejected state.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Session) setLocked(to State) {
	s.events = append(s.events, Transition{From: s.state, To: to})
	s.state = to
}

// flush delivers queued transitions. Only one goroutine delivers at a time, so
// observers see transitions in the order they happened, and an observer may call
// back into the session.
func (s *Session) flush() {
	s.mu.Lock()
	if s.emitting {
		s.mu.Unlock()
		return
	}
	s.emitting = true
	for len(s.events) > 0 {
		events := s.events
		s.events = nil
		s.mu.Unlock()
		for _, e := range events {
			for _, o := range s.observers {
				o(e)
			}
		}
		s.mu.Lock()
	}
	s.emitting = false
	s.mu.Unlock()
}
