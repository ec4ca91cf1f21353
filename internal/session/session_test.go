package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/andresmejia3/facelens/internal/media"
	"github.com/andresmejia3/facelens/internal/render"
	"github.com/andresmejia3/facelens/internal/types"
)

// --- Fakes ---

type fakeSource struct {
	err     error
	stream  media.Stream
	mu      sync.Mutex
	streams []media.Stream
}

func (f *fakeSource) Acquire(ctx context.Context, c media.Constraints) (media.Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	st := f.stream
	if st == nil {
		src := &media.ImageSource{Image: image.NewRGBA(image.Rect(0, 0, 64, 48))}
		var err error
		if st, err = src.Acquire(ctx, c); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	f.streams = append(f.streams, st)
	f.mu.Unlock()
	return st, nil
}

// scriptedAnalyzer answers each request with whatever the test sends next.
// It ignores cancellation so late answers can be simulated.
type scriptedAnalyzer struct {
	results chan types.Result
	mu      sync.Mutex
	calls   []*types.Snapshot
	woken   chan struct{}
}

func newScriptedAnalyzer() *scriptedAnalyzer {
	return &scriptedAnalyzer{results: make(chan types.Result)}
}

func (a *scriptedAnalyzer) Analyze(ctx context.Context, snap *types.Snapshot) types.Result {
	a.mu.Lock()
	a.calls = append(a.calls, snap)
	a.mu.Unlock()
	return <-a.results
}

func (a *scriptedAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type wakingAnalyzer struct {
	*scriptedAnalyzer
}

func (w wakingAnalyzer) Wake(ctx context.Context) error {
	close(w.woken)
	return nil
}

type recordingSink struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingSink) Notify(m string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *recordingSink) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

type recordingRecorder struct {
	mu      sync.Mutex
	records []types.AnalysisRecord
}

func (r *recordingRecorder) RecordAnalysis(ctx context.Context, rec types.AnalysisRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

// countingSurface tallies primitives drawn by the renderer.
type countingSurface struct {
	rects, dots int
	lines       []types.Point
}

func (c *countingSurface) DrawImage(image.Image, types.BoundingBox) {}
func (c *countingSurface) StrokeRect(types.BoundingBox, render.Stroke) { c.rects++ }
func (c *countingSurface) Dot(types.Point, float64, color.Color) { c.dots++ }
func (c *countingSurface) Encode(io.Writer) error { return nil }
func (c *countingSurface) Line(a, b types.Point, _ render.Stroke) { c.lines = append(c.lines, a) }

func faceDetails() *types.FaceDetails {
	return &types.FaceDetails{
		BoundingBox:         &types.BoundingBox{Left: 10, Top: 8, Width: 30, Height: 30},
		Landmarks:           types.Landmarks{types.LandmarkNose: {X: 25, Y: 22}},
		FullFacialLandmarks: []types.Point{{X: 15, Y: 15}, {X: 20, Y: 16}, {X: 30, Y: 16}, {X: 25, Y: 30}},
		Pose: &types.Pose{
			Pitch: &types.PoseAxis{PFN: &types.Point{X: 25, Y: 5}},
			Roll:  &types.PoseAxis{PFN: &types.Point{X: 40, Y: 22}},
			Yaw:   &types.PoseAxis{PFN: &types.Point{X: 26, Y: 35}},
		},
		EyeDistance: 10,
	}
}

type harness struct {
	s        *Session
	source   *fakeSource
	analyzer *scriptedAnalyzer
	sink     *recordingSink
	recorder *recordingRecorder

	mu          sync.Mutex
	transitions []Transition
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		source:   &fakeSource{},
		analyzer: newScriptedAnalyzer(),
		sink:     &recordingSink{},
		recorder: &recordingRecorder{},
	}
	base := []Option{
		WithSource(h.source),
		WithAnalyzer(h.analyzer),
		WithNotifier(h.sink),
		WithRecorder(h.recorder),
		WithObserver(func(tr Transition) {
			h.mu.Lock()
			h.transitions = append(h.transitions, tr)
			h.mu.Unlock()
		}),
	}
	s, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	h.s = s
	t.Cleanup(func() {
		s.Stop()
		s.Wait()
	})
	return h
}

// respond delivers the next analysis answer and waits for the session to apply it.
func (h *harness) respond(r types.Result) {
	h.analyzer.results <- r
	h.s.Wait()
}

func (h *harness) states() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, tr := range h.transitions {
		out = append(out, tr.From.String()+">"+tr.To.String())
	}
	return out
}

func mustStartAndCapture(t *testing.T, h *harness) *types.Snapshot {
	t.Helper()
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	snap, err := h.s.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	return snap
}

// --- Tests ---

func TestScenarioSuccess(t *testing.T) {
	surface := &countingSurface{}
	h := newHarness(t, WithRenderer(func(snap *types.Snapshot, d *types.FaceDetails) (*types.AnnotatedImage, error) {
		if err := render.Render(surface, snap, d, render.Options{}); err != nil {
			return nil, err
		}
		return render.Annotate(snap, d, render.Options{})
	}))

	snap := mustStartAndCapture(t, h)
	if got := h.s.State(); got != Submitting {
		t.Fatalf("Expected Submitting right after capture, got %s", got)
	}

	d := faceDetails()
	h.respond(types.Success{Details: d, FacesCount: 1})

	if got := h.s.State(); got != Annotated {
		t.Fatalf("Expected Annotated, got %s (%s)", got, h.s.Reason())
	}
	if surface.rects != 1 || surface.dots != len(d.FullFacialLandmarks) || len(surface.lines) != 3 {
		t.Errorf("Drew %d rects, %d dots, %d lines", surface.rects, surface.dots, len(surface.lines))
	}
	for _, start := range surface.lines {
		if start != d.Landmarks[types.LandmarkNose] {
			t.Errorf("Pose line starts at %v, expected nose", start)
		}
	}

	ann := h.s.Annotated()
	if ann == nil || ann.SnapshotID != snap.ID() {
		t.Fatal("Annotated image missing or tied to the wrong snapshot")
	}
	if ann.Image.Bounds().Size() != snap.Image().Bounds().Size() {
		t.Errorf("Annotated size %v differs from snapshot %v", ann.Image.Bounds().Size(), snap.Image().Bounds().Size())
	}
	data, err := h.s.Download()
	if err != nil || !bytes.Equal(data, ann.Encoded) {
		t.Errorf("Download should return the annotated PNG (err=%v)", err)
	}

	want := "idle>live live>captured captured>submitting submitting>annotated"
	if got := strings.Join(h.states(), " "); got != want {
		t.Errorf("Transitions = %q, want %q", got, want)
	}
	if msgs := h.sink.all(); len(msgs) != 0 {
		t.Errorf("Expected no notifications on success, got %v", msgs)
	}
	if len(h.recorder.records) != 1 || h.recorder.records[0].Outcome != "success" {
		t.Errorf("Expected one success record, got %+v", h.recorder.records)
	}
}

func TestScenarioStartFailure(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{"Device unavailable", types.ErrDeviceUnavailable, MsgUnavailable},
		{"Unsupported environment", types.ErrUnsupportedEnvironment, MsgUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.source.err = tt.err

			err := h.s.Start(context.Background())
			if !errors.Is(err, tt.err) {
				t.Fatalf("Expected %v, got %v", tt.err, err)
			}
			if got := h.s.State(); got != Idle {
				t.Errorf("Expected Idle, got %s", got)
			}
			msgs := h.sink.all()
			if len(msgs) != 1 || msgs[0] != tt.message {
				t.Errorf("Expected exactly one %q notification, got %v", tt.message, msgs)
			}
			if len(h.source.streams) != 0 {
				t.Error("No stream should have been allocated")
			}
			if len(h.states()) != 0 {
				t.Errorf("Expected no transitions, got %v", h.states())
			}
		})
	}
	if MsgUnavailable == MsgUnsupported {
		t.Error("Failure kinds must have distinct messages")
	}
}

func TestScenarioRejected(t *testing.T) {
	h := newHarness(t)
	snap := mustStartAndCapture(t, h)

	h.respond(types.Rejected{Reason: "no face"})

	if got := h.s.State(); got != Rejected {
		t.Fatalf("Expected Rejected, got %s", got)
	}
	if msgs := h.sink.all(); len(msgs) != 1 || msgs[0] != "no face" {
		t.Errorf("Expected notification \"no face\", got %v", msgs)
	}
	if h.s.Snapshot() != snap {
		t.Error("Snapshot should be retained after rejection")
	}
	data, err := h.s.Download()
	if err != nil || !bytes.Equal(data, snap.PNG()) {
		t.Errorf("Download should return the raw snapshot (err=%v)", err)
	}

	if err := h.s.Delete(); err != nil {
		t.Fatal(err)
	}
	if h.s.State() != Live || h.s.Snapshot() != nil || h.s.Result() != nil {
		t.Error("Delete should return to Live with nothing retained")
	}
}

func TestTransportErrorIsRejected(t *testing.T) {
	h := newHarness(t)
	mustStartAndCapture(t, h)

	h.respond(types.TransportError{Detail: "analysis request failed", Err: errors.New("connection refused")})

	if got := h.s.State(); got != Rejected {
		t.Fatalf("Expected Rejected, got %s", got)
	}
	msgs := h.sink.all()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "connection refused") {
		t.Errorf("Expected one transport notification, got %v", msgs)
	}
	if h.recorder.records[0].Outcome != "transport_error" {
		t.Errorf("Unexpected record %+v", h.recorder.records[0])
	}
}

func TestMalformedResultIsRejected(t *testing.T) {
	h := newHarness(t)
	mustStartAndCapture(t, h)

	d := faceDetails()
	d.Pose.Yaw = nil
	h.respond(types.Success{Details: d, FacesCount: 1})

	if got := h.s.State(); got != Rejected {
		t.Fatalf("Expected Rejected, got %s", got)
	}
	if h.s.Annotated() != nil {
		t.Error("No annotation should exist for a malformed result")
	}
	if !strings.Contains(h.s.Reason(), types.ErrMalformedResult.Error()) {
		t.Errorf("Expected malformed reason, got %q", h.s.Reason())
	}
	if len(h.sink.all()) != 1 {
		t.Errorf("Expected one notification, got %v", h.sink.all())
	}
}

func TestCaptureWhileSubmittingIsIllegal(t *testing.T) {
	h := newHarness(t)
	first := mustStartAndCapture(t, h)

	snap, err := h.s.Capture(context.Background())
	if !errors.Is(err, types.ErrIllegalTransition) || snap != nil {
		t.Fatalf("Expected ErrIllegalTransition, got %v", err)
	}
	if h.s.State() != Submitting || h.s.Snapshot() != first {
		t.Error("Illegal capture must not change the session")
	}

	h.respond(types.Rejected{Reason: "no face"})
	if n := h.analyzer.callCount(); n != 1 {
		t.Errorf("Expected one analysis request, got %d", n)
	}
}

func TestDeleteBeforeResolutionDropsLateResponse(t *testing.T) {
	h := newHarness(t)
	mustStartAndCapture(t, h)
	stream := h.source.streams[0]
	if !stream.Paused() {
		t.Fatal("Capture should pause the stream")
	}

	if err := h.s.Delete(); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if h.s.State() != Live || h.s.Snapshot() != nil || h.s.Result() != nil {
		t.Fatal("Delete should leave Live with no snapshot or result")
	}
	if stream.Paused() {
		t.Error("Delete should resume the stream")
	}

	// The answer for the deleted snapshot arrives late.
	h.respond(types.Success{Details: faceDetails(), FacesCount: 1})

	if h.s.State() != Live || h.s.Annotated() != nil || h.s.Result() != nil {
		t.Fatalf("Stale response was applied: state %s", h.s.State())
	}
	if len(h.sink.all()) != 0 || len(h.recorder.records) != 0 {
		t.Error("Stale response must not notify or record")
	}

	// A fresh capture pairs with the next answer.
	second, err := h.s.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	h.respond(types.Rejected{Reason: "Too many faces"})
	if h.s.State() != Rejected || h.s.Snapshot() != second || h.s.Reason() != "Too many faces" {
		t.Errorf("Second capture not paired with its answer: %s %q", h.s.State(), h.s.Reason())
	}
	if len(h.recorder.records) != 1 || h.recorder.records[0].SnapshotID != second.ID() {
		t.Errorf("Expected a single record for the second snapshot, got %+v", h.recorder.records)
	}
}

func TestIllegalTransitions(t *testing.T) {
	h := newHarness(t)

	ops := map[string]func() error{
		"capture":  func() error { _, err := h.s.Capture(context.Background()); return err },
		"delete":   h.s.Delete,
		"download": func() error { _, err := h.s.Download(); return err },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, types.ErrIllegalTransition) {
			t.Errorf("%s from Idle: expected ErrIllegalTransition, got %v", name, err)
		}
	}

	if err := h.s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.s.Start(context.Background()); !errors.Is(err, types.ErrIllegalTransition) {
		t.Errorf("Start from Live: expected ErrIllegalTransition, got %v", err)
	}
	if err := h.s.Delete(); !errors.Is(err, types.ErrIllegalTransition) {
		t.Errorf("Delete from Live: expected ErrIllegalTransition, got %v", err)
	}
	if _, err := h.s.Download(); !errors.Is(err, types.ErrIllegalTransition) {
		t.Errorf("Download from Live: expected ErrIllegalTransition, got %v", err)
	}
	if h.s.State() != Live {
		t.Errorf("Illegal operations changed state to %s", h.s.State())
	}
}

type emptyStream struct{ paused bool }

func (e *emptyStream) Size() image.Point { return image.Point{} }
func (e *emptyStream) CopyFrame(*image.RGBA) bool { return false }
func (e *emptyStream) Play() { e.paused = false }
func (e *emptyStream) Pause() { e.paused = true }
func (e *emptyStream) Paused() bool { return e.paused }
func (e *emptyStream) Active() bool { return true }
func (e *emptyStream) Close() error { return nil }

func TestCaptureNotReady(t *testing.T) {
	h := newHarness(t)
	st := &emptyStream{}
	h.source.stream = st

	if err := h.s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := h.s.Capture(context.Background())
	if !errors.Is(err, types.ErrNotReady) {
		t.Fatalf("Expected ErrNotReady, got %v", err)
	}
	if h.s.State() != Live || st.paused {
		t.Error("NotReady must leave the session live and the stream playing")
	}
	if len(h.sink.all()) != 0 {
		t.Error("NotReady must not notify")
	}
}

func TestStopReleasesStream(t *testing.T) {
	h := newHarness(t)
	mustStartAndCapture(t, h)
	stream := h.source.streams[0]

	if err := h.s.Stop(); err != nil {
		t.Fatal(err)
	}
	if h.s.State() != Idle || h.s.Snapshot() != nil {
		t.Error("Stop should return to Idle and discard the snapshot")
	}
	if stream.Active() {
		t.Error("Stop should close the stream")
	}

	h.respond(types.Rejected{Reason: "late"})
	if h.s.State() != Idle || len(h.sink.all()) != 0 {
		t.Error("Answer arriving after Stop must be dropped")
	}

	// The session can be started again.
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
}

// gatedSource blocks every Acquire until the test releases it.
type gatedSource struct {
	calls chan chan struct{}

	mu      sync.Mutex
	streams []*trackedStream
}

func (g *gatedSource) Acquire(ctx context.Context, c media.Constraints) (media.Stream, error) {
	release := make(chan struct{})
	g.calls <- release
	<-release
	st := &trackedStream{}
	g.mu.Lock()
	g.streams = append(g.streams, st)
	g.mu.Unlock()
	return st, nil
}

func (g *gatedSource) stream(i int) *trackedStream {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.streams[i]
}

type trackedStream struct {
	emptyStream
	mu     sync.Mutex
	closed bool
}

func (t *trackedStream) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *trackedStream) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func TestStopDuringStartAbortsAcquisition(t *testing.T) {
	src := &gatedSource{calls: make(chan chan struct{})}
	sink := &recordingSink{}
	s, err := New(WithSource(src), WithAnalyzer(newScriptedAnalyzer()), WithNotifier(sink))
	if err != nil {
		t.Fatal(err)
	}

	first := make(chan error, 1)
	go func() { first <- s.Start(context.Background()) }()
	releaseFirst := <-src.calls

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}

	// A new Start while the first acquisition is still pending.
	second := make(chan error, 1)
	go func() { second <- s.Start(context.Background()) }()
	releaseSecond := <-src.calls

	close(releaseFirst)
	if err := <-first; !errors.Is(err, types.ErrIllegalTransition) {
		t.Fatalf("Expected the stopped start to be aborted, got %v", err)
	}
	if !src.stream(0).isClosed() {
		t.Error("Stream from the aborted start must be closed")
	}
	if s.State() != Idle {
		t.Fatalf("Aborted start must not go live, state %s", s.State())
	}

	close(releaseSecond)
	if err := <-second; err != nil {
		t.Fatalf("Second start failed: %v", err)
	}
	if s.State() != Live {
		t.Fatalf("Expected Live after the second start, got %s", s.State())
	}
	if src.stream(1).isClosed() {
		t.Error("Live stream must stay open")
	}
	if len(sink.all()) != 0 {
		t.Errorf("Aborted start must not notify, got %v", sink.all())
	}

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if !src.stream(1).isClosed() {
		t.Error("Stop should close the live stream")
	}
}

func TestStartWakesAnalyzer(t *testing.T) {
	a := wakingAnalyzer{newScriptedAnalyzer()}
	a.woken = make(chan struct{})
	s, err := New(WithSource(&fakeSource{}), WithAnalyzer(a))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	select {
	case <-a.woken:
	default:
		t.Error("Expected the analyzer to be woken after Start")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(WithAnalyzer(newScriptedAnalyzer())); err == nil {
		t.Error("Expected error without a source")
	}
	if _, err := New(WithSource(&fakeSource{})); err == nil {
		t.Error("Expected error without an analyzer")
	}
}
