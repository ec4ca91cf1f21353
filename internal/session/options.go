package session

import (
	"context"

	"github.com/andresmejia3/facelens/internal/analysis"
	"github.com/andresmejia3/facelens/internal/media"
	"github.com/andresmejia3/facelens/internal/notify"
	"github.com/andresmejia3/facelens/internal/render"
	"github.com/andresmejia3/facelens/internal/types"
	"github.com/sirupsen/logrus"
)

// Renderer turns a successful analysis into the annotated image.
type Renderer func(snap *types.Snapshot, d *types.FaceDetails) (*types.AnnotatedImage, error)

// Recorder keeps a history of completed analyses.
type Recorder interface {
	RecordAnalysis(ctx context.Context, rec types.AnalysisRecord) error
}

// Observer is called for every state change, in order, outside the session lock.
type Observer func(Transition)

type Option func(*Session)

func WithSource(src media.Source) Option {
	return func(s *Session) { s.source = src }
}

func WithConstraints(c media.Constraints) Option {
	return func(s *Session) { s.constraints = c }
}

func WithAnalyzer(c analysis.Client) Option {
	return func(s *Session) { s.analyzer = c }
}

func WithRenderer(r Renderer) Option {
	return func(s *Session) { s.render = r }
}

// WithRenderOptions keeps the default raster renderer but enables optional stages.
func WithRenderOptions(opts render.Options) Option {
	return func(s *Session) {
		s.render = func(snap *types.Snapshot, d *types.FaceDetails) (*types.AnnotatedImage, error) {
			return render.Annotate(snap, d, opts)
		}
	}
}

func WithNotifier(n notify.Sink) Option {
	return func(s *Session) { s.notifier = n }
}

func WithLogger(l *logrus.Logger) Option {
	return func(s *Session) { s.log = l }
}

func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

func WithObserver(o Observer) Option {
	return func(s *Session) { s.observers = append(s.observers, o) }
}
