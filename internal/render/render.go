// Package render composes the analysis overlay on top of a snapshot.
//
// Layering is fixed: the snapshot itself, the bounding box, every facial
// landmark, the three head-pose lines and finally the optional mask. Drawing
// goes through a Surface so the same composition can target a raster image or
// an SVG document.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/andresmejia3/facelens/internal/types"
	"github.com/go-playground/validator/v10"
)

var (
	Yellow = color.RGBA{R: 255, G: 255, A: 255}
	Red    = color.RGBA{R: 255, A: 255}
	Green  = color.RGBA{G: 128, A: 255} // CSS "green"
	Blue   = color.RGBA{B: 255, A: 255}
)

// Stroke describes how a line is drawn. An empty Dash draws a solid line.
type Stroke struct {
	Color color.Color
	Width float64
	Dash  []float64
}

var (
	BoxStroke   = Stroke{Color: Yellow, Width: 3, Dash: []float64{3, 3}}
	PitchStroke = Stroke{Color: Red, Width: 3}
	RollStroke  = Stroke{Color: Green, Width: 3}
	YawStroke   = Stroke{Color: Blue, Width: 3}
)

const LandmarkRadius = 1

// Surface is a drawing target the size of the snapshot. Geometry outside the
// surface is clipped, never an error.
type Surface interface {
	DrawImage(img image.Image, dst types.BoundingBox)
	StrokeRect(box types.BoundingBox, s Stroke)
	Line(a, b types.Point, s Stroke)
	Dot(center types.Point, radius float64, c color.Color)
	Encode(w io.Writer) error
}

// Options toggles optional stages.
type Options struct {
	// Mask is drawn over the face when set. The stage is off by default.
	Mask image.Image
}

var validate = validator.New()

const maxMaskExtent = 1 << 30

// Validate checks that details carry everything Render needs.
func Validate(d *types.FaceDetails, opts Options) error {
	if d == nil {
		return fmt.Errorf("%w: no face details", types.ErrMalformedResult)
	}
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedResult, err)
	}
	if _, ok := d.Landmarks[types.LandmarkNose]; !ok {
		return fmt.Errorf("%w: missing %s landmark", types.ErrMalformedResult, types.LandmarkNose)
	}
	if opts.Mask != nil {
		if _, ok := d.Landmarks[types.LandmarkLeftEyeLeft]; !ok {
			return fmt.Errorf("%w: missing %s landmark", types.ErrMalformedResult, types.LandmarkLeftEyeLeft)
		}
		// The mask is 2.6 eye distances tall; keep it inside the coordinate range surfaces handle.
		if !(d.EyeDistance > 0) || d.EyeDistance*2.6 > maxMaskExtent {
			return fmt.Errorf("%w: invalid eye distance %v", types.ErrMalformedResult, d.EyeDistance)
		}
	}
	return nil
}

// Render draws snap and the overlay for d onto s. Nothing is drawn when d fails Validate.
func Render(s Surface, snap *types.Snapshot, d *types.FaceDetails, opts Options) error {
	if err := Validate(d, opts); err != nil {
		return err
	}

	s.DrawImage(snap.Image(), types.BoundingBox{Width: float64(snap.Width()), Height: float64(snap.Height())})

	s.StrokeRect(*d.BoundingBox, BoxStroke)

	for _, p := range d.FullFacialLandmarks {
		s.Dot(p, LandmarkRadius, Red)
	}

	nose := d.Landmarks[types.LandmarkNose]
	s.Line(nose, *d.Pose.Pitch.PFN, PitchStroke)
	s.Line(nose, *d.Pose.Roll.PFN, RollStroke)
	s.Line(nose, *d.Pose.Yaw.PFN, YawStroke)

	if opts.Mask != nil {
		s.DrawImage(opts.Mask, MaskPlacement(d))
	}
	return nil
}

// MaskPlacement is where the mask image goes: 2.4 by 2.6 eye distances,
// shifted up and left from the outer corner of the left eye.
func MaskPlacement(d *types.FaceDetails) types.BoundingBox {
	eye := d.Landmarks[types.LandmarkLeftEyeLeft]
	w := d.EyeDistance * 2.4
	h := d.EyeDistance * 2.6
	return types.BoundingBox{Left: eye.X - w*0.3, Top: eye.Y - h*0.38, Width: w, Height: h}
}

// Annotate renders onto a raster surface and PNG-encodes the result.
func Annotate(snap *types.Snapshot, d *types.FaceDetails, opts Options) (*types.AnnotatedImage, error) {
	s := NewRGBASurface(snap.Width(), snap.Height())
	if err := Render(s, snap, d, opts); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := s.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode annotated image: %w", err)
	}
	return &types.AnnotatedImage{
		SnapshotID: snap.ID(),
		Image:      s.Image(),
		Encoded:    buf.Bytes(),
	}, nil
}
