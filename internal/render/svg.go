package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strings"

	svg "github.com/ajstarks/svgo"
	"github.com/andresmejia3/facelens/internal/types"
)

// SVGSurface writes the composition as an SVG document. Raster inputs are
// embedded as PNG data URLs; geometry is snapped to whole pixels.
type SVGSurface struct {
	buf    bytes.Buffer
	canvas *svg.SVG
	ended  bool
}

func NewSVGSurface(width, height int) *SVGSurface {
	s := &SVGSurface{}
	s.canvas = svg.New(&s.buf)
	s.canvas.Start(width, height)
	return s
}

func (s *SVGSurface) DrawImage(img image.Image, dst types.BoundingBox) {
	if img == nil || !finite(dst.Left, dst.Top, dst.Width, dst.Height) || dst.Width <= 0 || dst.Height <= 0 {
		return
	}
	var enc bytes.Buffer
	if err := png.Encode(&enc, img); err != nil {
		return
	}
	link := "data:image/png;base64," + base64.StdEncoding.EncodeToString(enc.Bytes())
	s.canvas.Image(px(dst.Left), px(dst.Top), px(dst.Width), px(dst.Height), link, `preserveAspectRatio="none"`)
}

func (s *SVGSurface) StrokeRect(box types.BoundingBox, st Stroke) {
	if !finite(box.Left, box.Top, box.Width, box.Height) {
		return
	}
	s.canvas.Rect(px(box.Left), px(box.Top), px(box.Width), px(box.Height), "fill:none;"+strokeStyle(st))
}

func (s *SVGSurface) Line(a, b types.Point, st Stroke) {
	if !finite(a.X, a.Y, b.X, b.Y) {
		return
	}
	s.canvas.Line(px(a.X), px(a.Y), px(b.X), px(b.Y), strokeStyle(st))
}

func (s *SVGSurface) Dot(center types.Point, radius float64, c color.Color) {
	if !finite(center.X, center.Y, radius) || radius <= 0 {
		return
	}
	r := px(radius)
	if r < 1 {
		r = 1
	}
	s.canvas.Circle(px(center.X), px(center.Y), r, "fill:"+cssColor(c))
}

// Encode closes the document and writes it. Further drawing is ignored by
// readers of the output.
func (s *SVGSurface) Encode(w io.Writer) error {
	if !s.ended {
		s.canvas.End()
		s.ended = true
	}
	_, err := w.Write(s.buf.Bytes())
	return err
}

func strokeStyle(st Stroke) string {
	var b strings.Builder
	fmt.Fprintf(&b, "stroke:%s;stroke-width:%g", cssColor(st.Color), st.Width)
	if pattern, period := dashPattern(st.Dash); period > 0 {
		parts := make([]string, len(pattern))
		for i, d := range pattern {
			parts[i] = fmt.Sprintf("%g", d)
		}
		b.WriteString(";stroke-dasharray:" + strings.Join(parts, ","))
	}
	return b.String()
}

func cssColor(c color.Color) string {
	if c == nil {
		return "black"
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	if n.A == 255 {
		return fmt.Sprintf("rgb(%d,%d,%d)", n.R, n.G, n.B)
	}
	return fmt.Sprintf("rgba(%d,%d,%d,%.3f)", n.R, n.G, n.B, float64(n.A)/255)
}

func px(v float64) int {
	return int(math.Round(clampCoord(v)))
}
