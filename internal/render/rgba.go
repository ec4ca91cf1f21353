package render

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/andresmejia3/facelens/internal/types"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/vector"
)

// circleK places cubic control points so four curves approximate a circle.
const circleK = 0.5522847498

type vec struct{ x, y float64 }

func (a vec) add(b vec) vec { return vec{a.x + b.x, a.y + b.y} }
func (a vec) sub(b vec) vec { return vec{a.x - b.x, a.y - b.y} }
func (a vec) scale(k float64) vec { return vec{a.x * k, a.y * k} }
func (a vec) length() float64 { return math.Hypot(a.x, a.y) }
func toVec(p types.Point) vec { return vec{p.X, p.Y} }

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

type rectF struct{ minX, minY, maxX, maxY float64 }

// RGBASurface rasterizes onto an *image.RGBA with anti-aliasing.
type RGBASurface struct {
	img *image.RGBA
	z   *vector.Rasterizer
}

func NewRGBASurface(width, height int) *RGBASurface {
	return &RGBASurface{
		img: image.NewRGBA(image.Rect(0, 0, width, height)),
		z:   vector.NewRasterizer(0, 0),
	}
}

func (s *RGBASurface) Image() *image.RGBA { return s.img }

func (s *RGBASurface) bounds(margin float64) rectF {
	b := s.img.Bounds()
	return rectF{
		minX: float64(b.Min.X) - margin,
		minY: float64(b.Min.Y) - margin,
		maxX: float64(b.Max.X) + margin,
		maxY: float64(b.Max.Y) + margin,
	}
}

// DrawImage scales img onto dst. Only canvas pixels are visited, so the cost
// does not depend on how large dst is.
func (s *RGBASurface) DrawImage(img image.Image, dst types.BoundingBox) {
	if img == nil || !finite(dst.Left, dst.Top, dst.Width, dst.Height) || dst.Width <= 0 || dst.Height <= 0 {
		return
	}
	sr := img.Bounds()
	b := s.bounds(0)
	if sr.Empty() || dst.Left >= b.maxX || dst.Top >= b.maxY || dst.Left+dst.Width <= b.minX || dst.Top+dst.Height <= b.minY {
		return
	}
	if dst.Width == float64(sr.Dx()) && dst.Height == float64(sr.Dy()) &&
		dst.Left == math.Trunc(dst.Left) && dst.Top == math.Trunc(dst.Top) {
		r := sr.Sub(sr.Min).Add(image.Pt(int(dst.Left), int(dst.Top)))
		draw.Draw(s.img, r, img, sr.Min, draw.Over)
		return
	}
	kx := dst.Width / float64(sr.Dx())
	ky := dst.Height / float64(sr.Dy())
	s2d := f64.Aff3{
		kx, 0, dst.Left - float64(sr.Min.X)*kx,
		0, ky, dst.Top - float64(sr.Min.Y)*ky,
	}
	draw.CatmullRom.Transform(s.img, s2d, img, sr, draw.Over, nil)
}

func (s *RGBASurface) StrokeRect(box types.BoundingBox, st Stroke) {
	tl := vec{box.Left, box.Top}
	corners := []vec{
		tl,
		{box.Left + box.Width, box.Top},
		{box.Left + box.Width, box.Top + box.Height},
		{box.Left, box.Top + box.Height},
		tl,
	}
	var phase float64
	for i := 0; i+1 < len(corners); i++ {
		phase = s.segment(corners[i], corners[i+1], st, phase)
	}
}

func (s *RGBASurface) Line(a, b types.Point, st Stroke) {
	s.segment(toVec(a), toVec(b), st, 0)
}

func (s *RGBASurface) Dot(center types.Point, radius float64, c color.Color) {
	if !finite(center.X, center.Y, radius) || radius <= 0 {
		return
	}
	ctr := toVec(center)
	r := radius
	inner := s.bounds(0)
	if ctr.x-r >= inner.minX && ctr.y-r >= inner.minY && ctr.x+r <= inner.maxX && ctr.y+r <= inner.maxY {
		s.fillCircle(ctr, r, c)
		return
	}
	// Partially visible: approximate with a polygon and clip it.
	n := int(math.Max(12, math.Min(256, r*4)))
	pts := make([]vec, n)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = vec{ctr.x + r*math.Cos(a), ctr.y + r*math.Sin(a)}
	}
	s.fillPolygon(pts, c)
}

func (s *RGBASurface) Encode(w io.Writer) error {
	return png.Encode(w, s.img)
}

// segment strokes a→b starting phase units into the dash pattern and returns
// the phase at b.
func (s *RGBASurface) segment(a, b vec, st Stroke, phase float64) float64 {
	if !finite(a.x, a.y, b.x, b.y) || st.Width <= 0 || !finite(st.Width) {
		return phase
	}
	d := b.sub(a)
	length := d.length()
	if length == 0 || math.IsInf(length, 0) {
		return phase
	}
	u := d.scale(1 / length)
	pattern, period := dashPattern(st.Dash)

	t0, t1, ok := clipSegment(a, b, s.bounds(st.Width))
	if ok {
		from, to := t0*length, t1*length
		if period == 0 {
			s.thickSegment(a.add(u.scale(from)), a.add(u.scale(to)), st)
		} else {
			// Locate the dash element that covers the first visible point.
			pos := from
			off := math.Mod(phase+pos, period)
			i := 0
			for off >= pattern[i] {
				off -= pattern[i]
				i = (i + 1) % len(pattern)
			}
			rem := pattern[i] - off
			for pos < to {
				end := math.Min(pos+rem, to)
				if i%2 == 0 {
					s.thickSegment(a.add(u.scale(pos)), a.add(u.scale(end)), st)
				}
				pos = end
				i = (i + 1) % len(pattern)
				rem = pattern[i]
			}
		}
	}
	if period == 0 {
		return 0
	}
	return math.Mod(phase+length, period)
}

// thickSegment fills the butt-capped quad covering a→b.
func (s *RGBASurface) thickSegment(a, b vec, st Stroke) {
	d := b.sub(a)
	l := d.length()
	if l == 0 {
		return
	}
	n := vec{-d.y / l, d.x / l}.scale(st.Width / 2)
	s.fillPolygon([]vec{a.add(n), b.add(n), b.sub(n), a.sub(n)}, st.Color)
}

func (s *RGBASurface) fillPolygon(pts []vec, c color.Color) {
	if c == nil {
		c = color.Black
	}
	pts = clipPolygon(pts, s.bounds(0))
	if len(pts) < 3 {
		return
	}
	minV, maxV := pts[0], pts[0]
	for _, p := range pts[1:] {
		minV = vec{math.Min(minV.x, p.x), math.Min(minV.y, p.y)}
		maxV = vec{math.Max(maxV.x, p.x), math.Max(maxV.y, p.y)}
	}
	r, ok := s.area(minV, maxV)
	if !ok {
		return
	}
	o := vec{float64(r.Min.X), float64(r.Min.Y)}
	s.z.Reset(r.Dx(), r.Dy())
	s.z.DrawOp = draw.Over
	s.z.MoveTo(f32(pts[0].sub(o)))
	for _, p := range pts[1:] {
		s.z.LineTo(f32(p.sub(o)))
	}
	s.z.ClosePath()
	s.z.Draw(s.img, r, image.NewUniform(c), image.Point{})
}

func (s *RGBASurface) fillCircle(ctr vec, r float64, c color.Color) {
	if c == nil {
		c = color.Black
	}
	area, ok := s.area(vec{ctr.x - r, ctr.y - r}, vec{ctr.x + r, ctr.y + r})
	if !ok {
		return
	}
	p := ctr.sub(vec{float64(area.Min.X), float64(area.Min.Y)})
	k := r * circleK
	s.z.Reset(area.Dx(), area.Dy())
	s.z.DrawOp = draw.Over
	s.z.MoveTo(f32(vec{p.x + r, p.y}))
	s.z.CubeTo(f32pair(vec{p.x + r, p.y + k}, vec{p.x + k, p.y + r}, vec{p.x, p.y + r}))
	s.z.CubeTo(f32pair(vec{p.x - k, p.y + r}, vec{p.x - r, p.y + k}, vec{p.x - r, p.y}))
	s.z.CubeTo(f32pair(vec{p.x - r, p.y - k}, vec{p.x - k, p.y - r}, vec{p.x, p.y - r}))
	s.z.CubeTo(f32pair(vec{p.x + k, p.y - r}, vec{p.x + r, p.y - k}, vec{p.x + r, p.y}))
	s.z.ClosePath()
	s.z.Draw(s.img, area, image.NewUniform(c), image.Point{})
}

// area is the pixel rectangle covering [minV, maxV] within the image.
func (s *RGBASurface) area(minV, maxV vec) (image.Rectangle, bool) {
	r := image.Rect(
		int(math.Floor(minV.x)), int(math.Floor(minV.y)),
		int(math.Ceil(maxV.x)), int(math.Ceil(maxV.y)),
	).Intersect(s.img.Bounds())
	return r, !r.Empty()
}

func f32(v vec) (float32, float32) { return float32(v.x), float32(v.y) }

func f32pair(a, b, c vec) (float32, float32, float32, float32, float32, float32) {
	return float32(a.x), float32(a.y), float32(b.x), float32(b.y), float32(c.x), float32(c.y)
}

// dashPattern normalises a dash array the way canvas does: odd-length
// patterns repeat twice, and a pattern with no positive length is solid.
func dashPattern(dash []float64) ([]float64, float64) {
	if len(dash) == 0 {
		return nil, 0
	}
	var period float64
	for _, d := range dash {
		if d < 0 || !finite(d) {
			return nil, 0
		}
		period += d
	}
	if period <= 0 {
		return nil, 0
	}
	if len(dash)%2 == 1 {
		dash = append(append([]float64{}, dash...), dash...)
		period *= 2
	}
	return dash, period
}

// clipSegment is Liang–Barsky: it returns the parameter range of a→b inside r.
func clipSegment(a, b vec, r rectF) (float64, float64, bool) {
	t0, t1 := 0.0, 1.0
	dx, dy := b.x-a.x, b.y-a.y
	edges := [4][2]float64{
		{-dx, a.x - r.minX},
		{dx, r.maxX - a.x},
		{-dy, a.y - r.minY},
		{dy, r.maxY - a.y},
	}
	for _, e := range edges {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return 0, 0, false
			}
			continue
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return 0, 0, false
			}
			t0 = math.Max(t0, t)
		} else {
			if t < t0 {
				return 0, 0, false
			}
			t1 = math.Min(t1, t)
		}
	}
	return t0, t1, t0 < t1
}

// clipPolygon is Sutherland–Hodgman against r.
func clipPolygon(pts []vec, r rectF) []vec {
	type edge struct {
		inside func(vec) bool
		cross  func(a, b vec) vec
	}
	lerpX := func(a, b vec, x float64) vec {
		t := (x - a.x) / (b.x - a.x)
		return vec{x, a.y + t*(b.y-a.y)}
	}
	lerpY := func(a, b vec, y float64) vec {
		t := (y - a.y) / (b.y - a.y)
		return vec{a.x + t*(b.x-a.x), y}
	}
	edges := []edge{
		{func(p vec) bool { return p.x >= r.minX }, func(a, b vec) vec { return lerpX(a, b, r.minX) }},
		{func(p vec) bool { return p.x <= r.maxX }, func(a, b vec) vec { return lerpX(a, b, r.maxX) }},
		{func(p vec) bool { return p.y >= r.minY }, func(a, b vec) vec { return lerpY(a, b, r.minY) }},
		{func(p vec) bool { return p.y <= r.maxY }, func(a, b vec) vec { return lerpY(a, b, r.maxY) }},
	}

	out := pts
	for _, e := range edges {
		if len(out) == 0 {
			break
		}
		in := out
		out = make([]vec, 0, len(in)+4)
		prev := in[len(in)-1]
		for _, cur := range in {
			switch {
			case e.inside(cur):
				if !e.inside(prev) {
					out = append(out, e.cross(prev, cur))
				}
				out = append(out, cur)
			case e.inside(prev):
				out = append(out, e.cross(prev, cur))
			}
			prev = cur
		}
	}
	return out
}

// clampCoord keeps a coordinate inside the range int conversion handles.
func clampCoord(v float64) float64 {
	const limit = 1 << 30
	return math.Max(-limit, math.Min(limit, v))
}
