// Package snapshot turns the current frame of a live stream into an immutable Snapshot.
package snapshot

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"time"

	"github.com/andresmejia3/facelens/internal/media"
	"github.com/andresmejia3/facelens/internal/types"
)

// Capture copies the stream's current frame at call time and encodes it as PNG.
// It fails with types.ErrNotReady when no frame has arrived yet.
func Capture(stream media.Stream) (*types.Snapshot, error) {
	if stream == nil {
		return nil, fmt.Errorf("%w: no stream", types.ErrNotReady)
	}
	size := stream.Size()
	if size.X <= 0 || size.Y <= 0 {
		return nil, types.ErrNotReady
	}

	img := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	if !stream.CopyFrame(img) {
		// The stream changed size or closed between Size and CopyFrame.
		return nil, types.ErrNotReady
	}
	return encode(img)
}

// FromImage builds a snapshot from an already decoded still image.
func FromImage(src image.Image) (*types.Snapshot, error) {
	b := src.Bounds()
	if b.Empty() {
		return nil, types.ErrNotReady
	}
	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Rect, src, b.Min, draw.Src)
	return encode(img)
}

func encode(img *image.RGBA) (*types.Snapshot, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return types.NewSnapshot(img, buf.Bytes(), time.Now()), nil
}
