package media

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/andresmejia3/facelens/internal/types"
)

// ImageSource serves a still image as if it were a live camera.
type ImageSource struct {
	Image image.Image
}

// OpenImage decodes a PNG or JPEG file into an ImageSource.
func OpenImage(path string) (*ImageSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &ImageSource{Image: img}, nil
}

func (s *ImageSource) Acquire(ctx context.Context, _ Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Image == nil || s.Image.Bounds().Empty() {
		return nil, fmt.Errorf("%w: no image to stream", types.ErrDeviceUnavailable)
	}

	b := s.Image.Bounds()
	frame := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(frame, frame.Rect, s.Image, b.Min, draw.Src)

	st := &imageStream{}
	st.publish(frame)
	return st, nil
}

type imageStream struct {
	frameBuffer
}

func (st *imageStream) Active() bool { return !st.isClosed() }

func (st *imageStream) Close() error {
	st.markClosed()
	return nil
}
