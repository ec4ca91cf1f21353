// Package media acquires live video streams and exposes their frames for capture.
package media

import (
	"context"
	"image"
	"image/draw"
	"sync"
)

// Constraints describes the stream requested from a Source.
type Constraints struct {
	Device    string
	Format    string // ffmpeg input format (v4l2, avfoundation, dshow)
	Width     int
	Height    int
	FrameRate int
}

// Stream is a live video source. It is owned by the Source that produced it;
// callers only read frames and toggle playback.
type Stream interface {
	// Size is zero until the first frame has arrived.
	Size() image.Point
	// CopyFrame copies the current frame into dst, which must match Size.
	CopyFrame(dst *image.RGBA) bool
	Play()
	Pause()
	Paused() bool
	Active() bool
	Close() error
}

// Source opens streams. Acquire fails with types.ErrUnsupportedEnvironment when the
// capability is missing and types.ErrDeviceUnavailable when no device can be opened.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// frameBuffer is the double buffer shared by stream implementations. Writers fill a
// back buffer without holding the lock and publish it with a swap; readers copy the
// front buffer under the read lock, so a copy never observes a half-written frame.
type frameBuffer struct {
	mu     sync.RWMutex
	front  *image.RGBA
	paused bool
	closed bool
}

// publish makes back the visible frame and returns a buffer for the next write.
// While paused the frame is dropped and back is handed straight back.
func (b *frameBuffer) publish(back *image.RGBA) *image.RGBA {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.paused || b.closed {
		return back
	}
	old := b.front
	b.front = back
	if old == nil || old.Rect != back.Rect {
		old = image.NewRGBA(back.Rect)
	}
	return old
}

func (b *frameBuffer) Size() image.Point {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.front == nil || b.closed {
		return image.Point{}
	}
	return b.front.Rect.Size()
}

func (b *frameBuffer) CopyFrame(dst *image.RGBA) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.front == nil || b.closed || dst == nil || dst.Rect.Size() != b.front.Rect.Size() {
		return false
	}
	if dst.Stride == b.front.Stride && len(dst.Pix) == len(b.front.Pix) {
		copy(dst.Pix, b.front.Pix)
		return true
	}
	draw.Draw(dst, dst.Rect, b.front, b.front.Rect.Min, draw.Src)
	return true
}

func (b *frameBuffer) Play() {
	b.mu.Lock()
	b.paused = false
	b.mu.Unlock()
}

func (b *frameBuffer) Pause() {
	b.mu.Lock()
	b.paused = true
	b.mu.Unlock()
}

func (b *frameBuffer) Paused() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.paused
}

func (b *frameBuffer) markClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	was := b.closed
	b.closed = true
	return !was
}

func (b *frameBuffer) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
