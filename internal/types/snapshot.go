package types

import (
	"encoding/base64"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
)

// Snapshot is one captured frame. It owns its pixels and their PNG encoding
// and is never modified after creation.
type Snapshot struct {
	id      uuid.UUID
	img     *image.RGBA
	png     []byte
	takenAt time.Time
}

// NewSnapshot wraps pixels that the caller hands over and will not touch again.
func NewSnapshot(img *image.RGBA, encoded []byte, takenAt time.Time) *Snapshot {
	return &Snapshot{
		id:      uuid.New(),
		img:     img,
		png:     encoded,
		takenAt: takenAt,
	}
}

func (s *Snapshot) ID() uuid.UUID { return s.id }

// Image returns the captured pixels. Callers must treat it as read-only.
func (s *Snapshot) Image() image.Image { return s.img }

func (s *Snapshot) Width() int  { return s.img.Rect.Dx() }
func (s *Snapshot) Height() int { return s.img.Rect.Dy() }

// PNG returns the encoded snapshot.
func (s *Snapshot) PNG() []byte { return s.png }

func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

// FileName is the upload name, webcam_<unix millis>.png.
func (s *Snapshot) FileName() string {
	return fmt.Sprintf("webcam_%d.png", s.takenAt.UnixMilli())
}

// DataURL returns the snapshot as a data:image/png;base64 URL.
func (s *Snapshot) DataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(s.png)
}

// AnnotatedImage is a snapshot with the analysis overlay composited in.
// It always has the dimensions of the snapshot it was derived from.
type AnnotatedImage struct {
	SnapshotID uuid.UUID
	Image      image.Image
	Encoded    []byte
}
