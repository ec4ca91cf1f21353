package types

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisRecord is the history entry kept for one completed analysis.
// It holds metadata only, never pixels.
type AnalysisRecord struct {
	ID         int64
	SnapshotID uuid.UUID
	CapturedAt time.Time
	Width      int
	Height     int
	Outcome    string
	Reason     string
	FacesCount int
	Box        *BoundingBox
	Pitch      *float64
	Roll       *float64
	Yaw        *float64
}

// NewAnalysisRecord summarises the analysis of snap. reason is the user-facing
// reason for anything other than a rendered success.
func NewAnalysisRecord(snap *Snapshot, res Result, reason string) AnalysisRecord {
	rec := AnalysisRecord{
		SnapshotID: snap.ID(),
		CapturedAt: snap.TakenAt(),
		Width:      snap.Width(),
		Height:     snap.Height(),
		Outcome:    Outcome(res),
		Reason:     reason,
	}
	if s, ok := res.(Success); ok {
		rec.FacesCount = s.FacesCount
		if d := s.Details; d != nil {
			rec.Box = d.BoundingBox
			if p := d.Pose; p != nil {
				rec.Pitch = degrees(p.Pitch)
				rec.Roll = degrees(p.Roll)
				rec.Yaw = degrees(p.Yaw)
			}
		}
	}
	return rec
}

func degrees(a *PoseAxis) *float64 {
	if a == nil {
		return nil
	}
	d := a.Degrees
	return &d
}
