package types

import (
	"encoding/json"
	"fmt"
)

// Named landmarks returned by the analysis service.
const (
	LandmarkChin          = "Chin"
	LandmarkNose          = "Nose"
	LandmarkLeftEyeLeft   = "LeftEyeLeft"
	LandmarkRightEyeRight = "RightEyeRight"
	LandmarkMouthLeft     = "MouthLeft"
	LandmarkMouthRight    = "MouthRight"
)

// Point is a pixel-space coordinate. On the wire it is a two element array [x, y].
type Point struct {
	X float64
	Y float64
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var xy []float64
	if err := json.Unmarshal(data, &xy); err != nil {
		return fmt.Errorf("point: %w", err)
	}
	if len(xy) != 2 {
		return fmt.Errorf("point: expected [x, y], got %d values", len(xy))
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// BoundingBox is the face rectangle in the same pixel frame as the snapshot.
type BoundingBox struct {
	Left   float64 `json:"Left"`
	Top    float64 `json:"Top"`
	Width  float64 `json:"Width" validate:"gte=0"`
	Height float64 `json:"Height" validate:"gte=0"`
}

// Landmarks maps a landmark name (see the Landmark constants) to its position.
type Landmarks map[string]Point

// PoseAxis is one head-pose angle plus its projected "point from nose" target.
type PoseAxis struct {
	Degrees float64 `json:"Degrees"`
	PFN     *Point  `json:"PFN" validate:"required"`
}

type Pose struct {
	Pitch *PoseAxis `json:"Pitch" validate:"required"`
	Roll  *PoseAxis `json:"Roll" validate:"required"`
	Yaw   *PoseAxis `json:"Yaw" validate:"required"`
}

type MouthOpen struct {
	Score  float64 `json:"Score"`
	Status bool    `json:"Status"`
}

type EyesClosed struct {
	LeftEyeArea  float64    `json:"LeftEyeArea"`
	RightEyeArea float64    `json:"RightEyeArea"`
	Status       string     `json:"Status"`
	Score        [2]float64 `json:"Score"`
}

// FaceDetails is the structured analysis of the single face found in a snapshot.
type FaceDetails struct {
	BoundingBox         *BoundingBox `json:"BoundingBox" validate:"required"`
	Landmarks           Landmarks    `json:"Landmarks" validate:"required"`
	FullFacialLandmarks []Point      `json:"FullFacialLandmarks"`
	Pose                *Pose        `json:"Pose" validate:"required"`
	EyeDistance         float64      `json:"EyeDistance"`
	MouthOpen           *MouthOpen   `json:"MouthOpen,omitempty"`
	EyesClosed          *EyesClosed  `json:"EyesClosed,omitempty"`
}

// Payload is the JSON envelope produced by the face analysis endpoint.
type Payload struct {
	FileName    string       `json:"FileName"`
	Success     *bool        `json:"Success"`
	Reason      string       `json:"Reason"`
	FacesCount  int          `json:"FacesCount"`
	TimeElapsed string       `json:"TimeElapsed"`
	FaceDetails *FaceDetails `json:"FaceDetails,omitempty"`
}

// ErrorResult captures the error object a local analyzer process returns on failure
type ErrorResult struct {
	Error string `json:"error"`
}
