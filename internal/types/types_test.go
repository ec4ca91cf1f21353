package types

import (
	"encoding/json"
	"errors"
	"image"
	"strings"
	"testing"
	"time"
)

func TestPointUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Point
		wantErr bool
	}{
		{name: "Integer pair", in: `[12, 34]`, want: Point{X: 12, Y: 34}},
		{name: "Float pair", in: `[1.5, -2.25]`, want: Point{X: 1.5, Y: -2.25}},
		{name: "Too short", in: `[1]`, wantErr: true},
		{name: "Not an array", in: `{"x": 1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Point
			err := json.Unmarshal([]byte(tt.in), &p)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && p != tt.want {
				t.Errorf("Unmarshal(%s) = %+v, want %+v", tt.in, p, tt.want)
			}
		})
	}
}

func TestPayloadDecode(t *testing.T) {
	body := `{
		"FileName": "webcam_1.png",
		"Success": true,
		"Reason": "",
		"FacesCount": 1,
		"FaceDetails": {
			"BoundingBox": {"Left": 10, "Top": 20, "Width": 30, "Height": 40},
			"Landmarks": {"Nose": [25, 35], "LeftEyeLeft": [15, 28]},
			"FullFacialLandmarks": [[1, 2], [3, 4]],
			"Pose": {
				"Pitch": {"Degrees": 1.5, "PFN": [25, 10]},
				"Roll": {"Degrees": -2, "PFN": [50, 35]},
				"Yaw": {"Degrees": 0, "PFN": [26, 60]}
			},
			"EyeDistance": 42
		}
	}`

	var pl Payload
	if err := json.Unmarshal([]byte(body), &pl); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if pl.Success == nil || !*pl.Success {
		t.Fatal("Expected Success=true")
	}
	d := pl.FaceDetails
	if d.Landmarks[LandmarkNose] != (Point{X: 25, Y: 35}) {
		t.Errorf("Unexpected nose %+v", d.Landmarks[LandmarkNose])
	}
	if len(d.FullFacialLandmarks) != 2 {
		t.Errorf("Expected 2 facial landmarks, got %d", len(d.FullFacialLandmarks))
	}
	if d.Pose.Roll.PFN.X != 50 {
		t.Errorf("Expected roll PFN x=50, got %v", d.Pose.Roll.PFN.X)
	}
}

func TestOutcome(t *testing.T) {
	cases := map[string]Result{
		"success":         Success{},
		"rejected":        Rejected{Reason: "no face"},
		"transport_error": TransportError{Detail: "boom"},
	}
	for want, r := range cases {
		if got := Outcome(r); got != want {
			t.Errorf("Outcome(%T) = %q, want %q", r, got, want)
		}
	}
}

func TestTransportErrorUnwrap(t *testing.T) {
	base := errors.New("connection refused")
	te := TransportError{Detail: "request failed", Err: base}
	if !errors.Is(te, base) {
		t.Error("TransportError should unwrap to its cause")
	}
	if !strings.Contains(te.Error(), "connection refused") {
		t.Errorf("Unexpected message %q", te.Error())
	}
}

func TestSnapshotAccessors(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	taken := time.UnixMilli(1700000000123)
	s := NewSnapshot(img, []byte{0x89, 'P', 'N', 'G'}, taken)

	if s.Width() != 4 || s.Height() != 3 {
		t.Errorf("Expected 4x3, got %dx%d", s.Width(), s.Height())
	}
	if s.FileName() != "webcam_1700000000123.png" {
		t.Errorf("Unexpected file name %q", s.FileName())
	}
	if !strings.HasPrefix(s.DataURL(), "data:image/png;base64,") {
		t.Errorf("Unexpected data URL %q", s.DataURL())
	}
	if other := NewSnapshot(img, nil, taken); other.ID() == s.ID() {
		t.Error("Snapshots must get distinct identities")
	}
}
