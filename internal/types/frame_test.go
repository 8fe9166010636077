package types

import "testing"

func TestFrameValid(t *testing.T) {
	testCases := []struct {
		name  string
		frame *Frame
		want  bool
	}{
		{"nil", nil, false},
		{"zero_size", &Frame{Format: FormatRGB}, false},
		{"rgb_exact", &Frame{Width: 2, Height: 2, Format: FormatRGB, Data: make([]byte, 12)}, true},
		{"rgb_short", &Frame{Width: 2, Height: 2, Format: FormatRGB, Data: make([]byte, 11)}, false},
		{"other_format", &Frame{Width: 2, Height: 2, Format: "JPEG", Data: []byte{0xff}}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.frame.Valid(); got != tc.want {
				t.Errorf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDetectionKeypoint(t *testing.T) {
	d := Detection{Keypoints: []Keypoint{{X: 1}, {X: 2}}}

	if kp, ok := d.Keypoint(1); !ok || kp.X != 2 {
		t.Errorf("Keypoint(1) = %+v, %v", kp, ok)
	}
	if _, ok := d.Keypoint(2); ok {
		t.Error("Keypoint(2) should be out of topology")
	}
	if _, ok := d.Keypoint(-1); ok {
		t.Error("Keypoint(-1) should be out of topology")
	}
}
