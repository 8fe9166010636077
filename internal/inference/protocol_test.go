package inference

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	req := request{Seq: 7, FrameData: []byte{1, 2, 3}, Width: 1, Height: 1, Format: "RGB", TraceID: "abc"}
	if err := writeMessage(&buf, &req); err != nil {
		t.Fatalf("writeMessage() = %v", err)
	}

	if got := binary.BigEndian.Uint32(buf.Bytes()[:4]); int(got) != buf.Len()-4 {
		t.Errorf("length prefix %d, body %d", got, buf.Len()-4)
	}

	var decoded request
	if err := readMessage(&buf, &decoded); err != nil {
		t.Fatalf("readMessage() = %v", err)
	}
	if decoded.Seq != 7 || decoded.TraceID != "abc" || !bytes.Equal(decoded.FrameData, req.FrameData) {
		t.Errorf("decoded %+v", decoded)
	}
}

func TestReadMessageEOF(t *testing.T) {
	var resp response
	if err := readMessage(bytes.NewReader(nil), &resp); !errors.Is(err, io.EOF) {
		t.Errorf("readMessage(empty) = %v, want io.EOF", err)
	}
}

func TestReadMessageOversize(t *testing.T) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], maxMessageSize+1)

	var resp response
	err := readMessage(bytes.NewReader(prefix[:]), &resp)
	if err == nil || errors.Is(err, errDecode) {
		t.Errorf("readMessage(oversize) = %v, want a framing error", err)
	}
}

func TestReadMessageDecodeError(t *testing.T) {
	var buf bytes.Buffer
	if err := writeMessage(&buf, "not a response"); err != nil {
		t.Fatal(err)
	}
	// Second message must still be readable after the bad one
	if err := writeMessage(&buf, &response{Seq: 2}); err != nil {
		t.Fatal(err)
	}

	var resp response
	if err := readMessage(&buf, &resp); !errors.Is(err, errDecode) {
		t.Fatalf("readMessage(bad) = %v, want errDecode", err)
	}
	resp = response{}
	if err := readMessage(&buf, &resp); err != nil || resp.Seq != 2 {
		t.Fatalf("readMessage(next) = %v, seq %d", err, resp.Seq)
	}
}

func TestResponseDetections(t *testing.T) {
	resp := response{
		Persons: [][][]float64{
			{{10, 20, 0.9}, {30, 40, 0.1}},
			{{5, 5}, {6}},
		},
	}

	dets := resp.detections(2, 3)
	if len(dets) != 2 {
		t.Fatalf("got %d detections, want 2", len(dets))
	}

	kp := dets[0].Keypoints[0]
	if kp.X != 20 || kp.Y != 60 || kp.Confidence != 0.9 || !kp.HasConfidence {
		t.Errorf("scaled keypoint = %+v", kp)
	}

	noConf := dets[1].Keypoints[0]
	if noConf.HasConfidence {
		t.Errorf("keypoint without confidence reported HasConfidence: %+v", noConf)
	}
	// Malformed entries keep their slot so topology indices stay aligned
	if len(dets[1].Keypoints) != 2 {
		t.Errorf("topology length = %d, want 2", len(dets[1].Keypoints))
	}

	if got := (&response{}).detections(1, 1); got != nil {
		t.Errorf("empty response detections = %v, want nil", got)
	}
}
