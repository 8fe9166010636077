package inference

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/technospes/StrikeSync-Project/internal/types"
)

// maxMessageSize guards readMessage against a corrupt length prefix.
const maxMessageSize = 64 << 20

// request is one frame sent to the worker.
type request struct {
	Seq       uint64 `msgpack:"seq"`
	FrameData []byte `msgpack:"frame_data"` // raw bytes, msgpack handles these natively
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
	Format    string `msgpack:"format"`
	TraceID   string `msgpack:"trace_id"`
}

// timing is the worker-reported breakdown of one request.
type timing struct {
	TotalMS     float64 `msgpack:"total_ms"`
	InferenceMS float64 `msgpack:"inference_ms"`
}

// response is the worker's answer to one request.
//
// Persons holds one entry per detected person; each entry is the ordered
// keypoint list, each keypoint [x, y] or [x, y, conf] in the pixel space of
// the frame that was sent.
type response struct {
	Seq     uint64        `msgpack:"seq"`
	Persons [][][]float64 `msgpack:"persons"`
	Error   string        `msgpack:"error"`
	Timing  timing        `msgpack:"timing"`
}

// detections converts the response into Detections, multiplying coordinates
// by scaleX/scaleY to map them back to source-frame pixels.
func (r *response) detections(scaleX, scaleY float64) []types.Detection {
	if len(r.Persons) == 0 {
		return nil
	}

	dets := make([]types.Detection, 0, len(r.Persons))
	for _, person := range r.Persons {
		kps := make([]types.Keypoint, len(person))
		for i, p := range person {
			if len(p) < 2 {
				continue
			}
			kps[i] = types.Keypoint{X: p[0] * scaleX, Y: p[1] * scaleY}
			if len(p) >= 3 {
				kps[i].Confidence = p[2]
				kps[i].HasConfidence = true
			}
		}
		dets = append(dets, types.Detection{Keypoints: kps})
	}
	return dets
}

// writeMessage encodes v as msgpack and writes it with a 4-byte big-endian
// length prefix so the peer can find message boundaries in the stream.
func writeMessage(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v.
func readMessage(r io.Reader, v any) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > maxMessageSize {
		return fmt.Errorf("message length %d exceeds limit %d", n, maxMessageSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("failed to read message body (%d bytes): %w", n, err)
	}

	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", errDecode, err)
	}
	return nil
}
