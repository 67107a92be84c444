// Package ingest receives per-frame detection messages from the external
// camera inference processes, over UDP in live operation or from a capture
// file in replay, and adapts them to the vision pipeline's collaborator
// contracts.
package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sitewatch-data/ppe.report/internal/vision"
)

// PPEDetection is one PPE-item detection on the wire.
type PPEDetection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// PersonDetection is one person on the wire: box, confidence, optional COCO
// keypoints as [x, y, confidence] triples, and that person's PPE detections.
type PersonDetection struct {
	BBox       [4]float64     `json:"bbox"`
	Confidence float64        `json:"confidence"`
	Keypoints  [][3]float64   `json:"keypoints,omitempty"`
	PPE        []PPEDetection `json:"ppe,omitempty"`
}

// FrameMessage is one camera frame's worth of inference output. The sender
// emits one datagram per frame.
type FrameMessage struct {
	CameraID       string            `json:"camera_id"`
	FrameIndex     int64             `json:"frame_index"`
	TimestampNanos int64             `json:"timestamp_nanos"`
	Persons        []PersonDetection `json:"persons"`
}

// ParseFrameMessage decodes and validates one datagram payload.
func ParseFrameMessage(payload []byte) (*FrameMessage, error) {
	var msg FrameMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("malformed frame message: %w", err)
	}
	if msg.CameraID == "" {
		return nil, fmt.Errorf("frame message missing camera_id")
	}
	if msg.FrameIndex < 0 {
		return nil, fmt.Errorf("frame message has negative frame_index %d", msg.FrameIndex)
	}
	for i, p := range msg.Persons {
		if p.BBox[2] < p.BBox[0] || p.BBox[3] < p.BBox[1] {
			return nil, fmt.Errorf("person %d has inverted bbox %v", i, p.BBox)
		}
		if len(p.Keypoints) != 0 && len(p.Keypoints) != vision.NumKeypoints {
			return nil, fmt.Errorf("person %d has %d keypoints, want 0 or %d",
				i, len(p.Keypoints), vision.NumKeypoints)
		}
	}
	return &msg, nil
}

// Time returns the frame timestamp, or the zero time when the sender did not
// stamp the message.
func (m *FrameMessage) Time() time.Time {
	if m.TimestampNanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, m.TimestampNanos)
}

// toBBox converts a wire box to the vision type.
func toBBox(b [4]float64) vision.BBox {
	return vision.BBox{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]}
}

// toKeypoints converts wire keypoint triples to the vision type.
func toKeypoints(kps [][3]float64) []vision.Keypoint {
	if len(kps) == 0 {
		return nil
	}
	out := make([]vision.Keypoint, len(kps))
	for i, kp := range kps {
		out[i] = vision.Keypoint{X: kp[0], Y: kp[1], Conf: kp[2]}
	}
	return out
}
