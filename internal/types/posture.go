package types

import "strconv"

// PostureStatus is the discrete classification of the monitored subject's posture.
type PostureStatus string

const (
	// StatusWaiting is a local-only placeholder shown before any data arrives.
	// The server never emits it.
	StatusWaiting   PostureStatus = "WAITING"
	StatusGood      PostureStatus = "GOOD"
	StatusSlouching PostureStatus = "SLOUCHING"
	StatusTooClose  PostureStatus = "TOO_CLOSE"
	StatusNoPerson  PostureStatus = "NO_PERSON"
)

// Body-point indices used by the skeleton overlay. These follow the pose
// model's landmark numbering, which the server reports as string keys.
const (
	PointLeftEar       = 7
	PointLeftShoulder  = 11
	PointRightShoulder = 12
	PointLeftHip       = 23
	PointRightHip      = 24
)

// PresenceThreshold is the minimum confidence for a landmark to be drawable.
const PresenceThreshold = 0.5

// Landmark is a body keypoint with normalized image coordinates.
type Landmark struct {
	// X and Y are fractional coordinates in [0,1] relative to frame width/height.
	X float64 `json:"x"`
	Y float64 `json:"y"`
	// Presence is the model's confidence that the point is visible, in [0,1].
	Presence float64 `json:"presence"`
}

// LandmarkSet maps body-point indices to landmarks. Keys are strings on the
// wire ("11", "12", ...), matching the analysis server's payload.
type LandmarkSet map[string]Landmark

// Point returns the landmark for a body-point index and whether it is usable
// (present in the set with presence above the threshold).
func (ls LandmarkSet) Point(idx int) (Landmark, bool) {
	lm, ok := ls[strconv.Itoa(idx)]
	if !ok || lm.Presence <= PresenceThreshold {
		return Landmark{}, false
	}
	return lm, true
}

// PostureSnapshot is one pushed posture update. Ephemeral: superseded on
// every new message, never persisted by the client.
type PostureSnapshot struct {
	SessionID     int64         `json:"session_id,omitempty"`
	Status        PostureStatus `json:"posture_status"`
	NeckAngle     *float64      `json:"neck_angle,omitempty"`
	TorsoAngle    *float64      `json:"torso_angle,omitempty"`
	DistanceScore *float64      `json:"distance_score,omitempty"`
	Confidence    *float64      `json:"confidence,omitempty"`
	Landmarks     LandmarkSet   `json:"landmarks,omitempty"`
}

// Notification is a transient server-pushed message with a bounded display
// lifetime. At most one is visible at a time.
type Notification struct {
	Type      string  `json:"type"`
	Title     string  `json:"title,omitempty"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp,omitempty"`
}
