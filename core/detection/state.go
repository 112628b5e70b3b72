package detection

const DefaultStableFrames = 45

// State is the per-session detection state.
// StableFrameCount is the number of consecutive frames with at least one face.
type State struct {
	FaceDetected     bool          `json:"faceDetected"`
	StableFrameCount int           `json:"stableFrameCount"`
	Boxes            []BoundingBox `json:"boxes"`
}

// Observe folds one frame's detections into the state.
func (s *State) Observe(boxes []BoundingBox) {
	if len(boxes) == 0 {
		s.FaceDetected = false
		s.StableFrameCount = 0
		s.Boxes = nil
		return
	}
	s.FaceDetected = true
	s.StableFrameCount++
	s.Boxes = append(s.Boxes[:0:0], boxes...)
}

func (s *State) Reset() {
	*s = State{}
}

// Copy returns a snapshot that shares no memory with s.
func (s State) Copy() State {
	if s.Boxes != nil {
		s.Boxes = append([]BoundingBox(nil), s.Boxes...)
	}
	return s
}
