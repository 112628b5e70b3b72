package checkin

import (
	"github.com/pkg/errors"

	"github.com/trezcool/checkin/core/attendance"
	"github.com/trezcool/checkin/core/capture"
	"github.com/trezcool/checkin/core/detection"
)

// State is the acquisition state of the camera session.
type State int

const (
	Idle State = iota
	Requesting
	Active
	Closed
)

var stateNames = [...]string{"idle", "requesting", "active", "closed"}

func (s State) String() string {
	if s < Idle || s > Closed {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return errors.Errorf("invalid session state %q", text)
}

// Snapshot is a copy of everything the kiosk shows.
type Snapshot struct {
	ID               string                  `json:"id,omitempty"`
	State            State                   `json:"state"`
	Loading          bool                    `json:"loading"`
	Submitting       bool                    `json:"submitting"`
	FaceDetected     bool                    `json:"faceDetected"`
	StableFrameCount int                     `json:"stableFrameCount"`
	StableFrames     int                     `json:"stableFrames"`
	Boxes            []detection.BoundingBox `json:"boxes"`
	Artifact         *capture.Artifact       `json:"artifact,omitempty"`
	Identity         attendance.Identity     `json:"identity"`
	Outcome          *attendance.Outcome     `json:"outcome,omitempty"`
	Error            string                  `json:"error,omitempty"`
	ErrorCategory    string                  `json:"errorCategory,omitempty"`
}

// HasArtifact reports whether a captured photo awaits submission.
func (s Snapshot) HasArtifact() bool {
	return s.Artifact != nil
}
