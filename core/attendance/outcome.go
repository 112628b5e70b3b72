package attendance

import (
	"time"

	"github.com/pkg/errors"
)

const (
	MsgMissingInformation = "Missing Information"
	MsgAlreadyMarked      = "Already marked today"
	MsgMarkFailed         = "Failed to mark attendance"
	MsgInProgress         = "submission in progress"
)

type Kind int

const (
	Success Kind = iota + 1
	AlreadyMarked
	Failure
	Invalid
)

var kindNames = map[Kind]string{
	Success:       "success",
	AlreadyMarked: "already_marked",
	Failure:       "failure",
	Invalid:       "invalid",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return errors.Errorf("unknown outcome kind %q", text)
}

// Outcome is the user-facing result of a submission.
type Outcome struct {
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Message   string    `json:"message,omitempty"`
}

func (o Outcome) OK() bool {
	return o.Kind == Success
}

// Retained reports whether the captured artifact must be kept for a retry.
func (o Outcome) Retained() bool {
	return o.Kind == AlreadyMarked || o.Kind == Failure
}

func succeeded(name string, ts time.Time) Outcome {
	return Outcome{Kind: Success, Name: name, Timestamp: ts, Message: "Welcome, " + name + ". Your attendance has been recorded."}
}

func alreadyMarked(msg string) Outcome {
	return Outcome{Kind: AlreadyMarked, Message: msg}
}

func failed(msg string) Outcome {
	if msg == "" {
		msg = MsgMarkFailed
	}
	return Outcome{Kind: Failure, Message: msg}
}

func invalid() Outcome {
	return Outcome{Kind: Invalid, Message: MsgMissingInformation}
}
