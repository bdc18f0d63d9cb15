package wrapper

import (
	"fmt"
	"strings"
)

// Stage is one of the three detection phases.
type Stage int

const (
	StagePose Stage = iota
	StageFace
	StageHands
)

func (s Stage) String() string {
	switch s {
	case StagePose:
		return "pose"
	case StageFace:
		return "face"
	case StageHands:
		return "hands"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// ParseStage parses "pose", "face" or "hands".
func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pose":
		return StagePose, nil
	case "face":
		return StageFace, nil
	case "hands", "hand":
		return StageHands, nil
	}
	return 0, fmt.Errorf("unknown stage %q", s)
}

// State is the detection progress of the current frame.
type State int

const (
	// Idle means no pose result exists for the current frame.
	Idle State = iota
	PoseDone
	FaceDone
	HandsDone
	// FaceAndHandsDone means both optional stages ran after pose.
	FaceAndHandsDone
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PoseDone:
		return "pose_done"
	case FaceDone:
		return "face_done"
	case HandsDone:
		return "hands_done"
	case FaceAndHandsDone:
		return "face_and_hands_done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := Idle; st <= FaceAndHandsDone; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// machine tracks which stages completed for the current frame.
type machine struct {
	done [3]bool
}

// begin starts a new frame with no completed stage.
func (m *machine) begin() {
	m.done = [3]bool{}
}

// require checks that s may run now.
func (m *machine) require(s Stage) error {
	if s != StagePose && !m.done[StagePose] {
		return fmt.Errorf("%s detection: %w", s, ErrPrecedingStageMissing)
	}
	return nil
}

func (m *machine) complete(s Stage) {
	m.done[s] = true
}

func (m *machine) has(s Stage) bool {
	return m.done[s]
}

func (m *machine) state() State {
	switch {
	case !m.done[StagePose]:
		return Idle
	case m.done[StageFace] && m.done[StageHands]:
		return FaceAndHandsDone
	case m.done[StageFace]:
		return FaceDone
	case m.done[StageHands]:
		return HandsDone
	}
	return PoseDone
}
