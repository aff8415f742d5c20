// Package voice implements the live voice session: a controller state
// machine wiring microphone capture and model audio playback to a remote
// streaming session, with transcript aggregation and response latency.
package voice

// State is the lifecycle state of a voice session.
type State int

const (
	StateIdle State = iota
	StateIntro
	StateListening
	StateResponding
	StateError
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateIntro:      "intro",
	StateListening:  "listening",
	StateResponding: "responding",
	StateError:      "error",
}

var stateLabels = [...]string{
	StateIdle:       "Tap to talk",
	StateIntro:      "Connecting...",
	StateListening:  "Listening...",
	StateResponding: "Speaking...",
	StateError:      "Error - click to restart",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Label returns the user-facing status text.
func (s State) Label() string {
	if s < 0 || int(s) >= len(stateLabels) {
		return ""
	}
	return stateLabels[s]
}

// CanStart reports whether a toggle from s starts a new session.
func (s State) CanStart() bool {
	return s == StateIdle || s == StateError
}

// Capturing reports whether the microphone is streaming in s.
func (s State) Capturing() bool {
	return s == StateListening || s == StateResponding
}
