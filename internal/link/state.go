package link

import (
	"fmt"
	"strings"
)

// State is the coarse connection state of the serial link.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Degraded
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "disconnected":
		*s = Disconnected
	case "connecting":
		*s = Connecting
	case "connected":
		*s = Connected
	case "degraded":
		*s = Degraded
	default:
		return fmt.Errorf("unknown link state %q", text)
	}
	return nil
}

// LinkState is a State plus the reason for the last degradation.
// Reason is only set in the Degraded state.
type LinkState struct {
	State  State  `json:"state"`
	Port   string `json:"port,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (ls LinkState) String() string {
	switch {
	case ls.Reason != "":
		return fmt.Sprintf("%s(%s)", ls.State, ls.Reason)
	case ls.Port != "":
		return fmt.Sprintf("%s %s", ls.State, ls.Port)
	default:
		return ls.State.String()
	}
}
