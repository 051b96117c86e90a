// Package connectivity defines network reachability states and transitions.
package connectivity

import "time"

// State is the device's network reachability.
type State int

const (
	Online State = iota
	Offline
)

// String returns the event name used for the state.
func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// FromReachable maps a probe outcome to a state.
func FromReachable(reachable bool) State {
	if reachable {
		return Online
	}
	return Offline
}

// Event identifies a transition kind subscribers register for.
type Event string

const (
	EventOnline  Event = "online"
	EventOffline Event = "offline"
)

// EventFor returns the event emitted when entering s.
func EventFor(s State) Event {
	if s == Online {
		return EventOnline
	}
	return EventOffline
}

// Transition is the payload delivered to subscribers on a state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Event returns the event name of the transition.
func (t Transition) Event() Event {
	return EventFor(t.To)
}
