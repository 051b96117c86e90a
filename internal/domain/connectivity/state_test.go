package connectivity

import "testing"

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Online, "online"},
		{Offline, "offline"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestFromReachable(t *testing.T) {
	if FromReachable(true) != Online {
		t.Error("reachable should map to Online")
	}
	if FromReachable(false) != Offline {
		t.Error("unreachable should map to Offline")
	}
}

func TestTransition_Event(t *testing.T) {
	if (Transition{From: Offline, To: Online}).Event() != EventOnline {
		t.Error("transition to Online should emit online")
	}
	if (Transition{From: Online, To: Offline}).Event() != EventOffline {
		t.Error("transition to Offline should emit offline")
	}
}
