package session

import "testing"

func TestTransitions(t *testing.T) {
	all := []Status{Idle, Connecting, Capturing, Stopping}
	allowed := map[[2]Status]bool{
		{Idle, Connecting}:      true,
		{Connecting, Capturing}: true,
		{Connecting, Stopping}:  true,
		{Connecting, Idle}:      true,
		{Capturing, Stopping}:   true,
		{Capturing, Idle}:       true,
		{Stopping, Idle}:        true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s → %s allowed = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestStatusString(t *testing.T) {
	for i, name := range StatusNames {
		if got := Status(i).String(); got != name {
			t.Errorf("Status(%d) = %q, want %q", i, got, name)
		}
	}
	if Status(9).String() != "unknown" {
		t.Error("out of range status should be unknown")
	}
}
