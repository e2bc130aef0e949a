package domain

import "testing"

func TestSessionState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to SessionState
		want     bool
	}{
		{SessionForming, SessionActive, true},
		{SessionForming, SessionDraining, false},
		{SessionActive, SessionDraining, true},
		{SessionActive, SessionForming, false},
		{SessionDraining, SessionActive, true},
		{SessionDraining, SessionClosed, true},
		{SessionClosed, SessionActive, false},
		{SessionClosed, SessionClosed, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateSessionID(t *testing.T) {
	if err := ValidateSessionID("room-1"); err != nil {
		t.Errorf("ValidateSessionID() error = %v", err)
	}
	if err := ValidateSessionID(""); err == nil {
		t.Error("empty session id should be rejected")
	}
}

func TestPresenceRecord_IsStale(t *testing.T) {
	r := &PresenceRecord{UserID: "u"}
	now := r.LastSeenAt.Add(11e9)
	if !r.IsStale(now, 10e9) {
		t.Error("record older than threshold should be stale")
	}
	if r.IsStale(r.LastSeenAt.Add(10e9), 10e9) {
		t.Error("record exactly at threshold is still live")
	}
}
