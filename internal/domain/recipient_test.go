package domain

import "testing"

func TestStatusRank_IsMonotonic(t *testing.T) {
	order := []RecipientStatus{
		RecipientPending,
		RecipientQueued,
		RecipientSent,
		RecipientDelivered,
		RecipientRead,
		RecipientReplied,
	}

	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s should rank above %s", order[i], order[i-1])
		}
	}

	for _, s := range order {
		if RecipientFailed.Rank() <= s.Rank() {
			t.Errorf("failed should rank above %s", s)
		}
		if RecipientOptedOut.Rank() <= s.Rank() {
			t.Errorf("opted_out should rank above %s", s)
		}
	}
}

func TestStatusRank_UnknownStatusRanksHighest(t *testing.T) {
	unknown := RecipientStatus("banana")
	if unknown.Rank() != RecipientFailed.Rank() {
		t.Errorf("unknown status should rank with terminal statuses, got %d", unknown.Rank())
	}
}

func TestTerminal(t *testing.T) {
	cases := []struct {
		status   RecipientStatus
		terminal bool
	}{
		{RecipientPending, false},
		{RecipientQueued, false},
		{RecipientSent, false},
		{RecipientDelivered, false},
		{RecipientRead, false},
		{RecipientReplied, false},
		{RecipientFailed, true},
		{RecipientOptedOut, true},
	}

	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Errorf("%s: Terminal() = %v, want %v", tc.status, got, tc.terminal)
		}
	}
}

func TestStatusesBelow(t *testing.T) {
	below := StatusesBelow(RecipientDelivered)
	want := []RecipientStatus{RecipientPending, RecipientQueued, RecipientSent}
	if len(below) != len(want) {
		t.Fatalf("expected %d statuses below delivered, got %d: %v", len(want), len(below), below)
	}
	for i := range want {
		if below[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], below[i])
		}
	}

	if got := StatusesBelow(RecipientPending); len(got) != 0 {
		t.Errorf("nothing should rank below pending, got %v", got)
	}
}

func TestDeliveryStatusEvent_AckMapping(t *testing.T) {
	cases := []struct {
		ack    int
		status RecipientStatus
		ok     bool
	}{
		{AckError, "", false},
		{AckPending, "", false},
		{AckServer, RecipientSent, true},
		{AckDevice, RecipientDelivered, true},
		{AckRead, RecipientRead, true},
		{AckPlayed, RecipientRead, true},
		{99, "", false},
	}

	for _, tc := range cases {
		e := DeliveryStatusEvent{MessageID: "m1", Ack: tc.ack}
		status, ok := e.Status()
		if ok != tc.ok || status != tc.status {
			t.Errorf("ack %d: got (%q, %v), want (%q, %v)", tc.ack, status, ok, tc.status, tc.ok)
		}
	}
}
