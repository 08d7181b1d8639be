package domain

import "testing"

func TestOptOutButtonID_RoundTrip(t *testing.T) {
	id := OptOutButtonID(42, 1007)
	if id != "optout:42:1007" {
		t.Fatalf("expected optout:42:1007, got %q", id)
	}

	campaignID, recipientID, err := ParseOptOutButtonID(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if campaignID != 42 || recipientID != 1007 {
		t.Errorf("expected (42, 1007), got (%d, %d)", campaignID, recipientID)
	}
}

func TestParseOptOutButtonID_RejectsForeignControls(t *testing.T) {
	cases := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"other control", "confirm:42:7"},
		{"missing recipient", "optout:42"},
		{"extra segment", "optout:42:7:9"},
		{"non-numeric campaign", "optout:abc:7"},
		{"non-numeric recipient", "optout:42:xyz"},
		{"prefix only", "optout"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ParseOptOutButtonID(tc.id); err == nil {
				t.Errorf("expected error for %q", tc.id)
			}
		})
	}
}

func TestHasOptOutButton(t *testing.T) {
	p := &ButtonsPayload{
		Buttons: []Button{
			{ID: "more_info", Label: "More info"},
		},
	}
	if p.HasOptOutButton() {
		t.Error("payload without opt-out control reported as having one")
	}

	p.Buttons = append(p.Buttons, Button{ID: OptOutButtonID(1, 2), Label: OptOutLabel})
	if !p.HasOptOutButton() {
		t.Error("payload with opt-out control not detected")
	}
}

func TestHasContent(t *testing.T) {
	empty := &Campaign{}
	if empty.HasContent() {
		t.Error("empty campaign reported as having content")
	}

	text := &Campaign{MessageText: "hello"}
	if !text.HasContent() {
		t.Error("text campaign reported as empty")
	}

	media := &Campaign{Media: &MediaAttachment{Type: "image", URL: "https://cdn.example.com/a.png"}}
	if !media.HasContent() {
		t.Error("media campaign reported as empty")
	}

	buttons := &Campaign{Buttons: ButtonList{{ID: "b1", Label: "Yes"}}}
	if !buttons.HasContent() {
		t.Error("buttons campaign reported as empty")
	}
}
