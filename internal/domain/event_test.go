package domain

import "testing"

func TestPushEventKind(t *testing.T) {
	cases := map[string]EventKind{
		"CommunicationAdded":     KindCommunicationAdded,
		"AddCommunicationToCase": KindCommunicationAdded,
		"ResolveCase":            KindResolved,
		"ReopenCase":             KindReopened,
		"CreateCase":             KindCreated,
		"SomethingElse":          KindUnknown,
		"":                       KindUnknown,
	}
	for typ, want := range cases {
		ev := PushEvent{ID: "e1", Type: typ, CaseID: "c1"}
		if got := ev.Kind(); got != want {
			t.Errorf("Kind(%q) = %v; want %v", typ, got, want)
		}
	}
}

func TestEventKindString(t *testing.T) {
	cases := map[EventKind]string{
		KindCommunicationAdded: "CommunicationAdded",
		KindResolved:           "ResolveCase",
		KindReopened:           "ReopenCase",
		KindCreated:            "CreateCase",
		KindUnknown:            "Unknown",
		EventKind(99):          "Unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("String(%d) = %q; want %q", int(k), got, want)
		}
	}
}
