package exchange

import (
	"encoding/json"
	"testing"
)

func TestDecodeInboundLocation(t *testing.T) {
	raw := []byte(`{"event":"user.location.updated","context":"AGENT","body":{"latitude":6.5,"longitude":3.3}}`)
	in := DecodeInbound(raw)
	if in.Kind != KindLocation {
		t.Fatalf("expected KindLocation, got %d", in.Kind)
	}
	if in.Sender != PartyAgent {
		t.Errorf("sender: got %s", in.Sender)
	}
	if in.Location.Latitude != 6.5 || in.Location.Longitude != 3.3 {
		t.Errorf("location: got %+v", in.Location)
	}
}

func TestDecodeInboundIdentity(t *testing.T) {
	cases := []struct {
		event   string
		kind    InboundKind
		subject Party
	}{
		{"user.identity.customer:confirmed", KindIdentityConfirmed, PartyCustomer},
		{"user.identity.agent:confirmed", KindIdentityConfirmed, PartyAgent},
		{"user.identity.customer:denied", KindIdentityDenied, PartyCustomer},
		{"user.identity.agent:denied", KindIdentityDenied, PartyAgent},
	}
	for _, tc := range cases {
		raw, _ := json.Marshal(Envelope{Event: tc.event, Context: PartyAgent})
		in := DecodeInbound(raw)
		if in.Kind != tc.kind {
			t.Errorf("%s: kind %d, want %d", tc.event, in.Kind, tc.kind)
		}
		if in.Subject != tc.subject {
			t.Errorf("%s: subject %s, want %s", tc.event, in.Subject, tc.subject)
		}
	}
}

func TestDecodeInboundPassthrough(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"unknown event", `{"event":"user.chat.message","context":"CUSTOMER","body":{"text":"hi"}}`},
		{"identity without decision", `{"event":"user.identity.customer","context":"AGENT"}`},
		{"identity unknown role", `{"event":"user.identity.driver:confirmed","context":"AGENT"}`},
		{"identity unknown decision", `{"event":"user.identity.agent:maybe","context":"AGENT"}`},
		{"location with bad body", `{"event":"user.location.updated","context":"AGENT","body":"oops"}`},
	}
	for _, tc := range cases {
		in := DecodeInbound([]byte(tc.raw))
		if in.Kind != KindPassthrough {
			t.Errorf("%s: expected passthrough, got kind %d", tc.name, in.Kind)
		}
		if in.Passthrough.Event == "" {
			t.Errorf("%s: passthrough lost the envelope", tc.name)
		}
	}
}

func TestDecodeInboundUnparseable(t *testing.T) {
	in := DecodeInbound([]byte(`not json at all`))
	if in.Kind != KindPassthrough {
		t.Fatalf("expected passthrough, got kind %d", in.Kind)
	}
	if in.Passthrough.Event != "unparseable" {
		t.Errorf("got event %q", in.Passthrough.Event)
	}
}

func TestIdentityEventName(t *testing.T) {
	if got := IdentityEvent(PartyCustomer, "confirmed"); got != "user.identity.customer:confirmed" {
		t.Errorf("got %q", got)
	}
	if got := IdentityEvent(PartyAgent, "denied"); got != "user.identity.agent:denied" {
		t.Errorf("got %q", got)
	}
}

func TestEnvelopeBodyOmitted(t *testing.T) {
	payload, err := json.Marshal(NewEnvelope(EventLocationBothReached, PartyAgent, nil))
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	json.Unmarshal(payload, &decoded)
	if decoded["event"] != EventLocationBothReached {
		t.Errorf("event: %v", decoded["event"])
	}
}
