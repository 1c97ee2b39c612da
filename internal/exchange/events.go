package exchange

import (
	"encoding/json"
	"strings"
)

// Wire event names. Inbound names arrive from clients; outbound names
// are emitted by the state machine and the payments coordinator.
const (
	EventLocationUpdated     = "user.location.updated"
	EventLocationReached     = "user.location.reached"
	EventLocationBothReached = "user.location.both_reached"

	EventIdentityBothConfirmed = "user.identity.both_confirmed"

	EventRequestAccepted = "user.request.accepted"
	EventRequestDeclined = "user.request.declined"

	EventPaymentReceived      = "user.payment.received"
	EventTransactionCancelled = "user.transaction.cancelled"
	EventTransactionCompleted = "user.transaction.completed"
	EventTransactionReversed  = "user.transaction.reversed"

	eventIdentityPrefix = "user.identity."
)

// Envelope is the wire format for every realtime message.
type Envelope struct {
	Event   string          `json:"event"`
	Context Party           `json:"context"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// NewEnvelope builds an outbound envelope, marshalling the body.
func NewEnvelope(event string, from Party, body any) Envelope {
	raw, _ := json.Marshal(body)
	return Envelope{Event: event, Context: from, Body: raw}
}

// IdentityEvent renders "user.identity.customer:confirmed" style names.
func IdentityEvent(role Party, decision string) string {
	return eventIdentityPrefix + strings.ToLower(string(role)) + ":" + decision
}

// LocationBody is the payload of a location update.
type LocationBody struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ETABody is the payload of an outbound location/accept event.
type ETABody struct {
	Distance string `json:"distance,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Inbound is the decoded form of a client message. Exactly one of the
// variant fields is meaningful, selected by Kind; anything the protocol
// does not recognize becomes a Passthrough carrying the raw envelope.
type Inbound struct {
	Kind        InboundKind
	Sender      Party
	Location    LocationBody // KindLocation
	Subject     Party        // KindIdentityConfirmed / KindIdentityDenied
	Passthrough Envelope     // KindPassthrough
}

// InboundKind tags the closed set of client events.
type InboundKind int

const (
	KindLocation InboundKind = iota
	KindIdentityConfirmed
	KindIdentityDenied
	KindPassthrough
)

// DecodeInbound classifies a raw client message. Unknown event names
// and undecodable bodies fall through to passthrough rather than error:
// the channel forwards what it does not understand.
func DecodeInbound(raw []byte) Inbound {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{Kind: KindPassthrough, Passthrough: Envelope{Event: "unparseable", Body: raw}}
	}

	in := Inbound{Sender: env.Context, Passthrough: env}

	switch {
	case env.Event == EventLocationUpdated:
		var body LocationBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			in.Kind = KindPassthrough
			return in
		}
		in.Kind = KindLocation
		in.Location = body
		return in

	case strings.HasPrefix(env.Event, eventIdentityPrefix):
		rest := strings.TrimPrefix(env.Event, eventIdentityPrefix)
		role, decision, ok := strings.Cut(rest, ":")
		if !ok {
			in.Kind = KindPassthrough
			return in
		}
		subject := Party(strings.ToUpper(role))
		if subject != PartyAgent && subject != PartyCustomer {
			in.Kind = KindPassthrough
			return in
		}
		switch decision {
		case "confirmed":
			in.Kind = KindIdentityConfirmed
		case "denied":
			in.Kind = KindIdentityDenied
		default:
			in.Kind = KindPassthrough
			return in
		}
		in.Subject = subject
		return in

	default:
		in.Kind = KindPassthrough
		return in
	}
}
