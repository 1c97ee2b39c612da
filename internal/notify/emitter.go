package notify

import "fmt"

// Emitter wraps a Dispatcher with the domain's notification shapes.
type Emitter struct {
	d *Dispatcher
}

// NewEmitter creates a notification emitter.
func NewEmitter(d *Dispatcher) *Emitter {
	return &Emitter{d: d}
}

// RequestInvite tells an agent a cash request was dispatched to them.
func (e *Emitter) RequestInvite(deviceToken, customerName, amountText, requestID string) {
	e.d.Send(Notification{
		DeviceToken: deviceToken,
		Title:       "New cash request",
		Body:        fmt.Sprintf("%s needs %s in cash near you", customerName, amountText),
		Data: map[string]any{
			"type":       "request.invite",
			"request_id": requestID,
		},
	})
}

// RequestAccepted tells a customer their request was accepted.
func (e *Emitter) RequestAccepted(deviceToken, agentName, requestID string) {
	e.d.Send(Notification{
		DeviceToken: deviceToken,
		Title:       "Request accepted",
		Body:        fmt.Sprintf("%s accepted your cash request", agentName),
		Data: map[string]any{
			"type":       "request.accepted",
			"request_id": requestID,
		},
	})
}

// RequestDeclined tells a customer their request was declined.
func (e *Emitter) RequestDeclined(deviceToken, requestID string) {
	e.d.Send(Notification{
		DeviceToken: deviceToken,
		Title:       "Request declined",
		Body:        "The agent declined your cash request. Try another agent.",
		Data: map[string]any{
			"type":       "request.declined",
			"request_id": requestID,
		},
	})
}

// TransactionCompleted tells both parties the exchange settled.
func (e *Emitter) TransactionCompleted(deviceToken, requestID string) {
	e.d.Send(Notification{
		DeviceToken: deviceToken,
		Title:       "Exchange complete",
		Body:        "Cash handed over and escrow released.",
		Data: map[string]any{
			"type":       "transaction.completed",
			"request_id": requestID,
		},
	})
}

// TransactionCancelled tells a party the exchange was called off.
func (e *Emitter) TransactionCancelled(deviceToken, requestID, reason string) {
	body := "The exchange was cancelled."
	if reason != "" {
		body = fmt.Sprintf("The exchange was cancelled: %s", reason)
	}
	e.d.Send(Notification{
		DeviceToken: deviceToken,
		Title:       "Exchange cancelled",
		Body:        body,
		Data: map[string]any{
			"type":       "transaction.cancelled",
			"request_id": requestID,
		},
	})
}
