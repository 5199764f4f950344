// Package notify delivers agreement progress events to downstream consumers.
// Events are written to the transactional outbox in the same transaction as
// the state change and relayed to the message broker asynchronously, so a
// broker outage never blocks or loses a signature.
package notify

// AgreementSignedEvent is published whenever one party signs.
type AgreementSignedEvent struct {
	AgreementID string `json:"agreement_id"`
	BookingID   string `json:"booking_id"`
	Role        string `json:"role"`
	Status      string `json:"status"`
}

// AgreementCompletedEvent is published when both parties have signed.
type AgreementCompletedEvent struct {
	AgreementID string `json:"agreement_id"`
	BookingID   string `json:"booking_id"`
}
