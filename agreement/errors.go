package agreement

import "errors"

var (
	// ErrWrongTurn is returned when the acting role is not the one the
	// current status is waiting on. Permanent for the current state; callers
	// should re-fetch the view instead of retrying.
	ErrWrongTurn = errors.New("agreement: not this role's turn to sign")
	// ErrConflict is returned when a concurrent sign won the transition race.
	// Transient; callers retry the whole sign call.
	ErrConflict = errors.New("agreement: concurrent update conflict")
	// ErrStorageUnavailable wraps storage-layer outages. Transient; retry
	// with backoff.
	ErrStorageUnavailable = errors.New("agreement: storage unavailable")
	// ErrDocumentNotReady is returned by Document before the agreement is
	// completed and its document rendered.
	ErrDocumentNotReady = errors.New("agreement: document not ready")
	// ErrDocumentGenerationFailed is returned when rendering the final
	// document fails. Signing state is unaffected; retry via Document.
	ErrDocumentGenerationFailed = errors.New("agreement: document generation failed")
	// ErrNotFound is returned when no agreement row exists for the booking.
	ErrNotFound = errors.New("agreement: not found")
	// ErrInvalidRole rejects roles outside tenant/landlord.
	ErrInvalidRole = errors.New("agreement: invalid role")
)
