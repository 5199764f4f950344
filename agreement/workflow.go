package agreement

import "fmt"

// Policy configures which role signs first. Ordering is strict: the second
// signer may not jump the queue, and a role that already signed is rejected.
type Policy struct {
	FirstSigner Role
}

// DefaultPolicy matches the production ordering: the tenant signs before the
// landlord.
var DefaultPolicy = Policy{FirstSigner: RoleTenant}

// InitialStatus is the pending state a lazily created agreement starts in,
// i.e. waiting on the configured first signer.
func (p Policy) InitialStatus() Status {
	if p.FirstSigner == RoleLandlord {
		return StatusPendingLandlord
	}
	return StatusPendingTenant
}

// waitingOn maps a pending status to the role it waits for.
func waitingOn(s Status) (Role, bool) {
	switch s {
	case StatusPendingTenant:
		return RoleTenant, true
	case StatusPendingLandlord:
		return RoleLandlord, true
	default:
		return "", false
	}
}

// Next computes the status after role signs the given record. A zero Record
// with StatusNotInitialized stands in for a booking that has no agreement row
// yet. Returns ErrWrongTurn whenever the record is not waiting on role.
func (p Policy) Next(rec Record, role Role) (Status, error) {
	if !isValidRole(role) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	switch rec.Status {
	case StatusNotInitialized:
		if role != p.FirstSigner {
			return "", fmt.Errorf("%w: %s signs first", ErrWrongTurn, p.FirstSigner)
		}
		return pendingFor(role.Other()), nil
	case StatusPendingTenant, StatusPendingLandlord:
		if rec.Signed(role) {
			return "", fmt.Errorf("%w: %s already signed", ErrWrongTurn, role)
		}
		expected, _ := waitingOn(rec.Status)
		if role != expected {
			return "", fmt.Errorf("%w: waiting on %s", ErrWrongTurn, expected)
		}
		if rec.Signed(role.Other()) {
			return StatusCompleted, nil
		}
		// Fresh row created in the initial pending state: the first
		// signature hands the turn to the counterpart.
		return pendingFor(role.Other()), nil
	case StatusCompleted:
		return "", fmt.Errorf("%w: agreement already completed", ErrWrongTurn)
	case StatusError:
		return "", fmt.Errorf("%w: agreement is in a failed state", ErrWrongTurn)
	default:
		return "", fmt.Errorf("agreement: unknown status %q", rec.Status)
	}
}

func pendingFor(role Role) Status {
	if role == RoleLandlord {
		return StatusPendingLandlord
	}
	return StatusPendingTenant
}
