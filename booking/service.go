package booking

import "context"

// Reader abstracts repository operations for the service.
type Reader interface {
	Get(ctx context.Context, id string) (Snapshot, error)
}

// Service exposes read-only booking lookups.
type Service struct {
	repo Reader
}

// NewService builds a Service using the provided repository.
func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

// Get returns the booking snapshot for the given identifier.
func (s *Service) Get(ctx context.Context, id string) (Snapshot, error) {
	return s.repo.Get(ctx, id)
}

// PartyRole names the side of the agreement a user is on for a booking.
// Empty string means the user is neither party.
func (s Snapshot) PartyRole(userID string) string {
	switch userID {
	case s.TenantID:
		return "tenant"
	case s.LandlordID:
		return "landlord"
	default:
		return ""
	}
}
