package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no booking row exists for the identifier.
var ErrNotFound = errors.New("booking: not found")

// Repository reads booking snapshots from the shared database.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads a booking together with its property and party snapshots.
func (r *Repository) Get(ctx context.Context, id string) (Snapshot, error) {
	const query = `
SELECT b.id, b.property_id, b.tenant_id, b.landlord_id,
       b.start_date, b.end_date, b.rent_amount::text, b.currency_code, b.status,
       b.created_at, b.updated_at,
       t.full_name, t.email, t.phone,
       l.full_name, l.email, l.phone,
       p.title, p.address, p.city, p.country
FROM bookings b
JOIN users t ON t.id = b.tenant_id
JOIN users l ON l.id = b.landlord_id
JOIN properties p ON p.id = b.property_id
WHERE b.id = $1
`

	var s Snapshot
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.PropertyID, &s.TenantID, &s.LandlordID,
		&s.StartDate, &s.EndDate, &s.RentAmount, &s.CurrencyCode, &s.Status,
		&s.CreatedAt, &s.UpdatedAt,
		&s.Tenant.FullName, &s.Tenant.Email, &s.Tenant.Phone,
		&s.Landlord.FullName, &s.Landlord.Email, &s.Landlord.Phone,
		&s.Property.Title, &s.Property.Address, &s.Property.City, &s.Property.Country,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("booking: fetch: %w", err)
	}

	s.Tenant.ID = s.TenantID
	s.Landlord.ID = s.LandlordID
	s.Property.ID = s.PropertyID
	return s, nil
}
