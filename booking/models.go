package booking

import "time"

// Party is the minimal identity snapshot of a tenant or landlord.
type Party struct {
	ID       string
	FullName string
	Email    string
	Phone    *string
}

// Property is the read-only property snapshot attached to a booking.
type Property struct {
	ID      string
	Title   string
	Address string
	City    string
	Country string
}

// Snapshot is a read-only view of a booking. Bookings are owned by an
// external system; this service never mutates them.
type Snapshot struct {
	ID           string
	PropertyID   string
	TenantID     string
	LandlordID   string
	StartDate    time.Time
	EndDate      time.Time
	RentAmount   string
	CurrencyCode string
	Status       string
	Tenant       Party
	Landlord     Party
	Property     Property
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
