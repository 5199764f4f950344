package agreement

import "time"

// Status enumerates the lifecycle of a rental agreement. The two pending
// states name the role whose signature is still outstanding.
type Status string

const (
	StatusNotInitialized  Status = "NOT_INITIALIZED"
	StatusPendingTenant   Status = "PENDING_TENANT"
	StatusPendingLandlord Status = "PENDING_LANDLORD"
	StatusCompleted       Status = "COMPLETED"
	StatusError           Status = "ERROR"
)

// Role identifies one of the two signing parties.
type Role string

const (
	RoleTenant   Role = "tenant"
	RoleLandlord Role = "landlord"
)

// Other returns the counterpart role.
func (r Role) Other() Role {
	if r == RoleTenant {
		return RoleLandlord
	}
	return RoleTenant
}

func isValidRole(r Role) bool {
	return r == RoleTenant || r == RoleLandlord
}

// SignatureRef points at a stored signature artifact.
type SignatureRef struct {
	ArtifactID string
	SignedAt   time.Time
}

// DocumentRef points at the rendered final agreement.
type DocumentRef struct {
	ID        string
	URL       string
	FileName  string
	CreatedAt time.Time
}

// Record mirrors the agreements table columns touched by the service.
// Domain types carry no JSON annotations so they can be reused by different
// presentation layers.
type Record struct {
	ID                string
	BookingID         string
	Status            Status
	TenantSignature   *SignatureRef
	LandlordSignature *SignatureRef
	Document          *DocumentRef
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Signed reports whether the given role has already signed.
func (rec Record) Signed(role Role) bool {
	if role == RoleTenant {
		return rec.TenantSignature != nil
	}
	return rec.LandlordSignature != nil
}

// View is the caller-facing projection of an agreement. A zero AgreementID
// with StatusNotInitialized means no record exists yet.
type View struct {
	AgreementID     string
	BookingID       string
	Status          Status
	TenantSigned    bool
	LandlordSigned  bool
	DocumentPending bool
	Document        *DocumentRef
	UpdatedAt       time.Time
}

// ViewStatus is the status string surfaced to callers. A completed agreement
// whose document has not been rendered yet reports a distinguishable
// sub-state so clients can retry document retrieval without re-signing.
func (v View) ViewStatus() string {
	if v.Status == StatusCompleted && v.DocumentPending {
		return "COMPLETED_DOCUMENT_PENDING"
	}
	return string(v.Status)
}

func viewOf(rec Record) View {
	return View{
		AgreementID:     rec.ID,
		BookingID:       rec.BookingID,
		Status:          rec.Status,
		TenantSigned:    rec.TenantSignature != nil,
		LandlordSigned:  rec.LandlordSignature != nil,
		DocumentPending: rec.Status == StatusCompleted && rec.Document == nil,
		Document:        rec.Document,
		UpdatedAt:       rec.UpdatedAt,
	}
}

// Artifact is an immutable stored signature image. Artifacts are write-once
// and never mutated after creation.
type Artifact struct {
	ID          string
	BookingID   string
	Role        Role
	ContentType string
	SHA256      string
	Body        []byte
	CreatedAt   time.Time
}

// Timeline event types appended by the service. Events are immutable audit
// records and survive booking cancellation.
const (
	EventAgreementCreated = "AGREEMENT_CREATED"
	EventSignatureApplied = "SIGNATURE_APPLIED"
	EventCompleted        = "AGREEMENT_COMPLETED"
	EventDocumentAttached = "DOCUMENT_ATTACHED"
)

// Outbox topics published on agreement progress.
const (
	TopicAgreementSigned    = "agreement.signed"
	TopicAgreementCompleted = "agreement.completed"
)
