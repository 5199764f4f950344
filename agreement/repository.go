package agreement

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the read surface shared by pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Document is a rendered final agreement stored as a write-once blob.
type Document struct {
	ID          string
	AgreementID string
	FileName    string
	ContentType string
	SHA256      string
	Body        []byte
	CreatedAt   time.Time
}

// ApplySignatureParams carries one signature transition. Prev guards the
// update so two near-simultaneous signs cannot both win the same transition.
type ApplySignatureParams struct {
	AgreementID string
	Role        Role
	ArtifactID  string
	Prev        Status
	Next        Status
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const recordColumns = `
a.id, a.booking_id, a.status,
a.tenant_artifact_id, a.tenant_signed_at,
a.landlord_artifact_id, a.landlord_signed_at,
a.created_at, a.updated_at,
d.id, d.file_name, d.created_at
`

// GetByBooking loads the agreement row for a booking without locking it.
func (r *Repository) GetByBooking(ctx context.Context, q Querier, bookingID string) (Record, error) {
	query := `SELECT ` + recordColumns + `
FROM agreements a
LEFT JOIN documents d ON d.id = a.document_id
WHERE a.booking_id = $1`

	rec, err := scanRecord(q.QueryRow(ctx, query, bookingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("agreement: fetch by booking: %w", err)
	}
	return rec, nil
}

// GetForUpdate loads the agreement row for a booking and locks it for the
// duration of the transaction, serializing concurrent signs per booking.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (Record, error) {
	query := `SELECT ` + recordColumns + `
FROM agreements a
LEFT JOIN documents d ON d.id = a.document_id
WHERE a.booking_id = $1
FOR UPDATE OF a`

	rec, err := scanRecord(tx.QueryRow(ctx, query, bookingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("agreement: fetch for update: %w", err)
	}
	return rec, nil
}

// Create inserts the agreement row for a booking in its initial pending
// state. The unique constraint on booking_id turns a concurrent create into
// ErrConflict so exactly one caller proceeds.
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, bookingID string, status Status) (Record, error) {
	const insertSQL = `
INSERT INTO agreements (booking_id, status)
VALUES ($1, $2::agreement_status)
RETURNING id, created_at, updated_at
`

	rec := Record{BookingID: bookingID, Status: status}
	if err := tx.QueryRow(ctx, insertSQL, bookingID, status).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrConflict
		}
		return Record{}, fmt.Errorf("agreement: insert: %w", err)
	}
	return rec, nil
}

// PutArtifact stores an immutable signature image and returns it with its
// generated id.
func (r *Repository) PutArtifact(ctx context.Context, tx pgx.Tx, a Artifact) (Artifact, error) {
	const insertSQL = `
INSERT INTO signature_artifacts (booking_id, role, content_type, sha256, body)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at
`

	if err := tx.QueryRow(ctx, insertSQL, a.BookingID, string(a.Role), a.ContentType, a.SHA256, a.Body).
		Scan(&a.ID, &a.CreatedAt); err != nil {
		return Artifact{}, fmt.Errorf("agreement: insert artifact: %w", err)
	}
	return a, nil
}

// GetArtifact fetches a stored signature image by id.
func (r *Repository) GetArtifact(ctx context.Context, q Querier, id string) (Artifact, error) {
	const query = `
SELECT id, booking_id, role, content_type, sha256, body, created_at
FROM signature_artifacts
WHERE id = $1
`

	var a Artifact
	var role string
	err := q.QueryRow(ctx, query, id).Scan(&a.ID, &a.BookingID, &role, &a.ContentType, &a.SHA256, &a.Body, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Artifact{}, fmt.Errorf("agreement: artifact %s not found", id)
		}
		return Artifact{}, fmt.Errorf("agreement: fetch artifact: %w", err)
	}
	a.Role = Role(role)
	return a, nil
}

// ApplySignature records one signature and advances the status. The WHERE
// clause on the previous status is the compare-and-swap: zero rows means a
// concurrent transition won and the caller gets ErrConflict.
func (r *Repository) ApplySignature(ctx context.Context, tx pgx.Tx, params ApplySignatureParams) (Record, error) {
	artifactCol, signedCol := "tenant_artifact_id", "tenant_signed_at"
	if params.Role == RoleLandlord {
		artifactCol, signedCol = "landlord_artifact_id", "landlord_signed_at"
	}

	updateSQL := fmt.Sprintf(`
UPDATE agreements
SET status = $1::agreement_status,
    %s = $2,
    %s = get_tx_timestamp(),
    updated_at = get_tx_timestamp()
WHERE id = $3 AND status = $4::agreement_status
RETURNING booking_id, created_at, updated_at
`, artifactCol, signedCol)

	rec := Record{ID: params.AgreementID, Status: params.Next}
	if err := tx.QueryRow(ctx, updateSQL, params.Next, params.ArtifactID, params.AgreementID, params.Prev).
		Scan(&rec.BookingID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrConflict
		}
		return Record{}, fmt.Errorf("agreement: apply signature: %w", err)
	}

	ref := &SignatureRef{ArtifactID: params.ArtifactID, SignedAt: rec.UpdatedAt}
	if params.Role == RoleTenant {
		rec.TenantSignature = ref
	} else {
		rec.LandlordSignature = ref
	}
	return rec, nil
}

// AttachDocument stores the rendered document blob and links it to the
// agreement. The document_id IS NULL guard keeps the attach write-once.
func (r *Repository) AttachDocument(ctx context.Context, tx pgx.Tx, agreementID string, doc Document) (DocumentRef, error) {
	const insertSQL = `
INSERT INTO documents (agreement_id, file_name, content_type, sha256, body)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at
`

	var ref DocumentRef
	if err := tx.QueryRow(ctx, insertSQL, agreementID, doc.FileName, doc.ContentType, doc.SHA256, doc.Body).
		Scan(&ref.ID, &ref.CreatedAt); err != nil {
		return DocumentRef{}, fmt.Errorf("agreement: insert document: %w", err)
	}
	ref.FileName = doc.FileName
	ref.URL = DocumentURL(ref.ID)

	const linkSQL = `
UPDATE agreements
SET document_id = $1,
    updated_at = get_tx_timestamp()
WHERE id = $2 AND status = 'COMPLETED' AND document_id IS NULL
`
	tag, err := tx.Exec(ctx, linkSQL, ref.ID, agreementID)
	if err != nil {
		return DocumentRef{}, fmt.Errorf("agreement: link document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return DocumentRef{}, ErrConflict
	}
	return ref, nil
}

// GetDocumentFile fetches a rendered document blob by id.
func (r *Repository) GetDocumentFile(ctx context.Context, q Querier, id string) (Document, error) {
	const query = `
SELECT id, agreement_id, file_name, content_type, sha256, body, created_at
FROM documents
WHERE id = $1
`

	var doc Document
	err := q.QueryRow(ctx, query, id).Scan(&doc.ID, &doc.AgreementID, &doc.FileName, &doc.ContentType, &doc.SHA256, &doc.Body, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrDocumentNotReady
		}
		return Document{}, fmt.Errorf("agreement: fetch document: %w", err)
	}
	return doc, nil
}

// AppendEvent writes an immutable timeline row inside the caller's
// transaction.
func (r *Repository) AppendEvent(ctx context.Context, tx pgx.Tx, agreementID, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("agreement: marshal timeline payload: %w", err)
	}

	var actor any
	if actorID != "" {
		actor = actorID
	}

	const insertSQL = `
INSERT INTO timeline_events (agreement_id, type, payload, actor_id)
VALUES ($1, $2, $3::jsonb, $4::uuid)
`
	if _, err := tx.Exec(ctx, insertSQL, agreementID, eventType, body, actor); err != nil {
		return fmt.Errorf("agreement: insert timeline event: %w", err)
	}
	return nil
}

// EnqueueOutbox records a pending notification for the relay to deliver.
func (r *Repository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("agreement: marshal outbox payload: %w", err)
	}

	const insertSQL = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, insertSQL, topic, body); err != nil {
		return fmt.Errorf("agreement: enqueue outbox: %w", err)
	}
	return nil
}

// DocumentURL builds the stable caller-facing reference for a stored
// document.
func DocumentURL(id string) string {
	return "/v1/documents/" + id
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec              Record
		status           string
		tenantArtifact   sql.NullString
		tenantSignedAt   sql.NullTime
		landlordArtifact sql.NullString
		landlordSignedAt sql.NullTime
		docID            sql.NullString
		docFileName      sql.NullString
		docCreatedAt     sql.NullTime
	)

	err := row.Scan(
		&rec.ID, &rec.BookingID, &status,
		&tenantArtifact, &tenantSignedAt,
		&landlordArtifact, &landlordSignedAt,
		&rec.CreatedAt, &rec.UpdatedAt,
		&docID, &docFileName, &docCreatedAt,
	)
	if err != nil {
		return Record{}, err
	}

	rec.Status = Status(status)
	if tenantArtifact.Valid {
		rec.TenantSignature = &SignatureRef{ArtifactID: tenantArtifact.String, SignedAt: tenantSignedAt.Time}
	}
	if landlordArtifact.Valid {
		rec.LandlordSignature = &SignatureRef{ArtifactID: landlordArtifact.String, SignedAt: landlordSignedAt.Time}
	}
	if docID.Valid {
		rec.Document = &DocumentRef{
			ID:        docID.String,
			URL:       DocumentURL(docID.String),
			FileName:  docFileName.String,
			CreatedAt: docCreatedAt.Time,
		}
	}
	return rec, nil
}
