package agreement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"rentsign/booking"
	"rentsign/notify"
)

// DefaultGenerationTimeout bounds how long a sign call waits on the document
// renderer. Signatures are committed before rendering starts, so a timeout
// only leaves the document pending.
const DefaultGenerationTimeout = 15 * time.Second

// DB abstracts pgxpool.Pool for testability.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access required by the service.
type Store interface {
	GetByBooking(ctx context.Context, q Querier, bookingID string) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (Record, error)
	Create(ctx context.Context, tx pgx.Tx, bookingID string, status Status) (Record, error)
	PutArtifact(ctx context.Context, tx pgx.Tx, a Artifact) (Artifact, error)
	GetArtifact(ctx context.Context, q Querier, id string) (Artifact, error)
	ApplySignature(ctx context.Context, tx pgx.Tx, params ApplySignatureParams) (Record, error)
	AttachDocument(ctx context.Context, tx pgx.Tx, agreementID string, doc Document) (DocumentRef, error)
	GetDocumentFile(ctx context.Context, q Querier, id string) (Document, error)
	AppendEvent(ctx context.Context, tx pgx.Tx, agreementID, eventType, actorID string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload any) error
}

// BookingReader supplies read-only booking snapshots.
type BookingReader interface {
	Get(ctx context.Context, id string) (booking.Snapshot, error)
}

// GenerateInput carries everything the renderer needs for the final document.
type GenerateInput struct {
	AgreementID       string
	Booking           booking.Snapshot
	TenantSignature   []byte
	LandlordSignature []byte
}

// Generated is the renderer's output.
type Generated struct {
	FileName    string
	ContentType string
	Body        []byte
}

// Generator renders the final agreement document once both parties signed.
type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (Generated, error)
}

// Service is the workflow engine: it owns status transitions, enforces whose
// turn it is, and drives document generation on completion.
type Service struct {
	db         DB
	repo       Store
	bookings   BookingReader
	generator  Generator
	policy     Policy
	genTimeout time.Duration
}

func NewService(db DB, repo Store, bookings BookingReader, generator Generator, policy Policy) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if policy.FirstSigner == "" {
		policy = DefaultPolicy
	}
	return &Service{
		db:         db,
		repo:       repo,
		bookings:   bookings,
		generator:  generator,
		policy:     policy,
		genTimeout: DefaultGenerationTimeout,
	}
}

// SetGenerationTimeout overrides the document-generation wait bound.
func (s *Service) SetGenerationTimeout(d time.Duration) {
	if d > 0 {
		s.genTimeout = d
	}
}

// Policy returns the configured signing order.
func (s *Service) Policy() Policy {
	return s.policy
}

// Status returns the caller-facing view for a booking. When no agreement row
// exists it returns a synthetic NOT_INITIALIZED view without creating one;
// creation is deferred to the first sign attempt so bookings that never reach
// signing leave no orphan records.
func (s *Service) Status(ctx context.Context, bookingID string) (View, error) {
	if bookingID == "" {
		return View{}, fmt.Errorf("agreement: missing booking id")
	}

	rec, err := s.repo.GetByBooking(ctx, s.db, bookingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return View{BookingID: bookingID, Status: StatusNotInitialized}, nil
		}
		return View{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return viewOf(rec), nil
}

// SignParams carries one signature submission. ActorID is the authenticated
// user recorded on the audit timeline; role legality against the booking is
// the caller layer's concern, role legality against the state machine is
// enforced here.
type SignParams struct {
	BookingID string
	Role      Role
	ActorID   string
	Signature []byte
}

// Sign applies one party's signature. It lazily creates the agreement on the
// first valid attempt, stores the artifact, advances the status, and on
// completion renders the final document. A failed render does not roll back
// the signature; the view reports the document as pending and Document
// retries the render.
func (s *Service) Sign(ctx context.Context, params SignParams) (View, error) {
	if params.BookingID == "" {
		return View{}, fmt.Errorf("agreement: missing booking id")
	}
	if !isValidRole(params.Role) {
		return View{}, fmt.Errorf("%w: %q", ErrInvalidRole, params.Role)
	}
	if len(params.Signature) == 0 {
		return View{}, fmt.Errorf("agreement: empty signature payload")
	}

	bk, err := s.bookings.Get(ctx, params.BookingID)
	if err != nil {
		return View{}, fmt.Errorf("agreement: load booking: %w", err)
	}

	rec, err := s.signTx(ctx, params)
	if err != nil {
		return View{}, err
	}

	if rec.Status == StatusCompleted {
		if ref, err := s.renderDocument(ctx, rec, bk); err == nil {
			rec.Document = &ref
		}
		// A render failure is deliberately not returned: the signature is
		// committed and the view's document-pending sub-state tells the
		// caller to retry via Document.
	}
	return viewOf(rec), nil
}

// signTx runs the locked transition: lock or create the row, validate the
// turn, store the artifact, CAS the status, append audit and outbox rows.
func (s *Service) signTx(ctx context.Context, params SignParams) (Record, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("%w: begin tx: %w", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, params.BookingID)
	created := false
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		// Reject out-of-turn attempts before creating anything so a wrong
		// first signer leaves no row behind.
		if _, err := s.policy.Next(Record{Status: StatusNotInitialized}, params.Role); err != nil {
			return Record{}, err
		}
		rec, err = s.repo.Create(ctx, tx, params.BookingID, s.policy.InitialStatus())
		if err != nil {
			return Record{}, err
		}
		created = true
	default:
		return Record{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	next, err := s.policy.Next(rec, params.Role)
	if err != nil {
		return Record{}, err
	}

	sum := sha256.Sum256(params.Signature)
	artifact, err := s.repo.PutArtifact(ctx, tx, Artifact{
		BookingID:   params.BookingID,
		Role:        params.Role,
		ContentType: "image/png",
		SHA256:      hex.EncodeToString(sum[:]),
		Body:        params.Signature,
	})
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	updated, err := s.repo.ApplySignature(ctx, tx, ApplySignatureParams{
		AgreementID: rec.ID,
		Role:        params.Role,
		ArtifactID:  artifact.ID,
		Prev:        rec.Status,
		Next:        next,
	})
	if err != nil {
		return Record{}, err
	}
	if params.Role == RoleTenant {
		updated.LandlordSignature = rec.LandlordSignature
	} else {
		updated.TenantSignature = rec.TenantSignature
	}

	if created {
		if err := s.repo.AppendEvent(ctx, tx, rec.ID, EventAgreementCreated, params.ActorID, map[string]any{
			"booking_id":   params.BookingID,
			"first_signer": string(s.policy.FirstSigner),
		}); err != nil {
			return Record{}, err
		}
	}

	if err := s.repo.AppendEvent(ctx, tx, rec.ID, EventSignatureApplied, params.ActorID, map[string]any{
		"role":            string(params.Role),
		"artifact_id":     artifact.ID,
		"previous_status": string(rec.Status),
		"next_status":     string(next),
	}); err != nil {
		return Record{}, err
	}

	if err := s.repo.EnqueueOutbox(ctx, tx, TopicAgreementSigned, notify.AgreementSignedEvent{
		AgreementID: rec.ID,
		BookingID:   params.BookingID,
		Role:        string(params.Role),
		Status:      string(next),
	}); err != nil {
		return Record{}, err
	}

	if next == StatusCompleted {
		if err := s.repo.AppendEvent(ctx, tx, rec.ID, EventCompleted, params.ActorID, map[string]any{
			"booking_id": params.BookingID,
		}); err != nil {
			return Record{}, err
		}
		if err := s.repo.EnqueueOutbox(ctx, tx, TopicAgreementCompleted, notify.AgreementCompletedEvent{
			AgreementID: rec.ID,
			BookingID:   params.BookingID,
		}); err != nil {
			return Record{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("%w: commit sign: %w", ErrStorageUnavailable, err)
	}
	return updated, nil
}

// Document returns the reference to the rendered final agreement. Before
// completion it signals ErrDocumentNotReady. A completed agreement with no
// stored document triggers a render retry; no regeneration happens once a
// document exists, repeated calls return the identical reference.
func (s *Service) Document(ctx context.Context, bookingID string) (DocumentRef, error) {
	rec, err := s.repo.GetByBooking(ctx, s.db, bookingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return DocumentRef{}, ErrDocumentNotReady
		}
		return DocumentRef{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if rec.Status != StatusCompleted {
		return DocumentRef{}, ErrDocumentNotReady
	}
	if rec.Document != nil {
		return *rec.Document, nil
	}

	bk, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return DocumentRef{}, fmt.Errorf("agreement: load booking: %w", err)
	}
	return s.renderDocument(ctx, rec, bk)
}

// DocumentFile fetches the stored document blob for serving.
func (s *Service) DocumentFile(ctx context.Context, documentID string) (Document, error) {
	return s.repo.GetDocumentFile(ctx, s.db, documentID)
}

// renderDocument invokes the generator under the configured timeout and
// attaches the result. The attach is idempotent: if a concurrent call stored
// a document first, the existing reference is returned unchanged.
func (s *Service) renderDocument(ctx context.Context, rec Record, bk booking.Snapshot) (DocumentRef, error) {
	if rec.TenantSignature == nil || rec.LandlordSignature == nil {
		return DocumentRef{}, fmt.Errorf("%w: signatures missing on completed agreement", ErrDocumentGenerationFailed)
	}

	genCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
	defer cancel()

	tenantArt, err := s.repo.GetArtifact(genCtx, s.db, rec.TenantSignature.ArtifactID)
	if err != nil {
		return DocumentRef{}, fmt.Errorf("%w: %w", ErrDocumentGenerationFailed, err)
	}
	landlordArt, err := s.repo.GetArtifact(genCtx, s.db, rec.LandlordSignature.ArtifactID)
	if err != nil {
		return DocumentRef{}, fmt.Errorf("%w: %w", ErrDocumentGenerationFailed, err)
	}

	out, err := s.generator.Generate(genCtx, GenerateInput{
		AgreementID:       rec.ID,
		Booking:           bk,
		TenantSignature:   tenantArt.Body,
		LandlordSignature: landlordArt.Body,
	})
	if err != nil {
		return DocumentRef{}, fmt.Errorf("%w: %w", ErrDocumentGenerationFailed, err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return DocumentRef{}, fmt.Errorf("%w: begin tx: %w", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	// Re-check under lock: another call may have attached a document while
	// the render ran.
	locked, err := s.repo.GetForUpdate(ctx, tx, rec.BookingID)
	if err != nil {
		return DocumentRef{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if locked.Document != nil {
		return *locked.Document, nil
	}

	sum := sha256.Sum256(out.Body)
	ref, err := s.repo.AttachDocument(ctx, tx, rec.ID, Document{
		AgreementID: rec.ID,
		FileName:    out.FileName,
		ContentType: out.ContentType,
		SHA256:      hex.EncodeToString(sum[:]),
		Body:        out.Body,
	})
	if err != nil {
		return DocumentRef{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, rec.ID, EventDocumentAttached, "", map[string]any{
		"document_id": ref.ID,
		"file_name":   ref.FileName,
	}); err != nil {
		return DocumentRef{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return DocumentRef{}, fmt.Errorf("%w: commit document: %w", ErrStorageUnavailable, err)
	}
	return ref, nil
}
