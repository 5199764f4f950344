package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"rentsign/agreement"
	"rentsign/auth"
	"rentsign/booking"
	"rentsign/cache"
	"rentsign/signature"
)

// agreementService is the slice of the workflow engine the handlers call.
type agreementService interface {
	Status(ctx context.Context, bookingID string) (agreement.View, error)
	Sign(ctx context.Context, params agreement.SignParams) (agreement.View, error)
	Document(ctx context.Context, bookingID string) (agreement.DocumentRef, error)
	DocumentFile(ctx context.Context, documentID string) (agreement.Document, error)
}

type bookingReader interface {
	Get(ctx context.Context, id string) (booking.Snapshot, error)
}

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP routes to the domain services.
type Server struct {
	auth       authService
	agreements agreementService
	bookings   bookingReader
	cache      *cache.StatusCache
	db         pinger
}

func NewServer(authSvc authService, agreements agreementService, bookings bookingReader, statusCache *cache.StatusCache, db pinger) *Server {
	return &Server{
		auth:       authSvc,
		agreements: agreements,
		bookings:   bookings,
		cache:      statusCache,
		db:         db,
	}
}

// router builds the echo instance with all routes registered.
func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.GET("/healthz", s.handleHealth)

	v1 := e.Group("/v1")
	v1.POST("/auth/register", s.handleRegister)
	v1.POST("/auth/login", s.handleLogin)

	protected := v1.Group("", s.requireAuth)
	protected.GET("/bookings/:id/agreement", s.handleAgreementStatus)
	protected.POST("/bookings/:id/agreement/sign", s.handleSign)
	protected.POST("/bookings/:id/agreement/signature", s.handleSignaturePreview)
	protected.GET("/bookings/:id/agreement/document", s.handleDocument)
	protected.GET("/documents/:id", s.handleDocumentFile)

	return e
}

// requireAuth validates the bearer token and stores the caller's user id in
// the request context under "user_id".
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
		}
		userID, err := s.auth.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}
		c.Set("user_id", userID)
		return next(c)
	}
}

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

func (s *Server) handleRegister(c echo.Context) error {
	var req auth.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	user, err := s.auth.Register(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		case errors.Is(err, auth.ErrDuplicateEmail):
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "register failed"})
		}
	}

	return c.JSON(http.StatusCreated, userResponse{ID: user.ID, Email: user.Email, FullName: user.FullName})
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	result, err := s.auth.Login(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"token": result.Token,
		"user":  userResponse{ID: result.User.ID, Email: result.User.Email, FullName: result.User.FullName},
	})
}

type documentResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	FileName  string `json:"fileName"`
	CreatedAt string `json:"createdAt"`
}

type agreementResponse struct {
	AgreementID    string            `json:"agreement_id,omitempty"`
	BookingID      string            `json:"booking_id"`
	Status         string            `json:"status"`
	TenantSigned   bool              `json:"tenant_signed"`
	LandlordSigned bool              `json:"landlord_signed"`
	Document       *documentResponse `json:"document,omitempty"`
	UpdatedAt      string            `json:"updated_at,omitempty"`
}

func viewResponse(view agreement.View) agreementResponse {
	resp := agreementResponse{
		AgreementID:    view.AgreementID,
		BookingID:      view.BookingID,
		Status:         view.ViewStatus(),
		TenantSigned:   view.TenantSigned,
		LandlordSigned: view.LandlordSigned,
	}
	if !view.UpdatedAt.IsZero() {
		resp.UpdatedAt = view.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if view.Document != nil {
		resp.Document = refResponse(*view.Document)
	}
	return resp
}

func refResponse(ref agreement.DocumentRef) *documentResponse {
	return &documentResponse{
		ID:        ref.ID,
		URL:       ref.URL,
		FileName:  ref.FileName,
		CreatedAt: ref.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// partyRole loads the booking and resolves which side of the agreement the
// authenticated caller is on. Callers outside the booking get no access at
// all, not even to read status. On denial the response is already written and
// ok is false.
func (s *Server) partyRole(c echo.Context, bookingID string) (booking.Snapshot, agreement.Role, bool) {
	userID, _ := c.Get("user_id").(string)

	bk, err := s.bookings.Get(c.Request().Context(), bookingID)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			_ = c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		} else {
			_ = c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "booking lookup failed"})
		}
		return booking.Snapshot{}, "", false
	}

	role := bk.PartyRole(userID)
	if role == "" {
		_ = c.JSON(http.StatusForbidden, echo.Map{"error": "not a party to this booking"})
		return booking.Snapshot{}, "", false
	}
	return bk, agreement.Role(role), true
}

func (s *Server) handleAgreementStatus(c echo.Context) error {
	bookingID := c.Param("id")
	if _, _, ok := s.partyRole(c, bookingID); !ok {
		return nil
	}

	ctx := c.Request().Context()
	if view, ok := s.cache.Get(ctx, bookingID); ok {
		return c.JSON(http.StatusOK, viewResponse(view))
	}

	view, err := s.agreements.Status(ctx, bookingID)
	if err != nil {
		return s.agreementError(c, err)
	}
	s.cache.Set(ctx, view)

	return c.JSON(http.StatusOK, viewResponse(view))
}

// signRequest accepts either raw strokes from a drawing surface or a
// pre-rendered image. Exactly one of the two should be set.
type signRequest struct {
	Strokes []signature.Stroke `json:"strokes"`
	Image   string             `json:"image"`
}

func (r signRequest) artifact() ([]byte, error) {
	if len(r.Strokes) > 0 {
		return signature.Capture(r.Strokes)
	}
	if r.Image != "" {
		raw, err := base64.StdEncoding.DecodeString(r.Image)
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		return signature.Normalize(raw)
	}
	return nil, signature.ErrEmptyInput
}

func (s *Server) handleSign(c echo.Context) error {
	bookingID := c.Param("id")
	_, role, ok := s.partyRole(c, bookingID)
	if !ok {
		return nil
	}

	var req signRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	artifact, err := req.artifact()
	if err != nil {
		if errors.Is(err, signature.ErrEmptyInput) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "signature is empty"})
		}
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature payload"})
	}

	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(string)
	view, err := s.agreements.Sign(ctx, agreement.SignParams{
		BookingID: bookingID,
		Role:      role,
		ActorID:   userID,
		Signature: artifact,
	})
	if err != nil {
		return s.agreementError(c, err)
	}

	// Drop the cached view so the follow-up poll observes the transition.
	s.cache.Invalidate(ctx, bookingID)

	return c.JSON(http.StatusOK, viewResponse(view))
}

// handleSignaturePreview renders strokes to the trimmed PNG artifact without
// signing, so clients can show the stored form before submission.
func (s *Server) handleSignaturePreview(c echo.Context) error {
	if _, _, ok := s.partyRole(c, c.Param("id")); !ok {
		return nil
	}

	var req signRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	artifact, err := req.artifact()
	if err != nil {
		if errors.Is(err, signature.ErrEmptyInput) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "signature is empty"})
		}
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature payload"})
	}

	return c.Blob(http.StatusOK, "image/png", artifact)
}

func (s *Server) handleDocument(c echo.Context) error {
	bookingID := c.Param("id")
	if _, _, ok := s.partyRole(c, bookingID); !ok {
		return nil
	}

	ref, err := s.agreements.Document(c.Request().Context(), bookingID)
	if err != nil {
		return s.agreementError(c, err)
	}
	return c.JSON(http.StatusOK, refResponse(ref))
}

func (s *Server) handleDocumentFile(c echo.Context) error {
	doc, err := s.agreements.DocumentFile(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, agreement.ErrNotFound) || errors.Is(err, agreement.ErrDocumentNotReady) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "document not found"})
		}
		return s.agreementError(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", doc.FileName))
	return c.Blob(http.StatusOK, doc.ContentType, doc.Body)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// agreementError maps the workflow error taxonomy onto HTTP statuses.
func (s *Server) agreementError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, agreement.ErrWrongTurn):
		return c.JSON(http.StatusConflict, echo.Map{"error": "not this party's turn to sign"})
	case errors.Is(err, agreement.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "agreement was modified concurrently, retry"})
	case errors.Is(err, agreement.ErrDocumentNotReady):
		return c.JSON(http.StatusConflict, echo.Map{"error": "document is not ready"})
	case errors.Is(err, agreement.ErrDocumentGenerationFailed):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "document generation failed, retry later"})
	case errors.Is(err, agreement.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "agreement not found"})
	case errors.Is(err, agreement.ErrStorageUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "storage unavailable"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
