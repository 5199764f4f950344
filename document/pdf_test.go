package document

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"rentsign/agreement"
	"rentsign/booking"
)

func signaturePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 120, 40))
	ink := color.NRGBA{A: 255}
	for x := 10; x <= 110; x++ {
		img.SetNRGBA(x, 20, ink)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func testBooking() booking.Snapshot {
	return booking.Snapshot{
		ID: "7f1f9a34-18cf-4f1e-b1f1-0a4c7c1d9a21",
		Property: booking.Property{
			Title:   "Seaside Loft",
			Address: "1 Beach Rd",
			City:    "George Town",
			Country: "Malaysia",
		},
		Tenant:       booking.Party{ID: "t1", FullName: "Alice Tenant"},
		Landlord:     booking.Party{ID: "l1", FullName: "Bob Landlord"},
		StartDate:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		RentAmount:   "1500.00",
		CurrencyCode: "MYR",
	}
}

func TestPDFGenerator_Generate(t *testing.T) {
	gen := &PDFGenerator{now: func() time.Time {
		return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	}}

	sig := signaturePNG(t)
	out, err := gen.Generate(context.Background(), agreement.GenerateInput{
		AgreementID:       "a1",
		Booking:           testBooking(),
		TenantSignature:   sig,
		LandlordSignature: sig,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if out.ContentType != "application/pdf" {
		t.Fatalf("content type: %s", out.ContentType)
	}
	if !bytes.HasPrefix(out.Body, []byte("%PDF-")) {
		t.Fatal("output does not start with a PDF header")
	}
	if out.FileName != "seaside-loft-agreement-7f1f9a34.pdf" {
		t.Fatalf("file name: %s", out.FileName)
	}
}

func TestPDFGenerator_MissingSignature(t *testing.T) {
	gen := NewPDFGenerator()
	sig := signaturePNG(t)

	if _, err := gen.Generate(context.Background(), agreement.GenerateInput{
		Booking: testBooking(), TenantSignature: sig,
	}); err == nil {
		t.Fatal("expected error without landlord signature")
	}
	if _, err := gen.Generate(context.Background(), agreement.GenerateInput{
		Booking: testBooking(), LandlordSignature: sig,
	}); err == nil {
		t.Fatal("expected error without tenant signature")
	}
}

func TestPDFGenerator_CanceledContext(t *testing.T) {
	gen := NewPDFGenerator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sig := signaturePNG(t)
	if _, err := gen.Generate(ctx, agreement.GenerateInput{
		Booking: testBooking(), TenantSignature: sig, LandlordSignature: sig,
	}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestFileName(t *testing.T) {
	cases := []struct {
		title, booking, want string
	}{
		{"Seaside Loft", "7f1f9a34-18cf", "seaside-loft-agreement-7f1f9a34.pdf"},
		{"  Flat #3, Jalan Besar  ", "abcd1234", "flat-3-jalan-besar-agreement-abcd1234.pdf"},
		{"???", "abcd1234", "agreement-abcd1234.pdf"},
		{"Loft", "ab", "loft-agreement-ab.pdf"},
	}
	for _, c := range cases {
		if got := FileName(c.title, c.booking); got != c.want {
			t.Errorf("FileName(%q, %q) = %q, want %q", c.title, c.booking, got, c.want)
		}
	}
}
