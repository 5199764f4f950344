// Package document renders the final rental agreement once both parties have
// signed. Output is a PDF embedding the booking terms and both signature
// images; the workflow core treats the renderer as a replaceable external
// collaborator.
package document

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"rentsign/agreement"
)

// PDFGenerator implements agreement.Generator with an in-process PDF
// renderer.
type PDFGenerator struct {
	now func() time.Time
}

func NewPDFGenerator() *PDFGenerator {
	return &PDFGenerator{now: time.Now}
}

// Generate renders the agreement. Rendering is CPU-bound and quick, but the
// context is still honored so callers can bound the overall document step.
func (g *PDFGenerator) Generate(ctx context.Context, in agreement.GenerateInput) (agreement.Generated, error) {
	if err := ctx.Err(); err != nil {
		return agreement.Generated{}, err
	}
	if len(in.TenantSignature) == 0 || len(in.LandlordSignature) == 0 {
		return agreement.Generated{}, fmt.Errorf("document: both signatures are required")
	}

	bk := in.Booking
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Rental Agreement", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, "Residential Rental Agreement", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Booking %s", bk.ID), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Property", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 6, fmt.Sprintf("%s\n%s, %s, %s", bk.Property.Title, bk.Property.Address, bk.Property.City, bk.Property.Country), "", "L", false)
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Terms", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	rows := [][2]string{
		{"Tenant", bk.Tenant.FullName},
		{"Landlord", bk.Landlord.FullName},
		{"Period", fmt.Sprintf("%s - %s", bk.StartDate.Format("January 2, 2006"), bk.EndDate.Format("January 2, 2006"))},
		{"Monthly rent", fmt.Sprintf("%s %s", bk.RentAmount, bk.CurrencyCode)},
	}
	for _, row := range rows {
		pdf.CellFormat(40, 7, row[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, row[1], "", 1, "L", false, 0, "")
	}
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Signatures", "", 1, "L", false, 0, "")

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("tenant-signature", opts, bytes.NewReader(in.TenantSignature))
	pdf.RegisterImageOptionsReader("landlord-signature", opts, bytes.NewReader(in.LandlordSignature))

	y := pdf.GetY() + 4
	pdf.ImageOptions("tenant-signature", 20, y, 60, 0, false, opts, 0, "")
	pdf.ImageOptions("landlord-signature", 115, y, 60, 0, false, opts, 0, "")

	pdf.SetY(y + 32)
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(95, 6, bk.Tenant.FullName+" (Tenant)", "T", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, bk.Landlord.FullName+" (Landlord)", "T", 1, "L", false, 0, "")

	pdf.Ln(10)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.CellFormat(0, 5, fmt.Sprintf("Generated %s", g.now().UTC().Format(time.RFC1123)), "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return agreement.Generated{}, fmt.Errorf("document: render pdf: %w", err)
	}

	return agreement.Generated{
		FileName:    FileName(bk.Property.Title, bk.ID),
		ContentType: "application/pdf",
		Body:        buf.Bytes(),
	}, nil
}

// FileName builds a human-readable download name from the property title and
// booking id.
func FileName(propertyTitle, bookingID string) string {
	slug := slugify(propertyTitle)
	short := bookingID
	if len(short) > 8 {
		short = short[:8]
	}
	if slug == "" {
		return fmt.Sprintf("agreement-%s.pdf", short)
	}
	return fmt.Sprintf("%s-agreement-%s.pdf", slug, short)
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
