package document

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const pdfContentType = "application/pdf"

// ObjectKey is where the contract PDF of a contractor is stored.
func ObjectKey(contractorID string) string {
	return "contracts/" + contractorID + ".pdf"
}

// PDFRenderer renders contracts with gofpdf and keeps them in an
// ObjectStore. It implements model.DocumentRenderer.
type PDFRenderer struct {
	objects ObjectStore
	title   string
}

// NewPDFRenderer creates a renderer writing to objects.
func NewPDFRenderer(objects ObjectStore) *PDFRenderer {
	return &PDFRenderer{objects: objects, title: "Contractor Agreement"}
}

// Render lays out content as an A4 PDF with a header built from
// fieldValues, stores it and returns its URL. content is expected to be
// fully substituted already.
func (r *PDFRenderer) Render(ctx context.Context, contractorID, content string, fieldValues map[string]string) (string, error) {
	data, err := r.build(content, fieldValues)
	if err != nil {
		return "", err
	}
	key := ObjectKey(contractorID)
	if err := r.objects.Put(ctx, key, data, pdfContentType); err != nil {
		return "", err
	}
	return r.objects.URL(ctx, key)
}

// Fetch returns the stored PDF of a contractor.
func (r *PDFRenderer) Fetch(ctx context.Context, contractorID string) ([]byte, error) {
	return r.objects.Get(ctx, ObjectKey(contractorID))
}

func (r *PDFRenderer) build(content string, fields map[string]string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle(r.title, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, tr(r.title), "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	for _, line := range headerLines(fields) {
		pdf.CellFormat(0, 5, tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 11)
	for _, para := range strings.Split(content, "\n") {
		if strings.TrimSpace(para) == "" {
			pdf.Ln(3)
			continue
		}
		pdf.MultiCell(0, 5.5, tr(para), "", "L", false)
	}

	if name := fields["signature_name"]; name != "" || fields["signed_date"] != "" {
		pdf.Ln(8)
		pdf.SetFont("Arial", "I", 11)
		pdf.CellFormat(0, 6, tr("Signed: "+orDash(name)), "", 1, "L", false, 0, "")
		pdf.CellFormat(0, 6, tr("Date: "+orDash(fields["signed_date"])), "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func headerLines(fields map[string]string) []string {
	var lines []string
	for _, f := range []struct{ label, key string }{
		{"Contractor", "full_name"},
		{"Third party", "third_party_name"},
		{"Engagement", "business_type"},
		{"Contract date", "contract_date"},
	} {
		if v := fields[f.key]; v != "" {
			lines = append(lines, f.label+": "+v)
		}
	}
	return lines
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
