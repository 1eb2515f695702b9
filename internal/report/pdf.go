package report

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/signintech/gopdf"
)

const (
	pdfFont      = "DejaVu"
	pdfMargin    = 40.0
	pdfTextWidth = 515.0
	pdfPageLimit = 790.0
)

// DefaultFontPaths are tried in order when no font path is configured.
var DefaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

// ErrNoFont is returned when none of the candidate TTF fonts could be loaded.
var ErrNoFont = errors.New("report: no usable TTF font found")

// PDFOptions controls PDF rendering.
type PDFOptions struct {
	// FontPath overrides DefaultFontPaths when set.
	FontPath string
	// GeneratedAt is printed in the header.
	GeneratedAt time.Time
}

// RenderPDF lays a report out on A4 pages.
func RenderPDF(r Report, opts PDFOptions) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin, pdfMargin)
	pdf.AddPage()

	paths := DefaultFontPaths
	if opts.FontPath != "" {
		paths = []string{opts.FontPath}
	}
	var fontErr error
	loaded := false
	for _, path := range paths {
		if err := pdf.AddTTFFont(pdfFont, path); err != nil {
			fontErr = err
			continue
		}
		loaded = true
		break
	}
	if !loaded {
		return nil, fmt.Errorf("%w: %v", ErrNoFont, fontErr)
	}

	w := pdfWriter{pdf: &pdf}
	w.heading("Clinical Summary Report", 18)
	w.line(fmt.Sprintf("Generated: %s", opts.GeneratedAt.UTC().Format(time.RFC3339)), 10)
	if r.CaseID != nil {
		w.line("Case: "+*r.CaseID, 10)
	}
	if r.PatientID != nil {
		w.line("Patient: "+*r.PatientID, 10)
	}
	w.line("Confidence: "+r.AIOutput.ConfidenceLevel, 10)
	w.gap(10)

	if r.AIOutput.Summary != "" {
		w.heading("Summary", 14)
		w.line(r.AIOutput.Summary, 11)
		w.gap(8)
	}
	w.section("Key insights", r.AIOutput.KeyInsights)
	w.section("Clinical risks", r.AIOutput.ClinicalRisks)
	w.section("Suggested next steps", r.AIOutput.SuggestedNextSteps)
	w.section("Safety warnings", r.AIOutput.SafetyWarnings)

	w.gap(10)
	w.line("Decision support only. Not a diagnosis or prescription.", 9)

	if w.err != nil {
		return nil, w.err
	}
	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// pdfWriter keeps the first layout error and turns later calls into no-ops.
type pdfWriter struct {
	pdf *gopdf.GoPdf
	err error
}

func (w *pdfWriter) heading(text string, size int) {
	w.line(text, size)
	w.gap(4)
}

func (w *pdfWriter) section(title string, items []string) {
	if len(items) == 0 {
		return
	}
	w.heading(title, 14)
	for _, it := range items {
		w.line("- "+it, 11)
	}
	w.gap(8)
}

func (w *pdfWriter) line(text string, size int) {
	if w.err != nil || text == "" {
		return
	}
	if w.err = w.pdf.SetFont(pdfFont, "", size); w.err != nil {
		return
	}
	lines, err := w.pdf.SplitText(text, pdfTextWidth)
	if err != nil {
		w.err = fmt.Errorf("split text: %w", err)
		return
	}
	lh := float64(size) + 4
	for _, l := range lines {
		if w.pdf.GetY()+lh > pdfPageLimit {
			w.pdf.AddPage()
		}
		if w.err = w.pdf.Cell(nil, l); w.err != nil {
			return
		}
		w.pdf.Br(lh)
	}
}

func (w *pdfWriter) gap(h float64) {
	if w.err == nil {
		w.pdf.Br(h)
	}
}
