package report

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-pdf/fpdf"
)

// ErrIO marks a report that could not be written to its destination.
var ErrIO = errors.New("write report")

const (
	headingSize = 18
	itemSize    = 12
	fontFamily  = "Helvetica"
)

// Renderer produces PDF reports made of an underlined heading followed by a
// numbered list. Long lists flow onto further pages.
type Renderer struct {
	log      *slog.Logger
	compress bool
}

// NewRenderer returns a Renderer that logs through log.
func NewRenderer(log *slog.Logger) *Renderer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Renderer{log: log, compress: true}
}

// Render writes the report to w. Items are numbered from 1 in the order given.
func (r *Renderer) Render(w io.Writer, title string, items []string) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.compress)
	pdf.SetTitle(title, true)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont(fontFamily, "U", headingSize)
	pdf.MultiCell(0, 9, tr(title), "", "L", false)
	pdf.Ln(6)

	pdf.SetFont(fontFamily, "", itemSize)
	for i, item := range items {
		pdf.MultiCell(0, 6, tr(strconv.Itoa(i+1)+". "+item), "", "L", false)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("%w: render pdf: %w", ErrIO, err)
	}
	return nil
}

// WriteFile renders the report into path, creating parent directories and
// replacing any previous file.
func (r *Renderer) WriteFile(path, title string, items []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: create output dir: %w", ErrIO, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrIO, path, err)
	}

	if err := r.Render(f, title, items); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIO, path, err)
	}

	r.log.Debug("report written", slog.String("path", path), slog.Int("items", len(items)))
	return nil
}
