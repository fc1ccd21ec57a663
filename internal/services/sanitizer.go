package services

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Sanitization policy. Not configurable.
const (
	MaxPDFSize  int64 = 8 * 1024 * 1024
	MaxPDFPages       = 100
)

// Page keys that can make a viewer run something or phone home.
var activePageKeys = []string{"Annots", "AA", "OpenAction"}

// Catalog entries a freshly assembled document is allowed to keep. Everything
// else (OpenAction, AA, Names with JavaScript or embedded files, AcroForm,
// Outlines, URI, XMP Metadata, ...) is dropped.
var keptCatalogKeys = map[string]bool{
	"Type":              true,
	"Pages":             true,
	"Version":           true,
	"PageLabels":        true,
	"PageLayout":        true,
	"Lang":              true,
	"MarkInfo":          true,
	"ViewerPreferences": true,
}

// Sanitizer rewrites a stored PDF and returns the path of the clean copy.
type Sanitizer interface {
	Sanitize(logCtx *slog.Logger, path string) (string, error)
}

// PDFSanitizer strips active content and metadata from PDFs within the size and page policy.
type PDFSanitizer struct {
	MaxSize   int64
	MaxPages  int
	OutputDir string
}

// NewPDFSanitizer returns a sanitizer writing into outputDir with the default policy.
func NewPDFSanitizer(outputDir string) *PDFSanitizer {
	return &PDFSanitizer{
		MaxSize:   MaxPDFSize,
		MaxPages:  MaxPDFPages,
		OutputDir: outputDir,
	}
}

// Sanitize checks the policy bounds, then writes a copy of path into OutputDir
// under the same base name with annotations, additional actions, open actions
// and document metadata removed. On any failure no output file is left behind.
func (s *PDFSanitizer) Sanitize(logCtx *slog.Logger, path string) (outPath string, err error) {
	defer func() {
		// pdfcpu can panic on hostile input; treat that like any other parse failure.
		if r := recover(); r != nil {
			logCtx.Error("PDF parser panicked.", "panic", r)
			outPath = ""
			err = newPipelineError(KindSanitizeFailed, "PDF sanitize failed: %v", r)
		}
	}()

	info, err := os.Stat(path)
	if err != nil {
		return "", newPipelineError(KindSanitizeFailed, "PDF sanitize failed: %w", err)
	}
	if info.Size() > s.MaxSize {
		logCtx.Error("PDF exceeds size limit.", "size", info.Size(), "limit", s.MaxSize)
		return "", newPipelineError(KindTooLarge, "PDF too large: %.2f MB (limit %d MB)",
			float64(info.Size())/(1024*1024), s.MaxSize/(1024*1024))
	}

	pageCount, err := api.PageCountFile(path)
	if err != nil {
		logCtx.Error("Failed to get page count.", "error", err)
		return "", newPipelineError(KindSanitizeFailed, "PDF sanitize failed: %w", err)
	}
	if pageCount > s.MaxPages {
		logCtx.Error("PDF exceeds page limit.", "pageCount", pageCount, "limit", s.MaxPages)
		return "", newPipelineError(KindTooManyPages, "PDF too large: %d pages (limit %d)", pageCount, s.MaxPages)
	}

	ctx, err := readPDF(path)
	if err != nil {
		logCtx.Error("Failed to parse PDF.", "error", err)
		return "", newPipelineError(KindSanitizeFailed, "PDF sanitize failed: %w", err)
	}

	removed, err := stripActiveContent(ctx, pageCount)
	if err != nil {
		logCtx.Error("Failed to strip active content.", "error", err)
		return "", newPipelineError(KindSanitizeFailed, "PDF sanitize failed: %w", err)
	}
	logCtx.Info("Removed annotations, AA, OpenAction.", "pageCount", pageCount, "removedEntries", removed)

	clearMetadata(ctx)
	logCtx.Info("Metadata cleared.")

	outPath = filepath.Join(s.OutputDir, filepath.Base(path))
	if err := writePDFAtomically(ctx, outPath); err != nil {
		logCtx.Error("Failed to write sanitized PDF.", "error", err)
		return "", newPipelineError(KindSanitizeFailed, "PDF sanitize failed: %w", err)
	}
	logCtx.Info("Sanitized PDF saved.", "path", outPath)
	return outPath, nil
}

func readPDF(path string) (*model.Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadContext(f, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to validate PDF: %w", err)
	}
	return ctx, nil
}

// stripActiveContent removes the active page keys from every page and reduces
// the catalog to keptCatalogKeys. It returns the number of entries removed.
func stripActiveContent(ctx *model.Context, pageCount int) (int, error) {
	removed := 0
	for pageNr := 1; pageNr <= pageCount; pageNr++ {
		d, _, _, err := ctx.PageDict(pageNr, false)
		if err != nil {
			return removed, fmt.Errorf("page %d: %w", pageNr, err)
		}
		if d == nil {
			return removed, fmt.Errorf("page %d: missing page dictionary", pageNr)
		}
		for _, key := range activePageKeys {
			if _, ok := d[key]; ok {
				delete(d, key)
				removed++
			}
		}
	}

	root, err := ctx.Catalog()
	if err != nil {
		return removed, fmt.Errorf("failed to read catalog: %w", err)
	}
	for key := range root {
		if !keptCatalogKeys[key] {
			delete(root, key)
			removed++
		}
	}
	return removed, nil
}

// clearMetadata drops the document information dictionary. The writer stamps
// a fresh one that carries only producer and date fields.
func clearMetadata(ctx *model.Context) {
	ctx.Info = nil
}

func writePDFAtomically(ctx *model.Context, outPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".sanitize-*.pdf")
	if err != nil {
		return fmt.Errorf("failed to create temp output: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := api.WriteContext(ctx, tmp); err != nil {
		return fmt.Errorf("failed to serialize PDF: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp output: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("failed to move sanitized PDF into place: %w", err)
	}
	committed = true
	return nil
}
