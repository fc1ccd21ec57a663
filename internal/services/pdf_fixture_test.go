package services

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/stretchr/testify/require"
)

// pdfFixture describes a small, well-formed PDF assembled in memory.
type pdfFixture struct {
	pages int
	// annotated puts a link annotation, a page AA and a page OpenAction on every page.
	annotated bool
	// openAction adds a JavaScript OpenAction and AA to the catalog.
	openAction bool
	// info adds a document information dictionary with identifying fields.
	info bool
}

const fixtureContent = "0 0 m 100 100 l S"

// buildPDF renders the fixture with a classic xref table whose offsets are exact.
func buildPDF(f pdfFixture) []byte {
	if f.pages <= 0 {
		f.pages = 1
	}

	next := 1
	alloc := func() int { n := next; next++; return n }

	catalogNr := alloc()
	pagesNr := alloc()
	infoNr, actionNr := 0, 0
	if f.info {
		infoNr = alloc()
	}
	if f.openAction {
		actionNr = alloc()
	}
	type pageNrs struct{ page, content, annot int }
	pages := make([]pageNrs, f.pages)
	for i := range pages {
		pages[i].page = alloc()
		pages[i].content = alloc()
		if f.annotated {
			pages[i].annot = alloc()
		}
	}

	var buf bytes.Buffer
	offsets := make([]int, next)
	writeObj := func(nr int, body string) {
		offsets[nr] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", nr, body)
	}

	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	catalog := fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R", pagesNr)
	if f.openAction {
		catalog += fmt.Sprintf(" /OpenAction %d 0 R /AA << /WC %d 0 R >>", actionNr, actionNr)
	}
	writeObj(catalogNr, catalog+" >>")

	kids := make([]string, len(pages))
	for i, p := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", p.page)
	}
	writeObj(pagesNr, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))

	if f.info {
		writeObj(infoNr, "<< /Title (Quarterly Report) /Author (Jane Analyst) /Creator (Tracker Suite) /Producer (Fixture Writer) >>")
	}
	if f.openAction {
		writeObj(actionNr, "<< /Type /Action /S /JavaScript /JS (app.beep) >>")
	}

	for _, p := range pages {
		page := fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << >> /Contents %d 0 R", pagesNr, p.content)
		if f.annotated {
			page += fmt.Sprintf(" /Annots [%d 0 R] /AA << /O << /S /JavaScript /JS (app.beep) >> >> /OpenAction << /S /JavaScript /JS (app.beep) >>", p.annot)
		}
		writeObj(p.page, page+" >>")
		writeObj(p.content, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(fixtureContent), fixtureContent))
		if f.annotated {
			writeObj(p.annot, "<< /Type /Annot /Subtype /Link /Rect [0 0 100 100] /Border [0 0 0] /A << /S /URI /URI (https://tracker.example.com/pixel) >> >>")
		}
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", next)
	buf.WriteString("0000000000 65535 f \n")
	for nr := 1; nr < next; nr++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[nr])
	}
	trailer := fmt.Sprintf("<< /Size %d /Root %d 0 R", next, catalogNr)
	if f.info {
		trailer += fmt.Sprintf(" /Info %d 0 R", infoNr)
	}
	fmt.Fprintf(&buf, "trailer\n%s >>\nstartxref\n%d\n%%%%EOF\n", trailer, xrefOffset)
	return buf.Bytes()
}

// pngBytes is a complete 1x1 transparent PNG.
var pngBytes = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4, 0x89, 0x00, 0x00, 0x00,
	0x0D, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4E, 0x44, 0xAE, 0x42, 0x60, 0x82,
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// pdfReport summarizes the security-relevant structure of a PDF on disk.
type pdfReport struct {
	pageCount       int
	activePageKeys  []string
	catalogKeys     []string
	annotObjects    int
	infoKeys        []string
	pagesWithMedia  int
	pagesWithStream int
}

func inspectPDF(t *testing.T, path string) pdfReport {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadContext(f, cfg)
	require.NoError(t, err)
	require.NoError(t, api.ValidateContext(ctx))

	pageCount, err := api.PageCountFile(path)
	require.NoError(t, err)

	rep := pdfReport{pageCount: pageCount}
	for nr := 1; nr <= pageCount; nr++ {
		d, _, _, err := ctx.PageDict(nr, false)
		require.NoError(t, err)
		for _, key := range activePageKeys {
			if _, ok := d[key]; ok {
				rep.activePageKeys = append(rep.activePageKeys, fmt.Sprintf("page %d: %s", nr, key))
			}
		}
		if _, ok := d["MediaBox"]; ok {
			rep.pagesWithMedia++
		}
		if _, ok := d["Contents"]; ok {
			rep.pagesWithStream++
		}
	}

	root, err := ctx.Catalog()
	require.NoError(t, err)
	for key := range root {
		rep.catalogKeys = append(rep.catalogKeys, key)
	}

	for _, entry := range ctx.Table {
		if entry == nil || entry.Free {
			continue
		}
		if d, ok := entry.Object.(types.Dict); ok {
			if typ := d.NameEntry("Type"); typ != nil && *typ == "Annot" {
				rep.annotObjects++
			}
		}
	}

	if ctx.Info != nil {
		info, err := ctx.DereferenceDict(*ctx.Info)
		require.NoError(t, err)
		for key := range info {
			rep.infoKeys = append(rep.infoKeys, key)
		}
	}
	return rep
}
