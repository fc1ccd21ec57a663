package services

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSanitizer(t *testing.T) (*PDFSanitizer, string, string) {
	t.Helper()
	inDir := t.TempDir()
	outDir := t.TempDir()
	return NewPDFSanitizer(outDir), inDir, outDir
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Empty(t, names, "expected %s to be empty", dir)
}

func TestPDFSanitizer_StripsActiveContentAndMetadata(t *testing.T) {
	s, inDir, outDir := newTestSanitizer(t)
	input := writeFile(t, inDir, "tok"+NameSeparator+"report.pdf",
		buildPDF(pdfFixture{pages: 3, annotated: true, openAction: true, info: true}))

	before := inspectPDF(t, input)
	require.Equal(t, 3, before.pageCount)
	require.NotEmpty(t, before.activePageKeys)
	require.Equal(t, 3, before.annotObjects)
	require.Contains(t, before.catalogKeys, "OpenAction")
	require.Contains(t, before.infoKeys, "Title")

	out, err := s.Sanitize(discardLogger(), input)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, filepath.Base(input)), out)

	after := inspectPDF(t, out)
	assert.Equal(t, 3, after.pageCount)
	assert.Empty(t, after.activePageKeys)
	assert.Zero(t, after.annotObjects)
	assert.NotContains(t, after.catalogKeys, "OpenAction")
	assert.NotContains(t, after.catalogKeys, "AA")
	for _, key := range after.catalogKeys {
		assert.True(t, keptCatalogKeys[key], "unexpected catalog key %s", key)
	}
	for _, key := range []string{"Title", "Author", "Creator"} {
		assert.NotContains(t, after.infoKeys, key)
	}
	assert.Equal(t, 3, after.pagesWithMedia)
	assert.Equal(t, 3, after.pagesWithStream)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte("tracker.example.com")))
	assert.False(t, bytes.Contains(raw, []byte("Jane Analyst")))

	// The input is left for the caller to delete.
	_, err = os.Stat(input)
	assert.NoError(t, err)
}

func TestPDFSanitizer_CleanPDFPassesThrough(t *testing.T) {
	s, inDir, _ := newTestSanitizer(t)
	input := writeFile(t, inDir, "plain.pdf", buildPDF(pdfFixture{pages: 2}))

	out, err := s.Sanitize(discardLogger(), input)
	require.NoError(t, err)

	rep := inspectPDF(t, out)
	assert.Equal(t, 2, rep.pageCount)
	assert.Empty(t, rep.activePageKeys)
}

func TestPDFSanitizer_PageLimitBoundary(t *testing.T) {
	s, inDir, outDir := newTestSanitizer(t)

	atLimit := writeFile(t, inDir, "hundred.pdf", buildPDF(pdfFixture{pages: MaxPDFPages}))
	out, err := s.Sanitize(discardLogger(), atLimit)
	require.NoError(t, err)
	assert.Equal(t, MaxPDFPages, inspectPDF(t, out).pageCount)
	require.NoError(t, os.Remove(out))

	overLimit := writeFile(t, inDir, "big.pdf", buildPDF(pdfFixture{pages: MaxPDFPages + 1}))
	out, err = s.Sanitize(discardLogger(), overLimit)
	require.Error(t, err)
	assert.Empty(t, out)
	assert.Equal(t, KindTooManyPages, KindOf(err))
	assert.Equal(t, "PDF too large: 101 pages (limit 100)", err.Error())
	assertDirEmpty(t, outDir)
}

func TestPDFSanitizer_SizeLimit(t *testing.T) {
	s, inDir, outDir := newTestSanitizer(t)

	data := append([]byte("%PDF-1.7\n"), make([]byte, MaxPDFSize)...)
	input := writeFile(t, inDir, "huge.pdf", data)

	out, err := s.Sanitize(discardLogger(), input)
	require.Error(t, err)
	assert.Empty(t, out)
	assert.Equal(t, KindTooLarge, KindOf(err))
	assert.Equal(t, "PDF too large: 8.00 MB (limit 8 MB)", err.Error())
	assertDirEmpty(t, outDir)
}

func TestPDFSanitizer_CustomPolicy(t *testing.T) {
	s, inDir, outDir := newTestSanitizer(t)
	s.MaxPages = 1

	input := writeFile(t, inDir, "two.pdf", buildPDF(pdfFixture{pages: 2}))
	_, err := s.Sanitize(discardLogger(), input)
	require.Error(t, err)
	assert.Equal(t, KindTooManyPages, KindOf(err))
	assertDirEmpty(t, outDir)
}

func TestPDFSanitizer_MalformedInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "header only", data: []byte("%PDF-1.7\n")},
		{name: "garbage body", data: []byte("%PDF-1.4\nthis is not a pdf at all\n%%EOF\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, inDir, outDir := newTestSanitizer(t)
			input := writeFile(t, inDir, "bad.pdf", tt.data)

			out, err := s.Sanitize(discardLogger(), input)
			require.Error(t, err)
			assert.Empty(t, out)
			assert.Equal(t, KindSanitizeFailed, KindOf(err))
			assert.Contains(t, err.Error(), "PDF sanitize failed:")
			assertDirEmpty(t, outDir)
		})
	}
}

func TestPDFSanitizer_MissingInput(t *testing.T) {
	s, inDir, _ := newTestSanitizer(t)

	_, err := s.Sanitize(discardLogger(), filepath.Join(inDir, "absent.pdf"))
	require.Error(t, err)
	assert.Equal(t, KindSanitizeFailed, KindOf(err))
}
