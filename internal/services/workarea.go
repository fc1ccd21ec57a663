package services

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// NameSeparator joins the per-request token and the original filename. It
// never occurs in a UUID and carries no meaning to the filesystem.
const NameSeparator = "__SEP__"

const fallbackFilename = "upload"

// WorkArea holds the two transient storage areas shared by all requests.
// Requests never contend over a path because every name carries a fresh token.
type WorkArea struct {
	UploadDir    string
	SanitizedDir string
}

// NewWorkArea creates both directories if needed.
func NewWorkArea(uploadDir, sanitizedDir string) (*WorkArea, error) {
	if uploadDir == "" || sanitizedDir == "" {
		return nil, fmt.Errorf("upload and sanitized directories must be set")
	}
	uploadAbs, err := filepath.Abs(uploadDir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	sanitizedAbs, err := filepath.Abs(sanitizedDir)
	if err != nil {
		return nil, fmt.Errorf("resolve sanitized dir: %w", err)
	}
	if uploadAbs == sanitizedAbs {
		return nil, fmt.Errorf("sanitized dir must differ from upload dir")
	}
	for _, dir := range []string{uploadAbs, sanitizedAbs} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create work dir %s: %w", dir, err)
		}
	}
	return &WorkArea{UploadDir: uploadAbs, SanitizedDir: sanitizedAbs}, nil
}

// NewToken returns a random per-request token.
func NewToken() string {
	return uuid.NewString()
}

// SafeFilename reduces an untrusted client filename to a base name usable on disk.
func SafeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(name)
	if base == "." || base == "/" || base == "" || base == ".." {
		return fallbackFilename
	}
	return base
}

// WorkingFileName builds "{token}__SEP__{filename}".
func WorkingFileName(token, filename string) string {
	return token + NameSeparator + SafeFilename(filename)
}

// OriginalFilename strips the token prefix from a working file name.
func OriginalFilename(workingName string) string {
	base := filepath.Base(workingName)
	if _, after, ok := strings.Cut(base, NameSeparator); ok {
		return after
	}
	return base
}

// SaveUpload persists data as a new working file in the upload area and returns its path.
// O_EXCL guarantees an existing file is never overwritten.
func (w *WorkArea) SaveUpload(token, filename string, data []byte) (string, error) {
	path := filepath.Join(w.UploadDir, WorkingFileName(token, filename))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create working file %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write working file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to close working file %s: %w", path, err)
	}
	return path, nil
}

// SanitizedPath is the deterministic output location for a sanitized copy of inputPath.
func (w *WorkArea) SanitizedPath(inputPath string) string {
	return filepath.Join(w.SanitizedDir, filepath.Base(inputPath))
}

// RemoveWorkingFile deletes path and reports whether a file was removed.
// A file that is already gone is not an error.
func RemoveWorkingFile(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &PipelineError{Kind: KindCleanupFailed, Err: fmt.Errorf("failed to delete working file %s: %w", path, err)}
	}
	return true, nil
}
