package services

import (
	"fmt"
	"mime"

	"github.com/gabriel-vasile/mimetype"
)

// MIMEPDF is the media type that triggers sanitization.
const MIMEPDF = "application/pdf"

// DetectMIME returns the media type of data based on its content signature.
// Client-declared types and file extensions are never consulted.
func DetectMIME(data []byte) string {
	return bareMediaType(mimetype.Detect(data).String())
}

// DetectMIMEFile is DetectMIME for the bytes stored at path.
func DetectMIMEFile(path string) (string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to detect MIME type of %s: %w", path, err)
	}
	return bareMediaType(m.String()), nil
}

// bareMediaType drops parameters such as "; charset=utf-8".
func bareMediaType(v string) string {
	mediaType, _, err := mime.ParseMediaType(v)
	if err != nil {
		return v
	}
	return mediaType
}
