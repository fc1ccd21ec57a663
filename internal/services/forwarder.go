package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/uploadsanitizer/internal/destinations"
	"github.com/Lllllllleong/uploadsanitizer/internal/gcp"
	"github.com/Lllllllleong/uploadsanitizer/internal/models"
)

// ForwardTimeout bounds every outbound transfer.
const ForwardTimeout = 30 * time.Second

// maxReplyBytes caps how much of a destination reply is read into memory.
const maxReplyBytes = 4 << 20

// Forwarder sends an artifact to a destination and returns its normalized reply.
type Forwarder interface {
	Forward(ctx context.Context, logCtx *slog.Logger, artifactPath, filename string, dest destinations.Destination) (models.RemoteResponse, error)
}

// ObjectWriter stores a local file as a Cloud Storage object.
type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, object, localPath, contentType string) error
}

// GCSObjectWriter is the Cloud Storage implementation of ObjectWriter.
type GCSObjectWriter struct {
	client *storage.Client
	retry  gcp.RetryPolicy
}

// NewGCSObjectWriter wraps an existing storage client.
func NewGCSObjectWriter(client *storage.Client) *GCSObjectWriter {
	return &GCSObjectWriter{client: client, retry: gcp.DefaultRetryPolicy}
}

// WriteObject uploads localPath with a does-not-exist precondition.
func (w *GCSObjectWriter) WriteObject(ctx context.Context, bucket, object, localPath, contentType string) error {
	return gcp.UploadFileAtomically(ctx, w.client.Bucket(bucket), object, localPath, contentType, w.retry)
}

// HTTPForwarder forwards artifacts as multipart POSTs, or to Cloud Storage for gs:// destinations.
type HTTPForwarder struct {
	client  *http.Client
	objects ObjectWriter
	timeout time.Duration
}

// NewHTTPForwarder builds a forwarder. objects may be nil when no gs:// destination is configured.
// Redirects are never followed: a 3xx reply is returned as is and fails the forward.
func NewHTTPForwarder(client *http.Client, objects ObjectWriter) *HTTPForwarder {
	if client == nil {
		client = &http.Client{Timeout: ForwardTimeout}
	}
	noRedirect := *client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &HTTPForwarder{client: &noRedirect, objects: objects, timeout: ForwardTimeout}
}

// Forward re-detects the artifact's MIME type from its bytes and transmits it.
// Every failure, including transport errors, is reported as KindUploadFailed.
func (f *HTTPForwarder) Forward(ctx context.Context, logCtx *slog.Logger, artifactPath, filename string, dest destinations.Destination) (models.RemoteResponse, error) {
	if dest.ServiceURL == "" {
		return nil, newPipelineError(KindUploadFailed, "Upload failed: service url is required")
	}

	mimeType, err := DetectMIMEFile(artifactPath)
	if err != nil {
		return nil, newPipelineError(KindUploadFailed, "Upload failed: %w", err)
	}
	logCtx.Info("Detected MIME type of forwarded artifact.", "mimeType", mimeType)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if dest.IsGCS() {
		return f.forwardToBucket(ctx, logCtx, artifactPath, filename, mimeType, dest.ServiceURL)
	}
	return f.forwardMultipart(ctx, logCtx, artifactPath, filename, mimeType, dest.ServiceURL)
}

func (f *HTTPForwarder) forwardMultipart(ctx context.Context, logCtx *slog.Logger, artifactPath, filename, mimeType, serviceURL string) (models.RemoteResponse, error) {
	body, contentType, err := multipartBody(artifactPath, filename, mimeType)
	if err != nil {
		return nil, newPipelineError(KindUploadFailed, "Upload failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serviceURL, body)
	if err != nil {
		return nil, newPipelineError(KindUploadFailed, "Upload failed: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := f.client.Do(req)
	if err != nil {
		logCtx.Error("HTTP request failed.", "error", err)
		return nil, newPipelineError(KindUploadFailed, "Upload failed: %w", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, newPipelineError(KindUploadFailed, "Upload failed: reading response: %w", err)
	}
	logCtx.Info("Upload response received.", "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return nil, newPipelineError(KindUploadFailed, "Upload failed: %d - %s", resp.StatusCode, string(reply))
	}
	return normalizeReply(resp.Header.Get("Content-Type"), reply)
}

func multipartBody(artifactPath, filename, mimeType string) (io.Reader, string, error) {
	file, err := os.Open(artifactPath)
	if err != nil {
		return nil, "", fmt.Errorf("could not open artifact %s: %w", artifactPath, err)
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": filename,
	}))
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("failed to copy artifact into request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// normalizeReply turns a destination reply into the uniform RemoteResponse shape.
func normalizeReply(contentType string, reply []byte) (models.RemoteResponse, error) {
	if !isJSONContentType(contentType) {
		return models.RemoteResponse{"text": string(reply)}, nil
	}
	// Numbers stay json.Number so large integer ids survive unchanged.
	dec := json.NewDecoder(bytes.NewReader(reply))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, newPipelineError(KindUploadFailed, "Upload failed: invalid JSON reply: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, newPipelineError(KindUploadFailed, "Upload failed: invalid JSON reply: trailing data after JSON value")
	}
	if obj, ok := decoded.(map[string]any); ok {
		return models.RemoteResponse(obj), nil
	}
	return models.RemoteResponse{"data": decoded}, nil
}

func isJSONContentType(v string) bool {
	mediaType, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.Contains(v, "application/json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func (f *HTTPForwarder) forwardToBucket(ctx context.Context, logCtx *slog.Logger, artifactPath, filename, mimeType, serviceURL string) (models.RemoteResponse, error) {
	if f.objects == nil {
		return nil, newPipelineError(KindUploadFailed, "Upload failed: no storage client configured for %s", serviceURL)
	}
	u, err := url.Parse(serviceURL)
	if err != nil {
		return nil, newPipelineError(KindUploadFailed, "Upload failed: %w", err)
	}
	bucket := u.Host
	object := path.Join(strings.Trim(u.Path, "/"), filename)

	alreadyExisted := false
	if err := f.objects.WriteObject(ctx, bucket, object, artifactPath, mimeType); err != nil {
		if !errors.Is(err, gcp.ErrObjectExists) {
			logCtx.Error("Failed to write object to bucket.", "bucket", bucket, "object", object, "error", err)
			return nil, newPipelineError(KindUploadFailed, "Upload failed: %w", err)
		}
		alreadyExisted = true
	}

	uri := fmt.Sprintf("gs://%s/%s", bucket, object)
	logCtx.Info("Artifact stored in bucket.", "uri", uri, "alreadyExisted", alreadyExisted)
	return models.RemoteResponse{
		"bucket":         bucket,
		"object":         object,
		"uri":            uri,
		"contentType":    mimeType,
		"alreadyExisted": alreadyExisted,
	}, nil
}
