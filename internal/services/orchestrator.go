package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/uploadsanitizer/internal/destinations"
	"github.com/Lllllllleong/uploadsanitizer/internal/models"
)

// DestinationLookup resolves a service id to its destination.
type DestinationLookup interface {
	Lookup(id string) (destinations.Destination, bool)
}

// UploadOrchestrator owns the lifecycle of one upload: save, sniff, sanitize
// PDFs, forward, and always delete every working file it created.
type UploadOrchestrator struct {
	logger    *slog.Logger
	registry  DestinationLookup
	workArea  *WorkArea
	sanitizer Sanitizer
	forwarder Forwarder
	audit     AuditRecorder
	observer  Observer
}

// NewUploadOrchestrator wires the pipeline. audit and observer may be nil.
func NewUploadOrchestrator(logger *slog.Logger, registry DestinationLookup, workArea *WorkArea, sanitizer Sanitizer, forwarder Forwarder, audit AuditRecorder, observer Observer) *UploadOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = NopAuditRecorder{}
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &UploadOrchestrator{
		logger:    logger,
		registry:  registry,
		workArea:  workArea,
		sanitizer: sanitizer,
		forwarder: forwarder,
		audit:     audit,
		observer:  observer,
	}
}

// outcome is what one pass through the pipeline produced.
type outcome struct {
	mimeType  string
	sanitized bool
	remote    models.RemoteResponse
	err       error
}

// Handle runs the pipeline for one upload. The only error it returns is
// ErrInvalidService, raised before anything touches the disk; every other
// failure is reported inside the ok:false response.
func (o *UploadOrchestrator) Handle(ctx context.Context, serviceID, filename string, data []byte) (*models.UploadResponse, error) {
	dest, ok := o.registry.Lookup(serviceID)
	if !ok {
		o.logger.Error("Invalid service id.", "serviceId", serviceID)
		return nil, ErrInvalidService
	}

	token := NewToken()
	safeName := SafeFilename(filename)
	logCtx := o.logger.With("serviceId", serviceID, "uploadId", token, "filename", safeName)
	logCtx.Info("Received upload request.", "size", len(data))

	record := models.UploadRecord{
		ServiceID:        serviceID,
		OriginalFilename: safeName,
		FileHash:         calculateHash(data),
		Size:             int64(len(data)),
		CreatedAt:        time.Now(),
	}
	recordID, err := o.audit.Start(ctx, record)
	if err != nil {
		logCtx.Warn("Failed to create upload record.", "error", err)
	}

	out := o.process(ctx, logCtx, token, safeName, data, dest)

	record.DetectedMIMEType = out.mimeType
	record.Sanitized = out.sanitized
	record.CompletedAt = time.Now()
	record.Status = models.StatusForwarded
	if out.err != nil {
		record.Status = models.StatusFailed
		record.ErrorKind = string(KindOf(out.err))
		record.ErrorDetails = out.err.Error()
	}
	if err := o.audit.Finish(context.WithoutCancel(ctx), recordID, record); err != nil {
		logCtx.Warn("Failed to finalize upload record.", "error", err)
	}
	o.observer.RecordOutcome(out.mimeType, out.sanitized, KindOf(out.err))

	if out.err != nil {
		logCtx.Error("Error during file upload and processing.", "error", out.err, "errorKind", KindOf(out.err))
		return &models.UploadResponse{
			OK:        false,
			Error:     out.err.Error(),
			ErrorKind: string(KindOf(out.err)),
		}, nil
	}
	logCtx.Info("Upload successful.")
	return &models.UploadResponse{OK: true, RemoteResponse: out.remote}, nil
}

// process runs the sequential steps. Each working file gets its cleanup
// deferred as soon as its path is known, so deletion runs on every exit path.
func (o *UploadOrchestrator) process(ctx context.Context, logCtx *slog.Logger, token, filename string, data []byte, dest destinations.Destination) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			logCtx.Error("Upload pipeline panicked.", "panic", r)
			out.remote = nil
			out.err = fmt.Errorf("internal error while processing upload: %v", r)
		}
	}()

	start := time.Now()
	rawPath, err := o.workArea.SaveUpload(token, filename, data)
	o.observer.RecordStage("save", time.Since(start), err)
	if err != nil {
		out.err = &PipelineError{Kind: KindSaveFailed, Err: err}
		return out
	}
	defer o.cleanup(logCtx, rawPath)
	logCtx.Info("Saved uploaded file.", "path", rawPath)

	out.mimeType = DetectMIME(data)
	logCtx.Info("Detected MIME type.", "mimeType", out.mimeType)

	artifact := rawPath
	if out.mimeType == MIMEPDF {
		expected := o.workArea.SanitizedPath(rawPath)
		defer o.cleanup(logCtx, expected)

		logCtx.Info("Sanitizing PDF.")
		start = time.Now()
		sanitizedPath, err := o.sanitizer.Sanitize(logCtx, rawPath)
		o.observer.RecordStage("sanitize", time.Since(start), err)
		if err != nil {
			out.err = err
			return out
		}
		if sanitizedPath != expected {
			defer o.cleanup(logCtx, sanitizedPath)
		}
		out.sanitized = true
		artifact = sanitizedPath
		logCtx.Info("PDF sanitized.", "path", sanitizedPath)
	} else {
		logCtx.Info("Non-PDF file, skipping sanitization.")
	}

	logCtx.Info("Uploading to external service.", "serviceUrl", dest.ServiceURL)
	start = time.Now()
	remote, err := o.forwarder.Forward(ctx, logCtx, artifact, filename, dest)
	o.observer.RecordStage("forward", time.Since(start), err)
	if err != nil {
		out.err = err
		return out
	}
	out.remote = remote
	logCtx.Info("Forwarded artifact.")
	return out
}

func (o *UploadOrchestrator) cleanup(logCtx *slog.Logger, path string) {
	removed, err := RemoveWorkingFile(path)
	if err != nil {
		o.observer.RecordCleanupFailure()
		logCtx.Warn("Failed to delete temporary file.", "path", path, "error", err, "errorKind", KindCleanupFailed)
		return
	}
	if removed {
		logCtx.Info("Deleted temporary file.", "path", path)
	}
}
