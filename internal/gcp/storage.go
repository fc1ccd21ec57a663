package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ErrObjectExists is returned by UploadFileAtomically when the destination
// object was already present and the write precondition rejected it.
var ErrObjectExists = errors.New("object already exists")

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvInt64 reads an integer environment variable, falling back on absence or parse failure.
func GetEnvInt64(key string, fallback int64) int64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.Warn("Ignoring malformed integer environment variable.", "key", key, "value", raw)
		return fallback
	}
	return v
}

// GetEnvDuration reads a time.ParseDuration value, falling back on absence or parse failure.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Ignoring malformed duration environment variable.", "key", key, "value", raw)
		return fallback
	}
	return v
}

// RetryPolicy controls UploadFileAtomically's retry loop.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// DefaultRetryPolicy mirrors the page-upload policy: four attempts, doubling from one second.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 4, InitialBackoff: time.Second}

// UploadFileAtomically streams a local file into a GCS object only if it doesn't already exist.
// Transient failures are retried with exponential backoff; an existing object yields ErrObjectExists
// without retrying.
func UploadFileAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, localPath, contentType string, policy RetryPolicy) error {
	return uploadWithRetry(ctx, objectName, policy, waitBackoff, func() error {
		localFileReader, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("could not open local file %s: %w", localPath, err)
		}
		defer localFileReader.Close()

		writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
		writer.ContentType = contentType

		if _, err := io.Copy(writer, localFileReader); err != nil {
			_ = writer.Close()
			return fmt.Errorf("io.Copy to GCS failed: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
		}
		return nil
	})
}

// uploadWithRetry runs attempt up to policy.MaxRetries times. There is no
// wait after the final attempt.
func uploadWithRetry(ctx context.Context, objectName string, policy RetryPolicy, wait func(context.Context, time.Duration) error, attempt func() error) error {
	if policy.MaxRetries <= 0 {
		policy = DefaultRetryPolicy
	}
	backoff := policy.InitialBackoff
	var lastErr error

	for i := 0; i < policy.MaxRetries; i++ {
		err := attempt()
		if err == nil {
			return nil
		}
		if isPreconditionFailed(err) {
			slog.Info("SKIPPING: Object already exists.", "gcsObject", objectName)
			return ErrObjectExists
		}

		lastErr = err
		if i == policy.MaxRetries-1 {
			break
		}
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", objectName,
			"attempt", i+1,
			"maxRetries", policy.MaxRetries,
			"backoff", backoff.String(),
			"error", err,
		)
		if err := wait(ctx, backoff); err != nil {
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", objectName, "error", err)
			return err
		}
		backoff *= 2
	}
	slog.Error("Upload failed after all retries.", "gcsObject", objectName, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", objectName, lastErr)
}

func waitBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
