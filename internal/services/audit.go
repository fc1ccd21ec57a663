package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/uploadsanitizer/internal/models"
)

// AuditRecorder keeps an external record of each upload's outcome.
// Recorder failures are logged by the caller and never fail the upload.
type AuditRecorder interface {
	Start(ctx context.Context, rec models.UploadRecord) (string, error)
	Finish(ctx context.Context, recordID string, rec models.UploadRecord) error
}

// NopAuditRecorder discards all records.
type NopAuditRecorder struct{}

func (NopAuditRecorder) Start(context.Context, models.UploadRecord) (string, error) { return "", nil }

func (NopAuditRecorder) Finish(context.Context, string, models.UploadRecord) error { return nil }

// FirestoreAuditRecorder writes one document per upload into a collection.
type FirestoreAuditRecorder struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreAuditRecorder creates a Firestore client for projectID.
func NewFirestoreAuditRecorder(ctx context.Context, projectID, collection string) (*FirestoreAuditRecorder, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection must be provided for upload records")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return &FirestoreAuditRecorder{client: client, collection: collection}, nil
}

// Start adds the initial record and returns its document id.
func (r *FirestoreAuditRecorder) Start(ctx context.Context, rec models.UploadRecord) (string, error) {
	rec.Status = models.StatusReceived
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	docRef, _, err := r.client.Collection(r.collection).Add(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("failed to create upload record: %w", err)
	}
	return docRef.ID, nil
}

// Finish stores the final status of the upload.
func (r *FirestoreAuditRecorder) Finish(ctx context.Context, recordID string, rec models.UploadRecord) error {
	if recordID == "" {
		return nil
	}
	updates := []firestore.Update{
		{Path: "status", Value: rec.Status},
		{Path: "detectedMimeType", Value: rec.DetectedMIMEType},
		{Path: "sanitized", Value: rec.Sanitized},
		{Path: "completedAt", Value: rec.CompletedAt},
	}
	if rec.ErrorKind != "" {
		updates = append(updates,
			firestore.Update{Path: "errorKind", Value: rec.ErrorKind},
			firestore.Update{Path: "errorDetails", Value: rec.ErrorDetails},
		)
	}
	if _, err := r.client.Collection(r.collection).Doc(recordID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update upload record %s: %w", recordID, err)
	}
	return nil
}

// Close releases the Firestore client.
func (r *FirestoreAuditRecorder) Close() error {
	return r.client.Close()
}

func calculateHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
