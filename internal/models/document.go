package models

import "time"

// UploadRecord is the audit entry kept in Firestore for one upload request.
// It tracks the outcome of the pipeline, never the file content itself.
type UploadRecord struct {
	ServiceID        string    `firestore:"serviceId,omitempty"`
	OriginalFilename string    `firestore:"originalFilename,omitempty"`
	FileHash         string    `firestore:"fileHash,omitempty"`
	Size             int64     `firestore:"size,omitempty"`
	DetectedMIMEType string    `firestore:"detectedMimeType,omitempty"`
	Sanitized        bool      `firestore:"sanitized"`
	Status           string    `firestore:"status,omitempty"`
	ErrorKind        string    `firestore:"errorKind,omitempty"`
	ErrorDetails     string    `firestore:"errorDetails,omitempty"`
	CreatedAt        time.Time `firestore:"createdAt,omitempty"`
	CompletedAt      time.Time `firestore:"completedAt,omitempty"`
}

// Upload record statuses.
const (
	StatusReceived  = "RECEIVED"
	StatusForwarded = "FORWARDED"
	StatusFailed    = "FAILED"
)
