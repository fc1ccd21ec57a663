package models

// These structs define the JSON payloads exchanged with upload callers.

// RemoteResponse is the normalized reply of a destination: the decoded JSON
// object it returned, or {"text": body} for a non-JSON reply. A JSON reply
// that is not an object (array, string, number) is wrapped as {"data": value}.
// JSON numbers are kept as json.Number.
type RemoteResponse map[string]any

// UploadResponse is returned for every upload that names a known service.
type UploadResponse struct {
	OK             bool           `json:"ok"`
	RemoteResponse RemoteResponse `json:"remoteResponse,omitempty"`
	Error          string         `json:"error,omitempty"`
	ErrorKind      string         `json:"errorKind,omitempty"`
}

// ErrorDetail is the body of a request rejected before the pipeline runs.
type ErrorDetail struct {
	Detail string `json:"detail"`
}

// StatusResponse is the liveness payload.
type StatusResponse struct {
	Status string `json:"status"`
}
