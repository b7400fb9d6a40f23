// Package protocol defines the API request/response types.
package protocol

import "time"

// Envelope wraps every JSON API response.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the error payload carried by Envelope on failures.
type ErrorBody struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Suggestion   string `json:"suggestion"`
	RequiresAuth bool   `json:"requiresAuth,omitempty"`
}

// FileInfo describes a single Drive file.
type FileInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modifiedTime,omitzero"`
	IsGoogleDoc  bool      `json:"isGoogleDoc,omitempty"`
}

// MetadataResponse is returned by GET /api/v1/metadata/{id}.
type MetadataResponse struct {
	File FileInfo `json:"file"`
}

// FolderListResponse is returned by GET /api/v1/folder/{id}/files.
type FolderListResponse struct {
	FolderID   string     `json:"folderId"`
	FolderName string     `json:"folderName"`
	Files      []FileInfo `json:"files"`
	TotalSize  int64      `json:"totalSize"`
}

// ParseRequest is the body for POST /api/v1/parse.
type ParseRequest struct {
	URL string `json:"url"`
}

// ParseResponse is the parsed resource reference.
type ParseResponse struct {
	Kind         string `json:"kind"` // "file" or "folder"
	ID           string `json:"id"`
	CanonicalURL string `json:"canonicalUrl"`
}

// TaskRequest is the body for POST /api/v1/tasks.
type TaskRequest struct {
	URL string `json:"url"`
}

// TaskResponse describes one tracked download task.
type TaskResponse struct {
	ID         string     `json:"id"`
	ResourceID string     `json:"resourceId"`
	FileName   string     `json:"fileName"`
	Status     string     `json:"status"`
	Percent    float64    `json:"percent"`
	Speed      int64      `json:"speedBytesPerSec"`
	Error      *ErrorBody `json:"error,omitempty"`
}

// TaskListResponse is returned by GET /api/v1/tasks.
type TaskListResponse struct {
	Tasks            []TaskResponse `json:"tasks"`
	AggregatePercent float64        `json:"aggregatePercent"`
}

// AuthStartResponse is returned by POST /api/v1/auth/provider.
type AuthStartResponse struct {
	AuthURL string `json:"authUrl"`
}

// AuthStatusResponse is returned by GET /api/v1/auth/me.
type AuthStatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
}
