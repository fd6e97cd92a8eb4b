package api

// CSRFTokenResponse is returned from GET /auth/csrf-token.
type CSRFTokenResponse struct {
	CSRFToken string `json:"csrfToken"`
}

// TOTPVerifyRequest is the JSON body for POST /auth/totp/verify.
type TOTPVerifyRequest struct {
	Token string `json:"token"`
}

// StageUploadResponse is returned from POST /editor/uploads.
type StageUploadResponse struct {
	UploadID      string `json:"uploadId"`
	SuggestedPath string `json:"suggestedPath"`
	OriginalName  string `json:"originalName"`
}

// PendingUploadRef ties a catalog write to a previously staged upload.
// SuggestedPath must match the path returned at stage time exactly.
type PendingUploadRef struct {
	UploadID      string `json:"uploadId"`
	SuggestedPath string `json:"suggestedPath"`
}

// PendingUploadRefs carries the per-kind upload references on a project
// create/update.
type PendingUploadRefs struct {
	Image    *PendingUploadRef `json:"image,omitempty"`
	Download *PendingUploadRef `json:"download,omitempty"`
}

// ProjectRequest is the JSON body for POST/PUT /editor/projects.
type ProjectRequest struct {
	ID             string             `json:"id,omitempty"`
	Title          string             `json:"title"`
	Description    string             `json:"description,omitempty"`
	Link           string             `json:"link,omitempty"`
	Tags           []string           `json:"tags,omitempty"`
	PendingUploads *PendingUploadRefs `json:"pendingUploads,omitempty"`
}

// ProjectResponse is the wire form of a catalog project.
type ProjectResponse struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Link         string   `json:"link,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Image        string   `json:"image,omitempty"`
	DownloadPath string   `json:"downloadPath,omitempty"`
	DownloadFile string   `json:"downloadFile,omitempty"`
	CreatedAt    string   `json:"createdAt"`
	UpdatedAt    string   `json:"updatedAt"`
}

// ListProjectsResponse is returned from GET /editor/projects.
type ListProjectsResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

// RecordDownloadRequest is the JSON body for POST /analytics/downloads.
type RecordDownloadRequest struct {
	ProjectID string `json:"projectId"`
	FileID    string `json:"fileId,omitempty"`
	Path      string `json:"path,omitempty"`
}

// RecordDownloadResponse is returned from POST /analytics/downloads.
type RecordDownloadResponse struct {
	Count int64 `json:"count"`
}

// DownloadCountsResponse is returned from GET /analytics/downloads.
type DownloadCountsResponse struct {
	Counts map[string]int64 `json:"counts"`
}

// SessionInfoResponse is returned from GET /auth/session.
type SessionInfoResponse struct {
	State   string `json:"state"`
	Subject string `json:"subject,omitempty"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Method  string `json:"method,omitempty"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
