package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mlindgren/vitrine/upload"
)

// uploadFilenameHeader carries the client's original filename on stage
// requests; the raw body is the file content.
const uploadFilenameHeader = "X-Upload-Filename"

// StageUpload handles POST /editor/uploads?kind=image|download. The file
// is written to a quarantine area and stays invisible to the public site
// until a catalog write commits it.
func (a *API) StageUpload(w http.ResponseWriter, r *http.Request) {
	kind, err := upload.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidUpload)
		return
	}

	result, err := a.stager.Stage(r.Body, kind, r.Header.Get("Content-Type"), r.Header.Get(uploadFilenameHeader))
	if err != nil {
		mapUploadError(w, err)
		return
	}

	a.audit.logEvent(AuditUploadStaged, r, subjectFromContext(r))
	writeJSON(w, http.StatusCreated, StageUploadResponse{
		UploadID:      result.UploadID,
		SuggestedPath: result.SuggestedPath,
		OriginalName:  result.OriginalName,
	})
}

// CancelUpload handles DELETE /editor/uploads/{id}. Cancelling an already
// consumed or expired upload reports not found.
func (a *API) CancelUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.stager.Cancel(id); err != nil {
		mapUploadError(w, err)
		return
	}
	a.audit.logEvent(AuditUploadCancelled, r, subjectFromContext(r))
	w.WriteHeader(http.StatusNoContent)
}

// subjectFromContext returns the authenticated subject for audit entries,
// or empty when the middleware stack has not established one.
func subjectFromContext(r *http.Request) string {
	if ref, ok := sessionFromContext(r.Context()); ok {
		return ref.sess.Subject
	}
	return ""
}
