package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mlindgren/vitrine/storage"
	"github.com/mlindgren/vitrine/upload"
)

const projectBodyLimit = 64 * 1024

// pendingCommit pairs one upload reference with its expected kind, after
// pre-flight validation and before the actual commit.
type pendingCommit struct {
	ref  PendingUploadRef
	kind upload.Kind
}

// CreateProject handles POST /editor/projects. Referenced uploads are
// verified against the staging registry before anything is published, so
// a bad reference aborts the whole write with no partial effect.
func (a *API) CreateProject(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ProjectRequest](w, r, projectBodyLimit)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}

	id := req.ID
	if id == "" {
		id = upload.Slugify(req.Title)
	}
	if !isProjectID(id) {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}
	if _, err := a.loadProject(id); err == nil {
		writeError(w, http.StatusConflict, codeInvalidRequest)
		return
	} else if !isNotFound(err) {
		a.logger.Error("checking project existence", "project", id, "error", err)
		writeInternalError(w)
		return
	}

	now := time.Now().UTC()
	rec := projectRecord{
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		Link:        req.Link,
		Tags:        req.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	a.writeProject(w, r, rec, req.PendingUploads, http.StatusCreated)
}

// UpdateProject handles PUT /editor/projects/{id}. The record must exist;
// upload references follow the same commit protocol as create.
func (a *API) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := a.loadProject(id)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, codeProjectNotFound)
			return
		}
		a.logger.Error("loading project", "project", id, "error", err)
		writeInternalError(w)
		return
	}

	req, ok := decodeJSON[ProjectRequest](w, r, projectBodyLimit)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}

	rec.Title = req.Title
	rec.Description = req.Description
	rec.Link = req.Link
	rec.Tags = req.Tags
	rec.UpdatedAt = time.Now().UTC()
	a.writeProject(w, r, rec, req.PendingUploads, http.StatusOK)
}

// writeProject runs the two-phase asset commit and persists the catalog
// record. Phase one verifies every reference against the staging registry
// without consuming anything; phase two commits the uploads and then the
// record.
func (a *API) writeProject(w http.ResponseWriter, r *http.Request, rec projectRecord, refs *PendingUploadRefs, successStatus int) {
	commits, err := validatePendingUploads(a.stager, refs)
	if err != nil {
		mapCommitError(w, err)
		return
	}

	for _, c := range commits {
		path, err := a.stager.Commit(c.ref.UploadID, c.kind, c.ref.SuggestedPath)
		if err != nil {
			mapCommitError(w, err)
			return
		}
		a.audit.logEvent(AuditUploadCommitted, r, subjectFromContext(r))
		switch c.kind {
		case upload.KindImage:
			rec.Image = path
		case upload.KindDownload:
			rec.DownloadPath = path
			rec.DownloadFile = strings.TrimPrefix(path, "/downloads/")
		}
	}

	if err := a.saveProject(rec); err != nil {
		a.logger.Error("saving project", "project", rec.ID, "error", err)
		writeInternalError(w)
		return
	}

	a.audit.logEvent(AuditProjectSaved, r, subjectFromContext(r))
	writeJSON(w, successStatus, projectToResponse(rec))
}

// validatePendingUploads checks every reference in refs against the
// staging registry before any commit. A missing id, a kind that does not
// match the slot, or a tampered path fails the whole set.
func validatePendingUploads(stager *upload.Stager, refs *PendingUploadRefs) ([]pendingCommit, error) {
	if refs == nil {
		return nil, nil
	}
	var commits []pendingCommit
	add := func(ref *PendingUploadRef, kind upload.Kind) error {
		if ref == nil {
			return nil
		}
		p, ok := stager.Lookup(ref.UploadID)
		if !ok {
			return fmt.Errorf("%s: %w", ref.UploadID, upload.ErrNotFound)
		}
		if p.Kind != kind {
			return fmt.Errorf("upload %s is %s, not %s: %w", ref.UploadID, p.Kind, kind, upload.ErrMismatch)
		}
		if p.PublicPath != ref.SuggestedPath {
			return fmt.Errorf("upload %s path mismatch: %w", ref.UploadID, upload.ErrMismatch)
		}
		commits = append(commits, pendingCommit{ref: *ref, kind: kind})
		return nil
	}
	if err := add(refs.Image, upload.KindImage); err != nil {
		return nil, err
	}
	if err := add(refs.Download, upload.KindDownload); err != nil {
		return nil, err
	}
	return commits, nil
}

// GetProject handles GET /editor/projects/{id}.
func (a *API) GetProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := a.loadProject(id)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, codeProjectNotFound)
			return
		}
		a.logger.Error("loading project", "project", id, "error", err)
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, projectToResponse(rec))
}

// ListProjects handles GET /editor/projects, ordered by id.
func (a *API) ListProjects(w http.ResponseWriter, r *http.Request) {
	ids, err := a.repo.List(storage.KindProject)
	if err != nil {
		a.logger.Error("listing projects", "error", err)
		writeInternalError(w)
		return
	}
	projects := make([]ProjectResponse, 0, len(ids))
	for _, id := range ids {
		rec, err := a.loadProject(id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			a.logger.Error("loading project", "project", id, "error", err)
			writeInternalError(w)
			return
		}
		projects = append(projects, projectToResponse(rec))
	}
	writeJSON(w, http.StatusOK, ListProjectsResponse{Projects: projects})
}

// DeleteProject handles DELETE /editor/projects/{id}. Published asset
// files are left in place; only the catalog record goes away.
func (a *API) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.loadProject(id); err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, codeProjectNotFound)
			return
		}
		a.logger.Error("loading project", "project", id, "error", err)
		writeInternalError(w)
		return
	}
	if err := a.repo.Delete(storage.KindProject, id); err != nil {
		a.logger.Error("deleting project", "project", id, "error", err)
		writeInternalError(w)
		return
	}
	a.audit.logEvent(AuditProjectDeleted, r, subjectFromContext(r))
	w.WriteHeader(http.StatusNoContent)
}

func projectToResponse(rec projectRecord) ProjectResponse {
	return ProjectResponse{
		ID:           rec.ID,
		Title:        rec.Title,
		Description:  rec.Description,
		Link:         rec.Link,
		Tags:         rec.Tags,
		Image:        rec.Image,
		DownloadPath: rec.DownloadPath,
		DownloadFile: rec.DownloadFile,
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
