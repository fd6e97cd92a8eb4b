package api

import (
	"net/http"
	"strings"
)

const recordDownloadBodyLimit = 8 * 1024

// maxCountQueryIDs caps how many ids one counts query may name.
const maxCountQueryIDs = 100

// DownloadCounts handles GET /analytics/downloads?ids=a,b,c. Unknown and
// malformed ids are silently omitted so the endpoint leaks nothing about
// which projects exist.
func (a *API) DownloadCounts(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		writeJSON(w, http.StatusOK, DownloadCountsResponse{Counts: map[string]int64{}})
		return
	}

	parts := strings.Split(raw, ",")
	if len(parts) > maxCountQueryIDs {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}

	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		id := strings.TrimSpace(part)
		if isProjectID(id) {
			ids = append(ids, id)
		}
	}

	writeJSON(w, http.StatusOK, DownloadCountsResponse{Counts: a.counters.Counts(ids)})
}

// RecordDownload handles POST /analytics/downloads. The project must
// exist in the catalog before its counter moves; the write is durable
// before the response goes out.
func (a *API) RecordDownload(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RecordDownloadRequest](w, r, recordDownloadBodyLimit)
	if !ok {
		return
	}
	if !isProjectID(req.ProjectID) || len(req.FileID) > 256 || len(req.Path) > 1024 {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}

	if _, err := a.loadProject(req.ProjectID); err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, codeProjectNotFound)
			return
		}
		a.logger.Error("loading project for download count", "project", req.ProjectID, "error", err)
		writeInternalError(w)
		return
	}

	count, err := a.counters.Increment(req.ProjectID, req.FileID, req.Path)
	if err != nil {
		a.logger.Error("incrementing download counter", "project", req.ProjectID, "error", err)
		writeInternalError(w)
		return
	}

	a.audit.logEvent(AuditDownloadCounted, r, "")
	writeJSON(w, http.StatusAccepted, RecordDownloadResponse{Count: count})
}

// isProjectID bounds project ids to the slug alphabet used at creation
// time: lowercase letters, digits, hyphens.
func isProjectID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}
