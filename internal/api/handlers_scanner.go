package api

import "net/http"

// handleScanRun triggers a library scan. Scans are incremental unless
// ?full=true.
// POST /api/v1/scan
func (r *Router) handleScanRun(w http.ResponseWriter, req *http.Request) {
	if r.scanner == nil {
		unavailable(w, "scanner")
		return
	}

	result, err := r.scanner.Run(r.bg, !boolQuery(req, "full", false))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

// handleScanStatus returns the current or most recent scan status.
// GET /api/v1/scan/status
func (r *Router) handleScanStatus(w http.ResponseWriter, req *http.Request) {
	if r.scanner == nil {
		unavailable(w, "scanner")
		return
	}

	status := r.scanner.Status()
	if status == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "idle"})
		return
	}

	writeJSON(w, http.StatusOK, status)
}
