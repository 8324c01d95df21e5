package api

import "net/http"

// handleMaintenanceStatus reports database size and maintenance stamps.
// GET /api/v1/maintenance/status
func (r *Router) handleMaintenanceStatus(w http.ResponseWriter, req *http.Request) {
	if r.maintenance == nil {
		unavailable(w, "maintenance")
		return
	}
	status, err := r.maintenance.Status(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleMaintenanceOptimize runs PRAGMA optimize and a WAL checkpoint.
// POST /api/v1/maintenance/optimize
func (r *Router) handleMaintenanceOptimize(w http.ResponseWriter, req *http.Request) {
	if r.maintenance == nil {
		unavailable(w, "maintenance")
		return
	}
	if err := r.maintenance.Optimize(req.Context()); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMaintenanceSweep deletes cached files past the retention window.
// POST /api/v1/maintenance/sweep
func (r *Router) handleMaintenanceSweep(w http.ResponseWriter, req *http.Request) {
	if r.maintenance == nil {
		unavailable(w, "maintenance")
		return
	}
	res, err := r.maintenance.SweepCache(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
