package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sydlexius/tunevault/internal/aggregator"
	"github.com/sydlexius/tunevault/internal/catalog"
	"github.com/sydlexius/tunevault/internal/downloader"
	"github.com/sydlexius/tunevault/internal/library"
	"github.com/sydlexius/tunevault/internal/provider"
	"github.com/sydlexius/tunevault/internal/scanner"
	"github.com/sydlexius/tunevault/internal/version"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// errorBody is the error envelope of every failed request.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	writeJSON(w, status, errorBody{Error: message, Detail: detail})
}

// writeServiceError maps a service error onto a status code and the
// error envelope. Unclassified errors are logged and reported as 500
// without detail.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	var (
		validation *provider.ErrValidation
		dlErr      *downloader.ErrDownload
		netErr     *provider.ErrNetwork
		rlErr      *provider.ErrRateLimited
		upErr      *provider.ErrUpstream
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "invalid request", validation.Error())
	case errors.Is(err, library.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, catalog.ErrConflict), errors.Is(err, scanner.ErrScanRunning):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.As(err, &dlErr):
		writeError(w, http.StatusBadGateway, "download failed", err.Error())
	case errors.As(err, &netErr), errors.As(err, &rlErr), errors.As(err, &upErr), errors.Is(err, aggregator.ErrNoMetadata):
		writeError(w, http.StatusBadGateway, "provider error", err.Error())
	default:
		r.logger.Error("request failed",
			"method", req.Method,
			"path", req.URL.Path,
			"error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

// decodeBody decodes a JSON request body into v, rejecting unknown
// fields and oversized bodies.
func decodeBody(w http.ResponseWriter, req *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

// intQuery extracts an integer query parameter with a default value.
func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// boolQuery parses a boolean query parameter; absent or malformed
// values yield def.
func boolQuery(r *http.Request, key string, def bool) bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// pageQuery reads page/page_size, or the legacy skip/limit pair.
func pageQuery(r *http.Request) catalog.Page {
	return catalog.Page{
		Page:     intQuery(r, "page", 1),
		PageSize: intQuery(r, "page_size", 50),
		Skip:     intQuery(r, "skip", 0),
		Limit:    intQuery(r, "limit", 0),
	}
}

// unavailable answers 503 when an optional service is not wired.
func unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" not configured", "")
}

type listResponse[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func newList[T any](items []T, total int, p catalog.Page) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Total: total, Page: p.Page, PageSize: p.PageSize}
}
