package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/GroundControl/internal/domain"
	"github.com/Strob0t/GroundControl/internal/domain/decision"
	"github.com/Strob0t/GroundControl/internal/domain/drone"
	"github.com/Strob0t/GroundControl/internal/service"
)

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request, bodyLimit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}

// parseHistoryQuery reads the ledger filter and page from query parameters:
// drone_id, outcome, since, until (RFC 3339), offset and limit.
func parseHistoryQuery(q url.Values) (decision.Filter, decision.Page, error) {
	var f decision.Filter
	var p decision.Page

	f.DroneID = q.Get("drone_id")
	if o := q.Get("outcome"); o != "" {
		if !decision.ValidOutcome(o) {
			return f, p, fmt.Errorf("unknown outcome %q", o)
		}
		f.Outcome = decision.Outcome(o)
	}

	var err error
	if f.Since, err = parseTime(q, "since"); err != nil {
		return f, p, err
	}
	if f.Until, err = parseTime(q, "until"); err != nil {
		return f, p, err
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Since.Before(f.Until) {
		return f, p, errors.New("since must be before until")
	}

	if p.Offset, err = parseInt(q, "offset"); err != nil {
		return f, p, err
	}
	if p.Limit, err = parseInt(q, "limit"); err != nil {
		return f, p, err
	}
	return f, p.Normalize(), nil
}

// parseDroneFilter reads the optional active (bool) and module query parameters.
func parseDroneFilter(q url.Values) (drone.ListFilter, error) {
	f := drone.ListFilter{Module: q.Get("module")}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("active must be true or false")
		}
		f.Active = &active
	}
	return f, nil
}

func parseTime(q url.Values, key string) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", key)
	}
	return t, nil
}

func parseInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg)
	case errors.Is(err, domain.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "decision already resolved")
	case errors.Is(err, domain.ErrConflict):
		msg := "resource already exists"
		if detail, ok := strings.CutPrefix(err.Error(), domain.ErrConflict.Error()+": "); ok {
			msg = detail
		}
		writeError(w, http.StatusConflict, msg)
	case errors.Is(err, domain.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		writeError(w, http.StatusBadRequest, msg)
	case errors.Is(err, domain.ErrDispatchRejected), errors.Is(err, domain.ErrDispatch):
		slog.Warn("dispatch failed", "error", err)
		writeError(w, http.StatusBadGateway, "vehicle link failed to deliver command")
	case errors.Is(err, domain.ErrCacheRefresh):
		slog.Warn("context refresh failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "fleet context unavailable")
	case errors.Is(err, service.ErrEngineClosed):
		writeError(w, http.StatusServiceUnavailable, "decision engine is shutting down")
	default:
		slog.Error("unhandled domain error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
