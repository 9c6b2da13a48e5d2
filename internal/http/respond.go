package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   domain.Kind    `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

var statusByKind = map[domain.Kind]int{
	domain.KindBadRequest:        http.StatusBadRequest,
	domain.KindUnauthorized:      http.StatusUnauthorized,
	domain.KindForbidden:         http.StatusForbidden,
	domain.KindNotFound:          http.StatusNotFound,
	domain.KindConflict:          http.StatusConflict,
	domain.KindInsufficientStock: http.StatusBadRequest,
	domain.KindInvalidState:      http.StatusConflict,
	domain.KindInternal:          http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders err as {error, message, details}. Internal failures are
// logged and replaced by a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var typed *domain.Error
	if !errors.As(err, &typed) {
		typed = domain.Internal(err)
	}
	status, ok := statusByKind[typed.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := errorBody{Error: typed.Kind, Message: typed.Message, Details: typed.Details}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r)),
			zap.Error(err))
		body = errorBody{Error: domain.KindInternal, Message: "internal error"}
	}
	writeJSON(w, status, body)
}

func badRequest(format string, args ...any) *domain.Error {
	return domain.BadRequest(format, args...)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return badRequest("request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return badRequest("request body is empty")
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return badRequest("invalid value for %s", typeErr.Field).WithField(typeErr.Field)
		}
		if name, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
			field := strings.Trim(name, `"`)
			return badRequest("unknown field %s", field).WithField(field)
		}
		return badRequest("invalid JSON body")
	}
	return nil
}

func parseOptionalInt(raw, name string, defaultValue int) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, badRequest("%s must be an integer", name).WithField(name)
	}
	if parsed < 0 {
		return 0, badRequest("%s cannot be negative", name).WithField(name)
	}
	return parsed, nil
}

func parseOptionalBool(raw, name string) (bool, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return false, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, badRequest("%s must be true or false", name).WithField(name)
	}
	return parsed, nil
}

// parseOptionalTime accepts RFC 3339 or a bare date. A bare end date covers
// the whole day.
func parseOptionalTime(raw, name string, endOfDay bool) (*time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return &parsed, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, badRequest("%s must be a date (YYYY-MM-DD) or RFC 3339 time", name).WithField(name)
	}
	if endOfDay {
		parsed = parsed.Add(24*time.Hour - time.Nanosecond)
	}
	return &parsed, nil
}

func parsePage(r *http.Request) (repository.Page, error) {
	query := r.URL.Query()
	page, err := parseOptionalInt(query.Get("page"), "page", 1)
	if err != nil {
		return repository.Page{}, err
	}
	limit, err := parseOptionalInt(query.Get("limit"), "limit", 0)
	if err != nil {
		return repository.Page{}, err
	}
	if limit > repository.MaxPageLimit {
		return repository.Page{}, badRequest("limit must not exceed %d", repository.MaxPageLimit).WithField("limit")
	}
	return repository.Page{Page: page, Limit: limit}.Normalize(), nil
}

type pageBody[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func paged[T any](items []T, total int, page repository.Page) pageBody[T] {
	if items == nil {
		items = []T{}
	}
	return pageBody[T]{Items: items, Total: total, Page: page.Page, Limit: page.Limit}
}

func itemsBody[T any](items []T) map[string]any {
	if items == nil {
		items = []T{}
	}
	return map[string]any{"items": items, "count": len(items)}
}

func requireNonEmpty(value, name string) error {
	if strings.TrimSpace(value) == "" {
		return badRequest("%s is required", name).WithField(name)
	}
	return nil
}
