package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"replicate-relay/internal/replicate"

	"github.com/gorilla/schema"
)

// ErrorResponse is the body of every failed request. Status and Body are
// set only when an upstream error is passed through.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Detail  string          `json:"detail,omitempty"`
	Message string          `json:"message,omitempty"`
	Hint    string          `json:"hint,omitempty"`
	Status  int             `json:"status,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

type codedError struct {
	err  error
	code int
	name string
	hint string
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(code int, err error) error {
	return &codedError{err: err, code: code, name: http.StatusText(code)}
}

func CodedErrorf(code int, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code, name: http.StatusText(code)}
}

// NamedErrorf sets an explicit error name instead of the status text, for
// failure classes callers match on (e.g. "Polling failed").
func NamedErrorf(code int, name, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code, name: name}
}

// ConfigErrorf carries a hint guiding the operator to fix configuration,
// distinguishing these from upstream failures.
func ConfigErrorf(code int, hint, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code, name: http.StatusText(code), hint: hint}
}

func ParseRequest[T any](r *http.Request) (T, error) {
	var data T
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		slog.Error("error parsing request body", "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "Invalid JSON body")
	}
	return data, nil
}

func ParseRequestQueryParams[T any](r *http.Request) (T, error) {
	var data T
	if err := r.ParseForm(); err != nil {
		slog.Error("error parsing form", "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request query params")
	}

	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	if err := decoder.Decode(&data, r.Form); err != nil {
		slog.Error("error decoding query params", "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request query params")
	}

	return data, nil
}

// StatusResponse lets a handler pick a non-200 success code (202 for
// still-pending polls).
type StatusResponse struct {
	Code int
	Body any
}

func RestHandler(handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			WriteErrorResponse(w, err)
			return
		}

		if sr, ok := res.(*StatusResponse); ok {
			WriteJsonResponse(w, sr.Code, sr.Body)
			return
		}

		if res == nil {
			res = struct{}{}
		}

		WriteJsonResponse(w, http.StatusOK, res)
	}
}

func WriteErrorResponse(w http.ResponseWriter, err error) {
	var upstreamErr *replicate.UpstreamError
	if errors.As(err, &upstreamErr) {
		WriteJsonResponse(w, upstreamErr.StatusCode, ErrorResponse{
			Error:  "Replicate API error",
			Status: upstreamErr.StatusCode,
			Body:   upstreamErr.Body,
		})
		return
	}

	var cerr *codedError
	if errors.As(err, &cerr) {
		if cerr.code == http.StatusInternalServerError {
			slog.Error("internal server error received in endpoint", "error", err)
		}
		WriteJsonResponse(w, cerr.code, ErrorResponse{
			Error:  cerr.name,
			Detail: cerr.err.Error(),
			Hint:   cerr.hint,
		})
		return
	}

	slog.Error("received non coded error from endpoint", "error", err)
	WriteJsonResponse(w, http.StatusInternalServerError, ErrorResponse{
		Error:  "Internal Server Error",
		Detail: err.Error(),
	})
}

func WriteJsonResponse(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("error serializing response body", "error", err)
	}
}

// Recoverer converts panics into the structured 500 body instead of a raw
// transport failure.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic in request handler", "panic", rec, "path", r.URL.Path)
				WriteJsonResponse(w, http.StatusInternalServerError, ErrorResponse{
					Error:  "Internal Server Error",
					Detail: fmt.Sprint(rec),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
