// Package http exposes the ledger services as a JSON API.
//
// This file builds JSON responses and maps service errors to status codes.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"dividi/internal/auth"
	"dividi/internal/log"
	"dividi/internal/services"
	"dividi/internal/store"
)

// errorBody is the shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// JSONResponse provides a fluent API for building JSON responses.
type JSONResponse struct {
	statusCode int
	headers    map[string]string
	body       any
}

// NewJSONResponse creates a response with a 200 status.
func NewJSONResponse() *JSONResponse {
	return &JSONResponse{statusCode: http.StatusOK, headers: make(map[string]string)}
}

func (b *JSONResponse) Status(code int) *JSONResponse {
	b.statusCode = code
	return b
}

func (b *JSONResponse) Header(name, value string) *JSONResponse {
	b.headers[name] = value
	return b
}

func (b *JSONResponse) Body(v any) *JSONResponse {
	b.body = v
	return b
}

// Write sends the built response.
func (b *JSONResponse) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	NewJSONResponse().Status(status).Body(v).Write(w)
}

// ErrorResponse creates a standard error response.
func ErrorResponse(r *http.Request, statusCode int, message string) *JSONResponse {
	return NewJSONResponse().
		Status(statusCode).
		Body(errorBody{Error: message, RequestID: requestID(r)})
}

// errorStatus maps a service error to a status code and a message safe to
// show to clients.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrNotMember):
		return http.StatusForbidden, "you are not a member of this group"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrWeakPassword):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, auth.ErrUsernameTaken):
		return http.StatusConflict, err.Error()
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "already exists"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "missing or invalid bearer token"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeError logs server errors and writes the mapped response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldError, err.Error())
	}
	ErrorResponse(r, status, msg).Write(w)
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(r *http.Request, message string) *JSONResponse {
	return ErrorResponse(r, http.StatusBadRequest, message)
}

// UnprocessableEntityError creates a 422 Unprocessable Entity error response.
func UnprocessableEntityError(r *http.Request, message string) *JSONResponse {
	return ErrorResponse(r, http.StatusUnprocessableEntity, message)
}
