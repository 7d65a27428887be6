// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

type errorKind struct {
	target error
	status int
	title  string
}

var errorKinds = []errorKind{
	{shared.ErrNotFound, http.StatusNotFound, "Not Found"},
	{shared.ErrUserExisted, http.StatusConflict, "User Existed"},
	{shared.ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	{shared.ErrForbidden, http.StatusForbidden, "Forbidden"},
	{shared.ErrBadRequest, http.StatusBadRequest, "Bad Request"},
	{shared.ErrValidation, http.StatusUnprocessableEntity, "Validation Failed"},
	{shared.ErrDatabase, http.StatusInternalServerError, "Database Error"},
	{shared.ErrInternal, http.StatusInternalServerError, "Internal Error"},
}

// StatusFor maps an error kind to its HTTP status code.
func StatusFor(err error) (int, string) {
	for _, kind := range errorKinds {
		if errors.Is(err, kind.target) {
			return kind.status, kind.title
		}
	}
	return http.StatusInternalServerError, "Internal Error"
}

// RespondError maps domain errors to HTTP responses using RFC7807. Every response
// carries a fresh error id which is logged alongside the cause.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, title := StatusFor(err)
	errorID := uuid.NewString()

	detail := err.Error()
	if status >= http.StatusInternalServerError {
		detail = ""
	}

	if logger != nil {
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(context.Background(), level, "request failed",
			slog.String("error_id", errorID),
			slog.Int("status", status),
			slog.Any("error", err),
		)
	}

	JSON(w, status, ProblemDetail{
		Title:     title,
		Status:    status,
		Detail:    detail,
		ErrorID:   errorID,
		Timestamp: time.Now().UTC(),
	})
}
