package api

import (
	"errors"
	"net/http"
)

type AppError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest     = &AppError{Code: http.StatusBadRequest, Message: "bad request"}
	ErrUnauthorized   = &AppError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	ErrForbidden      = &AppError{Code: http.StatusForbidden, Message: "forbidden"}
	ErrNotFound       = &AppError{Code: http.StatusNotFound, Message: "not found"}
	ErrInternalServer = &AppError{Code: http.StatusInternalServerError, Message: "internal server error"}
	ErrValidation     = &AppError{Code: http.StatusBadRequest, Message: "validation error"}

	// Admission outcomes. Rate limits and blocks both answer 429; a block is
	// just not retryable without manual review.
	ErrRateLimited   = &AppError{Code: http.StatusTooManyRequests, Message: "rate limit exceeded"}
	ErrBlocked       = &AppError{Code: http.StatusTooManyRequests, Message: "requests from this client are blocked"}
	ErrQuotaExceeded = &AppError{Code: http.StatusPaymentRequired, Message: "quota exceeded"}
	ErrQueueTimeout  = &AppError{Code: http.StatusServiceUnavailable, Message: "no transcription capacity available, retry shortly"}
)

func NewBadRequestError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func NewValidationError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		JSONErrorMessage(w, appErr.Code, appErr.Message)
		return
	}
	JSONErrorMessage(w, http.StatusInternalServerError, "internal server error")
}
