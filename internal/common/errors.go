package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors.
//
// ErrDocumentParse is the only run-fatal kind: the input bytes could not be
// interpreted as a PDF, so the caller gets a parse failure instead of a
// report. The asset, image and recognition errors are scoped to a single
// visual rule; evaluators convert them into failed rule results.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrDocumentParse = errors.New("document parse error")
	ErrAssetNotFound = errors.New("asset not found")
	ErrImageDecode   = errors.New("image decode error")
	ErrRecognition   = errors.New("recognition service error")
	ErrDatabase      = errors.New("database error")
	ErrInternal      = errors.New("internal error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
