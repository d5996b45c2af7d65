package app

import (
	"fmt"
	"net/http"

	"warbler/internal/access"
	"warbler/internal/forms"
)

const msgAccessUnauthorized = "Access unauthorized."

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(errs forms.Errors) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", errs)
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

// decisionError turns a denied access decision into its error; Allow yields nil.
func decisionError(decision access.Decision, what string) error {
	switch decision {
	case access.Allow:
		return nil
	case access.Unauthenticated:
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", msgAccessUnauthorized, nil)
	case access.NotFound:
		return notFound(what)
	default:
		return domainError(http.StatusForbidden, "FORBIDDEN", msgAccessUnauthorized, nil)
	}
}
