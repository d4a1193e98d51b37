package app

import (
	"fmt"
	"net/http"
)

// DomainError is an error the HTTP layer reports as-is: Status and Code go
// to the client, Details is optional structured context.
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
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

// unavailable reports an optional integration that is not configured.
func unavailable(feature, message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, feature+"_UNAVAILABLE", message, nil)
}

var (
	errSignInFailed      = domainError(http.StatusUnauthorized, "SIGN_IN_FAILED", "Could not sign in", nil)
	errSessionNotStarted = domainError(http.StatusNotFound, "SESSION_NOT_STARTED", "Session not started", nil)
	errHistoryDisabled   = unavailable("HISTORY", "Revision history not configured")
)
