package orchestrator

import (
	"fmt"
	"net/http"

	"github.com/domainscout/engine/pkg/types"
)

// APIError is a terminal request failure with its HTTP mapping. Report is set
// when a blocked scan report should be merged into the error body (the
// forbidden case).
type APIError struct {
	Status  int
	Code    string
	Message string
	Report  *types.DomainReport
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badDomain(err error) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    types.CodeBadDomain,
		Message: err.Error(),
	}
}

func forbidden(message string, report *types.DomainReport) *APIError {
	return &APIError{
		Status:  http.StatusForbidden,
		Code:    types.CodeForbidden,
		Message: message,
		Report:  report,
	}
}

func timeout(message string) *APIError {
	return &APIError{
		Status:  http.StatusGatewayTimeout,
		Code:    types.CodeTimeout,
		Message: message,
	}
}

func internal(err error) *APIError {
	return &APIError{
		Status:  http.StatusInternalServerError,
		Code:    types.CodeInternal,
		Message: err.Error(),
	}
}
