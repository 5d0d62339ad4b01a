package api

import (
	"net/http"

	"vitalsdash/domain/core"
	"vitalsdash/internal/errors"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Classify maps err to an HTTP status and an error code
func Classify(err error) (int, string) {
	code := errors.GetCode(err)
	switch code {
	case errors.CodeNotFound:
		return http.StatusNotFound, code
	case errors.CodeInvalidInput, errors.CodeValidationError:
		return http.StatusBadRequest, code
	case errors.CodeExternalService:
		return http.StatusBadGateway, code
	}

	switch {
	case core.IsNotFoundError(err):
		return http.StatusNotFound, errors.CodeNotFound
	case code == "UNKNOWN":
		return http.StatusInternalServerError, errors.CodeInternalError
	}
	return http.StatusInternalServerError, code
}

// NewErrorResponse builds the body and status for err
func NewErrorResponse(err error) (int, ErrorResponse) {
	status, code := Classify(err)
	return status, ErrorResponse{Error: err.Error(), Code: code}
}
