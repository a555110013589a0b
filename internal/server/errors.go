package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/interview-evaluator/internal/prompts"
)

// ErrJobNotFound indicates the evaluation job does not exist or expired.
type ErrJobNotFound struct {
	ID string
}

func (e *ErrJobNotFound) Error() string {
	return fmt.Sprintf("evaluation not found: %s", e.ID)
}

// ErrValidation indicates request validation failure.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error.
func HTTPStatus(err error) int {
	var (
		jobNotFound    *ErrJobNotFound
		validation     *ErrValidation
		promptNotFound *prompts.NotFoundError
		promptInvalid  *prompts.InvalidOperationError
	)
	switch {
	case errors.As(err, &jobNotFound), errors.As(err, &promptNotFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &promptInvalid):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
