package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/makerspool/internal/core"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorKind struct {
	err    error
	status int
	code   string
}

// Checked in order; the first match wins.
var errorKinds = []errorKind{
	{core.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{core.ErrJobNotFound, http.StatusNotFound, "job_not_found"},
	{core.ErrMachineNotFound, http.StatusNotFound, "machine_not_found"},
	{core.ErrDuplicateJob, http.StatusConflict, "duplicate_job"},
	{core.ErrDuplicateMachine, http.StatusConflict, "duplicate_machine"},
	{core.ErrJobOngoing, http.StatusConflict, "job_ongoing"},
	{core.ErrMachineDisabled, http.StatusConflict, "machine_disabled"},
	{core.ErrMachineNotEmpty, http.StatusConflict, "machine_not_empty"},
	{core.ErrJobNotStarted, http.StatusConflict, "job_not_started"},
	{core.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{core.ErrDeletionNotRequested, http.StatusConflict, "deletion_not_requested"},
	{core.ErrInvalidField, http.StatusBadRequest, "invalid_field"},
}

func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func respondError(c *gin.Context, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	c.JSON(status, ErrorResponse{Error: code, Message: message})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: message})
}
