package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postscheduler/internal/models"
)

var ErrNotFound = errors.New("not found")

type ValidationCode string

const (
	CodeNotFound            ValidationCode = "NOT_FOUND"
	CodeInactiveAccount     ValidationCode = "INACTIVE_ACCOUNT"
	CodeInvalidScheduleTime ValidationCode = "INVALID_SCHEDULE_TIME"
	CodeMediaRequired       ValidationCode = "MEDIA_REQUIRED"
	CodeMediaLimit          ValidationCode = "MEDIA_LIMIT"
	CodeInvalidKind         ValidationCode = "INVALID_KIND"
	CodeInvalidStatus       ValidationCode = "INVALID_STATUS"
	CodeInvalidRequest      ValidationCode = "INVALID_REQUEST"

	CodeInvalidAuthorization ValidationCode = "INVALID_AUTHORIZATION"
	CodeAccountTaken         ValidationCode = "ACCOUNT_TAKEN"
)

// ValidationError rejects caller input before anything is written.
type ValidationError struct {
	Code    ValidationCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match a NOT_FOUND validation error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrNotFound && e.Code == CodeNotFound
}

func newValidationError(code ValidationCode, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// StateConflictError means the operation is not allowed from the record's current status.
type StateConflictError struct {
	Op     string
	Status models.Status
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("INVALID_STATE: cannot %s a post in status '%s'", e.Op, e.Status)
}

type ExecutionCode string

const (
	CodeAccountUnavailable ExecutionCode = "ACCOUNT_UNAVAILABLE"
	CodeExecMediaRequired  ExecutionCode = "MEDIA_REQUIRED"
	CodePublishFailed      ExecutionCode = "PUBLISH_FAILED"
)

// ExecutionError is a failed publish attempt. It never reaches a synchronous caller;
// the executor records it as last_error and applies the retry policy.
type ExecutionError struct {
	Code       ExecutionCode
	Err        error
	RetryAfter time.Duration
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsStateConflictError(err error) bool {
	var s *StateConflictError
	return errors.As(err, &s)
}
