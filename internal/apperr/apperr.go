// Package apperr holds the closed set of error codes returned by the API.
// Handlers and middleware return *Error; the fiber error handler is the
// only place that turns a code into an HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	// authentication
	CodeTokenMissing           Code = "TOKEN_MISSING"
	CodeTokenInvalid           Code = "TOKEN_INVALID"
	CodeTokenExpired           Code = "TOKEN_EXPIRED"
	CodeTokenNotYetValid       Code = "TOKEN_NOT_YET_VALID"
	CodeSessionSubjectNotFound Code = "SESSION_SUBJECT_NOT_FOUND"
	CodeInvalidCredentials     Code = "INVALID_CREDENTIALS"

	// authorization
	CodeForbidden                        Code = "FORBIDDEN"
	CodeCannotCreateSuperAdmin           Code = "FORBIDDEN_CANNOT_CREATE_SUPERADMIN"
	CodeCannotModifySuperAdminPrivileges Code = "FORBIDDEN_CANNOT_MODIFY_SUPERADMIN_PRIVILEGES"
	CodeCannotModifySuperAdmin           Code = "FORBIDDEN_CANNOT_MODIFY_SUPERADMIN"

	// branch scope
	CodeBranchIDRequired   Code = "BRANCH_ID_REQUIRED"
	CodeBranchAccessDenied Code = "BRANCH_ACCESS_DENIED"

	// conflicts
	CodePrivilegeAlreadyGranted Code = "PRIVILEGE_ALREADY_GRANTED"
	CodeBranchAlreadyAssigned   Code = "BRANCH_ALREADY_ASSIGNED"
	CodeEmailAlreadyExists      Code = "EMAIL_ALREADY_EXISTS"
	CodeAlreadyExists           Code = "ALREADY_EXISTS"
	CodeResourceInUse           Code = "RESOURCE_IN_USE"

	// lookups
	CodeNotFound            Code = "NOT_FOUND"
	CodeUserNotFound        Code = "USER_NOT_FOUND"
	CodePrivilegeNotFound   Code = "PRIVILEGE_NOT_FOUND"
	CodePrivilegeNotGranted Code = "PRIVILEGE_NOT_GRANTED"
	CodeBranchNotFound      Code = "BRANCH_NOT_FOUND"
	CodeBranchNotAssigned   Code = "BRANCH_NOT_ASSIGNED"

	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeInternal       Code = "INTERNAL"
)

// Status maps a code to its HTTP status. Unknown codes are treated as
// internal errors.
func (c Code) Status() int {
	switch c {
	case CodeTokenMissing, CodeTokenInvalid, CodeTokenExpired, CodeTokenNotYetValid,
		CodeSessionSubjectNotFound, CodeInvalidCredentials:
		return http.StatusUnauthorized
	case CodeForbidden, CodeCannotCreateSuperAdmin, CodeCannotModifySuperAdminPrivileges,
		CodeCannotModifySuperAdmin, CodeBranchAccessDenied:
		return http.StatusForbidden
	case CodeBranchIDRequired, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodePrivilegeAlreadyGranted, CodeBranchAlreadyAssigned, CodeEmailAlreadyExists, CodeAlreadyExists,
		CodeResourceInUse:
		return http.StatusConflict
	case CodeNotFound, CodeUserNotFound, CodePrivilegeNotFound, CodePrivilegeNotGranted,
		CodeBranchNotFound, CodeBranchNotAssigned:
		return http.StatusNotFound
	case CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is a tagged error. Message is safe to show to clients; Err is the
// internal cause and is never serialized.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status is shorthand for e.Code.Status().
func (e *Error) Status() int { return e.Code.Status() }

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// Internal wraps an unexpected infrastructure failure.
func Internal(msg string, err error) *Error {
	return &Error{Code: CodeInternal, Message: msg, Err: err}
}

func Invalid(msg string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: msg}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
