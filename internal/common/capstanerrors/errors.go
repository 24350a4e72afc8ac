// Package capstanerrors contains generic errors returned by the scheduler, its stores and its API.
// The HTTP layer looks for the error types defined in this file and sets the response status accordingly.
//
// If multiple errors occur in some function (e.g., several invalid fields in one request), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package capstanerrors

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrAlreadyExists is a generic error to be returned whenever some resource already exists.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrAlreadyExists struct {
	Type    string // Resource type, e.g., "cluster"
	Value   string // Resource name, e.g., "gpu-east"
	Message string // An optional message to include in the error message
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
//
// See ErrAlreadyExists for more info.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "priority"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", fmt.Sprint(err.Value), err.Name)
	}
	return fmt.Sprintf("value %q is invalid for field %q; %s", fmt.Sprint(err.Value), err.Name, err.Message)
}

// ErrConflict is returned when a record was concurrently modified or is not in the state an operation requires.
// Conflicts are transient from the scheduler's point of view: the attempt is abandoned and retried.
type ErrConflict struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrConflict) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("conflicting update to resource %q of type %q", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("conflicting update to resource %q", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrInsufficientResources is returned when a cluster cannot currently fit a request.
type ErrInsufficientResources struct {
	ClusterId string
	Requested string
	Available string
}

func (err *ErrInsufficientResources) Error() string {
	return fmt.Sprintf("cluster %q has insufficient resources: requested %s, available %s", err.ClusterId, err.Requested, err.Available)
}

// IsNotFound returns true if any error in the chain is an *ErrNotFound.
func IsNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

// IsConflict returns true if any error in the chain is an *ErrConflict.
func IsConflict(err error) bool {
	var e *ErrConflict
	return errors.As(err, &e)
}

// IsInsufficientResources returns true if any error in the chain is an *ErrInsufficientResources.
func IsInsufficientResources(err error) bool {
	var e *ErrInsufficientResources
	return errors.As(err, &e)
}

// HttpStatusFromError maps error types to HTTP status codes.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
func HttpStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	// A multierror is only as specific as its errors agree on, e.g. several invalid fields is still a 400.
	var merr *multierror.Error
	if errors.As(err, &merr) && len(merr.Errors) > 0 {
		code := HttpStatusFromError(merr.Errors[0])
		for _, e := range merr.Errors[1:] {
			if HttpStatusFromError(e) != code {
				return http.StatusInternalServerError
			}
		}
		return code
	}

	// Using {} scopes just to re-use the "e" variable name for each case.
	{
		var e *ErrAlreadyExists
		if errors.As(err, &e) {
			return http.StatusConflict
		}
	}
	{
		var e *ErrNotFound
		if errors.As(err, &e) {
			return http.StatusNotFound
		}
	}
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return http.StatusBadRequest
		}
	}
	{
		var e *ErrConflict
		if errors.As(err, &e) {
			return http.StatusConflict
		}
	}
	{
		var e *ErrInsufficientResources
		if errors.As(err, &e) {
			return http.StatusConflict
		}
	}

	return http.StatusInternalServerError
}
