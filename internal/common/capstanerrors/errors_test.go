package capstanerrors

import (
	"net/http"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestHttpStatusFromError(t *testing.T) {
	tests := map[string]struct {
		err  error
		want int
	}{
		"ErrAlreadyExists":                {&ErrAlreadyExists{}, http.StatusConflict},
		"ErrNotFound":                     {&ErrNotFound{}, http.StatusNotFound},
		"ErrInvalidArgument":              {&ErrInvalidArgument{}, http.StatusBadRequest},
		"ErrConflict":                     {&ErrConflict{}, http.StatusConflict},
		"ErrInsufficientResources":        {&ErrInsufficientResources{}, http.StatusConflict},
		"pkg.Error => ErrNotFound":        {errors.WithMessage(&ErrNotFound{}, "foo"), http.StatusNotFound},
		"pkg.Error => ErrInvalidArgument": {errors.WithStack(&ErrInvalidArgument{}), http.StatusBadRequest},
		"pkg.Error":                       {errors.New("foo"), http.StatusInternalServerError},
		"nil":                             {nil, http.StatusOK},
		"multierror of invalid arguments": {
			multierror.Append(&ErrInvalidArgument{Name: "a"}, &ErrInvalidArgument{Name: "b"}),
			http.StatusBadRequest,
		},
		"mixed multierror": {
			multierror.Append(&ErrInvalidArgument{Name: "a"}, &ErrNotFound{Value: "b"}),
			http.StatusInternalServerError,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, HttpStatusFromError(tc.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := map[string]struct {
		err  error
		want string
	}{
		"not found with type": {
			&ErrNotFound{Type: "cluster", Value: "foo"},
			`resource "foo" of type "cluster" does not exist`,
		},
		"not found with message": {
			&ErrNotFound{Value: "foo", Message: "bar"},
			`resource "foo" does not exist; bar`,
		},
		"already exists": {
			&ErrAlreadyExists{Type: "cluster", Value: "foo"},
			`resource "foo" of type "cluster" already exists`,
		},
		"invalid argument": {
			&ErrInvalidArgument{Name: "priority", Value: "URGENT", Message: "unknown priority"},
			`value "URGENT" is invalid for field "priority"; unknown priority`,
		},
		"conflict": {
			&ErrConflict{Type: "deployment", Value: "foo", Message: "not running"},
			`conflicting update to resource "foo" of type "deployment"; not running`,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsNotFound(errors.Wrap(&ErrNotFound{}, "foo")))
	assert.False(t, IsNotFound(errors.New("foo")))
	assert.True(t, IsConflict(errors.WithStack(&ErrConflict{})))
	assert.False(t, IsConflict(&ErrNotFound{}))
	assert.True(t, IsInsufficientResources(errors.WithStack(&ErrInsufficientResources{})))
}
