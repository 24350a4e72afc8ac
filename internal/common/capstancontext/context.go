// Package capstancontext carries a request or attempt scoped logger alongside a context.Context.
package capstancontext

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Context is a context.Context with a logger attached, so that log fields added by a caller
// reach every function the context is handed to.
type Context struct {
	context.Context
	Log *logrus.Entry
}

// Background returns an empty context logging through the standard logger.
func Background() *Context {
	return New(context.Background(), logrus.NewEntry(logrus.StandardLogger()))
}

func New(ctx context.Context, log *logrus.Entry) *Context {
	return &Context{Context: ctx, Log: log}
}

// derive wraps ctx, which must descend from parent, keeping parent's logger.
func derive(parent *Context, ctx context.Context) *Context {
	return New(ctx, parent.Log)
}

func WithCancel(parent *Context) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent.Context)
	return derive(parent, ctx), cancel
}

func WithTimeout(parent *Context, timeout time.Duration) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent.Context, timeout)
	return derive(parent, ctx), cancel
}

// WithLogFields returns a copy of parent whose logger carries fields.
func WithLogFields(parent *Context, fields logrus.Fields) *Context {
	return New(parent.Context, parent.Log.WithFields(fields))
}

// ErrGroup is errgroup.WithContext for a *Context: the returned context is cancelled when any
// goroutine in the group fails.
func ErrGroup(parent *Context) (*errgroup.Group, *Context) {
	group, ctx := errgroup.WithContext(parent.Context)
	return group, derive(parent, ctx)
}
