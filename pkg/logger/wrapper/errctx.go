package wrap

import (
	"context"
	"errors"
)

// errorWithLogCtx carries the LogCtx captured where the error happened, so a
// log site further up the stack can still attach the originating fields.
type errorWithLogCtx struct {
	err    error
	logCtx LogCtx
}

func (e *errorWithLogCtx) Error() string {
	return e.err.Error()
}

func (e *errorWithLogCtx) Unwrap() error {
	return e.err
}

// ErrorCtx restores the LogCtx an error was wrapped with onto ctx. Errors
// without an attached LogCtx leave ctx untouched.
func ErrorCtx(ctx context.Context, err error) context.Context {
	var e *errorWithLogCtx
	if errors.As(err, &e) && e != nil {
		return context.WithValue(ctx, LogCtxKey, e.logCtx)
	}
	return ctx
}
