package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "weatherbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware wraps a command handler. The first middleware passed to Wrap
// runs outermost.
type Middleware func(next HandlerFunc) HandlerFunc

// slowCommand promotes successful command logs from DEBUG to INFO.
const slowCommand = 750 * time.Millisecond

func Wrap(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Deadline bounds a command, including its replies. d <= 0 leaves ctx as is.
func Deadline(d time.Duration) Middleware {
	if d <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// Recover turns a handler panic into an error so one chat cannot take down
// its shard worker.
func Recover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				req.logger(log).Error("command panicked",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("command %s panicked: %v", req.Command, r)
			}()
			return next(ctx, req)
		}
	}
}

// Audit logs the outcome of every command.
func Audit(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := req.logger(log)
			switch {
			case err != nil:
				l.Warn("command failed", logx.Duration("took", took), logx.Err(err))
			case took >= slowCommand:
				l.Info("command handled (slow)", logx.Duration("took", took))
			default:
				l.Debug("command handled", logx.Duration("took", took))
			}
			return err
		}
	}
}
