package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "divulgabot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// slowRequest is logged at info instead of debug.
const slowRequest = 750 * time.Millisecond

// Chain wraps h so the first middleware is the outermost.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := range mws {
		h = mws[len(mws)-1-i](h)
	}
	return h
}

// pipeline is the wrapping every command and callback handler gets.
func (m *Manager) pipeline(h HandlerFunc, timeout time.Duration) HandlerFunc {
	return Chain(h, recoverPanics, logRequest, withTimeout(timeout))
}

func withTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

func recoverPanics(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (err error) {
		defer func() {
			if r := recover(); r != nil {
				req.Logger.Error("handler panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return next(ctx, req)
	}
}

func logRequest(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		began := time.Now()
		err := next(ctx, req)
		took := time.Since(began)
		fields := []logx.Field{logx.String("kind", string(req.Update.Kind)), logx.Duration("dur", took)}
		switch {
		case err != nil:
			req.Logger.Warn("request failed", append(fields, logx.Err(err))...)
		case took >= slowRequest:
			req.Logger.Info("request slow", fields...)
		default:
			req.Logger.Debug("request ok", fields...)
		}
		return err
	}
}
