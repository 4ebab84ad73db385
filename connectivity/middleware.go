package connectivity

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"time"
)

// HandlerMiddleware decorates a Handler.
type HandlerMiddleware func(next Handler) Handler

// Chain applies mws so that mws[0] sees the call first.
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(h Handler) Handler {
		for i := range mws {
			h = mws[len(mws)-1-i](h)
		}
		return h
	}
}

// actionRequest and actionReply are the parts of an action call that the
// middlewares read. Payloads that do not decode leave them zero.
type actionRequest struct {
	Action string `json:"action"`
}

type actionReply struct {
	OK    *bool  `json:"ok"`
	Error string `json:"error"`
}

func actionName(payload []byte) string {
	var req actionRequest
	if json.Unmarshal(payload, &req) != nil || req.Action == "" {
		return "unknown"
	}
	return req.Action
}

// Logging logs one line per action call: the action name from the request,
// and the envelope's ok flag and error from the reply. Replies that fail
// log at warn, transport errors at error.
func Logging(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			attrs := []any{
				"action", actionName(payload),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.ErrorContext(ctx, "action call failed", append(attrs, "error", err)...)
				return resp, err
			}
			var reply actionReply
			if json.Unmarshal(resp, &reply) != nil || reply.OK == nil {
				logger.WarnContext(ctx, "action reply is not an envelope", append(attrs, "response_bytes", len(resp))...)
				return resp, nil
			}
			attrs = append(attrs, "ok", *reply.OK)
			if !*reply.OK {
				logger.WarnContext(ctx, "action failed", append(attrs, "error", reply.Error)...)
				return resp, nil
			}
			logger.InfoContext(ctx, "action done", attrs...)
			return resp, nil
		}
	}
}

// Timeout gives each action call a deadline of d; d <= 0 leaves calls
// unbounded. Polls inside the action stop at the deadline and the action
// answers with a failed envelope.
func Timeout(d time.Duration) HandlerMiddleware {
	if d <= 0 {
		return func(next Handler) Handler { return next }
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, payload)
		}
	}
}

// Recovery turns a panic in an action handler into an *ErrPanic and logs
// it with the action name and stack.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				logger.ErrorContext(ctx, "action handler panicked",
					"action", actionName(payload),
					"panic", r,
					"stack", string(debug.Stack()))
				resp, err = nil, &ErrPanic{Value: r}
			}()
			return next(ctx, payload)
		}
	}
}
