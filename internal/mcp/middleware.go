package mcp

import (
	"context"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type contextKey int

const callerIDKey contextKey = iota

// UserHeader carries the calling user's id on the HTTP transport.
const UserHeader = "X-User-Id"

// getCallerID extracts the calling user id from context.
func getCallerID(ctx context.Context) string {
	v, _ := ctx.Value(callerIDKey).(string)
	return v
}

// actingUser returns explicit when set, otherwise the caller.
func actingUser(ctx context.Context, explicit string) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	return getCallerID(ctx)
}

// callerMiddleware extracts the calling user from the X-User-Id header (HTTP)
// or from _meta.user_id (stdio). Tools fall back to it when no user id
// argument is given.
func callerMiddleware(defaultUser string) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			userID := defaultUser

			extra := req.GetExtra()
			if extra != nil && extra.Header != nil {
				if h := extra.Header.Get(UserHeader); h != "" {
					userID = h
				}
			}

			// Some notifications have nil params behind a non-nil interface.
			if params := req.GetParams(); params != nil {
				func() {
					defer func() { recover() }()
					if meta := params.GetMeta(); meta != nil {
						if uid, ok := meta["user_id"].(string); ok && uid != "" {
							userID = uid
						}
					}
				}()
			}

			if userID != "" {
				ctx = context.WithValue(ctx, callerIDKey, userID)
			}
			return next(ctx, method, req)
		}
	}
}
