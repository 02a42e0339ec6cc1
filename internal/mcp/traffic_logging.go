package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func trafficLoggingMiddleware(logger *slog.Logger, direction string) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			if logger == nil || !logger.Enabled(ctx, slog.LevelDebug) {
				return next(ctx, method, req)
			}

			attrs := []any{
				"direction", direction,
				"method", method,
				"mcp_session", safeSessionID(req),
				"user_id", getCallerID(ctx),
			}
			logger.Debug("mcp traffic", append(attrs, "stage", "request", "params", formatPayload(safeParams(req)))...)

			result, err := next(ctx, method, req)
			if !strings.HasPrefix(method, "notifications/") {
				attrs = append(attrs, "stage", "response", "result", formatPayload(result))
				if err != nil {
					attrs = append(attrs, "error", err)
				}
				logger.Debug("mcp traffic", attrs...)
			}
			return result, err
		}
	}
}

func safeSessionID(req sdkmcp.Request) (id string) {
	if req == nil {
		return ""
	}
	defer func() {
		if recover() != nil {
			id = ""
		}
	}()
	ss := req.GetSession()
	if ss == nil {
		return ""
	}
	return ss.ID()
}

func safeParams(req sdkmcp.Request) (params any) {
	if req == nil {
		return nil
	}
	defer func() {
		if recover() != nil {
			params = nil
		}
	}()
	return req.GetParams()
}

func formatPayload(payload any) string {
	if payload == nil {
		return "<nil>"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%T", payload)
	}
	return string(data)
}
