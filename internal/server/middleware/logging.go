// Package middleware holds the HTTP server middleware.
package middleware

import (
	"context"
	"strings"

	pkglog "InsightLane/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// Header names read by Logging.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderUserID    = "X-User-ID"
)

// Logging logs every request with its request id, status and duration, and warns
// about slow requests. The request id is taken from X-Request-ID or generated, and
// is echoed back in the response header.
//
//	🟢 POST /v1/pipeline/execute - 200 (542ms) | RequestID: mgrn0zfqda
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			var method, path, ip, requestID, userID string
			if tr, ok := transport.FromServerContext(ctx); ok {
				method, path = tr.Kind().String(), tr.Operation()
				if ht, ok := tr.(http.Transporter); ok {
					r := ht.Request()
					method = r.Method
					path = r.URL.Path
					if r.URL.RawQuery != "" {
						path += "?" + r.URL.RawQuery
					}
					ip = clientIP(r)
					requestID = r.Header.Get(HeaderRequestID)
					userID = r.Header.Get(HeaderUserID)
				}
				if requestID == "" {
					requestID = pkglog.GenerateRequestID()
				}
				tr.ReplyHeader().Set(HeaderRequestID, requestID)
			}

			ctx = pkglog.WithRequestContext(ctx, requestID, userID)
			reply, err := handler(ctx, req)

			logger.RequestWithContext(ctx, method, path, statusOf(err), pkglog.GetElapsedTime(ctx), "ip", ip)
			return reply, err
		}
	}
}

// clientIP prefers X-Real-IP, then the first X-Forwarded-For hop, then RemoteAddr.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	return r.RemoteAddr
}

func statusOf(err error) int {
	if err == nil {
		return 200
	}
	return int(errors.FromError(err).Code)
}
