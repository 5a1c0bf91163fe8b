package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const reqMetaKey = contextKey("r-metadata")

// RequestMetadata travels with an upgrade request through the chain.
type RequestMetadata struct {
	IP string
	// Subject is the admission token's subject, when tokens are required.
	Subject string
}

func ReqMetadataFrom(ctx context.Context) (*RequestMetadata, bool) {
	reqMeta, ok := ctx.Value(reqMetaKey).(*RequestMetadata)
	return reqMeta, ok
}

// RequestMetadataMiddleware records the client address for the rest of the
// chain. With trustProxy set, the first X-Forwarded-For hop (or X-Real-IP)
// replaces the socket address. It must be the first middleware.
func RequestMetadataMiddleware(trustProxy bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta := &RequestMetadata{IP: clientIP(r, trustProxy)}
			ctx := context.WithValue(r.Context(), reqMetaKey, reqMeta)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
