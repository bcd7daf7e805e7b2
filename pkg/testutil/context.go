package testutil

import (
	"net/http"
	"time"

	id "provote/pkg/domain"
	"provote/pkg/requestcontext"
)

// WithUserID adds a voter identity to the request context, simulating what
// the auth middleware does for authenticated requests. An invalid UUID is
// silently ignored and the request stays anonymous.
func WithUserID(req *http.Request, userID string) *http.Request {
	parsed, err := id.ParseUserID(userID)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithUserID(req.Context(), parsed))
}

// WithClient adds client IP and User-Agent to the request context,
// simulating the client-metadata middleware.
func WithClient(req *http.Request, ip, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, userAgent))
}

// WithFingerprint adds a device fingerprint to the request context.
func WithFingerprint(req *http.Request, fingerprint string) *http.Request {
	return req.WithContext(requestcontext.WithFingerprint(req.Context(), fingerprint))
}

// WithTime pins the request-scoped clock so poll-window checks are
// deterministic.
func WithTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
