package testutil

import (
	"context"
	"net/http"

	"verifyflow/pkg/requestcontext"

	"github.com/go-chi/chi/v5"
)

// WithDevice adds a device fingerprint and name to the request context.
// This simulates what the device middleware does for every request.
func WithDevice(req *http.Request, fingerprint, name string) *http.Request {
	ctx := requestcontext.WithDeviceFingerprint(req.Context(), fingerprint)
	ctx = requestcontext.WithDeviceName(ctx, name)
	return req.WithContext(ctx)
}

// WithURLParams attaches chi route parameters so handlers can be called
// directly without going through a router.
func WithURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}
