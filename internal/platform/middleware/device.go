// Package middleware holds HTTP middleware that depends on internal services.
package middleware

import (
	"net/http"

	"verifyflow/internal/device"
	"verifyflow/pkg/requestcontext"
)

// Device stores the device display name and, when binding is enabled, the
// device fingerprint on the request context.
func Device(svc *device.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ua := r.UserAgent()
			ctx := requestcontext.WithDeviceName(r.Context(), device.ParseUserAgent(ua))
			if fp := svc.ComputeFingerprint(ua); fp != "" {
				ctx = requestcontext.WithDeviceFingerprint(ctx, fp)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
