package httpx

import "net/http"

type Middleware func(http.Handler) http.Handler

// Chain wraps h so the first middleware listed runs outermost:
// Chain(h, a, b) serves as a(b(h)).
func Chain(h http.Handler, mw ...Middleware) http.Handler {
	wrapped := h
	for i := len(mw) - 1; i >= 0; i-- {
		wrapped = mw[i](wrapped)
	}
	return wrapped
}

// WithBodyLimit caps request bodies. Booking and schedule payloads are small
// JSON documents; anything larger gets a 413 from MaxBytesReader.
func WithBodyLimit(limitBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limitBytes)
			next.ServeHTTP(w, r)
		})
	}
}
