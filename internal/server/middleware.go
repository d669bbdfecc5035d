package server

import (
	"net/http"
	"net/url"
	"time"

	"github.com/dgellow/signin-gate/internal/idp"
	jsonwriter "github.com/dgellow/signin-gate/internal/json"
	"github.com/dgellow/signin-gate/internal/log"
	"github.com/dgellow/signin-gate/internal/usercontext"
)

// MiddlewareFunc is a function that wraps an http.Handler
type MiddlewareFunc func(http.Handler) http.Handler

// ChainMiddleware chains multiple middleware functions. The first one
// listed is the innermost.
func ChainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

// responseWriterDelegator wraps http.ResponseWriter to capture status and bytes written
// while properly delegating all optional interfaces through Unwrap
type responseWriterDelegator struct {
	http.ResponseWriter
	status      int
	written     int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriterDelegator {
	return &responseWriterDelegator{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (r *responseWriterDelegator) Status() int {
	return r.status
}

func (r *responseWriterDelegator) BytesWritten() int {
	return r.written
}

func (r *responseWriterDelegator) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseWriterDelegator) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.written += n
	return n, err
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController
func (r *responseWriterDelegator) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

var _ http.ResponseWriter = (*responseWriterDelegator)(nil)

// NewLoggerMiddleware logs every request. The query string is left out for
// paths in omitQuery; the callback query carries the authorization code.
func NewLoggerMiddleware(prefix string, omitQuery ...string) MiddlewareFunc {
	skip := make(map[string]bool, len(omitQuery))
	for _, p := range omitQuery {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			fields := map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       wrapped.BytesWritten(),
				"remote_addr": r.RemoteAddr,
			}

			if r.URL.RawQuery != "" && !skip[r.URL.Path] {
				fields["query"] = r.URL.RawQuery
			}

			log.LogInfoWithFields(prefix, "request", fields)
		})
	}
}

// NewRecoverMiddleware recovers from panics
func NewRecoverMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.LogErrorWithFields(prefix, "Recovered from panic", map[string]any{
						"panic": err,
						"path":  r.URL.Path,
					})
					jsonwriter.WriteInternalServerError(w, "Internal Server Error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// IdentityResolver reads the signed-in identity from a request
type IdentityResolver interface {
	CurrentIdentity(r *http.Request) (*idp.Identity, bool)
}

// NewIdentityMiddleware attaches the session identity, if any, to the
// request context. Requests without a valid session pass through unchanged.
func NewIdentityMiddleware(resolver IdentityResolver) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := resolver.CurrentIdentity(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			log.LogTraceWithFields("identity", "Request authenticated", map[string]any{
				"subject": identity.Subject,
			})
			next.ServeHTTP(w, r.WithContext(usercontext.WithIdentity(r.Context(), *identity)))
		})
	}
}

// NewRequireLoginMiddleware sends anonymous browsers to the login endpoint
// with the current URL as returnUrl. Must run inside NewIdentityMiddleware.
func NewRequireLoginMiddleware(loginPath string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := usercontext.GetIdentity(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				jsonwriter.WriteUnauthorized(w, "Sign-in required")
				return
			}

			target := loginPath + "?returnUrl=" + url.QueryEscape(r.URL.RequestURI())
			http.Redirect(w, r, target, http.StatusFound)
		})
	}
}
