// Package api provides the HTTP surface over the Agent Loop and File
// Store: POST /api/chat, GET /health, and file upload/list/fetch.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"ba-agent-core/internal/agentloop"
	"ba-agent-core/internal/filestore"
	"ba-agent-core/internal/logging"
	"ba-agent-core/internal/ratelimit"
)

// Router wires the Agent Loop and File Store behind a chi mux.
type Router struct {
	mux     *chi.Mux
	loop    *agentloop.Loop
	files   *filestore.Store
	limiter *ratelimit.Limiter
	log     logging.Logger
}

// NewRouter builds the router and registers every route.
func NewRouter(loop *agentloop.Loop, files *filestore.Store, limiter *ratelimit.Limiter, log logging.Logger) *Router {
	if log == nil {
		log = logging.NewLogger(logging.INFO)
	}
	r := &Router{
		mux:     chi.NewRouter(),
		loop:    loop,
		files:   files,
		limiter: limiter,
		log:     log.WithComponent("api"),
	}
	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// Handler returns the composed http.Handler.
func (r *Router) Handler() http.Handler {
	return r.mux
}

func (r *Router) setupMiddleware() {
	r.mux.Use(chimiddleware.Recoverer)
	r.mux.Use(chimiddleware.RequestID)
	r.mux.Use(chimiddleware.Timeout(30 * time.Second))
	r.mux.Use(r.loggingMiddleware())
	r.mux.Use(chimiddleware.RequestSize(10 * 1024 * 1024))
	r.mux.Use(chimiddleware.Heartbeat("/ping"))
}

func (r *Router) setupRoutes() {
	r.mux.Get("/health", r.handleHealth)

	r.mux.Route("/api", func(api chi.Router) {
		api.Use(r.sessionMiddleware())

		api.Route("/chat", func(chat chi.Router) {
			chat.Use(r.rateLimitMiddleware())
			chat.Post("/", r.handleChat)
		})

		api.Route("/files", func(files chi.Router) {
			files.Post("/", r.handleFileUpload)
			files.Get("/", r.handleFileList)
			files.Get("/{category}/{fileID}", r.handleFileFetch)
			files.Delete("/{category}/{fileID}", r.handleFileDelete)
		})
	})
}

// loggingMiddleware is a thin request logger grounded on the teacher's
// chi logging middleware, trimmed to one structured line per request.
func (r *Router) loggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)
			r.log.Info("http request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimiddleware.GetReqID(req.Context()),
			)
		})
	}
}

// sessionMiddleware is a placeholder standing in for the real JWT/OAuth
// middleware named out of scope: it reads a plain session id header for
// local/dev use and rejects requests missing one.
func (r *Router) sessionMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sessionID := strings.TrimSpace(req.Header.Get("X-Session-ID"))
			if sessionID == "" {
				http.Error(w, `{"kind":"BAD_INPUT","message":"missing X-Session-ID header"}`, http.StatusUnauthorized)
				return
			}
			ctx := withUser(req.Context(), User{SessionID: sessionID})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

// rateLimitMiddleware gates a request on the session id's sliding-window
// budget, independent of and prior to the Agent Loop's per-conversation
// mutex.
func (r *Router) rateLimitMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if r.limiter == nil {
				next.ServeHTTP(w, req)
				return
			}
			user, _ := userFromContext(req.Context())
			result, err := r.limiter.Allow(req.Context(), user.SessionID)
			if err != nil {
				r.log.Warn("rate limiter unavailable, allowing request", "error", err.Error())
				next.ServeHTTP(w, req)
				return
			}
			if !result.Allowed {
				w.Header().Set("Retry-After", "60")
				http.Error(w, `{"kind":"NOT_PERMITTED","message":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
