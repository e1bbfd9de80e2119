package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pagehaul/pagehaul/internal/logger"
)

// indexFilename resolves directory requests.
const indexFilename = "index.html"

// NewHandler returns the router serving the asset tree at root.
func NewHandler(root string) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger)
	router.Get("/*", staticHandler(root))

	return router
}

// staticHandler serves files from root. Directory paths resolve to their
// index.html; everything else is a 404. Listings are never produced.
func staticHandler(root string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// A rooted Clean cannot escape the site root.
		cleaned := path.Clean("/" + r.URL.Path)
		target := filepath.Join(root, filepath.FromSlash(cleaned))

		info, err := os.Stat(target)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		if info.IsDir() {
			target = filepath.Join(target, indexFilename)

			if _, err = os.Stat(target); err != nil {
				http.NotFound(w, r)
				return
			}
		}

		http.ServeFile(w, r, target)
	}
}

// requestLogger writes one access log line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		// The request identity lives on the context logger so the outcome
		// line and anything logged while handling share the same fields.
		ctx := logger.WithFields(r.Context(), "method", r.Method, "path", r.URL.Path)

		next.ServeHTTP(wrapped, r.WithContext(ctx))

		logger.DebugKV(ctx, "Request served",
			"status", wrapped.Status(),
			"bytes", wrapped.BytesWritten(),
			"duration", time.Since(start))
	})
}
