package middleware

import (
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/pkg/security"
)

// Recovery turns a handler panic into a 500 with a generic body.
func Recovery(next http.Handler, log *logger.Logger) http.Handler {
	log = logger.OrDefault(log)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic recovered in HTTP handler",
					"error", fmt.Sprint(rec),
					"method", r.Method,
					"path", r.URL.Path,
				)
				apperrors.WriteError(w, apperrors.InternalError("an unexpected error occurred", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Logging logs every request at debug level.
func Logging(next http.Handler, log *logger.Logger) http.Handler {
	log = logger.OrDefault(log).WithComponent("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		log.Debug("HTTP request",
			"method", r.Method,
			"path", security.SanitizeForLog(r.URL.Path),
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
