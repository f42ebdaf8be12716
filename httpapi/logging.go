package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"pkt.systems/paveurpath/internal/logx"
	"pkt.systems/pslog"
)

// withRequestLogging binds a logger carrying the request id and the
// current session fields to the request context, then logs one line per
// completed request. Handlers pick the logger up with logx.Ctx.
func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		logger := pslog.Ctx(r.Context()).With("remote", r.RemoteAddr)
		if id := middleware.GetReqID(r.Context()); id != "" {
			logger = logger.With("request_id", id)
		}
		ctx := logx.ContextWithSessionLogger(r.Context(), logger, s.auth.Session())
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		log := logx.Ctx(ctx)
		if status >= http.StatusInternalServerError {
			log.Warn("http request failed", "method", r.Method, "path", r.URL.Path, "status", status, "duration_ms", time.Since(started).Milliseconds())
			return
		}
		log.Info("http request", "method", r.Method, "path", r.URL.Path, "status", status, "bytes", ww.BytesWritten(), "duration_ms", time.Since(started).Milliseconds())
		log.Trace("http request details", "query", r.URL.RawQuery, "ua", r.UserAgent())
	})
}
