package auth

import (
	"net/http"
	"time"
)

// MiddlewareConfig 定义认证中间件的配置。
type MiddlewareConfig struct {
	// AuditEvent 为每个请求写入的审计记录名称，默认使用请求路径。
	AuditEvent string
}

// Middleware 拒绝没有有效 Bearer 令牌的请求，并将主体写入请求上下文。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := s.AuthenticateRequest(r.Header.Get("Authorization"))
			if err != nil {
				status := http.StatusUnauthorized
				w.Header().Set("WWW-Authenticate", `Bearer realm="intent-settlement"`)
				http.Error(w, http.StatusText(status), status)
				s.audit.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"error", err.Error(),
				)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			s.audit.Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"caller", subject.Address.Hex(),
			)
		})
	}
}

// auditWriter 记录响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap 让 http.ResponseController 能访问底层 writer。
func (w *auditWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
