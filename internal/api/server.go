package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"intent-settlement/internal/auth"
	"intent-settlement/internal/events"
	"intent-settlement/internal/journal"
	"intent-settlement/internal/ledger"
	"intent-settlement/internal/observability/metrics"
	"intent-settlement/internal/settlement"
	"intent-settlement/pkg/logger"
)

// Server 通过 REST 和 websocket 事件流对外暴露结算引擎。
type Server struct {
	addr    string
	engine  *settlement.Engine
	auth    *auth.Service
	journal journal.Store
	book    ledger.Book
	assets  *ledger.Registry
	hub     *events.Hub
	metrics *metrics.Metrics
	origins []string
	timeout time.Duration
	grace   time.Duration
	logger  *slog.Logger
}

// Option 配置可选依赖。
type Option func(*Server)

// WithAuth 启用登录端点及需要认证的路由。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithJournal 启用事件历史端点和事件流回放。
func WithJournal(store journal.Store) Option {
	return func(s *Server) { s.journal = store }
}

// WithLedger 启用余额与资产端点。
func WithLedger(book ledger.Book, assets *ledger.Registry) Option {
	return func(s *Server) {
		s.book = book
		s.assets = assets
	}
}

// WithHub 启用实时事件流。
func WithHub(hub *events.Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithMetrics 为所有路由采集指标。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAllowedOrigins 设置 CORS 与 websocket 允许的来源，"*" 表示全部允许。
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithReadTimeout 限制客户端发送请求的最长时间。
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithShutdownTimeout 限制根上下文取消后进行中请求的最长执行时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithLogger 覆盖请求日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 创建 API 服务器实例。
func NewServer(addr string, engine *settlement.Engine, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		engine:  engine,
		timeout: 15 * time.Second,
		grace:   5 * time.Second,
		logger:  logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router 构建路由表。
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/domain", s.handleDomain)
		r.Get("/params", s.handleParams)
		r.Get("/nonces/{maker}", s.handleNonce)
		r.Get("/intents/{id}", s.handleIntentStatus)
		r.Post("/intents", s.handleSubmitIntent)
		r.Get("/solvers/{address}", s.handleSolver)
		r.Get("/batches/current", s.handleCurrentBatch)
		r.Get("/batches/{id}", s.handleBatch)

		if s.book != nil {
			r.Get("/assets", s.handleAssets)
			r.Get("/balances/{owner}", s.handleBalances)
		}
		if s.journal != nil {
			r.Get("/events", s.handleListEvents)
			r.Get("/events/stats", s.handleEventStats)
		}
		if s.hub != nil {
			r.Get("/events/stream", s.handleStream)
		}

		if s.auth == nil {
			return
		}
		r.Post("/auth/login", s.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware(auth.MiddlewareConfig{}))
			r.Post("/fills", s.handleFill)
			r.Post("/intents/{id}/cancel", s.handleCancelIntent)
			r.Post("/nonces/invalidate", s.handleCancelAll)

			r.Post("/solvers", s.handleRegisterSolver)
			r.Post("/solvers/withdraw", s.handleWithdraw)

			r.Post("/batches/commit", s.handleCommitBatch)
			r.Post("/batches/settle", s.handleSettleBatch)
			r.Post("/batches/cancel", s.handleCancelBatch)

			r.Route("/admin", func(r chi.Router) {
				r.Put("/params", s.handleUpdateParams)
				r.Post("/owner", s.handleTransferOwnership)
				r.Post("/solvers/{address}/slash", s.handleSlash)
				r.Put("/solvers/{address}/whitelist", s.handleWhitelist)
			})
		})
	})
	return r
}

// Start 启动 HTTP 服务，直到 ctx 被取消或监听失败。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Router()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.grace)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withContext 在根上下文取消后拒绝新的请求。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
