package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"WChain-Bubbles/internal/agent"
	"WChain-Bubbles/internal/holders"
	"WChain-Bubbles/internal/observability/metrics"
	"WChain-Bubbles/internal/storage"
	"WChain-Bubbles/pkg/logger"
)

const maxBodyBytes = 64 << 10

// ChatService 是对话相关接口依赖的能力。
type ChatService interface {
	Chat(ctx context.Context, req agent.ChatRequest) (*agent.ChatReply, error)
	Feedback(ctx context.Context, conversationID, content string, feedback storage.Feedback) error
	History(ctx context.Context, conversationID string, limit int) ([]storage.Message, error)
}

// HolderService 是持有人查询接口依赖的能力。
type HolderService interface {
	Query(ctx context.Context, kind holders.Kind, p holders.Params) (holders.QueryResult, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr            string
	chat            ChatService
	holders         HolderService
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	log             *slog.Logger
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithTimeouts 设置读写与优雅退出的超时时间。
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, chat ChatService, holderSvc HolderService, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		chat:            chat,
		holders:         holderSvc,
		readTimeout:     15 * time.Second,
		writeTimeout:    5 * time.Minute,
		shutdownTimeout: 10 * time.Second,
		log:             logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/chat", "chat", s.handleChat)
	s.route(mux, "POST /api/v1/chat/feedback", "feedback", s.handleFeedback)
	s.route(mux, "GET /api/v1/conversations/{id}/messages", "messages", s.handleMessages)
	s.route(mux, "GET /api/v1/holders/count", "holders_count", s.handleHolderCount)
	s.route(mux, "GET /api/v1/holders/top", "holders_top", s.handleTopHolders)
	s.route(mux, "GET /api/v1/holders/distribution", "holders_distribution", s.handleDistribution)
	s.route(mux, "GET /api/v1/holders/large", "holders_large", s.handleLargeHolders)
	s.route(mux, "GET /api/v1/holders/categories/{category}", "holders_category", s.handleCategoryStats)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return recoverer(s.log, mux)
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.Handle(pattern, instrument(name, h))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("api server listening", "address", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "server is shutting down")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

func recoverer(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("handler panicked", "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, "UNKNOWN", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
