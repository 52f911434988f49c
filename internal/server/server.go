package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ohcarioca/ai-investor-v2-sub001/internal/cache"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/pipeline"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/ratelimit"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/tools"
)

// Server exposes the tool dispatch and read-side quote endpoints.
type Server struct {
	httpServer *http.Server
	dispatcher *tools.Dispatcher
	pipe       *pipeline.Pipeline
	quoteCache *cache.Store
	limiter    ratelimit.Limiter
	log        *zap.Logger
	quoteTTL   time.Duration
}

type Options struct {
	Addr         string
	Dispatcher   *tools.Dispatcher
	Pipeline     *pipeline.Pipeline
	QuoteCache   *cache.Store
	Limiter      ratelimit.Limiter
	QuoteTTL     time.Duration
	AllowOrigins []string
	Log          *zap.Logger
}

func New(opts Options) *Server {
	if opts.QuoteTTL <= 0 {
		opts.QuoteTTL = 15 * time.Second
	}
	if len(opts.AllowOrigins) == 0 {
		opts.AllowOrigins = []string{"*"}
	}
	s := &Server{
		dispatcher: opts.Dispatcher,
		pipe:       opts.Pipeline,
		quoteCache: opts.QuoteCache,
		limiter:    opts.Limiter,
		log:        opts.Log,
		quoteTTL:   opts.QuoteTTL,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.requestID)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/v1/tools/{name}", s.handleTool)
		r.Get("/v1/quotes/display", s.handleDisplayQuote)
	})

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Handler exposes the assembled router, used directly by the tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
