package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"gatekeeper/internal/config"
	"gatekeeper/internal/domain"
	"gatekeeper/internal/infra/ratelimit"
	"gatekeeper/internal/usecase"

	"github.com/gin-gonic/gin"
)

// Pipeline is the evaluation entry point driven by webhook deliveries.
type Pipeline interface {
	HandlePullRequest(ctx context.Context, ev domain.PullRequestEvent) (usecase.RunSummary, error)
	HandleCheckSuite(ctx context.Context, ev domain.CheckSuiteEvent) ([]usecase.RunSummary, error)
}

type Server struct {
	cfg    config.Config
	r      *gin.Engine
	srv    *http.Server
	logger *slog.Logger

	pipeline    Pipeline
	evaluations usecase.EvaluationRepository

	webhookSecret []byte
	async         bool
	inflight      chan struct{}
	wg            sync.WaitGroup
	baseCtx       context.Context
	cancelBase    context.CancelFunc

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

type ServerDeps struct {
	Pipeline    Pipeline
	Evaluations usecase.EvaluationRepository
	RateLimiter domain.RateLimiter
	Logger      *slog.Logger
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:           cfg,
		r:             r,
		logger:        logger,
		pipeline:      deps.Pipeline,
		evaluations:   deps.Evaluations,
		webhookSecret: []byte(cfg.GitHubWebhookSecret),
		async:         cfg.WebhookAsync,
		baseCtx:       baseCtx,
		cancelBase:    cancel,
	}
	maxInflight := cfg.WebhookMaxInflight
	if maxInflight <= 0 {
		maxInflight = 32
	}
	s.inflight = make(chan struct{}, maxInflight)
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			if limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil); err == nil {
				s.rateLimiter = limiter
			} else {
				s.logger.Warn("redis rate limiter unavailable, using memory", "error", err)
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = s.cfg.RateLimitWindow()
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "app": "Vouch Gatekeeper", "async": s.async})
	})
	s.r.POST("/webhook", s.handleWebhook)
	s.r.GET("/api/badge/:owner/:repo", s.handleBadge)

	v1 := s.r.Group("/v1")
	{
		v1.GET("/evaluations/:owner/:repo", s.handleListEvaluations)
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.r }

func (s *Server) Run() error {
	s.srv = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for background evaluations.
// When ctx expires first, remaining evaluations are cancelled; each still
// concludes its check run.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancelBase()
		<-done
	}
	s.cancelBase()
	return err
}
