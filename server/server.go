package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"arbor/agent"
	"arbor/config"
	"arbor/evaluator"
	"arbor/experiments/metrics"
	"arbor/game/isolation"
	"arbor/searcher"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrSessionLimit   = errors.New("session limit reached")
)

type session struct {
	controller *agent.Controller
	lastUsed   time.Time
}

// Server exposes one decision controller per session over HTTP. All
// sessions share the evaluator and play on boards of the configured size.
type Server struct {
	cfg    config.Config
	eval   evaluator.Evaluator
	router *gin.Engine

	mu       sync.Mutex
	sessions map[string]*session
}

func New(cfg config.Config, eval evaluator.Evaluator) *Server {
	s := &Server{
		cfg:      cfg,
		eval:     eval,
		sessions: make(map[string]*session),
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.POST("/sessions", s.createSession)
	v1.DELETE("/sessions/:id", s.deleteSession)
	v1.POST("/decide", s.decide)
	v1.POST("/observe", s.observe)
	v1.POST("/reset", s.reset)

	s.router = router
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("serving on %s", s.cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) health(c *gin.Context) {
	s.mu.Lock()
	n := len(s.sessions)
	s.mu.Unlock()
	c.JSON(http.StatusOK, StatusResponse{Status: "ok", Sessions: n})
}

func (s *Server) createSession(c *gin.Context) {
	mcts, err := s.cfg.Search.NewMCTS(s.eval, metrics.NewPrometheusCollector())
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) >= s.cfg.Server.MaxSessions && !s.evictLocked() {
		abort(c, http.StatusServiceUnavailable, ErrSessionLimit)
		return
	}
	id := uuid.NewString()
	s.sessions[id] = &session{controller: agent.NewController(mcts, nil), lastUsed: time.Now()}
	log.Info().Msgf("created session %s", id)
	c.JSON(http.StatusCreated, SessionResponse{Session: id})
}

// evictLocked drops the least recently used session that is not thinking.
func (s *Server) evictLocked() bool {
	var oldest string
	for id, sess := range s.sessions {
		if sess.controller.Phase() == agent.Thinking {
			continue
		}
		if oldest == "" || sess.lastUsed.Before(s.sessions[oldest].lastUsed) {
			oldest = id
		}
	}
	if oldest == "" {
		return false
	}
	delete(s.sessions, oldest)
	log.Info().Msgf("evicted idle session %s", oldest)
	return true
}

func (s *Server) deleteSession(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		abort(c, http.StatusNotFound, ErrUnknownSession)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "deleted"})
}

func (s *Server) lookup(id string) (*agent.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownSession, id)
	}
	sess.lastUsed = time.Now()
	return sess.controller, nil
}

func (s *Server) decide(c *gin.Context) {
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	controller, err := s.lookup(req.Session)
	if err != nil {
		abort(c, http.StatusNotFound, err)
		return
	}
	board, err := isolation.FromSnapshot(req.Board)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if board.Width() != s.cfg.Game.Width || board.Height() != s.cfg.Game.Height {
		abort(c, http.StatusBadRequest, fmt.Errorf("board must be %dx%d, got %dx%d",
			s.cfg.Game.Width, s.cfg.Game.Height, board.Width(), board.Height()))
		return
	}

	d, err := controller.Decide(c.Request.Context(), board, req.Budget.searchBudget(s.cfg.Search.Budget()))
	if err != nil {
		log.Warn().Err(err).Msgf("decision failed for session %s", req.Session)
		abort(c, statusOf(err), err)
		return
	}

	resp := DecideResponse{
		Action:      d.Action,
		Row:         -1,
		Col:         -1,
		Policy:      d.Policy,
		Value:       d.Value,
		GameOver:    d.GameOver,
		Fallback:    d.Fallback,
		Simulations: d.Metric.Simulations,
	}
	if !d.GameOver {
		resp.Row, resp.Col = board.Square(d.Action)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) observe(c *gin.Context) {
	var req ObserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	controller, err := s.lookup(req.Session)
	if err != nil {
		abort(c, http.StatusNotFound, err)
		return
	}
	if err := controller.Observe(req.Action); err != nil {
		abort(c, statusOf(err), err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) reset(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	controller, err := s.lookup(req.Session)
	if err != nil {
		abort(c, http.StatusNotFound, err)
		return
	}
	if err := controller.Reset(); err != nil {
		abort(c, statusOf(err), err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, agent.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, searcher.ErrInvalidBudget):
		return http.StatusBadRequest
	case errors.Is(err, searcher.ErrContractViolation):
		return http.StatusBadGateway
	case errors.Is(err, searcher.ErrEvaluatorUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
}
