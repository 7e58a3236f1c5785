package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Alias1177/BetSignals/internal/database"
	"github.com/Alias1177/BetSignals/internal/observability"
	"github.com/Alias1177/BetSignals/internal/risk"
	"github.com/Alias1177/BetSignals/models"
)

// Health levels reported by the projection
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthHalted   = "halted"
)

// Projection is the read-only view served by the status endpoint
type Projection struct {
	Health        string                     `json:"health"`
	LastTick      *time.Time                 `json:"last_tick,omitempty"`
	Fixtures24h   int                        `json:"fixtures_24h"`
	Prediction24h int                        `json:"predictions_24h"`
	Signals24h    int                        `json:"signals_24h"`
	RiskState     models.RiskState           `json:"risk_state"`
	RecentErrors  []observability.ErrorEvent `json:"recent_errors"`
}

// Server exposes the projection over HTTP. Strictly read-only: no route
// mutates any state.
type Server struct {
	cfg    *models.Config
	db     *database.DB
	risk   *risk.Manager
	bus    *observability.Bus
	clock  models.Clock
	logger zerolog.Logger
}

// NewServer wires the status server to its read-side collaborators
func NewServer(cfg *models.Config, db *database.DB, riskManager *risk.Manager, bus *observability.Bus, clock models.Clock) *Server {
	return &Server{
		cfg:    cfg,
		db:     db,
		risk:   riskManager,
		bus:    bus,
		clock:  clock,
		logger: bus.Logger("status"),
	}
}

// Run serves until the context is cancelled
func (s *Server) Run(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/status", s.handleStatus)
	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.bus.Metrics().Registry(), promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:    s.cfg.StatusListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.StatusListenAddr).Msg("Status endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Build assembles the current projection
func (s *Server) Build(ctx context.Context) (*Projection, error) {
	now := s.clock.Now()

	fixtures, predictions, signals, err := s.db.PipelineCounts(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	state, err := s.risk.CurrentRiskState(ctx)
	if err != nil {
		return nil, err
	}

	p := &Projection{
		Fixtures24h:   fixtures,
		Prediction24h: predictions,
		Signals24h:    signals,
		RiskState:     state,
		RecentErrors:  s.bus.RecentErrors(),
	}
	if last := s.bus.LastTick(); !last.IsZero() {
		p.LastTick = &last
	}
	p.Health = s.health(p, now)
	return p, nil
}

func (s *Server) health(p *Projection, now time.Time) string {
	if p.RiskState.Halted() {
		return HealthHalted
	}
	staleAfter := 5 * time.Duration(s.cfg.PollIntervalSeconds) * time.Second
	if p.LastTick == nil || now.Sub(*p.LastTick) > staleAfter {
		return HealthDegraded
	}
	return HealthHealthy
}

func (s *Server) handleStatus(c *gin.Context) {
	p, err := s.Build(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Building status projection failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status unavailable"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleHealthz(c *gin.Context) {
	p, err := s.Build(c.Request.Context())
	if err != nil || p.Health != HealthHealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
