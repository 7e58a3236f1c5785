package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Alias1177/BetSignals/internal/database"
	"github.com/Alias1177/BetSignals/internal/delivery"
	"github.com/Alias1177/BetSignals/internal/features"
	"github.com/Alias1177/BetSignals/internal/observability"
	"github.com/Alias1177/BetSignals/internal/risk"
	"github.com/Alias1177/BetSignals/models"
)

// Fatal pipeline errors mapped to exit codes by main
var (
	// ErrStoreUnavailable is returned after too many consecutive ticks
	// failed on store access.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNoChannels is returned when every delivery channel has been
	// disabled by permanent failures.
	ErrNoChannels = errors.New("no delivery channels remaining")
)

const (
	fetchWindow       = 14 * 24 * time.Hour
	tickBudget        = 5 * time.Minute
	maxStoreFailures  = 3
	batchLimit        = 50
	deliveryBatchSize = 20
)

// Scheduler drives the ingest -> prediction -> risk-gate -> delivery
// pipeline at a fixed cadence plus optional wall-clock blast sends.
type Scheduler struct {
	cfg       *models.Config
	db        *database.DB
	client    models.FixtureClient
	features  *features.Builder
	predictor models.Predictor
	risk      *risk.Manager
	channels  []*delivery.Channel
	bus       *observability.Bus
	clock     models.Clock
	logger    zerolog.Logger

	// deliveryMu serializes the poll-loop drain and cron blast sends
	deliveryMu sync.Mutex
}

// New wires the scheduler to its collaborators
func New(
	cfg *models.Config,
	db *database.DB,
	client models.FixtureClient,
	builder *features.Builder,
	predictor models.Predictor,
	riskManager *risk.Manager,
	channels []*delivery.Channel,
	bus *observability.Bus,
	clock models.Clock,
) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		db:        db,
		client:    client,
		features:  builder,
		predictor: predictor,
		risk:      riskManager,
		channels:  channels,
		bus:       bus,
		clock:     clock,
		logger:    bus.Logger("scheduler"),
	}
}

// Run blocks until the context is cancelled or a fatal error occurs.
// Cancellation is cooperative: a running tick finishes its in-flight call
// and no new tick starts.
func (s *Scheduler) Run(ctx context.Context) error {
	// pending attempts left behind by a crashed run are treated as failed
	if n, err := s.db.ReconcilePendingDeliveries(ctx, s.clock.Now()); err != nil {
		s.bus.ReportError("scheduler", "reconcile_pending", err, 0, 0)
	} else if n > 0 {
		s.logger.Warn().Int64("count", n).Msg("Reconciled unacknowledged deliveries from previous run")
	}

	cronRunner, err := s.startWallClockJobs(ctx)
	if err != nil {
		return err
	}
	if cronRunner != nil {
		defer func() { <-cronRunner.Stop().Done() }()
	}

	interval := time.Duration(s.cfg.PollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("Scheduler started")

	storeFailures := 0
	for {
		// run one tick immediately, then on every ticker fire; ticker
		// drops missed fires so overlong ticks coalesce
		err := s.Tick(ctx)
		switch {
		case err == nil:
			storeFailures = 0
		case errors.Is(err, ErrNoChannels):
			return err
		case isStoreError(err):
			storeFailures++
			s.bus.ReportError("scheduler", "tick_store_failure", err, 0, 0)
			if storeFailures >= maxStoreFailures {
				return fmt.Errorf("%w: %d consecutive failed ticks", ErrStoreUnavailable, storeFailures)
			}
		default:
			s.bus.ReportError("scheduler", "tick_failure", err, 0, 0)
		}

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// startWallClockJobs schedules blast sends at the configured local times
func (s *Scheduler) startWallClockJobs(ctx context.Context) (*cron.Cron, error) {
	if len(s.cfg.DeliveryScheduleLocal) == 0 {
		return nil, nil
	}

	runner := cron.New(cron.WithLocation(time.Local))
	for _, at := range s.cfg.DeliveryScheduleLocal {
		parts := strings.Split(at, ":")
		hour, _ := strconv.Atoi(parts[0])
		minute, _ := strconv.Atoi(parts[1])
		spec := fmt.Sprintf("%d %d * * *", minute, hour)

		if _, err := runner.AddFunc(spec, func() {
			jobCtx, cancel := context.WithTimeout(ctx, tickBudget)
			defer cancel()
			if err := s.drainDeliveries(jobCtx); err != nil {
				s.bus.ReportError("scheduler", "blast_send", err, 0, 0)
			}
		}); err != nil {
			return nil, fmt.Errorf("scheduling delivery job %q: %w", at, err)
		}
		s.logger.Info().Str("at", at).Msg("Registered wall-clock delivery job")
	}
	runner.Start()
	return runner, nil
}

// Tick executes one pipeline iteration under the tick lease
func (s *Scheduler) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return nil
	}

	lease, err := s.db.TryAcquireTickLease(ctx)
	if err != nil {
		return err
	}
	if lease == nil {
		s.logger.Info().Msg("skipped tick")
		s.bus.Metrics().TicksSkipped.Inc()
		return nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			s.bus.ReportError("scheduler", "lease_release", err, 0, 0)
		}
	}()

	s.bus.Metrics().TicksTotal.Inc()
	started := s.clock.Now()
	defer func() {
		s.bus.Metrics().TickDuration.Observe(s.clock.Now().Sub(started).Seconds())
	}()

	tickCtx, cancel := context.WithTimeout(ctx, tickBudget)
	defer cancel()

	if err := s.ingestFixtures(tickCtx); err != nil {
		if isStoreError(err) {
			s.bus.Metrics().TicksFailed.Inc()
			return err
		}
		// upstream failure: degrade to no new signals, never stale ones
		s.bus.ReportError("scheduler", "ingest", err, 0, 0)
	}

	if err := s.settleResults(tickCtx); err != nil {
		s.bus.ReportError("scheduler", "settle", err, 0, 0)
		if isStoreError(err) {
			s.bus.Metrics().TicksFailed.Inc()
			return err
		}
	}

	if err := s.generateSignals(tickCtx); err != nil {
		s.bus.Metrics().TicksFailed.Inc()
		return err
	}

	s.publishRiskGauges(tickCtx)

	if err := s.drainDeliveries(tickCtx); err != nil {
		return err
	}

	s.bus.SetLastTick(s.clock.Now())
	s.logger.Info().Dur("took", s.clock.Now().Sub(started)).Msg("Tick complete")
	return nil
}

// ingestFixtures polls the provider for the upcoming window and upserts
func (s *Scheduler) ingestFixtures(ctx context.Context) error {
	now := s.clock.Now()
	fixtures, err := s.client.ListScheduled(ctx, now, now.Add(fetchWindow), s.cfg.MonitoredCompetitions)
	if err != nil {
		return fmt.Errorf("listing fixtures: %w", err)
	}

	for i := range fixtures {
		f := &fixtures[i]
		err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
			res, txErr := s.db.UpsertFixture(ctx, tx, f)
			if txErr != nil {
				return txErr
			}
			if res.Created || res.StatusChanged {
				s.bus.Metrics().FixturesUpserted.Inc()
			}
			return nil
		})
		if err != nil {
			return storeError(fmt.Errorf("upserting fixture %s: %w", f.ProviderID, err))
		}
	}

	s.logger.Debug().Int("count", len(fixtures)).Msg("Ingested fixtures")
	return nil
}

// settleResults fetches final scores for overdue fixtures and books the
// outcome of their approved signals to the ledger.
func (s *Scheduler) settleResults(ctx context.Context) error {
	overdue, err := s.db.FixturesAwaitingResult(ctx, s.clock.Now(), batchLimit)
	if err != nil {
		return storeError(err)
	}

	for i := range overdue {
		f := &overdue[i]
		result, err := s.client.GetResult(ctx, f.ProviderID)
		if err != nil {
			s.bus.ReportError("scheduler", "fetch_result", err, f.ID, 0)
			continue
		}
		if result == nil {
			continue
		}

		f.Status = models.FixtureFinished
		f.HomeGoals, f.AwayGoals = &result.HomeGoals, &result.AwayGoals
		err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
			_, txErr := s.db.UpsertFixture(ctx, tx, f)
			return txErr
		})
		if err != nil {
			return storeError(err)
		}
	}

	unsettled, err := s.db.UnsettledSignals(ctx, batchLimit)
	if err != nil {
		return storeError(err)
	}
	for i := range unsettled {
		sc := &unsettled[i]
		result := &models.Result{
			HomeGoals: *sc.Fixture.HomeGoals,
			AwayGoals: *sc.Fixture.AwayGoals,
			Outcome:   resultOutcome(*sc.Fixture.HomeGoals, *sc.Fixture.AwayGoals),
		}
		if err := s.risk.Settle(ctx, sc, result); err != nil {
			if errors.Is(err, database.ErrConcurrentWrite) {
				s.bus.Metrics().LedgerConflicts.Inc()
			}
			s.bus.ReportError("risk", "settle", err, sc.Fixture.ID, sc.Signal.ID)
		}
	}
	return nil
}

// generateSignals predicts newly scheduled fixtures and risk-gates them.
// Prediction and signal are inserted in one transaction so neither exists
// without the other.
func (s *Scheduler) generateSignals(ctx context.Context) error {
	pending, err := s.db.FixturesWithoutPrediction(ctx, s.cfg.ModelVersion, batchLimit)
	if err != nil {
		return storeError(err)
	}

	for i := range pending {
		if err := ctx.Err(); err != nil {
			return nil
		}
		fixture := &pending[i]

		odds, err := s.client.GetOdds(ctx, fixture.ProviderID)
		if err != nil {
			s.bus.ReportError("scheduler", "fetch_odds", err, fixture.ID, 0)
			continue
		}

		featureSet, err := s.features.Build(ctx, fixture, odds)
		if err != nil {
			return storeError(err)
		}

		prediction, err := s.predictor.Score(fixture, featureSet)
		if err != nil {
			// internal predictor failure: fail closed, no signal
			s.bus.ReportError("predictor", "score", err, fixture.ID, 0)
			continue
		}

		err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
			if _, txErr := s.db.RecordPrediction(ctx, tx, prediction); txErr != nil {
				return txErr
			}
			s.bus.Metrics().PredictionsTotal.Inc()

			signal := s.risk.Evaluate(ctx, prediction, pickOdds(prediction, odds))
			if _, txErr := s.db.RecordSignal(ctx, tx, signal); txErr != nil {
				return txErr
			}
			s.bus.Metrics().SignalsTotal.WithLabelValues(string(signal.Status)).Inc()
			return nil
		})
		if errors.Is(err, database.ErrDuplicatePrediction) {
			continue
		}
		if err != nil {
			return storeError(err)
		}
	}
	return nil
}

// drainDeliveries pushes undelivered approved signals to every live channel
// until the queue is empty or the budget expires.
func (s *Scheduler) drainDeliveries(ctx context.Context) error {
	s.deliveryMu.Lock()
	defer s.deliveryMu.Unlock()

	live := 0
	for _, ch := range s.channels {
		if ch.Disabled() {
			continue
		}
		live++

		for {
			if err := ctx.Err(); err != nil {
				return nil
			}
			batch, err := s.db.UndeliveredApprovedSignals(ctx, ch.ChannelID(), deliveryBatchSize)
			if err != nil {
				return storeError(err)
			}
			if len(batch) == 0 {
				break
			}

			progressed := false
			for i := range batch {
				if ctx.Err() != nil {
					return nil
				}
				outcome := ch.Deliver(ctx, &batch[i])
				if outcome == models.DeliverySent {
					progressed = true
				}
				if outcome == models.DeliveryPermanentFailure {
					live--
					break
				}
			}
			if ch.Disabled() || !progressed {
				// transient failures carry over to the next tick
				break
			}
		}
	}

	if live == 0 && len(s.channels) > 0 {
		return ErrNoChannels
	}
	return nil
}

func (s *Scheduler) publishRiskGauges(ctx context.Context) {
	state, err := s.risk.CurrentRiskState(ctx)
	if err != nil {
		s.bus.ReportError("risk", "state", err, 0, 0)
		return
	}
	balance, _ := state.Balance.Float64()
	s.bus.Metrics().BankrollBalance.Set(balance)
	s.bus.Metrics().DrawdownFraction.Set(state.Drawdown)
	s.bus.Metrics().ConsecutiveLosses.Set(float64(state.ConsecutiveLosses))
	s.bus.Metrics().SetRiskState(string(state.State))
}

func pickOdds(p *models.Prediction, odds *models.OddsSnapshot) float64 {
	if odds == nil {
		return 0
	}
	switch p.Pick {
	case models.OutcomeHome:
		return odds.Home
	case models.OutcomeDraw:
		return odds.Draw
	default:
		return odds.Away
	}
}

func resultOutcome(home, away int) models.Outcome {
	switch {
	case home > away:
		return models.OutcomeHome
	case away > home:
		return models.OutcomeAway
	default:
		return models.OutcomeDraw
	}
}

// storeErr wraps database failures so Run can count them toward the
// store-unavailable shutdown.
type storeErr struct {
	err error
}

func (e *storeErr) Error() string { return e.err.Error() }
func (e *storeErr) Unwrap() error { return e.err }

func storeError(err error) error {
	if err == nil {
		return nil
	}
	var se *storeErr
	if errors.As(err, &se) {
		return err
	}
	return &storeErr{err: err}
}

func isStoreError(err error) bool {
	var se *storeErr
	return errors.As(err, &se)
}
