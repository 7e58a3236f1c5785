package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Alias1177/BetSignals/internal/database"
	"github.com/Alias1177/BetSignals/internal/observability"
	"github.com/Alias1177/BetSignals/models"
)

// idempotency keys are uuid v5 in a fixed namespace so the same signal and
// channel always produce the same key
var idempotencyNamespace = uuid.MustParse("7f0c2d5e-9a41-4bfb-8a62-cc1d23f1a9b0")

// Channel wraps a sender with the delivery guarantees: at-most-once per
// signal, retry policy for transient failures, sticky disable on permanent
// ones, and a per-channel token bucket.
type Channel struct {
	db       *database.DB
	sender   models.Sender
	limiter  *rate.Limiter
	clock    models.Clock
	logger   zerolog.Logger
	metrics  *observability.Metrics
	disabled atomic.Bool
}

// NewChannel wires a sender into the pipeline. The default budget is
// 20 messages per minute, shared process-wide for this channel.
func NewChannel(db *database.DB, sender models.Sender, clock models.Clock, bus *observability.Bus) *Channel {
	return &Channel{
		db:      db,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(3*time.Second), 1),
		clock:   clock,
		logger:  bus.Logger("delivery"),
		metrics: bus.Metrics(),
	}
}

// Disabled reports whether a permanent failure has shut this channel down.
// Re-enabling requires operator intervention (restart).
func (c *Channel) Disabled() bool {
	return c.disabled.Load()
}

// ChannelID exposes the underlying channel identity
func (c *Channel) ChannelID() string {
	return c.sender.ChannelID()
}

// IdempotencyKey derives the deterministic key for a signal on this channel
func (c *Channel) IdempotencyKey(signalID int64) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(c.sender.ChannelID()+":"+strconv.FormatInt(signalID, 10))).String()
}

// Deliver sends one approved signal. The pending attempt row is recorded
// before the network call so a crash between send and ack leaves a trace to
// reconcile; the outcome row is finalized afterwards.
func (c *Channel) Deliver(ctx context.Context, sc *database.SignalContext) models.DeliveryOutcome {
	if c.Disabled() {
		return models.DeliveryPermanentFailure
	}

	channelID := c.sender.ChannelID()
	already, err := c.db.HasSentDelivery(ctx, sc.Signal.ID, channelID)
	if err != nil {
		c.logger.Error().Err(err).Int64("signal_id", sc.Signal.ID).Msg("Delivery dedup check failed")
		return models.DeliveryTransientFailure
	}
	if already {
		return models.DeliverySent
	}

	text := Format(sc)
	parts := Split(text, MaxMessageLength)
	payloadHash := sha256.Sum256([]byte(text))

	attempt := &models.Delivery{
		SignalID:       sc.Signal.ID,
		ChannelID:      channelID,
		IdempotencyKey: c.IdempotencyKey(sc.Signal.ID),
		PayloadHash:    hex.EncodeToString(payloadHash[:]),
		Outcome:        models.DeliveryPending,
		AttemptedAt:    c.clock.Now(),
	}
	if _, err := c.db.RecordDeliveryAttempt(ctx, attempt); err != nil {
		c.logger.Error().Err(err).Int64("signal_id", sc.Signal.ID).Msg("Recording delivery attempt failed")
		return models.DeliveryTransientFailure
	}

	messageID, err := c.sendParts(ctx, parts)
	now := c.clock.Now()
	switch {
	case err == nil:
		_ = c.db.MarkDeliveryOutcome(ctx, attempt.ID, models.DeliverySent, messageID, "", &now)
		c.metrics.DeliveriesTotal.WithLabelValues(string(models.DeliverySent)).Inc()
		c.logger.Info().Int64("signal_id", sc.Signal.ID).Str("message_id", messageID).Msg("Signal delivered")
		return models.DeliverySent

	case Permanent(err):
		_ = c.db.MarkDeliveryOutcome(ctx, attempt.ID, models.DeliveryPermanentFailure, "", err.Error(), nil)
		c.metrics.DeliveriesTotal.WithLabelValues(string(models.DeliveryPermanentFailure)).Inc()
		c.disabled.Store(true)
		c.logger.Error().Err(err).Str("channel", channelID).Msg("Channel disabled after permanent failure")
		return models.DeliveryPermanentFailure

	default:
		_ = c.db.MarkDeliveryOutcome(ctx, attempt.ID, models.DeliveryTransientFailure, "", err.Error(), nil)
		c.metrics.DeliveriesTotal.WithLabelValues(string(models.DeliveryTransientFailure)).Inc()
		c.logger.Warn().Err(err).Int64("signal_id", sc.Signal.ID).Msg("Transient delivery failure, will retry next tick")
		return models.DeliveryTransientFailure
	}
}

// sendParts pushes the split parts in order. Transient failures retry up to
// 3 attempts within this tick; a permanent error aborts immediately.
func (c *Channel) sendParts(ctx context.Context, parts []string) (string, error) {
	var firstMessageID string
	for _, part := range parts {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		var messageID string
		operation := func() error {
			var sendErr error
			messageID, sendErr = c.sender.Send(ctx, part)
			if sendErr != nil && Permanent(sendErr) {
				return backoff.Permanent(sendErr)
			}
			return sendErr
		}

		strategy := backoff.NewExponentialBackOff()
		strategy.InitialInterval = time.Second
		strategy.Multiplier = 2
		strategy.RandomizationFactor = 1
		strategy.MaxElapsedTime = 0

		policy := backoff.WithContext(backoff.WithMaxRetries(strategy, 2), ctx)
		if err := backoff.Retry(operation, policy); err != nil {
			return "", err
		}
		if firstMessageID == "" {
			firstMessageID = messageID
		}
	}
	return firstMessageID, nil
}
