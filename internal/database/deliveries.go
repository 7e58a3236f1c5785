package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Alias1177/BetSignals/models"
)

// RecordDeliveryAttempt appends one delivery attempt row. Prior attempts are
// never mutated; the latest row per (signal, channel) is the current state.
func (db *DB) RecordDeliveryAttempt(ctx context.Context, d *models.Delivery) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO deliveries (signal_id, channel_id, idempotency_key, payload_hash, outcome, provider_message_id, failure_reason, attempted_at, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, d.SignalID, d.ChannelID, d.IdempotencyKey, d.PayloadHash, d.Outcome, d.ProviderMessageID, d.FailureReason, d.AttemptedAt, d.SentAt).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: signal %d already delivered on channel %s", ErrInvariant, d.SignalID, d.ChannelID)
		}
		return 0, fmt.Errorf("inserting delivery attempt: %w", err)
	}
	d.ID = id
	return id, nil
}

// HasSentDelivery reports whether a successful delivery exists for the pair
func (db *DB) HasSentDelivery(ctx context.Context, signalID int64, channelID string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM deliveries
			WHERE signal_id = $1 AND channel_id = $2 AND outcome = 'sent'
		)
	`, signalID, channelID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking sent delivery: %w", err)
	}
	return exists, nil
}

// ReconcilePendingDeliveries closes out pending attempts older than the
// cutoff. The channel provider offers no lookup by idempotency key, so an
// unacknowledged send is treated as failed and the signal becomes eligible
// again on the next tick.
func (db *DB) ReconcilePendingDeliveries(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE deliveries
		SET outcome = 'transient_failure', failure_reason = 'unacknowledged send'
		WHERE outcome = 'pending' AND attempted_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reconciling pending deliveries: %w", err)
	}
	return res.RowsAffected()
}

// MarkDeliveryOutcome finalizes a previously recorded pending attempt
func (db *DB) MarkDeliveryOutcome(ctx context.Context, deliveryID int64, outcome models.DeliveryOutcome, providerMessageID, failureReason string, sentAt *time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE deliveries
		SET outcome = $1, provider_message_id = $2, failure_reason = $3, sent_at = $4
		WHERE id = $5 AND outcome = 'pending'
	`, outcome, providerMessageID, failureReason, sentAt, deliveryID)
	if err != nil {
		return fmt.Errorf("marking delivery outcome: %w", err)
	}
	return nil
}
