package database

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/BetSignals/models"
)

// setupStore connects to the database named by TEST_DATABASE_URL and starts
// from empty tables. Tests in this file are skipped when the variable is not
// set, so the pure-logic suite still runs everywhere.
func setupStore(t *testing.T) *DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := New(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`TRUNCATE deliveries, signals, predictions, fixtures RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	// TRUNCATE bypasses the row-level append-only trigger
	_, err = db.Exec(`TRUNCATE bankroll_ledger RESTART IDENTITY`)
	require.NoError(t, err)

	return db
}

// seedApprovedSignal writes a finished fixture, its prediction and an
// approved signal, returning the signal id.
func seedApprovedSignal(t *testing.T, db *DB, providerID string) int64 {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	homeGoals, awayGoals := 2, 0

	var signalID int64
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		fixture := &models.Fixture{
			ProviderID:  providerID,
			KickoffUTC:  now.Add(-3 * time.Hour),
			HomeTeam:    "Arsenal",
			AwayTeam:    "Chelsea",
			Competition: "PL",
			Status:      models.FixtureFinished,
			HomeGoals:   &homeGoals,
			AwayGoals:   &awayGoals,
		}
		if _, err := db.UpsertFixture(ctx, tx, fixture); err != nil {
			return err
		}

		prediction := &models.Prediction{
			FixtureID:    fixture.ID,
			ModelVersion: "blend-1",
			Pick:         models.OutcomeHome,
			ProbHome:     0.55,
			ProbDraw:     0.25,
			ProbAway:     0.20,
			Confidence:   0.80,
			GeneratedAt:  now.Add(-4 * time.Hour),
		}
		if _, err := db.RecordPrediction(ctx, tx, prediction); err != nil {
			return err
		}

		signal := &models.Signal{
			PredictionID:  prediction.ID,
			Status:        models.SignalApproved,
			StakeFraction: 0.03,
			ExpectedValue: 0.12,
			Odds:          2.05,
			CreatedAt:     now.Add(-4 * time.Hour),
		}
		id, err := db.RecordSignal(ctx, tx, signal)
		signalID = id
		return err
	})
	require.NoError(t, err)
	return signalID
}

func recordSent(t *testing.T, db *DB, signalID int64, channelID string) {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Second)
	_, err := db.RecordDeliveryAttempt(context.Background(), &models.Delivery{
		SignalID:       signalID,
		ChannelID:      channelID,
		IdempotencyKey: "key",
		PayloadHash:    "hash",
		Outcome:        models.DeliverySent,
		AttemptedAt:    now,
		SentAt:         &now,
	})
	require.NoError(t, err)
}

// Settlement only picks up signals that actually reached a channel. An
// approved signal on a finished fixture with no sent delivery books no PnL.
func TestUnsettledSignalsRequireSentDelivery(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()

	deliveredID := seedApprovedSignal(t, db, "fx-delivered")
	undeliveredID := seedApprovedSignal(t, db, "fx-undelivered")
	failedID := seedApprovedSignal(t, db, "fx-failed")

	recordSent(t, db, deliveredID, "telegram:main")
	_, err := db.RecordDeliveryAttempt(ctx, &models.Delivery{
		SignalID:       failedID,
		ChannelID:      "telegram:main",
		IdempotencyKey: "key",
		PayloadHash:    "hash",
		Outcome:        models.DeliveryPermanentFailure,
		FailureReason:  "chat not found",
		AttemptedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	due, err := db.UnsettledSignals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, deliveredID, due[0].Signal.ID)

	// a later sent delivery makes the signal eligible
	recordSent(t, db, undeliveredID, "telegram:main")
	due, err = db.UnsettledSignals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
}

func TestRecordDeliveryAttemptSingleSentRow(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()

	signalID := seedApprovedSignal(t, db, "fx-one-sent")

	// failures may pile up freely
	for i := 0; i < 2; i++ {
		_, err := db.RecordDeliveryAttempt(ctx, &models.Delivery{
			SignalID:       signalID,
			ChannelID:      "telegram:main",
			IdempotencyKey: "key",
			PayloadHash:    "hash",
			Outcome:        models.DeliveryTransientFailure,
			AttemptedAt:    time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	recordSent(t, db, signalID, "telegram:main")

	now := time.Now().UTC()
	_, err := db.RecordDeliveryAttempt(ctx, &models.Delivery{
		SignalID:       signalID,
		ChannelID:      "telegram:main",
		IdempotencyKey: "key",
		PayloadHash:    "hash",
		Outcome:        models.DeliverySent,
		AttemptedAt:    now,
		SentAt:         &now,
	})
	require.ErrorIs(t, err, ErrInvariant)

	// a second channel is an independent delivery
	recordSent(t, db, signalID, "telegram:backup")
}

func TestUpsertFixtureIdempotent(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()

	kickoff := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	first := &models.Fixture{
		ProviderID:  "fx-upsert",
		KickoffUTC:  kickoff,
		HomeTeam:    "Liverpool",
		AwayTeam:    "Everton",
		Competition: "PL",
		Status:      models.FixtureScheduled,
	}
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := db.UpsertFixture(ctx, tx, first)
		require.NoError(t, err)
		require.True(t, res.Created)
		return nil
	})
	require.NoError(t, err)

	// same provider key with a result; identity attributes must not move
	goals := 1
	update := &models.Fixture{
		ProviderID:  "fx-upsert",
		KickoffUTC:  kickoff,
		HomeTeam:    "renamed team",
		AwayTeam:    "renamed team",
		Competition: "FA",
		Status:      models.FixtureFinished,
		HomeGoals:   &goals,
		AwayGoals:   &goals,
	}
	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := db.UpsertFixture(ctx, tx, update)
		require.NoError(t, err)
		require.False(t, res.Created)
		require.True(t, res.StatusChanged)
		require.Equal(t, first.ID, res.FixtureID)
		return nil
	})
	require.NoError(t, err)

	stored, err := db.GetFixture(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, "Liverpool", stored.HomeTeam)
	require.Equal(t, "PL", stored.Competition)
	require.Equal(t, models.FixtureFinished, stored.Status)
	require.NotNil(t, stored.HomeGoals)
	require.Equal(t, 1, *stored.HomeGoals)
}

func TestLedgerAppendOnly(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, db.SeedLedger(ctx, now, decimal.NewFromInt(2000)))
	// a second seed is a no-op on a non-empty ledger
	require.NoError(t, db.SeedLedger(ctx, now, decimal.NewFromInt(9999)))

	_, err := db.AppendLedgerRetry(ctx, now, decimal.NewFromFloat(64.5), "settle:1")
	require.NoError(t, err)
	_, err = db.AppendLedgerRetry(ctx, now, decimal.NewFromFloat(-60), "settle:2")
	require.NoError(t, err)

	entries, err := db.LedgerEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.True(t, entries[0].Delta.Equal(decimal.NewFromInt(2000)))
	require.True(t, entries[2].RunningBalance.Equal(decimal.NewFromFloat(2004.5)))
	require.NoError(t, VerifyLedger(entries))

	_, err = db.Exec(`UPDATE bankroll_ledger SET delta = 0 WHERE id = $1`, entries[1].ID)
	require.ErrorContains(t, err, "append-only")
	_, err = db.Exec(`DELETE FROM bankroll_ledger WHERE id = $1`, entries[1].ID)
	require.ErrorContains(t, err, "append-only")
}

func TestRecordPredictionDuplicate(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()

	seedApprovedSignal(t, db, "fx-dup")

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := db.RecordPrediction(ctx, tx, &models.Prediction{
			FixtureID:    1,
			ModelVersion: "blend-1",
			Pick:         models.OutcomeDraw,
			ProbHome:     0.3,
			ProbDraw:     0.4,
			ProbAway:     0.3,
			Confidence:   0.5,
			GeneratedAt:  time.Now().UTC(),
		})
		return err
	})
	require.ErrorIs(t, err, ErrDuplicatePrediction)
}
