package sportsdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/BetSignals/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(ClientOptions{
		APIKey:         "secret-token",
		BaseURL:        server.URL + "/",
		RequestTimeout: 5 * time.Second,
		RequestsPerSec: 100,
		Logger:         zerolog.Nop(),
		Clock:          models.FixedClock{Instant: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)},
	})
	return client, server
}

func TestListScheduled(t *testing.T) {
	var gotPath, gotToken, gotQuery string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Auth-Token")
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{
			"matches": [
				{
					"id": 1001,
					"utcDate": "2026-03-14T15:00:00Z",
					"status": "TIMED",
					"competition": {"code": "PL"},
					"homeTeam": {"name": "Arsenal"},
					"awayTeam": {"name": "Chelsea"}
				},
				{
					"id": 1002,
					"utcDate": "not-a-date",
					"status": "TIMED",
					"competition": {"code": "PL"},
					"homeTeam": {"name": "A"},
					"awayTeam": {"name": "B"}
				},
				{
					"id": 1003,
					"utcDate": "2026-03-15T15:00:00Z",
					"status": "FINISHED",
					"competition": {"code": "CL"},
					"homeTeam": {"name": "Real"},
					"awayTeam": {"name": "Barca"},
					"score": {"winner": "HOME_TEAM", "fullTime": {"home": 2, "away": 1}}
				}
			]
		}`))
	})

	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	to := from.Add(14 * 24 * time.Hour)
	fixtures, err := client.ListScheduled(context.Background(), from, to, []string{"PL", "CL"})
	require.NoError(t, err)

	require.Equal(t, "/matches", gotPath)
	require.Equal(t, "secret-token", gotToken)
	require.Contains(t, gotQuery, "dateFrom=2026-03-10")
	require.Contains(t, gotQuery, "dateTo=2026-03-24")
	require.Contains(t, gotQuery, "competitions=PL%2CCL")

	// the malformed match is skipped, not fatal
	require.Len(t, fixtures, 2)

	require.Equal(t, "1001", fixtures[0].ProviderID)
	require.Equal(t, "Arsenal", fixtures[0].HomeTeam)
	require.Equal(t, models.FixtureScheduled, fixtures[0].Status)
	require.True(t, fixtures[0].KickoffUTC.Equal(time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)))

	require.Equal(t, models.FixtureFinished, fixtures[1].Status)
	require.NotNil(t, fixtures[1].HomeGoals)
	require.Equal(t, 2, *fixtures[1].HomeGoals)
}

func TestGetOdds(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/matches/1001", r.URL.Path)
		w.Write([]byte(`{"id": 1001, "odds": {"homeWin": 1.60, "draw": 4.20, "awayWin": 5.50}}`))
	})

	odds, err := client.GetOdds(context.Background(), "1001")
	require.NoError(t, err)
	require.NotNil(t, odds)
	require.Equal(t, "1001", odds.FixtureID)
	require.Equal(t, 1.60, odds.Home)
	require.Equal(t, 4.20, odds.Draw)
	require.Equal(t, 5.50, odds.Away)
	require.False(t, odds.FetchedAt.IsZero())
}

func TestGetOddsUnavailable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// provider placeholder odds of 1.0 mean no market yet
		w.Write([]byte(`{"id": 1001, "odds": {"homeWin": 1.0, "draw": 1.0, "awayWin": 1.0}}`))
	})

	odds, err := client.GetOdds(context.Background(), "1001")
	require.NoError(t, err)
	require.Nil(t, odds)
}

func TestGetResult(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": 1001,
			"status": "FINISHED",
			"score": {"winner": "AWAY_TEAM", "fullTime": {"home": 0, "away": 2}}
		}`))
	})

	result, err := client.GetResult(context.Background(), "1001")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, 0, result.HomeGoals)
	require.Equal(t, 2, result.AwayGoals)
	require.Equal(t, models.OutcomeAway, result.Outcome)
}

func TestGetResultPending(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 1001, "status": "IN_PLAY"}`))
	})

	result, err := client.GetResult(context.Background(), "1001")
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestListScheduledUpstreamError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.ListScheduled(context.Background(), time.Now(), time.Now().Add(time.Hour), []string{"PL"})
	require.Error(t, err)
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		raw      string
		expected models.FixtureStatus
	}{
		{"SCHEDULED", models.FixtureScheduled},
		{"TIMED", models.FixtureScheduled},
		{"IN_PLAY", models.FixtureLive},
		{"PAUSED", models.FixtureLive},
		{"FINISHED", models.FixtureFinished},
		{"AWARDED", models.FixtureFinished},
		{"POSTPONED", models.FixtureCancelled},
		{"SUSPENDED", models.FixtureCancelled},
		{"CANCELLED", models.FixtureCancelled},
		{"SOMETHING_NEW", models.FixtureScheduled},
	}

	for _, tt := range tests {
		require.Equal(t, tt.expected, mapStatus(tt.raw), tt.raw)
	}
}
