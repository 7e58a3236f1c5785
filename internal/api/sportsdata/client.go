package sportsdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	httpclient "github.com/Alias1177/BetSignals/internal/platform/http"
	"github.com/Alias1177/BetSignals/models"
)

// Client is the upstream football data API client
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *httpclient.Client
	logger     zerolog.Logger
	metrics    Observer
	clock      models.Clock
}

// Observer receives per-endpoint call statistics
type Observer interface {
	ObserveCall(endpoint string, latency time.Duration)
	ObserveError(endpoint string, rateLimited bool, transient bool)
}

// ClientOptions holds options for creating a new sports data client
type ClientOptions struct {
	APIKey         string
	BaseURL        string
	RequestTimeout time.Duration
	RequestsPerSec int
	Logger         zerolog.Logger
	Metrics        Observer
	Clock          models.Clock
}

// NewClient creates a new sports data API client
func NewClient(options ClientOptions) *Client {
	httpOpts := httpclient.ClientOptions{
		Timeout:        options.RequestTimeout,
		RequestsPerSec: options.RequestsPerSec,
	}
	if options.Clock == nil {
		options.Clock = models.SystemClock{}
	}

	return &Client{
		apiKey:     options.APIKey,
		baseURL:    strings.TrimRight(options.BaseURL, "/"),
		httpClient: httpclient.NewClient(httpOpts),
		logger:     options.Logger.With().Str("component", "sportsdata_client").Logger(),
		metrics:    options.Metrics,
		clock:      options.Clock,
	}
}

// Wire types for the provider responses

type matchesResponse struct {
	Matches []apiMatch `json:"matches"`
}

type apiMatch struct {
	ID          int64  `json:"id"`
	UTCDate     string `json:"utcDate"`
	Status      string `json:"status"`
	Competition struct {
		Code string `json:"code"`
	} `json:"competition"`
	HomeTeam struct {
		Name string `json:"name"`
	} `json:"homeTeam"`
	AwayTeam struct {
		Name string `json:"name"`
	} `json:"awayTeam"`
	Score struct {
		Winner   string `json:"winner"`
		FullTime struct {
			Home *int `json:"home"`
			Away *int `json:"away"`
		} `json:"fullTime"`
	} `json:"score"`
	Odds struct {
		HomeWin float64 `json:"homeWin"`
		Draw    float64 `json:"draw"`
		AwayWin float64 `json:"awayWin"`
	} `json:"odds"`
}

// ListScheduled fetches fixtures kicking off inside [from, to] for the given
// competitions. The returned slice is a finite snapshot; the call does not
// page or resume.
func (c *Client) ListScheduled(ctx context.Context, from, to time.Time, competitions []string) ([]models.Fixture, error) {
	query := url.Values{}
	query.Set("dateFrom", from.UTC().Format("2006-01-02"))
	query.Set("dateTo", to.UTC().Format("2006-01-02"))
	query.Set("competitions", strings.Join(competitions, ","))

	body, err := c.get(ctx, "/matches", query)
	if err != nil {
		return nil, err
	}

	var data matchesResponse
	if err := json.Unmarshal(body, &data); err != nil {
		c.logger.Error().Err(err).Str("response", string(body)).Msg("Error parsing JSON")
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	fixtures := make([]models.Fixture, 0, len(data.Matches))
	for _, m := range data.Matches {
		f, err := m.toFixture()
		if err != nil {
			c.logger.Warn().Err(err).Int64("match_id", m.ID).Msg("Skipping malformed match")
			continue
		}
		fixtures = append(fixtures, f)
	}

	c.logger.Debug().Int("count", len(fixtures)).Msg("Fetched fixtures")
	return fixtures, nil
}

// GetOdds fetches the three-way odds for one fixture. Returns nil when the
// provider has no odds yet.
func (c *Client) GetOdds(ctx context.Context, providerID string) (*models.OddsSnapshot, error) {
	body, err := c.get(ctx, "/matches/"+providerID, nil)
	if err != nil {
		return nil, err
	}

	var m apiMatch
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	if m.Odds.HomeWin <= 1 || m.Odds.Draw <= 1 || m.Odds.AwayWin <= 1 {
		return nil, nil
	}
	return &models.OddsSnapshot{
		FixtureID: providerID,
		Home:      m.Odds.HomeWin,
		Draw:      m.Odds.Draw,
		Away:      m.Odds.AwayWin,
		FetchedAt: c.clock.Now(),
	}, nil
}

// GetResult fetches the final score for one fixture. Returns nil while the
// match has not finished.
func (c *Client) GetResult(ctx context.Context, providerID string) (*models.Result, error) {
	body, err := c.get(ctx, "/matches/"+providerID, nil)
	if err != nil {
		return nil, err
	}

	var m apiMatch
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	if m.Status != "FINISHED" || m.Score.FullTime.Home == nil || m.Score.FullTime.Away == nil {
		return nil, nil
	}

	home, away := *m.Score.FullTime.Home, *m.Score.FullTime.Away
	outcome := models.OutcomeDraw
	switch {
	case home > away:
		outcome = models.OutcomeHome
	case away > home:
		outcome = models.OutcomeAway
	}
	return &models.Result{HomeGoals: home, AwayGoals: away, Outcome: outcome}, nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Auth-Token", c.apiKey)

	metricEndpoint := endpoint
	if strings.HasPrefix(endpoint, "/matches/") {
		metricEndpoint = "/matches/{id}"
	}

	start := c.clock.Now()
	resp, err := c.httpClient.DoRequest(ctx, req)
	if c.metrics != nil {
		c.metrics.ObserveCall(metricEndpoint, c.clock.Now().Sub(start))
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.ObserveError(metricEndpoint, httpclient.IsRateLimited(err), httpclient.IsTransient(err))
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}

func (m apiMatch) toFixture() (models.Fixture, error) {
	kickoff, err := time.Parse(time.RFC3339, m.UTCDate)
	if err != nil {
		return models.Fixture{}, fmt.Errorf("parsing kickoff %q: %w", m.UTCDate, err)
	}
	if m.HomeTeam.Name == "" || m.AwayTeam.Name == "" {
		return models.Fixture{}, fmt.Errorf("match %d missing team names", m.ID)
	}

	f := models.Fixture{
		ProviderID:  fmt.Sprintf("%d", m.ID),
		KickoffUTC:  kickoff.UTC(),
		HomeTeam:    m.HomeTeam.Name,
		AwayTeam:    m.AwayTeam.Name,
		Competition: m.Competition.Code,
		Status:      mapStatus(m.Status),
	}
	if m.Score.FullTime.Home != nil && m.Score.FullTime.Away != nil {
		home, away := *m.Score.FullTime.Home, *m.Score.FullTime.Away
		f.HomeGoals, f.AwayGoals = &home, &away
	}
	return f, nil
}

func mapStatus(s string) models.FixtureStatus {
	switch s {
	case "SCHEDULED", "TIMED":
		return models.FixtureScheduled
	case "IN_PLAY", "PAUSED", "LIVE":
		return models.FixtureLive
	case "FINISHED", "AWARDED":
		return models.FixtureFinished
	case "POSTPONED", "SUSPENDED", "CANCELLED":
		return models.FixtureCancelled
	default:
		return models.FixtureScheduled
	}
}
