package models

import (
	"context"
	"time"
)

// FixtureClient fetches fixtures, odds and results from the upstream provider
type FixtureClient interface {
	ListScheduled(ctx context.Context, from, to time.Time, competitions []string) ([]Fixture, error)
	GetOdds(ctx context.Context, providerID string) (*OddsSnapshot, error)
	GetResult(ctx context.Context, providerID string) (*Result, error)
}

// Predictor maps a fixture plus its features to a prediction
type Predictor interface {
	Score(fixture *Fixture, features *FeatureSet) (*Prediction, error)
}

// Sender pushes a formatted message to one delivery channel
type Sender interface {
	ChannelID() string
	Send(ctx context.Context, text string) (providerMessageID string, err error)
}
