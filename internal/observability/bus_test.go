package observability

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testBus() *Bus {
	return NewBus(zerolog.Nop(), NewMetrics())
}

func TestReportErrorKeepsRecentEvents(t *testing.T) {
	bus := testBus()

	bus.ReportError("ingest", "fetch_failed", errors.New("boom"), 7, 0)
	bus.ReportError("delivery", "send_failed", errors.New("timeout"), 0, 12)

	events := bus.RecentErrors()
	require.Len(t, events, 2)

	require.Equal(t, "ingest", events[0].Component)
	require.Equal(t, "fetch_failed", events[0].Event)
	require.Equal(t, int64(7), events[0].FixtureID)
	require.Equal(t, "boom", events[0].Error)

	require.Equal(t, "delivery", events[1].Component)
	require.Equal(t, int64(12), events[1].SignalID)
}

func TestRecentErrorsEmptyRing(t *testing.T) {
	require.Empty(t, testBus().RecentErrors())
}

func TestRingEvictsOldestFirst(t *testing.T) {
	bus := testBus()

	for i := 0; i < ringSize+10; i++ {
		bus.ReportError("scheduler", fmt.Sprintf("event-%d", i), nil, 0, 0)
	}

	events := bus.RecentErrors()
	require.Len(t, events, ringSize)
	require.Equal(t, "event-10", events[0].Event)
	require.Equal(t, fmt.Sprintf("event-%d", ringSize+9), events[len(events)-1].Event)
}

func TestLastTick(t *testing.T) {
	bus := testBus()
	require.True(t, bus.LastTick().IsZero())

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	bus.SetLastTick(at)
	require.True(t, bus.LastTick().Equal(at))
}
