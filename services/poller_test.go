package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/status"
)

var epoch = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

type eventSink struct {
	mu     sync.Mutex
	events []models.StatusEvent
}

func (s *eventSink) add(ev models.StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func kotEvent(id uint, st status.KOTStatus, seq uint64) models.StatusEvent {
	return models.KOTEvent(models.KOT{ID: id, OrderID: 1, TableNumber: "T5", Status: st, Version: seq, UpdatedAt: epoch.Add(time.Duration(seq) * time.Second)})
}

func TestNewPollerRejectsBothDisabled(t *testing.T) {
	_, err := NewPoller(PollerConfig{}, func(models.StatusEvent) {})
	assert.True(t, errors.Is(err, ErrPollingDisabled))

	_, err = NewPoller(PollerConfig{Degraded: 10 * time.Second, Connected: -1}, func(models.StatusEvent) {})
	assert.NoError(t, err)
}

func TestPollerSinksOnlyDeltas(t *testing.T) {
	sink := &eventSink{}
	p, err := NewPoller(DefaultPollerConfig(), sink.add)
	require.NoError(t, err)

	snapshot := []models.StatusEvent{kotEvent(1, status.KOTPending, 1), kotEvent(2, status.KOTPreparing, 2)}
	var fetchErr error
	p.AddSource("kots", func(context.Context) ([]models.StatusEvent, error) {
		return snapshot, fetchErr
	})

	p.PollOnce(context.Background())
	assert.Equal(t, 2, sink.len())

	p.PollOnce(context.Background())
	assert.Equal(t, 2, sink.len(), "unchanged snapshot yields nothing")

	snapshot = []models.StatusEvent{kotEvent(1, status.KOTPreparing, 2), kotEvent(2, status.KOTPreparing, 2)}
	p.PollOnce(context.Background())
	require.Equal(t, 3, sink.len())
	assert.Equal(t, uint(1), sink.events[2].EntityID)
	assert.Equal(t, models.SourcePoll, sink.events[2].Source)

	fetchErr = errors.New("store down")
	p.PollOnce(context.Background())
	assert.Equal(t, 3, sink.len())
	assert.Equal(t, 4, p.Polls())
}

func runPoller(t *testing.T, p *Poller) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	return cancel, done
}

func TestPollerCadenceFollowsChannelState(t *testing.T) {
	clock := newFakeClock(epoch)
	p, err := NewPoller(PollerConfig{Degraded: 10 * time.Second, Connected: 60 * time.Second, Clock: clock}, func(models.StatusEvent) {})
	require.NoError(t, err)
	p.AddSource("noop", func(context.Context) ([]models.StatusEvent, error) { return nil, nil })

	cancel, done := runPoller(t, p)
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return clock.Waiters() == 1 }, time.Second, time.Millisecond)
	clock.Advance(30 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, p.Polls(), "connected cadence is 60s")

	p.SetDegraded(true)
	assert.Equal(t, 10*time.Second, p.Interval())
	require.Eventually(t, func() bool { return clock.Waiters() == 2 }, time.Second, time.Millisecond)

	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return p.Polls() == 1 }, time.Second, time.Millisecond)
}

func TestPollerRefreshAndStop(t *testing.T) {
	clock := newFakeClock(epoch)
	p, err := NewPoller(PollerConfig{Degraded: 10 * time.Second, Connected: 60 * time.Second, Clock: clock}, func(models.StatusEvent) {})
	require.NoError(t, err)
	p.AddSource("noop", func(context.Context) ([]models.StatusEvent, error) { return nil, nil })

	cancel, done := runPoller(t, p)
	defer cancel()

	p.Refresh()
	require.Eventually(t, func() bool { return p.Polls() == 1 }, time.Second, time.Millisecond)

	p.Stop()
	p.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPollerStopsOnContextCancel(t *testing.T) {
	p, err := NewPoller(DefaultPollerConfig(), func(models.StatusEvent) {})
	require.NoError(t, err)
	cancel, done := runPoller(t, p)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
