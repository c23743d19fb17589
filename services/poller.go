package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/utils"
)

const (
	DefaultDegradedInterval  = 10 * time.Second
	DefaultConnectedInterval = 60 * time.Second
)

var ErrPollingDisabled = errors.New("poller: degraded and connected intervals cannot both be disabled")

// FetchFunc returns the current state of one collection as status events.
type FetchFunc func(ctx context.Context) ([]models.StatusEvent, error)

// PollerConfig intervals: a value <= 0 disables polling in that mode.
type PollerConfig struct {
	Degraded  time.Duration
	Connected time.Duration
	// StartDegraded selects the short interval until SetDegraded(false).
	StartDegraded bool
	Clock         utils.Clock
	Log           logrus.FieldLogger
}

func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Degraded:      DefaultDegradedInterval,
		Connected:     DefaultConnectedInterval,
		StartDegraded: true,
	}
}

type fingerprint struct {
	status   string
	seq      uint64
	originAt time.Time
}

type pollSource struct {
	name  string
	fetch FetchFunc
	last  map[models.EntityKey]fingerprint
}

// Poller re-fetches collections on a timer and feeds every difference from
// the previous snapshot into the sink, the same way a push would arrive.
type Poller struct {
	cfg   PollerConfig
	clock utils.Clock
	log   logrus.FieldLogger
	sink  func(models.StatusEvent)

	mu       sync.Mutex
	sources  []*pollSource
	degraded bool
	polls    int

	rearm    chan struct{}
	refresh  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func NewPoller(cfg PollerConfig, sink func(models.StatusEvent)) (*Poller, error) {
	if cfg.Degraded <= 0 && cfg.Connected <= 0 {
		return nil, ErrPollingDisabled
	}
	return &Poller{
		cfg:      cfg,
		clock:    utils.ClockOrReal(cfg.Clock),
		log:      utils.Logger(cfg.Log),
		sink:     sink,
		degraded: cfg.StartDegraded,
		rearm:    make(chan struct{}, 1),
		refresh:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}, nil
}

// AddSource registers a collection. Sources are polled in registration order.
func (p *Poller) AddSource(name string, fetch FetchFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = append(p.sources, &pollSource{name: name, fetch: fetch, last: map[models.EntityKey]fingerprint{}})
}

// SetDegraded switches cadence and restarts the pending wait.
func (p *Poller) SetDegraded(degraded bool) {
	p.mu.Lock()
	changed := p.degraded != degraded
	p.degraded = degraded
	p.mu.Unlock()
	if changed {
		p.log.WithField("degraded", degraded).Info("poller cadence changed")
		signal(p.rearm)
	}
}

func (p *Poller) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

// Interval is the current wait between polls, 0 when this mode is disabled.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.cfg.Connected
	if p.degraded {
		d = p.cfg.Degraded
	}
	if d < 0 {
		return 0
	}
	return d
}

// Refresh asks for an immediate poll; repeated calls before it runs coalesce.
func (p *Poller) Refresh() {
	signal(p.refresh)
}

// Polls counts completed poll rounds.
func (p *Poller) Polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled or Stop is called.
func (p *Poller) Run(ctx context.Context) error {
	for {
		var tick <-chan time.Time
		if d := p.Interval(); d > 0 {
			tick = p.clock.After(d)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-p.stop:
			return nil
		case <-p.rearm:
		case <-p.refresh:
			p.PollOnce(ctx)
		case <-tick:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce fetches every source and sinks the deltas.
func (p *Poller) PollOnce(ctx context.Context) {
	p.mu.Lock()
	sources := append([]*pollSource(nil), p.sources...)
	p.mu.Unlock()

	for _, src := range sources {
		events, err := src.fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.log.WithField("source", src.name).Warnf("poll failed: %v", err)
			}
			continue
		}
		deltas := src.diff(events)
		for _, ev := range deltas {
			ev.Source = models.SourcePoll
			p.sink(ev)
		}
		if len(deltas) > 0 {
			p.log.WithFields(logrus.Fields{"source": src.name, "deltas": len(deltas)}).Debug("poll found changes")
		}
	}

	p.mu.Lock()
	p.polls++
	p.mu.Unlock()
}

// diff returns the events that differ from the previous fetch. Keys missing
// from this fetch are forgotten so they are sent again if they come back.
func (s *pollSource) diff(events []models.StatusEvent) []models.StatusEvent {
	var out []models.StatusEvent
	seen := make(map[models.EntityKey]bool, len(events))
	for _, ev := range events {
		fp := fingerprint{status: ev.Status, seq: ev.Seq, originAt: ev.OriginAt}
		key := ev.Key()
		seen[key] = true
		if prev, ok := s.last[key]; ok && prev.status == fp.status && prev.seq == fp.seq && prev.originAt.Equal(fp.originAt) {
			continue
		}
		s.last[key] = fp
		out = append(out, ev)
	}
	for key := range s.last {
		if !seen[key] {
			delete(s.last, key)
		}
	}
	return out
}
