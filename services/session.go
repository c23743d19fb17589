package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/yeremiapane/restaurant-sync/apperrors"
	"github.com/yeremiapane/restaurant-sync/authority"
	"github.com/yeremiapane/restaurant-sync/client"
	"github.com/yeremiapane/restaurant-sync/kds"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/status"
	"github.com/yeremiapane/restaurant-sync/tables"
	"github.com/yeremiapane/restaurant-sync/utils"
)

var DefaultKitchenCategories = []string{"kitchen", "food", "ingredients"}

type SessionConfig struct {
	BaseURL string
	Tokens  client.TokenSource
	Actor   models.Actor
	// Rooms defaults to the actor's sub-role rooms.
	Rooms []string

	Poller       PollerConfig
	RetryLimit   int
	RetryBackoff time.Duration
	AlertTTL     time.Duration

	KitchenCategories []string

	Clock utils.Clock
	Log   logrus.FieldLogger
}

// Session is one staff member's client: the push channel and the poller
// feed the view, the view feeds the alerts, and every mutation goes through
// the authority.
type Session struct {
	Actor     models.Actor
	Store     *client.Client
	Channel   *kds.Channel
	Poller    *Poller
	View      *Coordinator
	Alerts    *Notifier
	Authority *authority.Authority
	Tables    *tables.Manager

	kitchenCategories map[string]bool
	log               logrus.FieldLogger
}

func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("session: base url is required")
	}
	log := utils.Logger(cfg.Log).WithFields(logrus.Fields{"user_id": cfg.Actor.ID, "sub_role": cfg.Actor.SubRole})

	store := client.New(cfg.BaseURL, cfg.Tokens, client.WithLogger(log))
	view := NewCoordinator(log)
	alerts := NewNotifier(cfg.AlertTTL, cfg.Clock, log)
	view.OnDelta(func(d ViewDelta) { alerts.Handle(d) })

	pcfg := cfg.Poller
	if pcfg.Clock == nil {
		pcfg.Clock = cfg.Clock
	}
	if pcfg.Log == nil {
		pcfg.Log = log
	}
	poller, err := NewPoller(pcfg, func(ev models.StatusEvent) { view.Apply(ev) })
	if err != nil {
		return nil, err
	}

	rooms := cfg.Rooms
	if len(rooms) == 0 {
		rooms = kds.DefaultRooms(cfg.Actor)
	}
	var token func(context.Context) (string, error)
	if cfg.Tokens != nil {
		token = cfg.Tokens.Token
	}
	channel := kds.NewChannel(kds.ChannelConfig{
		URL:         kds.WebsocketURL(cfg.BaseURL),
		Token:       token,
		Rooms:       rooms,
		MaxAttempts: cfg.RetryLimit,
		Backoff:     cfg.RetryBackoff,
		Clock:       cfg.Clock,
		Log:         log,
	})

	tableManager := tables.NewManager(store, log)
	s := &Session{
		Actor:             cfg.Actor,
		Store:             store,
		Channel:           channel,
		Poller:            poller,
		View:              view,
		Alerts:            alerts,
		Authority:         authority.New(store, store, tableManager, cfg.Clock, log),
		Tables:            tableManager,
		kitchenCategories: categorySet(cfg.KitchenCategories),
		log:               log,
	}

	for _, src := range s.sources() {
		poller.AddSource(src.name, src.fetch)
	}
	channel.OnEvent(func(ev models.StatusEvent) { view.Apply(ev) })
	channel.OnFrame(s.handleFrame)
	channel.OnStateChange(func(st kds.State) {
		poller.SetDegraded(st != kds.StateConnected)
	})
	return s, nil
}

func categorySet(categories []string) map[string]bool {
	if len(categories) == 0 {
		categories = DefaultKitchenCategories
	}
	set := make(map[string]bool, len(categories))
	for _, c := range categories {
		set[strings.ToLower(strings.TrimSpace(c))] = true
	}
	return set
}

type namedSource struct {
	name  string
	fetch FetchFunc
}

// sources picks the collections this sub-role watches.
func (s *Session) sources() []namedSource {
	orders := namedSource{"orders", func(ctx context.Context) ([]models.StatusEvent, error) {
		list, err := s.Store.ListOrders(ctx)
		if err != nil {
			return nil, err
		}
		events := make([]models.StatusEvent, 0, len(list))
		for _, o := range list {
			events = append(events, models.OrderEvent(o))
		}
		return events, nil
	}}
	kots := namedSource{"kots", func(ctx context.Context) ([]models.StatusEvent, error) {
		// served tickets leave the active list, so the view would never see them close
		list, err := s.Store.ListKOTs(ctx, false)
		if err != nil {
			return nil, err
		}
		events := make([]models.StatusEvent, 0, len(list))
		for _, k := range list {
			events = append(events, models.KOTEvent(k))
		}
		return events, nil
	}}
	tableSrc := namedSource{"tables", func(ctx context.Context) ([]models.StatusEvent, error) {
		list, err := s.Store.ListTables(ctx)
		if err != nil {
			return nil, err
		}
		events := make([]models.StatusEvent, 0, len(list))
		for _, t := range list {
			events = append(events, models.TableEvent(t))
		}
		return events, nil
	}}

	switch s.Actor.SubRole {
	case models.SubRoleChef:
		return []namedSource{kots, orders}
	case models.SubRoleCashier:
		return []namedSource{orders, tableSrc}
	}
	return []namedSource{orders, kots, tableSrc}
}

// Bootstrap loads the current state into the view without raising alerts.
func (s *Session) Bootstrap(ctx context.Context) error {
	var errs []error
	for _, src := range s.sources() {
		events, err := src.fetch(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", src.name, err))
			continue
		}
		for _, ev := range events {
			ev.Source = models.SourcePoll
			s.View.Seed(ev)
		}
	}
	return errors.Join(errs...)
}

// Run drives the channel, the poller and alert expiry until ctx ends.
func (s *Session) Run(ctx context.Context) error {
	p := pool.New().WithContext(ctx)
	p.Go(s.Channel.Run)
	p.Go(s.Poller.Run)
	p.Go(s.Alerts.Run)
	s.log.Info("session started")
	err := p.Wait()
	s.log.Info("session stopped")
	return err
}

// Reconnect asks a degraded channel for a fresh attempt.
func (s *Session) Reconnect() {
	s.Channel.Reconnect()
}

func (s *Session) handleFrame(msg kds.Message) {
	if msg.Event != models.EventDisbursement {
		return
	}
	var d models.Disbursement
	if err := json.Unmarshal(msg.Data, &d); err != nil {
		s.log.Warnf("malformed disbursement frame: %v", err)
		return
	}
	if s.kitchenCategories[strings.ToLower(d.Category)] {
		s.log.WithField("category", d.Category).Info("kitchen stock moved, refreshing")
		s.Poller.Refresh()
	}
}

// settle records the store's answer in the view. A stale entity means the
// local view is behind, so it is refreshed from the store.
func (s *Session) settle(err error, events ...models.StatusEvent) error {
	if err != nil {
		if errors.Is(err, apperrors.ErrStaleEntity) {
			s.log.Warnf("stale view, refreshing: %v", err)
			s.Poller.Refresh()
		}
		return err
	}
	for _, ev := range events {
		ev.Source = models.SourceLocal
		s.View.Apply(ev)
	}
	return nil
}

func (s *Session) order(ctx context.Context, id uint) (models.Order, error) {
	if o, ok := s.View.Order(id); ok && len(o.Items) > 0 {
		return o, nil
	}
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	s.settle(nil, models.OrderEvent(*o))
	return *o, nil
}

func (s *Session) kot(ctx context.Context, id uint) (models.KOT, error) {
	if k, ok := s.View.KOT(id); ok && k.OrderID != 0 {
		return k, nil
	}
	list, err := s.Store.ListKOTs(ctx, false)
	if err != nil {
		return models.KOT{}, err
	}
	for _, k := range list {
		if k.ID == id {
			return k, nil
		}
	}
	return models.KOT{}, fmt.Errorf("kot %d: %w", id, apperrors.ErrNotFound)
}

func (s *Session) table(ctx context.Context, id uint) (models.Table, error) {
	if t, ok := s.View.Table(id); ok && t.TableNumber != "" {
		return t, nil
	}
	list, err := s.Store.ListTables(ctx)
	if err != nil {
		return models.Table{}, err
	}
	for _, t := range list {
		if t.ID == id {
			return t, nil
		}
	}
	return models.Table{}, fmt.Errorf("table %d: %w", id, apperrors.ErrNotFound)
}

func (s *Session) CreateOrder(ctx context.Context, draft models.OrderDraft) (*models.Order, error) {
	o, err := s.Authority.CreateOrder(ctx, s.Actor, draft)
	if err != nil {
		return nil, s.settle(err)
	}
	return o, s.settle(nil, models.OrderEvent(*o))
}

func (s *Session) AddItems(ctx context.Context, orderID uint, draft models.KOTDraft) (*models.KOT, error) {
	o, err := s.order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	k, err := s.Authority.AddItems(ctx, s.Actor, o, draft)
	if err != nil {
		return nil, s.settle(err)
	}
	return k, s.settle(nil, models.KOTEvent(*k))
}

// AdvanceOrder moves an order to the given status through the authority.
func (s *Session) AdvanceOrder(ctx context.Context, orderID uint, to status.OrderStatus) (*models.Order, error) {
	o, err := s.order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	updated, err := s.Authority.TransitionOrder(ctx, s.Actor, o, to)
	if err != nil {
		return nil, s.settle(err)
	}
	return updated, s.settle(nil, models.OrderEvent(*updated))
}

func (s *Session) CancelOrder(ctx context.Context, orderID uint) (*models.Order, error) {
	return s.AdvanceOrder(ctx, orderID, status.OrderCancelled)
}

func (s *Session) CompleteOrder(ctx context.Context, orderID uint) (*models.Order, error) {
	return s.AdvanceOrder(ctx, orderID, status.OrderCompleted)
}

func (s *Session) AcceptPayment(ctx context.Context, orderID uint) (*models.Order, error) {
	return s.AdvanceOrder(ctx, orderID, status.OrderPaid)
}

// AdvanceKOT moves a ticket and, through the cascade, its order.
func (s *Session) AdvanceKOT(ctx context.Context, kotID uint, to status.KOTStatus) (*authority.KOTResult, error) {
	k, err := s.kot(ctx, kotID)
	if err != nil {
		return nil, err
	}
	res, err := s.Authority.TransitionKOT(ctx, s.Actor, k, to)
	if err != nil {
		return nil, s.settle(err)
	}
	events := []models.StatusEvent{models.KOTEvent(*res.KOT)}
	if res.Cascaded {
		events = append(events, models.OrderEvent(*res.Order))
	}
	if res.CascadeErr != nil {
		s.Poller.Refresh()
	}
	return res, s.settle(nil, events...)
}

func (s *Session) TransferOrder(ctx context.Context, orderID, toTableID uint, reason string) (*models.Order, error) {
	o, err := s.order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	dest, err := s.table(ctx, toTableID)
	if err != nil {
		return nil, err
	}
	moved, err := s.Authority.TransferOrder(ctx, s.Actor, o, dest, reason)
	if err != nil {
		return nil, s.settle(err)
	}
	// table versions come back through push or the next poll
	return moved, s.settle(nil, models.OrderEvent(*moved))
}

func (s *Session) ApplyCoupon(ctx context.Context, orderID uint, code string, discount float64) (*models.Order, error) {
	o, err := s.order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	updated, err := s.Authority.ApplyCoupon(ctx, s.Actor, o, code, discount)
	if err != nil {
		return nil, s.settle(err)
	}
	return updated, s.settle(nil, models.OrderEvent(*updated))
}

func (s *Session) SetTableStatus(ctx context.Context, tableID uint, to status.TableStatus) (*models.Table, error) {
	t, err := s.Tables.SetStatus(ctx, tableID, to)
	if err != nil {
		return nil, s.settle(err)
	}
	return t, s.settle(nil, models.TableEvent(*t))
}
