package main

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeremiapane/restaurant-sync/apperrors"
	"github.com/yeremiapane/restaurant-sync/client"
	"github.com/yeremiapane/restaurant-sync/config"
	"github.com/yeremiapane/restaurant-sync/kds"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/router"
	"github.com/yeremiapane/restaurant-sync/services"
	"github.com/yeremiapane/restaurant-sync/status"
	"github.com/yeremiapane/restaurant-sync/utils"
)

const (
	staffPassword = "rahasia123"
	waitFor       = 5 * time.Second
	tick          = 20 * time.Millisecond
)

func init() {
	utils.Silence(io.Discard)
	gin.SetMode(gin.TestMode)
}

type floor struct {
	DB     *gorm.DB
	Hub    *kds.Hub
	Server *httptest.Server
	Tables map[string]models.Table
	Ctx    context.Context
}

// newFloor starts the store on sqlite with a waiter, a chef, a cashier and
// two tables.
func newFloor(t *testing.T) *floor {
	t.Helper()
	db, err := config.InitDB(config.DBConfig{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	require.NoError(t, config.AutoMigrate(db))

	for email, subRole := range map[string]string{
		"waiter@resto.test":  models.SubRoleWaiter,
		"chef@resto.test":    models.SubRoleChef,
		"cashier@resto.test": models.SubRoleCashier,
	} {
		_, err := config.SeedStaff(db, subRole, email, staffPassword, subRole)
		require.NoError(t, err)
	}

	now := time.Now()
	tables := map[string]models.Table{}
	for _, number := range []string{"T1", "T2"} {
		table := models.Table{TableNumber: number, Capacity: 4, Location: models.LocationDining, Status: status.TableAvailable, IsActive: true, Version: 1, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, db.Create(&table).Error)
		tables[number] = table
	}
	menu := models.MenuItem{Name: "Nasi Goreng", Category: "Rice", Price: 30000, Available: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.Create(&menu).Error)

	hub := kds.NewHub(nil)
	srv := httptest.NewServer(router.SetupRouter(db, hub, router.Options{}))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(srv.Close)
	t.Cleanup(cancel)
	return &floor{DB: db, Hub: hub, Server: srv, Tables: tables, Ctx: ctx}
}

// join logs a staff member in and runs their session until the test ends.
func (f *floor) join(t *testing.T, email string) *services.Session {
	t.Helper()
	tokens := &client.PasswordLogin{BaseURL: f.Server.URL, Email: email, Password: staffPassword}
	token, err := tokens.Token(f.Ctx)
	require.NoError(t, err)
	actor, err := utils.PeekActor(token)
	require.NoError(t, err)

	s, err := services.NewSession(services.SessionConfig{
		BaseURL: f.Server.URL,
		Tokens:  tokens,
		Actor:   actor,
		Poller: services.PollerConfig{
			Degraded:      200 * time.Millisecond,
			Connected:     10 * time.Second,
			StartDegraded: true,
		},
		RetryLimit:   2,
		RetryBackoff: 50 * time.Millisecond,
		AlertTTL:     services.MaxAlertTTL,
	})
	require.NoError(t, err)
	require.NoError(t, s.Bootstrap(f.Ctx))

	ctx, cancel := context.WithCancel(f.Ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return s.Channel.State() == kds.StateConnected }, waitFor, tick)
	require.Eventually(t, func() bool { return !s.Poller.Degraded() }, waitFor, tick)
	return s
}

func hasAlert(s *services.Session, audience string, kind services.AlertKind) bool {
	for _, a := range s.Alerts.ActiveFor(audience) {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

func TestOrderLifecycleAcrossStaff(t *testing.T) {
	f := newFloor(t)
	waiter := f.join(t, "waiter@resto.test")
	chef := f.join(t, "chef@resto.test")
	cashier := f.join(t, "cashier@resto.test")
	ctx := f.Ctx
	table := f.Tables["T1"]

	order, err := waiter.CreateOrder(ctx, models.OrderDraft{
		TableID: table.ID,
		Items:   []models.OrderItemDraft{{ItemID: 1, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, status.OrderPending, order.Status)
	assert.Equal(t, float64(60000), order.Amount)

	// the kitchen learns about the ticket over the push channel
	var kot models.KOT
	require.Eventually(t, func() bool {
		active := chef.View.ActiveKOTs()
		if len(active) != 1 {
			return false
		}
		kot = active[0]
		return true
	}, waitFor, tick)
	assert.Equal(t, order.ID, kot.OrderID)
	require.Eventually(t, func() bool { return hasAlert(chef, models.AudienceKitchen, services.AlertNewTicket) }, waitFor, tick)

	res, err := chef.AdvanceKOT(ctx, kot.ID, status.KOTPreparing)
	require.NoError(t, err)
	require.True(t, res.Cascaded)
	assert.Equal(t, status.OrderPreparing, res.Order.Status)

	_, err = chef.AdvanceKOT(ctx, kot.ID, status.KOTReady)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		o, ok := waiter.View.Order(order.ID)
		return ok && o.Status == status.OrderReady
	}, waitFor, tick)
	require.Eventually(t, func() bool { return hasAlert(waiter, models.AudienceWaitstaff, services.AlertOrderReady) }, waitFor, tick)

	_, err = waiter.AdvanceKOT(ctx, kot.ID, status.KOTServed)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden), "waiters cannot serve tickets: %v", err)

	res, err = chef.AdvanceKOT(ctx, kot.ID, status.KOTServed)
	require.NoError(t, err)
	assert.Equal(t, status.OrderServed, res.Order.Status)

	_, err = waiter.CompleteOrder(ctx, order.ID)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden), "only cashiers complete: %v", err)

	require.Eventually(t, func() bool {
		o, ok := cashier.View.Order(order.ID)
		return ok && o.Status == status.OrderServed
	}, waitFor, tick)
	done, err := cashier.CompleteOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, status.OrderCompleted, done.Status)

	var stored models.Table
	require.NoError(t, f.DB.First(&stored, table.ID).Error)
	assert.Equal(t, status.TableAvailable, stored.Status)
	assert.Nil(t, stored.OrderID)
	require.Eventually(t, func() bool {
		tb, ok := waiter.View.Table(table.ID)
		return ok && tb.Status == status.TableAvailable
	}, waitFor, tick)
}

func TestOneTableOneOrder(t *testing.T) {
	f := newFloor(t)
	first := f.join(t, "waiter@resto.test")
	second := f.join(t, "cashier@resto.test")
	table := f.Tables["T2"]
	draft := models.OrderDraft{TableID: table.ID, Items: []models.OrderItemDraft{{ItemID: 1, Quantity: 1}}}

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, s := range []*services.Session{first, second} {
		wg.Add(1)
		go func(i int, s *services.Session) {
			defer wg.Done()
			_, errs[i] = s.CreateOrder(f.Ctx, draft)
		}(i, s)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			assert.True(t, errors.Is(err, apperrors.ErrConflict), "loser sees a conflict: %v", err)
		}
	}
	assert.Equal(t, 1, failed)

	var count int64
	f.DB.Model(&models.Order{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCancelledOrderIsStaleForTheKitchen(t *testing.T) {
	f := newFloor(t)
	waiter := f.join(t, "waiter@resto.test")
	chef := f.join(t, "chef@resto.test")

	order, err := waiter.CreateOrder(f.Ctx, models.OrderDraft{
		TableID: f.Tables["T1"].ID,
		Items:   []models.OrderItemDraft{{ItemID: 1, Quantity: 1}},
	})
	require.NoError(t, err)
	var kot models.KOT
	require.Eventually(t, func() bool {
		active := chef.View.ActiveKOTs()
		if len(active) == 0 {
			return false
		}
		kot = active[0]
		return true
	}, waitFor, tick)

	_, err = waiter.CancelOrder(f.Ctx, order.ID)
	require.NoError(t, err)

	_, err = chef.AdvanceKOT(f.Ctx, kot.ID, status.KOTPreparing)
	assert.True(t, errors.Is(err, apperrors.ErrStaleEntity), "got %v", err)

	var table models.Table
	require.NoError(t, f.DB.First(&table, f.Tables["T1"].ID).Error)
	assert.Equal(t, status.TableAvailable, table.Status)
}

func TestKitchenDisbursementRefreshesChefView(t *testing.T) {
	f := newFloor(t)
	chef := f.join(t, "chef@resto.test")
	before := chef.Poller.Polls()

	f.Hub.BroadcastDisbursement(models.Disbursement{ID: 1, ItemName: "Beras", Category: "Ingredients", Quantity: 5, Unit: "kg"})
	require.Eventually(t, func() bool { return chef.Poller.Polls() > before }, waitFor, tick)
}
