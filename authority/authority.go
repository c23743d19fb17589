// Package authority applies role and time gates on top of the status model
// and issues the resulting mutations against the remote store.
package authority

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/restaurant-sync/apperrors"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/status"
	"github.com/yeremiapane/restaurant-sync/utils"
)

type OrderStore interface {
	CreateOrder(ctx context.Context, draft models.OrderDraft) (*models.Order, error)
	GetOrder(ctx context.Context, id uint) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id uint, change models.StatusChange) (*models.Order, error)
	ApplyCoupon(ctx context.Context, id uint, req models.CouponRequest) (*models.Order, error)
}

type KOTStore interface {
	CreateKOT(ctx context.Context, draft models.KOTDraft) (*models.KOT, error)
	UpdateKOTStatus(ctx context.Context, id uint, change models.StatusChange) (*models.KOT, error)
	MarkKOTServed(ctx context.Context, id uint) (*models.KOT, error)
}

// TableOps is satisfied by *tables.Manager.
type TableOps interface {
	ReleaseFor(ctx context.Context, tableID, orderID uint) (*models.Table, error)
	Transfer(ctx context.Context, orderID, fromTableID, toTableID uint, reason string) (*models.Order, error)
}

// TransitionContext carries what the gates need beyond from/to.
type TransitionContext struct {
	// CreatedAt of the order, for the cancellation window.
	CreatedAt time.Time
	// ParentOrder is the owning order's status on KOT transitions.
	ParentOrder status.OrderStatus
}

type Authority struct {
	orders OrderStore
	kots   KOTStore
	tables TableOps
	clock  utils.Clock
	log    logrus.FieldLogger
}

func New(orders OrderStore, kots KOTStore, tables TableOps, clock utils.Clock, log logrus.FieldLogger) *Authority {
	return &Authority{
		orders: orders,
		kots:   kots,
		tables: tables,
		clock:  utils.ClockOrReal(clock),
		log:    utils.Logger(log),
	}
}

// Authorize checks a single transition. Role gates come first so a
// non-cashier completing an order is always Forbidden, whatever the state.
func (a *Authority) Authorize(actor models.Actor, kind status.EntityKind, from, to string, tc TransitionContext) error {
	switch kind {
	case status.KindOrder:
		return a.authorizeOrder(actor, status.OrderStatus(from), status.OrderStatus(to), tc)
	case status.KindKOT:
		return authorizeKOT(actor, status.KOTStatus(from), status.KOTStatus(to), tc)
	case status.KindTable:
		if !status.IsValidTransition(kind, from, to) {
			return apperrors.InvalidState("Table cannot move from %s to %s", from, to)
		}
		return nil
	}
	return apperrors.InvalidState("Unknown entity kind %q", kind)
}

func (a *Authority) authorizeOrder(actor models.Actor, from, to status.OrderStatus, tc TransitionContext) error {
	if to == status.OrderCompleted && !actor.IsCashier() {
		return apperrors.Forbidden("Only cashiers can mark orders as completed")
	}

	if to == status.OrderCancelled {
		if from == status.OrderCancelled {
			return apperrors.InvalidState("Order is already cancelled")
		}
		if !from.Cancellable() {
			return apperrors.InvalidState("Orders can only be cancelled while pending or preparing, this one is %s", from)
		}
		if a.clock.Now().Sub(tc.CreatedAt) > models.CancellationWindow {
			return apperrors.WindowExpired("Orders can only be cancelled within %d minutes of being placed", int(models.CancellationWindow/time.Minute))
		}
		return nil
	}

	if from.IsTerminal() {
		return apperrors.Stale("order is already %s", from)
	}
	if !from.CanTransitionTo(to) {
		return apperrors.InvalidState("Order cannot move from %s to %s", from, to)
	}
	return nil
}

func authorizeKOT(actor models.Actor, from, to status.KOTStatus, tc TransitionContext) error {
	if to == status.KOTServed && !actor.CanServeKOT() {
		return apperrors.Forbidden("Only chefs or managers can mark tickets as served")
	}
	if tc.ParentOrder.IsTerminal() {
		return apperrors.Stale("order is %s, its tickets are closed", tc.ParentOrder)
	}
	if !from.CanTransitionTo(to) {
		return apperrors.InvalidState("Ticket cannot move from %s to %s", from, to)
	}
	return nil
}

func (a *Authority) reject(actor models.Actor, fields logrus.Fields, err error) error {
	fields["actor_id"] = actor.ID
	fields["sub_role"] = actor.SubRole
	a.log.WithFields(fields).Warnf("transition rejected: %v", err)
	return err
}

// CreateOrder places a new order. The store occupies the table as part of
// the same request and answers ErrConflict when it is taken.
func (a *Authority) CreateOrder(ctx context.Context, actor models.Actor, draft models.OrderDraft) (*models.Order, error) {
	if len(draft.Items) == 0 {
		return nil, a.reject(actor, logrus.Fields{"table_id": draft.TableID}, apperrors.InvalidState("An order needs at least one item"))
	}
	for _, item := range draft.Items {
		if item.Quantity <= 0 {
			return nil, a.reject(actor, logrus.Fields{"table_id": draft.TableID}, apperrors.InvalidState("Item quantities must be at least 1"))
		}
	}
	if draft.StaffID == 0 {
		draft.StaffID = actor.ID
	}
	order, err := a.orders.CreateOrder(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("create order on table %d: %w", draft.TableID, err)
	}
	a.log.WithFields(logrus.Fields{"order_id": order.ID, "table_id": order.TableID}).Info("order created")
	return order, nil
}

// TransitionOrder authorizes and applies an order-level transition.
// Completion, payment and cancellation release the bound table.
func (a *Authority) TransitionOrder(ctx context.Context, actor models.Actor, order models.Order, to status.OrderStatus) (*models.Order, error) {
	fields := logrus.Fields{"order_id": order.ID, "from": order.Status, "to": to}
	if err := a.Authorize(actor, status.KindOrder, string(order.Status), string(to), TransitionContext{CreatedAt: order.CreatedAt}); err != nil {
		return nil, a.reject(actor, fields, err)
	}

	reason := fmt.Sprintf("%s by %s", to, actor.SubRole)
	updated, err := a.orders.UpdateOrderStatus(ctx, order.ID, models.StatusChange{
		Status: string(to),
		From:   string(order.Status),
		Reason: &reason,
	})
	if err != nil {
		return nil, fmt.Errorf("order %d %s -> %s: %w", order.ID, order.Status, to, err)
	}
	a.log.WithFields(fields).Info("order transitioned")

	switch to {
	case status.OrderCompleted, status.OrderPaid, status.OrderCancelled:
		a.releaseTable(ctx, updated)
	}
	return updated, nil
}

func (a *Authority) CancelOrder(ctx context.Context, actor models.Actor, order models.Order) (*models.Order, error) {
	return a.TransitionOrder(ctx, actor, order, status.OrderCancelled)
}

func (a *Authority) CompleteOrder(ctx context.Context, actor models.Actor, order models.Order) (*models.Order, error) {
	return a.TransitionOrder(ctx, actor, order, status.OrderCompleted)
}

func (a *Authority) AcceptPayment(ctx context.Context, actor models.Actor, order models.Order) (*models.Order, error) {
	return a.TransitionOrder(ctx, actor, order, status.OrderPaid)
}

func (a *Authority) releaseTable(ctx context.Context, order *models.Order) {
	if a.tables == nil || order.TableID == 0 {
		return
	}
	if _, err := a.tables.ReleaseFor(ctx, order.TableID, order.ID); err != nil {
		// the table already moved on, or the poller will reconcile it
		a.log.WithFields(logrus.Fields{"order_id": order.ID, "table_id": order.TableID}).Warnf("table not released: %v", err)
	}
}

// TransferOrder moves an active order to another table.
func (a *Authority) TransferOrder(ctx context.Context, actor models.Actor, order models.Order, dest models.Table, reason string) (*models.Order, error) {
	fields := logrus.Fields{"order_id": order.ID, "from_table": order.TableID, "to_table": dest.ID}
	switch {
	case order.Status.IsTerminal():
		return nil, a.reject(actor, fields, apperrors.Stale("order is already %s", order.Status))
	case !order.Active():
		return nil, a.reject(actor, fields, apperrors.InvalidState("Completed orders cannot change tables"))
	case dest.ID == order.TableID:
		return nil, a.reject(actor, fields, apperrors.InvalidState("Order is already seated at table %s", dest.TableNumber))
	case dest.OccupiedByOther(order.ID):
		return nil, a.reject(actor, fields, apperrors.Conflict("Table %s is occupied by another order", dest.TableNumber))
	case dest.Status == status.TableMaintenance || !dest.IsActive:
		return nil, a.reject(actor, fields, apperrors.InvalidState("Table %s is not in service", dest.TableNumber))
	}
	return a.tables.Transfer(ctx, order.ID, order.TableID, dest.ID, reason)
}

// ApplyCoupon records a discount on an open order.
func (a *Authority) ApplyCoupon(ctx context.Context, actor models.Actor, order models.Order, code string, discount float64) (*models.Order, error) {
	fields := logrus.Fields{"order_id": order.ID, "coupon": code}
	switch {
	case order.Status.IsTerminal():
		return nil, a.reject(actor, fields, apperrors.Stale("order is already %s", order.Status))
	case discount < 0 || discount > order.Subtotal():
		return nil, a.reject(actor, fields, apperrors.InvalidState("Discount must be between 0 and the order subtotal"))
	}
	updated, err := a.orders.ApplyCoupon(ctx, order.ID, models.CouponRequest{Code: code, Discount: discount})
	if err != nil {
		return nil, fmt.Errorf("apply coupon to order %d: %w", order.ID, err)
	}
	return updated, nil
}

// AddItems sends more items to the kitchen for an open order as a new ticket.
func (a *Authority) AddItems(ctx context.Context, actor models.Actor, order models.Order, draft models.KOTDraft) (*models.KOT, error) {
	fields := logrus.Fields{"order_id": order.ID}
	switch {
	case order.Status.IsTerminal():
		return nil, a.reject(actor, fields, apperrors.Stale("order is already %s", order.Status))
	case !order.Active():
		return nil, a.reject(actor, fields, apperrors.InvalidState("Completed orders cannot take more items"))
	case len(draft.Items) == 0:
		return nil, a.reject(actor, fields, apperrors.InvalidState("A ticket needs at least one item"))
	}
	draft.OrderID = order.ID
	kot, err := a.kots.CreateKOT(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("add items to order %d: %w", order.ID, err)
	}
	return kot, nil
}

// KOTResult is a ticket transition together with the owning order as it
// stands after any cascade.
type KOTResult struct {
	KOT      *models.KOT
	Order    *models.Order
	Cascaded bool
	// CascadeErr is set when the ticket moved but the order could not be
	// advanced. The next poll reconciles the order view.
	CascadeErr error
}

const cascadeAttempts = 3

// TransitionKOT authorizes a ticket transition against the owning order's
// current status, applies it and cascades the order forward when the ticket
// status implies it.
func (a *Authority) TransitionKOT(ctx context.Context, actor models.Actor, kot models.KOT, to status.KOTStatus) (*KOTResult, error) {
	fields := logrus.Fields{"kot_id": kot.ID, "order_id": kot.OrderID, "from": kot.Status, "to": to}

	parent, err := a.orders.GetOrder(ctx, kot.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order %d for kot %d: %w", kot.OrderID, kot.ID, err)
	}
	if err := a.Authorize(actor, status.KindKOT, string(kot.Status), string(to), TransitionContext{ParentOrder: parent.Status}); err != nil {
		return nil, a.reject(actor, fields, err)
	}

	var updated *models.KOT
	if to == status.KOTServed {
		updated, err = a.kots.MarkKOTServed(ctx, kot.ID)
	} else {
		updated, err = a.kots.UpdateKOTStatus(ctx, kot.ID, models.StatusChange{
			Status: string(to),
			From:   string(kot.Status),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("kot %d %s -> %s: %w", kot.ID, kot.Status, to, err)
	}
	a.log.WithFields(fields).Info("kot transitioned")

	result := &KOTResult{KOT: updated, Order: parent}
	target, ok := status.CascadeOrderStatus(to)
	if !ok {
		return result, nil
	}
	order, cascaded, err := a.cascade(ctx, parent, target)
	if err != nil {
		result.CascadeErr = err
		a.log.WithFields(fields).Warnf("order cascade failed: %v", err)
		return result, nil
	}
	result.Order, result.Cascaded = order, cascaded
	return result, nil
}

// cascade advances the order to target unless it is already there or past
// it. A conflict means someone else moved the order, so it is reloaded and
// re-evaluated.
func (a *Authority) cascade(ctx context.Context, order *models.Order, target status.OrderStatus) (*models.Order, bool, error) {
	var lastErr error
	for attempt := 0; attempt < cascadeAttempts; attempt++ {
		if attempt > 0 {
			fresh, err := a.orders.GetOrder(ctx, order.ID)
			if err != nil {
				lastErr = err
				continue
			}
			order = fresh
		}
		if !status.AdvancesOrder(order.Status, target) {
			return order, false, nil
		}

		reason := "cascade from kitchen ticket"
		updated, err := a.orders.UpdateOrderStatus(ctx, order.ID, models.StatusChange{
			Status: string(target),
			From:   string(order.Status),
			Reason: &reason,
		})
		if err == nil {
			a.log.WithFields(logrus.Fields{"order_id": order.ID, "from": order.Status, "to": target}).Info("order cascaded")
			return updated, true, nil
		}
		lastErr = err
		if !errors.Is(err, apperrors.ErrConflict) && !apperrors.Retryable(err) {
			break
		}
	}
	return order, false, fmt.Errorf("cascade order %d to %s: %w", order.ID, target, lastErr)
}
