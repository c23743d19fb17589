// Package tables issues conditional table updates against the remote store.
// Exclusivity is enforced by the store's compare-and-swap; this package holds
// no lock and only surfaces ErrConflict when the compare fails.
package tables

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/restaurant-sync/apperrors"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/status"
	"github.com/yeremiapane/restaurant-sync/utils"
)

// Store is the slice of the remote store client the manager needs.
type Store interface {
	UpdateTableStatus(ctx context.Context, id uint, change models.TableStatusChange) (*models.Table, error)
	TransferTable(ctx context.Context, orderID uint, req models.TransferRequest) (*models.Order, error)
}

type Manager struct {
	store Store
	log   logrus.FieldLogger
}

func NewManager(store Store, log logrus.FieldLogger) *Manager {
	return &Manager{store: store, log: utils.Logger(log)}
}

// Occupy binds orderID to the table. It succeeds when the table is free or
// reserved, or already bound to the same order; otherwise ErrConflict.
func (m *Manager) Occupy(ctx context.Context, tableID, orderID uint) (*models.Table, error) {
	table, err := m.store.UpdateTableStatus(ctx, tableID, models.TableStatusChange{
		Status:        status.TableOccupied,
		OrderID:       &orderID,
		ExpectStatus:  []status.TableStatus{status.TableAvailable, status.TableReserved},
		ExpectOrderID: &orderID,
	})
	if err != nil {
		return nil, fmt.Errorf("occupy table %d for order %d: %w", tableID, orderID, err)
	}
	m.log.WithFields(logrus.Fields{"table_id": tableID, "order_id": orderID}).Info("table occupied")
	return table, nil
}

// Release frees the table unconditionally.
func (m *Manager) Release(ctx context.Context, tableID uint) (*models.Table, error) {
	table, err := m.store.UpdateTableStatus(ctx, tableID, models.TableStatusChange{
		Status: status.TableAvailable,
	})
	if err != nil {
		return nil, fmt.Errorf("release table %d: %w", tableID, err)
	}
	m.log.WithField("table_id", tableID).Info("table released")
	return table, nil
}

// ReleaseFor frees the table only while it is still bound to orderID, so a
// late release never evicts the next party.
func (m *Manager) ReleaseFor(ctx context.Context, tableID, orderID uint) (*models.Table, error) {
	table, err := m.store.UpdateTableStatus(ctx, tableID, models.TableStatusChange{
		Status:        status.TableAvailable,
		ExpectStatus:  []status.TableStatus{status.TableAvailable},
		ExpectOrderID: &orderID,
	})
	if err != nil {
		return nil, fmt.Errorf("release table %d from order %d: %w", tableID, orderID, err)
	}
	m.log.WithFields(logrus.Fields{"table_id": tableID, "order_id": orderID}).Info("table released")
	return table, nil
}

// Transfer moves the order from one table to another. The store releases the
// source and occupies the destination in one transaction; an occupied
// destination is ErrConflict. Reason is recorded for audit as given.
func (m *Manager) Transfer(ctx context.Context, orderID, fromTableID, toTableID uint, reason string) (*models.Order, error) {
	if fromTableID == toTableID {
		return nil, apperrors.InvalidState("Order is already seated at that table")
	}
	order, err := m.store.TransferTable(ctx, orderID, models.TransferRequest{
		FromTableID: fromTableID,
		ToTableID:   toTableID,
		Reason:      reason,
	})
	if err != nil {
		return nil, fmt.Errorf("transfer order %d from table %d to %d: %w", orderID, fromTableID, toTableID, err)
	}
	m.log.WithFields(logrus.Fields{
		"order_id": orderID,
		"from":     fromTableID,
		"to":       toTableID,
		"reason":   reason,
	}).Info("table transferred")
	return order, nil
}

// SetStatus is the floor-staff override for reserved and maintenance (and
// back to available). Occupancy only changes through Occupy and Transfer.
func (m *Manager) SetStatus(ctx context.Context, tableID uint, to status.TableStatus) (*models.Table, error) {
	switch to {
	case status.TableReserved, status.TableMaintenance, status.TableAvailable:
	default:
		return nil, apperrors.InvalidState("Tables can only be set to reserved, maintenance or available by hand")
	}

	var expect []status.TableStatus
	for _, from := range []status.TableStatus{status.TableAvailable, status.TableReserved, status.TableMaintenance} {
		if from.CanTransitionTo(to) {
			expect = append(expect, from)
		}
	}
	table, err := m.store.UpdateTableStatus(ctx, tableID, models.TableStatusChange{
		Status:       to,
		ExpectStatus: expect,
	})
	if err != nil {
		return nil, fmt.Errorf("set table %d to %s: %w", tableID, to, err)
	}
	m.log.WithFields(logrus.Fields{"table_id": tableID, "status": to}).Info("table status overridden")
	return table, nil
}
