package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yeremiapane/restaurant-sync/apperrors"
	"github.com/yeremiapane/restaurant-sync/middlewares"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/status"
	"github.com/yeremiapane/restaurant-sync/utils"
)

// Broadcaster pushes committed changes to connected clients.
type Broadcaster interface {
	BroadcastStatus(ev models.StatusEvent)
	BroadcastTableCreated(table models.Table)
}

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastStatus(models.StatusEvent)  {}
func (noopBroadcaster) BroadcastTableCreated(models.Table) {}

func broadcasterOrNoop(b Broadcaster) Broadcaster {
	if b == nil {
		return noopBroadcaster{}
	}
	return b
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("invalid %s", name))
		return 0, false
	}
	return uint(id), true
}

func actorOrAbort(c *gin.Context) (models.Actor, bool) {
	actor, ok := middlewares.ActorFrom(c)
	if !ok {
		utils.RespondAppError(c, apperrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return actor, true
}

// notFound maps gorm's missing row onto the taxonomy.
func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", apperrors.ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}

// bumpVersion applies updates only if the row still carries version. Every
// mutation in the store goes through it, so two writers that read the same
// row can never both win.
func bumpVersion(tx *gorm.DB, model interface{}, id uint, version uint64, updates map[string]interface{}, now time.Time) error {
	updates["version"] = version + 1
	updates["updated_at"] = now
	res := tx.Model(model).Where("id = ? AND version = ?", id, version).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.Conflict("record %d was modified concurrently", id)
	}
	return nil
}

// tableAccepts is the compare half of a conditional table update: no
// expectations, the table is in one of the expected statuses, or it is
// already bound to the expected order.
func tableAccepts(t *models.Table, change models.TableStatusChange) bool {
	if len(change.ExpectStatus) == 0 && change.ExpectOrderID == nil {
		return true
	}
	for _, s := range change.ExpectStatus {
		if t.Status == s {
			return true
		}
	}
	return change.ExpectOrderID != nil && t.OrderID != nil && *t.OrderID == *change.ExpectOrderID
}

// swapTable performs the conditional table update inside tx.
func swapTable(tx *gorm.DB, tableID uint, change models.TableStatusChange, now time.Time) (*models.Table, error) {
	if !change.Status.Valid() {
		return nil, apperrors.InvalidState("Unknown table status %q", change.Status)
	}

	var table models.Table
	if err := tx.First(&table, tableID).Error; err != nil {
		return nil, notFound(err, "table %d", tableID)
	}
	if !tableAccepts(&table, change) {
		return nil, apperrors.Conflict("Table %s is %s", table.TableNumber, table.Status)
	}
	if table.Status != change.Status && !table.Status.CanTransitionTo(change.Status) {
		return nil, apperrors.InvalidState("Table cannot move from %s to %s", table.Status, change.Status)
	}

	var orderID *uint
	if change.Status == status.TableOccupied {
		switch {
		case change.OrderID != nil:
			orderID = change.OrderID
		case table.OrderID != nil:
			orderID = table.OrderID
		default:
			return nil, apperrors.InvalidState("An occupied table needs an order")
		}
	}

	err := bumpVersion(tx, &models.Table{}, table.ID, table.Version, map[string]interface{}{
		"status":   change.Status,
		"order_id": orderID,
	}, now)
	if err != nil {
		return nil, err
	}
	table.Status = change.Status
	table.OrderID = orderID
	table.Version++
	table.UpdatedAt = now
	return &table, nil
}

func loadOrder(db *gorm.DB, id uint) (*models.Order, error) {
	var order models.Order
	if err := db.Preload("Items").First(&order, id).Error; err != nil {
		return nil, notFound(err, "order %d", id)
	}
	return &order, nil
}

func loadKOT(db *gorm.DB, id uint) (*models.KOT, error) {
	var kot models.KOT
	if err := db.Preload("Items").First(&kot, id).Error; err != nil {
		return nil, notFound(err, "kot %d", id)
	}
	return &kot, nil
}
