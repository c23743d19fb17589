package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yeremiapane/restaurant-sync/apperrors"
	"github.com/yeremiapane/restaurant-sync/authority"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/status"
	"github.com/yeremiapane/restaurant-sync/utils"
)

type OrderController struct {
	DB     *gorm.DB
	Hub    Broadcaster
	Policy *authority.Authority
	Clock  utils.Clock
}

// NewOrderController checks role and state rules with the same policy the
// clients run, so a client that skips it still gets the same answer.
func NewOrderController(db *gorm.DB, hub Broadcaster, clock utils.Clock) *OrderController {
	clock = utils.ClockOrReal(clock)
	return &OrderController{
		DB:     db,
		Hub:    broadcasterOrNoop(hub),
		Policy: authority.New(nil, nil, nil, clock, utils.InfoLogger),
		Clock:  clock,
	}
}

// GetAllOrders -> list orders with their items
func (oc *OrderController) GetAllOrders(c *gin.Context) {
	var orders []models.Order
	if err := oc.DB.Preload("Items").Order("id asc").Find(&orders).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of orders", orders)
}

// GetOrderByID -> one order with items
func (oc *OrderController) GetOrderByID(c *gin.Context) {
	id, ok := paramID(c, "order_id")
	if !ok {
		return
	}
	order, err := loadOrder(oc.DB, id)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order detail", order)
}

// priceItems fills names and prices from the menu. Unknown item ids keep
// the submitted values; unavailable items reject the order.
func priceItems(tx *gorm.DB, drafts []models.OrderItemDraft, now time.Time) ([]models.OrderItem, error) {
	items := make([]models.OrderItem, 0, len(drafts))
	for _, d := range drafts {
		if d.Quantity <= 0 {
			return nil, apperrors.InvalidState("Item quantities must be at least 1")
		}
		item := models.OrderItem{
			ItemID:    d.ItemID,
			Name:      d.Name,
			Quantity:  d.Quantity,
			UnitPrice: d.UnitPrice,
			Note:      d.Note,
			CreatedAt: now,
		}
		var menu models.MenuItem
		err := tx.First(&menu, d.ItemID).Error
		switch {
		case err == nil:
			if !menu.Available {
				return nil, apperrors.InvalidState("%s is not available", menu.Name)
			}
			item.Name = menu.Name
			item.UnitPrice = menu.Price
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func ticketItems(items []models.OrderItem) []models.KOTItem {
	out := make([]models.KOTItem, 0, len(items))
	for _, it := range items {
		out = append(out, models.KOTItem{ItemID: it.ItemID, Name: it.Name, Quantity: it.Quantity, Note: it.Note})
	}
	return out
}

// CreateOrder -> place an order, occupy its table and send the first ticket
// to the kitchen, all in one transaction.
func (oc *OrderController) CreateOrder(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var draft models.OrderDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	if draft.StaffID == 0 {
		draft.StaffID = actor.ID
	}
	priority := status.ParsePriority(string(draft.Priority))

	now := oc.Clock.Now()
	var (
		order models.Order
		kot   models.KOT
		table *models.Table
	)
	err := oc.DB.Transaction(func(tx *gorm.DB) error {
		var seat models.Table
		if err := tx.First(&seat, draft.TableID).Error; err != nil {
			return notFound(err, "table %d", draft.TableID)
		}
		if !seat.IsActive {
			return apperrors.InvalidState("Table %s is not in service", seat.TableNumber)
		}

		items, err := priceItems(tx, draft.Items, now)
		if err != nil {
			return err
		}
		order = models.Order{
			TableID:       draft.TableID,
			StaffID:       draft.StaffID,
			CustomerName:  draft.CustomerName,
			CustomerPhone: draft.CustomerPhone,
			BookingRef:    draft.BookingRef,
			Items:         items,
			Status:        status.OrderPending,
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		order.Amount = order.ComputeAmount()
		if err := tx.Create(&order).Error; err != nil {
			return err
		}

		table, err = swapTable(tx, draft.TableID, models.TableStatusChange{
			Status:       status.TableOccupied,
			OrderID:      &order.ID,
			ExpectStatus: []status.TableStatus{status.TableAvailable, status.TableReserved},
		}, now)
		if err != nil {
			return err
		}

		kot = models.KOT{
			OrderID:     order.ID,
			TableNumber: seat.TableNumber,
			Items:       ticketItems(order.Items),
			Priority:    priority,
			Status:      status.KOTPending,
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return tx.Create(&kot).Error
	})
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	oc.Hub.BroadcastStatus(models.OrderEvent(order))
	oc.Hub.BroadcastStatus(models.KOTEvent(kot))
	oc.Hub.BroadcastStatus(models.TableEvent(*table))
	utils.InfoLogger.WithField("order_id", order.ID).Printf("Order created on table %s by staff %d", kot.TableNumber, order.StaffID)
	utils.RespondJSON(c, http.StatusCreated, "Order created", order)
}

// kitchenReached reports whether one of the order's tickets already stands
// at a status that cascades the order to target.
func kitchenReached(tx *gorm.DB, orderID uint, target status.OrderStatus) (bool, error) {
	var count int64
	err := tx.Model(&models.KOT{}).
		Where("order_id = ? AND status IN ?", orderID, status.KOTsReaching(target)).
		Count(&count).Error
	return count > 0, err
}

// UpdateOrderStatus -> conditional status change. From, when given, must
// match the stored status. Multi-step forward jumps are accepted only when a
// ticket of the order already reached the target, which is how kitchen
// cascades arrive; everything else goes through the transition policy.
func (oc *OrderController) UpdateOrderStatus(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "order_id")
	if !ok {
		return
	}
	var req models.StatusChange
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	target, known := status.ParseOrderStatus(req.Status)
	if !known {
		utils.RespondAppError(c, apperrors.InvalidState("Unknown order status %q", req.Status))
		return
	}

	var order *models.Order
	err := oc.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = loadOrder(tx, id)
		if err != nil {
			return err
		}
		if req.From != "" {
			if from, _ := status.ParseOrderStatus(req.From); from != order.Status {
				return apperrors.Conflict("Order is %s, not %s", order.Status, req.From)
			}
		}
		jump := status.AdvancesOrder(order.Status, target) && !order.Status.CanTransitionTo(target)
		if jump {
			if jump, err = kitchenReached(tx, order.ID, target); err != nil {
				return err
			}
		}
		if !jump {
			err := oc.Policy.Authorize(actor, status.KindOrder, string(order.Status), string(target), authority.TransitionContext{CreatedAt: order.CreatedAt})
			if err != nil {
				return err
			}
		}

		now := oc.Clock.Now()
		if err := bumpVersion(tx, &models.Order{}, order.ID, order.Version, map[string]interface{}{"status": target}, now); err != nil {
			return err
		}
		order.Status = target
		order.Version++
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	oc.Hub.BroadcastStatus(models.OrderEvent(*order))
	fields := map[string]interface{}{"order_id": order.ID, "status": order.Status, "actor_id": actor.ID}
	if req.Reason != nil {
		fields["reason"] = *req.Reason
	}
	utils.InfoLogger.WithFields(fields).Info("order status updated")
	utils.RespondJSON(c, http.StatusOK, "Order status updated", order)
}

// TransferTable -> move an open order to another table. The destination is
// occupied and the source released in the same transaction, and an audit row
// records the reason.
func (oc *OrderController) TransferTable(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "order_id")
	if !ok {
		return
	}
	var req models.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	now := oc.Clock.Now()
	var (
		order       *models.Order
		source      *models.Table
		destination *models.Table
	)
	err := oc.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = loadOrder(tx, id)
		if err != nil {
			return err
		}
		switch {
		case order.Status.IsTerminal():
			return apperrors.Stale("order is already %s", order.Status)
		case !order.Active():
			return apperrors.InvalidState("Completed orders cannot change tables")
		case req.FromTableID != 0 && req.FromTableID != order.TableID:
			return apperrors.Conflict("Order moved to table %d already", order.TableID)
		case req.ToTableID == order.TableID:
			return apperrors.InvalidState("Order is already seated at that table")
		}

		var dest models.Table
		if err := tx.First(&dest, req.ToTableID).Error; err != nil {
			return notFound(err, "table %d", req.ToTableID)
		}
		if !dest.IsActive || dest.Status == status.TableMaintenance {
			return apperrors.InvalidState("Table %s is not in service", dest.TableNumber)
		}
		destination, err = swapTable(tx, dest.ID, models.TableStatusChange{
			Status:        status.TableOccupied,
			OrderID:       &order.ID,
			ExpectStatus:  []status.TableStatus{status.TableAvailable, status.TableReserved},
			ExpectOrderID: &order.ID,
		}, now)
		if err != nil {
			return err
		}

		// the source may already have been freed by hand
		source, err = swapTable(tx, order.TableID, models.TableStatusChange{
			Status:        status.TableAvailable,
			ExpectStatus:  []status.TableStatus{status.TableAvailable},
			ExpectOrderID: &order.ID,
		}, now)
		if err != nil && !errors.Is(err, apperrors.ErrConflict) && !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}

		fromTable := order.TableID
		if err := bumpVersion(tx, &models.Order{}, order.ID, order.Version, map[string]interface{}{"table_id": dest.ID}, now); err != nil {
			return err
		}
		order.TableID = dest.ID
		order.Version++
		order.UpdatedAt = now

		if err := tx.Model(&models.KOT{}).Where("order_id = ? AND status <> ?", order.ID, status.KOTServed).
			Update("table_number", dest.TableNumber).Error; err != nil {
			return err
		}
		return tx.Create(&models.TableTransfer{
			OrderID:     order.ID,
			FromTableID: fromTable,
			ToTableID:   dest.ID,
			Reason:      req.Reason,
			ActorID:     actor.ID,
			CreatedAt:   now,
		}).Error
	})
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	oc.Hub.BroadcastStatus(models.OrderEvent(*order))
	oc.Hub.BroadcastStatus(models.TableEvent(*destination))
	if source != nil {
		oc.Hub.BroadcastStatus(models.TableEvent(*source))
	}
	utils.InfoLogger.WithField("order_id", order.ID).Printf("Order moved to table %s: %s", destination.TableNumber, req.Reason)
	utils.RespondJSON(c, http.StatusOK, "Table transferred", order)
}

// ApplyCoupon -> record a discount and recompute the amount.
func (oc *OrderController) ApplyCoupon(c *gin.Context) {
	id, ok := paramID(c, "order_id")
	if !ok {
		return
	}
	var req models.CouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	var order *models.Order
	err := oc.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = loadOrder(tx, id)
		if err != nil {
			return err
		}
		if order.Status.IsTerminal() {
			return apperrors.Stale("order is already %s", order.Status)
		}
		if req.Discount > order.Subtotal() {
			return apperrors.InvalidState("Discount must be between 0 and the order subtotal")
		}

		order.CouponCode = req.Code
		order.Discount = req.Discount
		order.Amount = order.ComputeAmount()
		now := oc.Clock.Now()
		err = bumpVersion(tx, &models.Order{}, order.ID, order.Version, map[string]interface{}{
			"coupon_code": order.CouponCode,
			"discount":    order.Discount,
			"amount":      order.Amount,
		}, now)
		if err != nil {
			return err
		}
		order.Version++
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	oc.Hub.BroadcastStatus(models.OrderEvent(*order))
	utils.RespondJSON(c, http.StatusOK, "Coupon applied", order)
}
