package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yeremiapane/restaurant-sync/apperrors"
	"github.com/yeremiapane/restaurant-sync/authority"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/status"
	"github.com/yeremiapane/restaurant-sync/utils"
)

// KOTController serves the kitchen's tickets. Order cascades are driven by
// the client authority, the store only moves the ticket itself.
type KOTController struct {
	DB     *gorm.DB
	Hub    Broadcaster
	Policy *authority.Authority
	Clock  utils.Clock
}

func NewKOTController(db *gorm.DB, hub Broadcaster, clock utils.Clock) *KOTController {
	clock = utils.ClockOrReal(clock)
	return &KOTController{
		DB:     db,
		Hub:    broadcasterOrNoop(hub),
		Policy: authority.New(nil, nil, nil, clock, utils.InfoLogger),
		Clock:  clock,
	}
}

// GetAllKOTs -> every ticket, or only the ones still in the kitchen with ?active=true
func (kc *KOTController) GetAllKOTs(c *gin.Context) {
	query := kc.DB.Preload("Items").Order("created_at asc, id asc")
	if c.Query("active") == "true" {
		query = query.Where("status <> ?", status.KOTServed)
	}
	var kots []models.KOT
	if err := query.Find(&kots).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of kots", kots)
}

// CreateKOT -> append items to an open order and send them to the kitchen.
func (kc *KOTController) CreateKOT(c *gin.Context) {
	var draft models.KOTDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	now := kc.Clock.Now()
	var (
		order *models.Order
		kot   models.KOT
	)
	err := kc.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = loadOrder(tx, draft.OrderID)
		if err != nil {
			return err
		}
		switch {
		case order.Status.IsTerminal():
			return apperrors.Stale("order is already %s", order.Status)
		case !order.Active():
			return apperrors.InvalidState("Completed orders cannot take more items")
		}

		items, err := priceItems(tx, draft.Items, now)
		if err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = order.ID
		}
		if err := tx.Create(&items).Error; err != nil {
			return err
		}
		order.Items = append(order.Items, items...)
		order.Amount = order.ComputeAmount()
		if err := bumpVersion(tx, &models.Order{}, order.ID, order.Version, map[string]interface{}{"amount": order.Amount}, now); err != nil {
			return err
		}
		order.Version++
		order.UpdatedAt = now

		var table models.Table
		if err := tx.First(&table, order.TableID).Error; err != nil {
			return notFound(err, "table %d", order.TableID)
		}
		kot = models.KOT{
			OrderID:          order.ID,
			TableNumber:      table.TableNumber,
			Items:            ticketItems(items),
			Priority:         status.ParsePriority(string(draft.Priority)),
			ChefID:           draft.ChefID,
			EstimatedMinutes: draft.EstimatedMinutes,
			Status:           status.KOTPending,
			Version:          1,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return tx.Create(&kot).Error
	})
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	kc.Hub.BroadcastStatus(models.KOTEvent(kot))
	kc.Hub.BroadcastStatus(models.OrderEvent(*order))
	utils.InfoLogger.WithField("kot_id", kot.ID).Printf("Ticket for order %d sent to the kitchen", order.ID)
	utils.RespondJSON(c, http.StatusCreated, "KOT created", kot)
}

// UpdateKOTStatus -> strictly forward ticket transition.
func (kc *KOTController) UpdateKOTStatus(c *gin.Context) {
	id, ok := paramID(c, "kot_id")
	if !ok {
		return
	}
	var req models.StatusChange
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	target, known := status.ParseKOTStatus(req.Status)
	if !known {
		utils.RespondAppError(c, apperrors.InvalidState("Unknown ticket status %q", req.Status))
		return
	}
	kc.transition(c, id, target, req)
}

// MarkServed -> chefs and managers hand the ticket over.
func (kc *KOTController) MarkServed(c *gin.Context) {
	id, ok := paramID(c, "kot_id")
	if !ok {
		return
	}
	kc.transition(c, id, status.KOTServed, models.StatusChange{Status: string(status.KOTServed)})
}

func (kc *KOTController) transition(c *gin.Context, id uint, target status.KOTStatus, req models.StatusChange) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	var kot *models.KOT
	err := kc.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		kot, err = loadKOT(tx, id)
		if err != nil {
			return err
		}
		if req.From != "" {
			if from, _ := status.ParseKOTStatus(req.From); from != kot.Status {
				return apperrors.Conflict("Ticket is %s, not %s", kot.Status, req.From)
			}
		}
		var parent models.Order
		if err := tx.First(&parent, kot.OrderID).Error; err != nil {
			return notFound(err, "order %d", kot.OrderID)
		}
		err = kc.Policy.Authorize(actor, status.KindKOT, string(kot.Status), string(target), authority.TransitionContext{ParentOrder: parent.Status})
		if err != nil {
			return err
		}

		updates := map[string]interface{}{"status": target}
		if req.ChefID != nil {
			updates["chef_id"] = *req.ChefID
			kot.ChefID = req.ChefID
		}
		now := kc.Clock.Now()
		if err := bumpVersion(tx, &models.KOT{}, kot.ID, kot.Version, updates, now); err != nil {
			return err
		}
		kot.Status = target
		kot.Version++
		kot.UpdatedAt = now
		return nil
	})
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	kc.Hub.BroadcastStatus(models.KOTEvent(*kot))
	utils.InfoLogger.WithField("kot_id", kot.ID).Printf("Ticket now %s (by %s)", kot.Status, actor.SubRole)
	utils.RespondJSON(c, http.StatusOK, "KOT status updated", kot)
}
