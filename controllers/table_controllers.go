package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/status"
	"github.com/yeremiapane/restaurant-sync/utils"
)

type TableController struct {
	DB    *gorm.DB
	Hub   Broadcaster
	Clock utils.Clock
}

func NewTableController(db *gorm.DB, hub Broadcaster, clock utils.Clock) *TableController {
	return &TableController{DB: db, Hub: broadcasterOrNoop(hub), Clock: utils.ClockOrReal(clock)}
}

// CreateTable -> add a table to the floor
func (tc *TableController) CreateTable(c *gin.Context) {
	var req models.TableDraft
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	location := strings.ToLower(req.Location)
	if location != models.LocationRooftop {
		location = models.LocationDining
	}
	now := tc.Clock.Now()
	table := models.Table{
		TableNumber: req.TableNumber,
		Capacity:    req.Capacity,
		Location:    location,
		Status:      status.TableAvailable,
		IsActive:    true,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tc.DB.Create(&table).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	tc.Hub.BroadcastTableCreated(table)
	utils.InfoLogger.Printf("New table created: %s (%s)", table.TableNumber, table.Location)
	utils.RespondJSON(c, http.StatusCreated, "Table created successfully", table)
}

// GetAllTables -> every table on the floor
func (tc *TableController) GetAllTables(c *gin.Context) {
	query := tc.DB.Order("id asc")
	if s := c.Query("status"); s != "" {
		query = query.Where("status = ?", s)
	}
	var tables []models.Table
	if err := query.Find(&tables).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of tables", tables)
}

// UpdateTableStatus -> conditional table update. The compare half
// (expect_status, expect_order_id) is what keeps a table with one order.
func (tc *TableController) UpdateTableStatus(c *gin.Context) {
	id, ok := paramID(c, "table_id")
	if !ok {
		return
	}
	var change models.TableStatusChange
	if err := c.ShouldBindJSON(&change); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	if s, known := status.ParseTableStatus(string(change.Status)); known {
		change.Status = s
	}

	var table *models.Table
	err := tc.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		table, err = swapTable(tx, id, change, tc.Clock.Now())
		return err
	})
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	tc.Hub.BroadcastStatus(models.TableEvent(*table))
	utils.InfoLogger.Printf("Table %s status changed to %s", table.TableNumber, table.Status)
	utils.RespondJSON(c, http.StatusOK, "Table status updated", table)
}
