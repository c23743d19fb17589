package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/status"
	"github.com/yeremiapane/restaurant-sync/utils"
)

type AdminController struct {
	DB *gorm.DB
}

func NewAdminController(db *gorm.DB) *AdminController {
	return &AdminController{DB: db}
}

type statusCount struct {
	Status string
	Count  int64
}

type DashboardStats struct {
	Orders       map[string]int64 `json:"orders"`
	Tables       map[string]int64 `json:"tables"`
	ActiveKOTs   int64            `json:"active_kots"`
	TodayOrders  int64            `json:"today_orders"`
	TodayRevenue float64          `json:"today_revenue"`
	Transfers    int64            `json:"today_transfers"`
}

func (ac *AdminController) countByStatus(model interface{}) (map[string]int64, error) {
	var rows []statusCount
	if err := ac.DB.Model(model).Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// GetDashboardStats -> floor overview for managers
func (ac *AdminController) GetDashboardStats(c *gin.Context) {
	var stats DashboardStats
	var err error

	if stats.Orders, err = ac.countByStatus(&models.Order{}); err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	if stats.Tables, err = ac.countByStatus(&models.Table{}); err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	y, m, d := time.Now().Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, time.Local)

	ac.DB.Model(&models.KOT{}).Where("status <> ?", status.KOTServed).Count(&stats.ActiveKOTs)
	ac.DB.Model(&models.Order{}).Where("created_at >= ?", startOfDay).Count(&stats.TodayOrders)
	ac.DB.Model(&models.Order{}).
		Where("status = ? AND updated_at >= ?", status.OrderPaid, startOfDay).
		Select("COALESCE(SUM(amount), 0)").
		Row().Scan(&stats.TodayRevenue)
	ac.DB.Model(&models.TableTransfer{}).Where("created_at >= ?", startOfDay).Count(&stats.Transfers)

	utils.RespondJSON(c, http.StatusOK, "Dashboard stats", stats)
}

// GetTransfers -> audit trail of table moves, newest first
func (ac *AdminController) GetTransfers(c *gin.Context) {
	query := ac.DB.Order("created_at desc").Limit(200)
	if orderID := c.Query("order_id"); orderID != "" {
		query = query.Where("order_id = ?", orderID)
	}
	var transfers []models.TableTransfer
	if err := query.Find(&transfers).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table transfers", transfers)
}
