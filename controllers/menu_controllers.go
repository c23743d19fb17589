package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/utils"
)

// MenuController serves the item catalog order entry prices from.
type MenuController struct {
	DB *gorm.DB
}

func NewMenuController(db *gorm.DB) *MenuController {
	return &MenuController{DB: db}
}

// GetAllItems -> catalog, optionally ?category= and ?available=true
func (mc *MenuController) GetAllItems(c *gin.Context) {
	query := mc.DB.Order("category asc, name asc")
	if category := c.Query("category"); category != "" {
		query = query.Where("LOWER(category) = ?", strings.ToLower(category))
	}
	if c.Query("available") == "true" {
		query = query.Where("available = ?", true)
	}

	var items []models.MenuItem
	if err := query.Find(&items).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of items", items)
}

// CreateItem -> managers add catalog entries
func (mc *MenuController) CreateItem(c *gin.Context) {
	var req struct {
		Name      string  `json:"name" binding:"required"`
		Category  string  `json:"category"`
		Price     float64 `json:"price" binding:"min=0"`
		Available *bool   `json:"available"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	now := time.Now()
	item := models.MenuItem{
		Name:      req.Name,
		Category:  req.Category,
		Price:     req.Price,
		Available: req.Available == nil || *req.Available,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := mc.DB.Create(&item).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.InfoLogger.Printf("Menu item created: %s (%s)", item.Name, utils.FormatCurrencyIDR(item.Price))
	utils.RespondJSON(c, http.StatusCreated, "Item created", item)
}
