package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yeremiapane/restaurant-sync/controllers"
	"github.com/yeremiapane/restaurant-sync/kds"
	"github.com/yeremiapane/restaurant-sync/middlewares"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/utils"
)

type Options struct {
	// RateLimit is requests per second per IP, 0 disables it.
	RateLimit  float64
	RateBurst  int
	CORSOrigin string
	Clock      utils.Clock
}

func SetupRouter(db *gorm.DB, hub *kds.Hub, opts Options) *gin.Engine {
	if hub == nil {
		hub = kds.NewHub(nil)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddlewares(opts.CORSOrigin))
	r.Use(middlewares.LoggerMiddleware())
	if opts.RateLimit > 0 {
		r.Use(middlewares.NewRateLimiter(opts.RateLimit, opts.RateBurst).RateLimit())
	}

	userCtrl := controllers.NewUserController(db)
	orderCtrl := controllers.NewOrderController(db, hub, opts.Clock)
	kotCtrl := controllers.NewKOTController(db, hub, opts.Clock)
	tableCtrl := controllers.NewTableController(db, hub, opts.Clock)
	menuCtrl := controllers.NewMenuController(db)
	adminCtrl := controllers.NewAdminController(db)

	// ----------------------------------------------------------------
	//                      PUBLIC ROUTES
	// ----------------------------------------------------------------
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.POST("/auth/login", middlewares.NewStrictRateLimiter(), userCtrl.Login)

	// push channel, token in the query string
	r.GET("/ws", middlewares.WebSocketAuthMiddleware(), controllers.KDSHandler(hub))

	// ----------------------------------------------------------------
	//                      AUTHENTICATED ROUTES
	// ----------------------------------------------------------------
	auth := r.Group("/")
	auth.Use(middlewares.AuthMiddleware())

	auth.GET("/auth/profile", userCtrl.GetProfile)
	auth.POST("/auth/logout", userCtrl.Logout)

	// ORDERS
	auth.GET("/restaurant-orders/all", orderCtrl.GetAllOrders)
	auth.POST("/restaurant-orders/create", orderCtrl.CreateOrder)
	auth.GET("/restaurant-orders/details/:order_id", orderCtrl.GetOrderByID)
	auth.PATCH("/restaurant-orders/:order_id/status", orderCtrl.UpdateOrderStatus)
	auth.PATCH("/restaurant-orders/:order_id/transfer-table", orderCtrl.TransferTable)
	auth.PATCH("/restaurant-orders/:order_id/coupon", orderCtrl.ApplyCoupon)

	// KITCHEN ORDER TICKETS
	auth.GET("/kot/all", kotCtrl.GetAllKOTs)
	auth.POST("/kot/create", kotCtrl.CreateKOT)
	auth.PATCH("/kot/:kot_id/status", kotCtrl.UpdateKOTStatus)
	auth.PUT("/kot/:kot_id/served", middlewares.RequireSubRole(models.SubRoleChef), kotCtrl.MarkServed)

	// TABLES
	auth.GET("/restaurant/tables", tableCtrl.GetAllTables)
	auth.POST("/restaurant/tables", tableCtrl.CreateTable)
	auth.PATCH("/restaurant/tables/:table_id/status", tableCtrl.UpdateTableStatus)

	// MENU ITEMS
	auth.GET("/items/all", menuCtrl.GetAllItems)

	// MANAGERS
	manager := auth.Group("/")
	manager.Use(middlewares.RequireSubRole(models.SubRoleManager))
	manager.POST("/auth/register", userCtrl.Register)
	manager.POST("/items", menuCtrl.CreateItem)
	manager.GET("/restaurant/dashboard", adminCtrl.GetDashboardStats)
	manager.GET("/restaurant/transfers", adminCtrl.GetTransfers)

	return r
}
