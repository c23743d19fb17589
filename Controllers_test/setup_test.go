package Controllers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeremiapane/restaurant-sync/config"
	"github.com/yeremiapane/restaurant-sync/kds"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/router"
	"github.com/yeremiapane/restaurant-sync/status"
	"github.com/yeremiapane/restaurant-sync/utils"
)

func init() {
	utils.Silence(io.Discard)
	gin.SetMode(gin.TestMode)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type store struct {
	DB     *gorm.DB
	Router *gin.Engine
	Hub    *kds.Hub
	Clock  *testClock
}

// newStore runs the reference store on a private in-memory sqlite database.
func newStore(t *testing.T) *store {
	t.Helper()
	db, err := config.InitDB(config.DBConfig{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	require.NoError(t, config.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	clock := &testClock{now: time.Now()}
	hub := kds.NewHub(nil)
	return &store{
		DB:     db,
		Router: router.SetupRouter(db, hub, router.Options{Clock: clock}),
		Hub:    hub,
		Clock:  clock,
	}
}

func tokenFor(t *testing.T, id uint, subRole string) string {
	t.Helper()
	token, err := utils.GenerateToken(models.Actor{ID: id, Name: subRole, Role: models.RoleRestaurant, SubRole: subRole})
	require.NoError(t, err)
	return token
}

type response struct {
	Code    int
	Status  bool                   `json:"status"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"-"`
	List    []interface{}          `json:"-"`
	Raw     json.RawMessage        `json:"data"`
}

func (s *store) call(t *testing.T, method, path, token string, body interface{}) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	resp := response{Code: w.Code}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
		resp.Code = w.Code
		if len(resp.Raw) > 0 {
			_ = json.Unmarshal(resp.Raw, &resp.Data)
			_ = json.Unmarshal(resp.Raw, &resp.List)
		}
	}
	return resp
}

func (s *store) seedTable(t *testing.T, number string) models.Table {
	t.Helper()
	now := s.Clock.Now()
	table := models.Table{TableNumber: number, Capacity: 4, Location: models.LocationDining, Status: status.TableAvailable, IsActive: true, Version: 1, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.DB.Create(&table).Error)
	return table
}

func (s *store) seedMenuItem(t *testing.T, name, category string, price float64, available bool) models.MenuItem {
	t.Helper()
	now := s.Clock.Now()
	item := models.MenuItem{Name: name, Category: category, Price: price, Available: available, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.DB.Create(&item).Error)
	return item
}

func orderDraft(tableID uint, items ...models.OrderItemDraft) models.OrderDraft {
	return models.OrderDraft{TableID: tableID, Items: items}
}

func num(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
