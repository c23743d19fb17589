package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/yeremiapane/restaurant-sync/models"
)

func decodeOne[T any](raw json.RawMessage, wrapperKey string, build func(record) (T, error)) (*T, error) {
	r, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	if inner, ok := r[wrapperKey].(map[string]interface{}); ok {
		r = record(inner)
	}
	v, err := build(r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) decodeMany(raw json.RawMessage, wrapperKey string, build func(record) error) error {
	list, err := decodeList(raw, wrapperKey)
	if err != nil {
		return err
	}
	for _, r := range list {
		if err := build(r); err != nil {
			// one malformed row must not hide the rest of the collection
			c.log.WithField("collection", wrapperKey).Warnf("skipping record: %v", err)
		}
	}
	return nil
}

// ---- orders ----

func (c *Client) ListOrders(ctx context.Context) ([]models.Order, error) {
	raw, err := c.do(ctx, http.MethodGet, "/restaurant-orders/all", nil)
	if err != nil {
		return nil, err
	}
	orders := []models.Order{}
	err = c.decodeMany(raw, "orders", func(r record) error {
		o, err := orderFromRecord(r)
		if err == nil {
			orders = append(orders, o)
		}
		return err
	})
	return orders, err
}

func (c *Client) CreateOrder(ctx context.Context, draft models.OrderDraft) (*models.Order, error) {
	if len(draft.Items) == 0 {
		return nil, fmt.Errorf("create order: at least one item is required")
	}
	raw, err := c.do(ctx, http.MethodPost, "/restaurant-orders/create", draft)
	if err != nil {
		return nil, err
	}
	return decodeOne(raw, "order", orderFromRecord)
}

func (c *Client) GetOrder(ctx context.Context, id uint) (*models.Order, error) {
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/restaurant-orders/details/%d", id), nil)
	if err != nil {
		return nil, err
	}
	return decodeOne(raw, "order", orderFromRecord)
}

func (c *Client) UpdateOrderStatus(ctx context.Context, id uint, change models.StatusChange) (*models.Order, error) {
	raw, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/restaurant-orders/%d/status", id), change)
	if err != nil {
		return nil, err
	}
	return decodeOne(raw, "order", orderFromRecord)
}

func (c *Client) TransferTable(ctx context.Context, orderID uint, req models.TransferRequest) (*models.Order, error) {
	raw, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/restaurant-orders/%d/transfer-table", orderID), req)
	if err != nil {
		return nil, err
	}
	return decodeOne(raw, "order", orderFromRecord)
}

func (c *Client) ApplyCoupon(ctx context.Context, orderID uint, req models.CouponRequest) (*models.Order, error) {
	raw, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/restaurant-orders/%d/coupon", orderID), req)
	if err != nil {
		return nil, err
	}
	return decodeOne(raw, "order", orderFromRecord)
}

// ---- kitchen order tickets ----

func (c *Client) ListKOTs(ctx context.Context, activeOnly bool) ([]models.KOT, error) {
	path := "/kot/all"
	if activeOnly {
		path += "?active=true"
	}
	raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	kots := []models.KOT{}
	err = c.decodeMany(raw, "kots", func(r record) error {
		k, err := kotFromRecord(r)
		if err == nil && (!activeOnly || k.Active()) {
			kots = append(kots, k)
		}
		return err
	})
	return kots, err
}

func (c *Client) CreateKOT(ctx context.Context, draft models.KOTDraft) (*models.KOT, error) {
	if len(draft.Items) == 0 {
		return nil, fmt.Errorf("create kot: at least one item is required")
	}
	raw, err := c.do(ctx, http.MethodPost, "/kot/create", draft)
	if err != nil {
		return nil, err
	}
	return decodeOne(raw, "kot", kotFromRecord)
}

func (c *Client) UpdateKOTStatus(ctx context.Context, id uint, change models.StatusChange) (*models.KOT, error) {
	raw, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/kot/%d/status", id), change)
	if err != nil {
		return nil, err
	}
	return decodeOne(raw, "kot", kotFromRecord)
}

func (c *Client) MarkKOTServed(ctx context.Context, id uint) (*models.KOT, error) {
	raw, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/kot/%d/served", id), nil)
	if err != nil {
		return nil, err
	}
	return decodeOne(raw, "kot", kotFromRecord)
}

// ---- tables ----

func (c *Client) ListTables(ctx context.Context) ([]models.Table, error) {
	raw, err := c.do(ctx, http.MethodGet, "/restaurant/tables", nil)
	if err != nil {
		return nil, err
	}
	tables := []models.Table{}
	err = c.decodeMany(raw, "tables", func(r record) error {
		t, err := tableFromRecord(r)
		if err == nil {
			tables = append(tables, t)
		}
		return err
	})
	return tables, err
}

func (c *Client) CreateTable(ctx context.Context, draft models.TableDraft) (*models.Table, error) {
	raw, err := c.do(ctx, http.MethodPost, "/restaurant/tables", draft)
	if err != nil {
		return nil, err
	}
	return decodeOne(raw, "table", tableFromRecord)
}

// UpdateTableStatus issues a conditional update; a failed compare comes back
// as apperrors.ErrConflict.
func (c *Client) UpdateTableStatus(ctx context.Context, id uint, change models.TableStatusChange) (*models.Table, error) {
	raw, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/restaurant/tables/%d/status", id), change)
	if err != nil {
		return nil, err
	}
	return decodeOne(raw, "table", tableFromRecord)
}

// ---- menu ----

func (c *Client) ListItems(ctx context.Context) ([]models.MenuItem, error) {
	raw, err := c.do(ctx, http.MethodGet, "/items/all", nil)
	if err != nil {
		return nil, err
	}
	items := []models.MenuItem{}
	err = c.decodeMany(raw, "items", func(r record) error {
		it, err := menuItemFromRecord(r)
		if err == nil {
			items = append(items, it)
		}
		return err
	})
	return items, err
}
