package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/status"
)

// record is one loosely shaped JSON object from the store. Field names vary
// between call sites (name, itemName, item.name, ...); every variant is
// resolved here so the rest of the module only sees canonical models.
type record map[string]interface{}

func (r record) lookup(path string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(r)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func (r record) str(keys ...string) string {
	for _, k := range keys {
		v, ok := r.lookup(k)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return ""
}

func (r record) float(keys ...string) float64 {
	for _, k := range keys {
		v, ok := r.lookup(k)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			return t
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func (r record) uint(keys ...string) uint {
	f := r.float(keys...)
	if f < 0 {
		return 0
	}
	return uint(f)
}

func (r record) optUint(keys ...string) *uint {
	if v := r.uint(keys...); v != 0 {
		return &v
	}
	return nil
}

func (r record) boolean(def bool, keys ...string) bool {
	for _, k := range keys {
		v, ok := r.lookup(k)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case bool:
			return t
		case string:
			if b, err := strconv.ParseBool(t); err == nil {
				return b
			}
		}
	}
	return def
}

func (r record) time(keys ...string) time.Time {
	for _, k := range keys {
		s := r.str(k)
		if s == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func (r record) list(keys ...string) []record {
	for _, k := range keys {
		v, ok := r.lookup(k)
		if !ok {
			continue
		}
		raw, ok := v.([]interface{})
		if !ok {
			continue
		}
		out := make([]record, 0, len(raw))
		for _, item := range raw {
			if obj, ok := item.(map[string]interface{}); ok {
				out = append(out, record(obj))
			}
		}
		return out
	}
	return nil
}

var (
	idKeys      = []string{"id", "_id", "ID"}
	createdKeys = []string{"created_at", "createdAt", "CreatedAt"}
	updatedKeys = []string{"updated_at", "updatedAt", "UpdatedAt"}
	versionKeys = []string{"version", "seq", "__v", "Version"}
	itemIDKeys  = []string{"item_id", "itemId", "item.id", "item._id", "menu_id", "menuId", "menu.id"}
	nameKeys    = []string{"name", "itemName", "item_name", "item.name", "menu.name"}
	qtyKeys     = []string{"quantity", "qty", "Quantity"}
	noteKeys    = []string{"note", "notes", "specialInstructions", "special_instructions", "preparationNote"}
)

func orderFromRecord(r record) (models.Order, error) {
	st, ok := status.ParseOrderStatus(r.str("status", "orderStatus", "Status"))
	if !ok {
		return models.Order{}, fmt.Errorf("order %s: unknown status %q", r.str(idKeys...), r.str("status"))
	}

	o := models.Order{
		ID:            r.uint(idKeys...),
		TableID:       r.uint("table_id", "tableId", "table.id", "table._id", "tableNo"),
		StaffID:       r.uint("staff_id", "staffId", "staff.id", "staff._id", "waiter_id", "waiterId"),
		CustomerName:  r.str("customer_name", "customerName", "customer.name"),
		CustomerPhone: r.str("customer_phone", "customerPhone", "customer.phone", "phone"),
		Amount:        r.float("amount", "totalAmount", "total_amount", "total"),
		Status:        st,
		CouponCode:    r.str("coupon_code", "couponCode", "coupon.code", "appliedCoupon.code"),
		Discount:      r.float("discount", "discountAmount", "coupon.discount", "appliedCoupon.discount"),
		Version:       uint64(r.uint(versionKeys...)),
		CreatedAt:     r.time(createdKeys...),
		UpdatedAt:     r.time(updatedKeys...),
	}
	if ref := r.str("booking_ref", "bookingRef", "bookingId", "grcNo", "grc"); ref != "" {
		o.BookingRef = &ref
	}
	for _, ir := range r.list("items", "orderItems", "order_items", "OrderItems") {
		o.Items = append(o.Items, models.OrderItem{
			ID:        ir.uint(idKeys...),
			OrderID:   o.ID,
			ItemID:    ir.uint(itemIDKeys...),
			Name:      ir.str(nameKeys...),
			Quantity:  int(ir.uint(qtyKeys...)),
			UnitPrice: ir.float("unit_price", "unitPrice", "price", "item.price", "menu.price"),
			Note:      ir.str(noteKeys...),
		})
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	if o.Amount == 0 && len(o.Items) > 0 {
		o.Amount = o.ComputeAmount()
	}
	return o, nil
}

func kotFromRecord(r record) (models.KOT, error) {
	st, ok := status.ParseKOTStatus(r.str("status", "kotStatus", "Status"))
	if !ok {
		return models.KOT{}, fmt.Errorf("kot %s: unknown status %q", r.str(idKeys...), r.str("status"))
	}

	k := models.KOT{
		ID:               r.uint(idKeys...),
		OrderID:          r.uint("order_id", "orderId", "order.id", "order._id"),
		TableNumber:      r.str("table_number", "tableNumber", "tableNo", "table.table_number", "table.tableNumber"),
		Priority:         status.ParsePriority(r.str("priority")),
		ChefID:           r.optUint("chef_id", "chefId", "assignedChef", "assignedChef.id", "chef.id"),
		EstimatedMinutes: int(r.uint("estimated_minutes", "estimatedMinutes", "estimatedTime", "prepTime")),
		Status:           st,
		Version:          uint64(r.uint(versionKeys...)),
		CreatedAt:        r.time(createdKeys...),
		UpdatedAt:        r.time(updatedKeys...),
	}
	for _, ir := range r.list("items", "kotItems", "kot_items") {
		k.Items = append(k.Items, models.KOTItem{
			ID:       ir.uint(idKeys...),
			KOTID:    k.ID,
			ItemID:   ir.uint(itemIDKeys...),
			Name:     ir.str(nameKeys...),
			Quantity: int(ir.uint(qtyKeys...)),
			Note:     ir.str(noteKeys...),
		})
	}
	if k.UpdatedAt.IsZero() {
		k.UpdatedAt = k.CreatedAt
	}
	return k, nil
}

func tableFromRecord(r record) (models.Table, error) {
	st, ok := status.ParseTableStatus(r.str("status", "Status"))
	if !ok {
		return models.Table{}, fmt.Errorf("table %s: unknown status %q", r.str(idKeys...), r.str("status"))
	}

	t := models.Table{
		ID:          r.uint(idKeys...),
		TableNumber: r.str("table_number", "tableNumber", "number", "TableNumber"),
		Capacity:    int(r.uint("capacity", "seats", "Capacity")),
		Location:    strings.ToLower(r.str("location", "Location")),
		Status:      st,
		IsActive:    r.boolean(true, "is_active", "isActive", "active"),
		OrderID:     r.optUint("order_id", "orderId", "currentOrder", "currentOrder.id"),
		Version:     uint64(r.uint(versionKeys...)),
		CreatedAt:   r.time(createdKeys...),
		UpdatedAt:   r.time(updatedKeys...),
	}
	if t.Location == "" {
		t.Location = models.LocationDining
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	return t, nil
}

func menuItemFromRecord(r record) (models.MenuItem, error) {
	return models.MenuItem{
		ID:        r.uint(idKeys...),
		Name:      r.str(nameKeys...),
		Category:  r.str("category", "category.name", "categoryName"),
		Price:     r.float("price", "Price"),
		Available: r.boolean(true, "available", "isAvailable", "in_stock"),
		CreatedAt: r.time(createdKeys...),
		UpdatedAt: r.time(updatedKeys...),
	}, nil
}

func decodeRecord(raw json.RawMessage) (record, error) {
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

// decodeList accepts either a bare array or an object wrapping one
// (orders, kots, tables, items, data).
func decodeList(raw json.RawMessage, wrapperKeys ...string) ([]record, error) {
	var arr []record
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr, nil
	}
	obj, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	if list := obj.list(append(wrapperKeys, "data", "results")...); list != nil {
		return list, nil
	}
	return nil, fmt.Errorf("decode list: no array under %v", wrapperKeys)
}
