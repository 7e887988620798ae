package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Production order statuses.
const (
	StatusPending        = "PENDING"
	StatusInProgress     = "IN_PROGRESS"
	StatusReadyForPickup = "READY_FOR_PICKUP"
	StatusCompleted      = "COMPLETED"
	StatusCancelled      = "CANCELLED"
	StatusFulfilled      = "FULFILLED"
)

type ProductionItem struct {
	ItemCode         string
	QuantityRequired int
	QuantityProduced int
}

type ProductionOrder struct {
	ID                string
	ShortID           string
	RegimentID        string
	Name              string
	Description       string
	Status            string
	Priority          int
	CreatedByID       string
	CreatedByName     string
	IsMPF             bool
	IsStandingOrder   bool
	WarNumber         int
	MPFSubmittedAt    *time.Time
	MPFReadyAt        *time.Time
	DeliveredAt       *time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LinkedStockpile   *Stockpile
	DeliveryStockpile *Stockpile
	Items             []ProductionItem
	Targets           []Stockpile
}

// Totals returns the summed required and produced quantities.
func (o ProductionOrder) Totals() (required, produced int) {
	for _, it := range o.Items {
		required += it.QuantityRequired
		produced += it.QuantityProduced
	}
	return required, produced
}

type ProductionFilter struct {
	RegimentID      string
	Status          string
	IsMPF           *bool
	IsStandingOrder *bool
	Limit           int
}

type NewProductionOrder struct {
	RegimentID         string
	CreatedByID        string
	Name               string
	Description        string
	Priority           int
	IsMPF              bool
	IsStandingOrder    bool
	LinkedStockpileID  string
	WarNumber          int
	Items              []ProductionItem
	TargetStockpileIDs []string
}

type ProgressUpdate struct {
	ItemCode         string
	QuantityProduced int
}

type ProgressResult struct {
	OrderID      string
	UpdatedItems int
	Status       string
}

const orderColumns = `o.id, o.short_id, o.regiment_id, o.name, COALESCE(o.description, ''), o.status, o.priority,
	o.created_by_id, COALESCE(u.name, ''), o.is_mpf, o.is_standing_order, COALESCE(o.war_number, 0),
	o.mpf_submitted_at, o.mpf_ready_at, o.delivered_at, o.completed_at, o.created_at, o.updated_at,
	COALESCE(o.linked_stockpile_id, ''), COALESCE(o.delivery_stockpile_id, '')`

type orderRow struct {
	ProductionOrder
	linkedID   string
	deliveryID string
}

func scanOrder(r rowScanner) (orderRow, error) {
	var o orderRow
	var submitted, ready, delivered, completed sql.NullInt64
	var created, updated int64
	err := r.Scan(&o.ID, &o.ShortID, &o.RegimentID, &o.Name, &o.Description, &o.Status, &o.Priority,
		&o.CreatedByID, &o.CreatedByName, &o.IsMPF, &o.IsStandingOrder, &o.WarNumber,
		&submitted, &ready, &delivered, &completed, &created, &updated, &o.linkedID, &o.deliveryID)
	if err != nil {
		return orderRow{}, err
	}
	o.MPFSubmittedAt = timePtr(submitted)
	o.MPFReadyAt = timePtr(ready)
	o.DeliveredAt = timePtr(delivered)
	o.CompletedAt = timePtr(completed)
	o.CreatedAt = fromMillis(created)
	o.UpdatedAt = fromMillis(updated)
	return o, nil
}

// ListProductionOrders returns non-archived orders, highest priority then newest first.
func (s *Store) ListProductionOrders(ctx context.Context, f ProductionFilter) ([]ProductionOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM production_orders o LEFT JOIN users u ON u.id = o.created_by_id
		WHERE o.regiment_id = ? AND o.archived_at IS NULL`
	args := []any{f.RegimentID}
	if f.Status != "" {
		query += " AND o.status = ?"
		args = append(args, strings.ToUpper(f.Status))
	}
	if f.IsMPF != nil {
		query += " AND o.is_mpf = ?"
		args = append(args, boolInt(*f.IsMPF))
	}
	if f.IsStandingOrder != nil {
		query += " AND o.is_standing_order = ?"
		args = append(args, boolInt(*f.IsStandingOrder))
	}
	query += " ORDER BY o.priority DESC, o.created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list production orders: %w", err)
	}
	var found []orderRow
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan production order: %w", err)
		}
		found = append(found, o)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	out := make([]ProductionOrder, 0, len(found))
	for _, o := range found {
		full, err := s.hydrateOrder(ctx, o)
		if err != nil {
			return nil, err
		}
		out = append(out, full)
	}
	return out, nil
}

// GetProductionOrder finds an order by id or short id within the regiment.
func (s *Store) GetProductionOrder(ctx context.Context, regimentID, orderID, shortID string) (ProductionOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM production_orders o LEFT JOIN users u ON u.id = o.created_by_id
		WHERE o.regiment_id = ?`
	args := []any{regimentID}
	if orderID != "" {
		query += " AND o.id = ?"
		args = append(args, orderID)
	}
	if shortID != "" {
		query += " AND o.short_id = ?"
		args = append(args, shortID)
	}
	o, err := scanOrder(s.db.QueryRowContext(ctx, query+" LIMIT 1", args...))
	if errors.Is(err, sql.ErrNoRows) {
		return ProductionOrder{}, ErrNotFound
	}
	if err != nil {
		return ProductionOrder{}, fmt.Errorf("get production order: %w", err)
	}
	return s.hydrateOrder(ctx, o)
}

// StandingOrderFor returns the standing order linked to a stockpile.
func (s *Store) StandingOrderFor(ctx context.Context, regimentID, stockpileID string) (ProductionOrder, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+`
		FROM production_orders o LEFT JOIN users u ON u.id = o.created_by_id
		WHERE o.regiment_id = ? AND o.linked_stockpile_id = ? AND o.is_standing_order = 1
		LIMIT 1`, regimentID, stockpileID))
	if errors.Is(err, sql.ErrNoRows) {
		return ProductionOrder{}, ErrNotFound
	}
	if err != nil {
		return ProductionOrder{}, fmt.Errorf("standing order: %w", err)
	}
	return s.hydrateOrder(ctx, o)
}

func (s *Store) hydrateOrder(ctx context.Context, o orderRow) (ProductionOrder, error) {
	out := o.ProductionOrder
	items, err := s.orderItems(ctx, out.ID)
	if err != nil {
		return ProductionOrder{}, err
	}
	out.Items = items

	targets, err := s.orderTargets(ctx, out.ID)
	if err != nil {
		return ProductionOrder{}, err
	}
	out.Targets = targets

	if o.linkedID != "" {
		if sp, err := s.stockpileByID(ctx, o.linkedID); err == nil {
			out.LinkedStockpile = &sp
		} else if !errors.Is(err, ErrNotFound) {
			return ProductionOrder{}, err
		}
	}
	if o.deliveryID != "" {
		if sp, err := s.stockpileByID(ctx, o.deliveryID); err == nil {
			out.DeliveryStockpile = &sp
		} else if !errors.Is(err, ErrNotFound) {
			return ProductionOrder{}, err
		}
	}
	return out, nil
}

func (s *Store) orderItems(ctx context.Context, orderID string) ([]ProductionItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_code, quantity_required, quantity_produced FROM production_order_items
		WHERE order_id = ? ORDER BY quantity_required DESC, item_code`, orderID)
	if err != nil {
		return nil, fmt.Errorf("order items: %w", err)
	}
	defer rows.Close()
	var out []ProductionItem
	for rows.Next() {
		var it ProductionItem
		if err := rows.Scan(&it.ItemCode, &it.QuantityRequired, &it.QuantityProduced); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) orderTargets(ctx context.Context, orderID string) ([]Stockpile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stockpileColumns+` FROM production_order_targets t JOIN stockpiles s ON s.id = t.stockpile_id
		WHERE t.order_id = ? ORDER BY s.name`, orderID)
	if err != nil {
		return nil, fmt.Errorf("order targets: %w", err)
	}
	defer rows.Close()
	var out []Stockpile
	for rows.Next() {
		sp, err := scanStockpile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *Store) stockpileByID(ctx context.Context, id string) (Stockpile, error) {
	sp, err := scanStockpile(s.db.QueryRowContext(ctx,
		"SELECT "+stockpileColumns+" FROM stockpiles s WHERE s.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Stockpile{}, ErrNotFound
	}
	if err != nil {
		return Stockpile{}, fmt.Errorf("stockpile by id: %w", err)
	}
	return sp, nil
}

// CreateProductionOrder inserts an order in PENDING with its items and target stockpiles.
func (s *Store) CreateProductionOrder(ctx context.Context, in NewProductionOrder) (ProductionOrder, error) {
	if in.Name == "" {
		return ProductionOrder{}, fmt.Errorf("production order name must not be empty")
	}
	if len(in.Items) == 0 {
		return ProductionOrder{}, fmt.Errorf("production order needs at least one item")
	}
	id := s.newID()
	shortID := shortIDFrom(s.newID())
	now := millis(s.now())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO production_orders (id, short_id, regiment_id, name, description, status, priority, created_by_id,
				is_mpf, is_standing_order, linked_stockpile_id, war_number, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, shortID, in.RegimentID, in.Name, nullString(in.Description), StatusPending, in.Priority, in.CreatedByID,
			boolInt(in.IsMPF), boolInt(in.IsStandingOrder), nullString(in.LinkedStockpileID), nullWar(in.WarNumber), now, now)
		if err != nil {
			return fmt.Errorf("insert production order: %w", err)
		}
		for _, it := range in.Items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO production_order_items (id, order_id, item_code, quantity_required, quantity_produced, updated_at)
				VALUES (?, ?, ?, ?, 0, ?)
				ON CONFLICT(order_id, item_code) DO UPDATE SET quantity_required = quantity_required + excluded.quantity_required`,
				s.newID(), id, it.ItemCode, it.QuantityRequired, now)
			if err != nil {
				return fmt.Errorf("insert order item %s: %w", it.ItemCode, err)
			}
		}
		for _, spID := range in.TargetStockpileIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO production_order_targets (id, order_id, stockpile_id) VALUES (?, ?, ?)`,
				s.newID(), id, spID)
			if err != nil {
				return fmt.Errorf("insert order target: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return ProductionOrder{}, err
	}
	return s.GetProductionOrder(ctx, in.RegimentID, id, "")
}

// UpdateProductionProgress sets produced quantities, records positive deltas as
// contributions by userID and advances the order status. Non-MPF orders whose
// items are all met become COMPLETED; a PENDING order with any progress becomes
// IN_PROGRESS. Item codes not on the order are ignored.
func (s *Store) UpdateProductionProgress(ctx context.Context, regimentID, orderID, userID string, updates []ProgressUpdate, warNumber int) (ProgressResult, error) {
	order, err := s.GetProductionOrder(ctx, regimentID, orderID, "")
	if err != nil {
		return ProgressResult{}, err
	}
	produced := make(map[string]int, len(order.Items))
	required := make(map[string]int, len(order.Items))
	for _, it := range order.Items {
		produced[it.ItemCode] = it.QuantityProduced
		required[it.ItemCode] = it.QuantityRequired
	}

	now := s.now()
	status := order.Status
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, u := range updates {
			prev, ok := produced[u.ItemCode]
			if !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE production_order_items SET quantity_produced = ?, updated_at = ?
				WHERE order_id = ? AND item_code = ?`, u.QuantityProduced, millis(now), order.ID, u.ItemCode); err != nil {
				return fmt.Errorf("update order item %s: %w", u.ItemCode, err)
			}
			if delta := u.QuantityProduced - prev; delta > 0 {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO production_contributions (id, order_id, item_code, user_id, quantity, war_number, created_at)
					VALUES (?, ?, ?, ?, ?, ?, ?)`,
					s.newID(), order.ID, u.ItemCode, userID, delta, nullWar(warNumber), millis(now))
				if err != nil {
					return fmt.Errorf("insert contribution: %w", err)
				}
			}
			produced[u.ItemCode] = u.QuantityProduced
		}

		allComplete, anyStarted := true, false
		for code, req := range required {
			if produced[code] < req {
				allComplete = false
			}
			if produced[code] > 0 {
				anyStarted = true
			}
		}
		switch {
		case allComplete && !order.IsMPF:
			status = StatusCompleted
			_, err := tx.ExecContext(ctx, `UPDATE production_orders SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
				status, millis(now), millis(now), order.ID)
			if err != nil {
				return fmt.Errorf("complete order: %w", err)
			}
		case anyStarted && order.Status == StatusPending:
			status = StatusInProgress
			_, err := tx.ExecContext(ctx, `UPDATE production_orders SET status = ?, updated_at = ? WHERE id = ?`,
				status, millis(now), order.ID)
			if err != nil {
				return fmt.Errorf("start order: %w", err)
			}
		default:
			if _, err := tx.ExecContext(ctx, `UPDATE production_orders SET updated_at = ? WHERE id = ?`,
				millis(now), order.ID); err != nil {
				return fmt.Errorf("touch order: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return ProgressResult{}, err
	}
	return ProgressResult{OrderID: order.ID, UpdatedItems: len(updates), Status: status}, nil
}

// shortIDFrom derives the human-facing order id from a uuid.
func shortIDFrom(id string) string {
	id = strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}
