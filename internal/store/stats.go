package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Dashboard struct {
	StockpileCount         int
	TotalItems             int
	ActiveOperationCount   int
	PendingProductionCount int
	LastUpdated            *Stockpile
	ScansLast24Hours       int
}

// DashboardStats gathers the regiment overview counters.
func (s *Store) DashboardStats(ctx context.Context, regimentID string) (Dashboard, error) {
	var d Dashboard
	since := millis(s.now().Add(-24 * time.Hour))
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM stockpiles WHERE regiment_id = ?),
			(SELECT COALESCE(SUM(i.quantity), 0) FROM stockpile_items i JOIN stockpiles s ON s.id = i.stockpile_id
				WHERE s.regiment_id = ?),
			(SELECT COUNT(*) FROM operations WHERE regiment_id = ? AND status IN ('PLANNING', 'ACTIVE')),
			(SELECT COUNT(*) FROM production_orders WHERE regiment_id = ?
				AND status IN ('PENDING', 'IN_PROGRESS', 'READY_FOR_PICKUP')),
			(SELECT COUNT(*) FROM stockpile_scans sc JOIN stockpiles s ON s.id = sc.stockpile_id
				WHERE s.regiment_id = ? AND sc.created_at >= ?)`,
		regimentID, regimentID, regimentID, regimentID, regimentID, since).
		Scan(&d.StockpileCount, &d.TotalItems, &d.ActiveOperationCount, &d.PendingProductionCount, &d.ScansLast24Hours)
	if err != nil {
		return Dashboard{}, fmt.Errorf("dashboard stats: %w", err)
	}

	sp, err := scanStockpile(s.db.QueryRowContext(ctx, `SELECT `+stockpileColumns+`
		FROM stockpiles s WHERE s.regiment_id = ? ORDER BY s.updated_at DESC LIMIT 1`, regimentID))
	switch {
	case err == nil:
		d.LastUpdated = &sp
	case !errors.Is(err, sql.ErrNoRows):
		return Dashboard{}, fmt.Errorf("last updated stockpile: %w", err)
	}
	return d, nil
}

type ScanLeader struct {
	UserID       string
	UserName     string
	DiscordID    string
	ScanCount    int
	ItemsScanned int
}

type ProductionLeader struct {
	UserID            string
	UserName          string
	DiscordID         string
	ContributionCount int
	ItemsProduced     int
}

type Leaderboard struct {
	Scans      []ScanLeader
	Production []ProductionLeader
}

// LeaderboardQuery filters contributions by creation time (Since) and/or war.
// Zero values disable the filter.
type LeaderboardQuery struct {
	RegimentID string
	Since      time.Time
	WarNumber  int
	Limit      int
}

// Leaderboard ranks scanners by scan count and producers by quantity produced.
func (s *Store) Leaderboard(ctx context.Context, q LeaderboardQuery) (Leaderboard, error) {
	var since int64
	if !q.Since.IsZero() {
		since = millis(q.Since)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	var lb Leaderboard
	rows, err := s.db.QueryContext(ctx, `
		SELECT sc.scanned_by_id, COALESCE(u.name, 'Unknown'), COALESCE(u.discord_id, ''),
			COUNT(sc.id), COALESCE(SUM(sc.item_count), 0)
		FROM stockpile_scans sc
		JOIN stockpiles s ON s.id = sc.stockpile_id
		LEFT JOIN users u ON u.id = sc.scanned_by_id
		WHERE s.regiment_id = ? AND sc.created_at >= ? AND (? = 0 OR sc.war_number = ?)
		GROUP BY sc.scanned_by_id
		ORDER BY COUNT(sc.id) DESC, sc.scanned_by_id
		LIMIT ?`, q.RegimentID, since, q.WarNumber, q.WarNumber, limit)
	if err != nil {
		return Leaderboard{}, fmt.Errorf("scan leaderboard: %w", err)
	}
	for rows.Next() {
		var l ScanLeader
		if err := rows.Scan(&l.UserID, &l.UserName, &l.DiscordID, &l.ScanCount, &l.ItemsScanned); err != nil {
			rows.Close()
			return Leaderboard{}, err
		}
		lb.Scans = append(lb.Scans, l)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return Leaderboard{}, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT c.user_id, COALESCE(u.name, 'Unknown'), COALESCE(u.discord_id, ''),
			COUNT(c.id), COALESCE(SUM(c.quantity), 0)
		FROM production_contributions c
		JOIN production_orders o ON o.id = c.order_id
		LEFT JOIN users u ON u.id = c.user_id
		WHERE o.regiment_id = ? AND c.created_at >= ? AND (? = 0 OR c.war_number = ?)
		GROUP BY c.user_id
		ORDER BY SUM(c.quantity) DESC, c.user_id
		LIMIT ?`, q.RegimentID, since, q.WarNumber, q.WarNumber, limit)
	if err != nil {
		return Leaderboard{}, fmt.Errorf("production leaderboard: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l ProductionLeader
		if err := rows.Scan(&l.UserID, &l.UserName, &l.DiscordID, &l.ContributionCount, &l.ItemsProduced); err != nil {
			return Leaderboard{}, err
		}
		lb.Production = append(lb.Production, l)
	}
	return lb, rows.Err()
}
