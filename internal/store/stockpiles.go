package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quartermaster/internal/foxhole"
)

// StockpileLifetime is how long a stockpile survives without a refresh.
const StockpileLifetime = foxhole.Lifetime

// Stockpile types as stored.
const (
	TypeStorageDepot = "STORAGE_DEPOT"
	TypeSeaport      = "SEAPORT"
)

type Stockpile struct {
	ID              string
	RegimentID      string
	Name            string
	Type            string
	Hex             string
	LocationName    string
	Code            string
	LastRefreshedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StockpileSummary is a stockpile plus its inventory totals and latest scan.
type StockpileSummary struct {
	Stockpile
	TotalItems    int
	UniqueItems   int
	LastScanAt    *time.Time
	LastScannedBy string
}

type StockpileItem struct {
	ItemCode   string
	Quantity   int
	Crated     bool
	Confidence *float64
}

// ItemRow is one stockpile line across a regiment, used for aggregation.
type ItemRow struct {
	StockpileID string
	ItemCode    string
	Quantity    int
	Crated      bool
}

// ItemLocation is one stockpile line for a single item code.
type ItemLocation struct {
	Stockpile
	Quantity int
	Crated   bool
}

type ScanRecord struct {
	ID        string
	CreatedAt time.Time
	ItemCount int
	ScannedBy string
}

type Refresh struct {
	ID          string
	Stockpile   Stockpile
	RefreshedAt time.Time
}

// ExpiringStockpile is a stockpile close to decay along with where to warn.
type ExpiringStockpile struct {
	Stockpile
	ScannerChannelID string
	ExpiresAt        time.Time
}

const stockpileColumns = `s.id, s.regiment_id, s.name, s.type, s.hex, s.location_name, s.code,
	s.last_refreshed_at, s.created_at, s.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStockpile(r rowScanner, extra ...any) (Stockpile, error) {
	var sp Stockpile
	var code sql.NullString
	var refreshed sql.NullInt64
	var created, updated int64
	dest := append([]any{&sp.ID, &sp.RegimentID, &sp.Name, &sp.Type, &sp.Hex, &sp.LocationName, &code,
		&refreshed, &created, &updated}, extra...)
	if err := r.Scan(dest...); err != nil {
		return Stockpile{}, err
	}
	sp.Code = code.String
	sp.LastRefreshedAt = timePtr(refreshed)
	sp.CreatedAt = fromMillis(created)
	sp.UpdatedAt = fromMillis(updated)
	return sp, nil
}

// CreateStockpile inserts a stockpile. ID, type and timestamps are filled when empty.
func (s *Store) CreateStockpile(ctx context.Context, sp Stockpile) (Stockpile, error) {
	if sp.RegimentID == "" || sp.Name == "" {
		return Stockpile{}, fmt.Errorf("stockpile needs a regiment and a name")
	}
	if sp.ID == "" {
		sp.ID = s.newID()
	}
	if sp.Type == "" {
		sp.Type = TypeStorageDepot
	}
	now := s.now()
	if sp.CreatedAt.IsZero() {
		sp.CreatedAt = now
	}
	if sp.UpdatedAt.IsZero() {
		sp.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stockpiles (id, regiment_id, name, type, hex, location_name, code, last_refreshed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.RegimentID, sp.Name, sp.Type, sp.Hex, sp.LocationName, nullString(sp.Code),
		nullMillis(sp.LastRefreshedAt), millis(sp.CreatedAt), millis(sp.UpdatedAt))
	if err != nil {
		return Stockpile{}, fmt.Errorf("create stockpile: %w", err)
	}
	return sp, nil
}

// SetStockpileItems replaces a stockpile's inventory without recording a scan.
func (s *Store) SetStockpileItems(ctx context.Context, stockpileID string, items []StockpileItem) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.replaceItems(ctx, tx, stockpileID, items)
	})
}

func (s *Store) replaceItems(ctx context.Context, tx *sql.Tx, stockpileID string, items []StockpileItem) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM stockpile_items WHERE stockpile_id = ?", stockpileID); err != nil {
		return fmt.Errorf("clear stockpile items: %w", err)
	}
	now := millis(s.now())
	for _, it := range items {
		var conf sql.NullFloat64
		if it.Confidence != nil {
			conf = sql.NullFloat64{Float64: *it.Confidence, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stockpile_items (id, stockpile_id, item_code, quantity, crated, confidence, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(stockpile_id, item_code, crated) DO UPDATE SET quantity = quantity + excluded.quantity`,
			s.newID(), stockpileID, it.ItemCode, it.Quantity, boolInt(it.Crated), conf, now)
		if err != nil {
			return fmt.Errorf("insert stockpile item %s: %w", it.ItemCode, err)
		}
	}
	return nil
}

// ListStockpiles returns the regiment's stockpiles, most recently updated first.
// hex filters by case-insensitive substring of the hex name.
func (s *Store) ListStockpiles(ctx context.Context, regimentID, hex string) ([]StockpileSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stockpileColumns+`,
			COALESCE((SELECT SUM(i.quantity) FROM stockpile_items i WHERE i.stockpile_id = s.id), 0),
			(SELECT COUNT(*) FROM stockpile_items i WHERE i.stockpile_id = s.id),
			(SELECT MAX(sc.created_at) FROM stockpile_scans sc WHERE sc.stockpile_id = s.id),
			(SELECT u.name FROM stockpile_scans sc LEFT JOIN users u ON u.id = sc.scanned_by_id
				WHERE sc.stockpile_id = s.id ORDER BY sc.created_at DESC LIMIT 1)
		FROM stockpiles s
		WHERE s.regiment_id = ? AND (? = '' OR s.hex LIKE '%' || ? || '%')
		ORDER BY s.updated_at DESC`, regimentID, hex, hex)
	if err != nil {
		return nil, fmt.Errorf("list stockpiles: %w", err)
	}
	defer rows.Close()

	var out []StockpileSummary
	for rows.Next() {
		var sum StockpileSummary
		var lastScan sql.NullInt64
		var scannedBy sql.NullString
		sp, err := scanStockpile(rows, &sum.TotalItems, &sum.UniqueItems, &lastScan, &scannedBy)
		if err != nil {
			return nil, fmt.Errorf("scan stockpile: %w", err)
		}
		sum.Stockpile = sp
		sum.LastScanAt = timePtr(lastScan)
		sum.LastScannedBy = scannedBy.String
		out = append(out, sum)
	}
	return out, rows.Err()
}

// FindStockpile looks a stockpile up by exact id or, failing that, by a
// case-insensitive partial name match.
func (s *Store) FindStockpile(ctx context.Context, regimentID, id, namePart string) (Stockpile, error) {
	query := "SELECT " + stockpileColumns + " FROM stockpiles s WHERE s.regiment_id = ?"
	args := []any{regimentID}
	if id != "" {
		query += " AND s.id = ?"
		args = append(args, id)
	}
	if namePart != "" {
		query += " AND s.name LIKE '%' || ? || '%'"
		args = append(args, namePart)
	}
	query += " ORDER BY s.name LIMIT 1"
	sp, err := scanStockpile(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Stockpile{}, ErrNotFound
	}
	if err != nil {
		return Stockpile{}, fmt.Errorf("find stockpile: %w", err)
	}
	return sp, nil
}

// StockpileItems returns a stockpile's inventory, largest quantity first.
func (s *Store) StockpileItems(ctx context.Context, stockpileID string) ([]StockpileItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_code, quantity, crated, confidence FROM stockpile_items
		WHERE stockpile_id = ? ORDER BY quantity DESC, item_code`, stockpileID)
	if err != nil {
		return nil, fmt.Errorf("stockpile items: %w", err)
	}
	defer rows.Close()

	var out []StockpileItem
	for rows.Next() {
		var it StockpileItem
		var conf sql.NullFloat64
		if err := rows.Scan(&it.ItemCode, &it.Quantity, &it.Crated, &conf); err != nil {
			return nil, err
		}
		if conf.Valid {
			c := conf.Float64
			it.Confidence = &c
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// RecentScans returns up to limit scans of a stockpile, newest first.
func (s *Store) RecentScans(ctx context.Context, stockpileID string, limit int) ([]ScanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sc.id, sc.created_at, sc.item_count, COALESCE(u.name, '')
		FROM stockpile_scans sc LEFT JOIN users u ON u.id = sc.scanned_by_id
		WHERE sc.stockpile_id = ?
		ORDER BY sc.created_at DESC LIMIT ?`, stockpileID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent scans: %w", err)
	}
	defer rows.Close()

	var out []ScanRecord
	for rows.Next() {
		var rec ScanRecord
		var created int64
		if err := rows.Scan(&rec.ID, &created, &rec.ItemCount, &rec.ScannedBy); err != nil {
			return nil, err
		}
		rec.CreatedAt = fromMillis(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RegimentItems returns every stockpile line the regiment holds.
func (s *Store) RegimentItems(ctx context.Context, regimentID string) ([]ItemRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.stockpile_id, i.item_code, i.quantity, i.crated
		FROM stockpile_items i JOIN stockpiles s ON s.id = i.stockpile_id
		WHERE s.regiment_id = ?`, regimentID)
	if err != nil {
		return nil, fmt.Errorf("regiment items: %w", err)
	}
	defer rows.Close()

	var out []ItemRow
	for rows.Next() {
		var r ItemRow
		if err := rows.Scan(&r.StockpileID, &r.ItemCode, &r.Quantity, &r.Crated); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ItemLocations returns the stockpile lines holding itemCode, largest first.
func (s *Store) ItemLocations(ctx context.Context, regimentID, itemCode string) ([]ItemLocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stockpileColumns+`, i.quantity, i.crated
		FROM stockpile_items i JOIN stockpiles s ON s.id = i.stockpile_id
		WHERE s.regiment_id = ? AND i.item_code = ?
		ORDER BY i.quantity DESC`, regimentID, itemCode)
	if err != nil {
		return nil, fmt.Errorf("item locations: %w", err)
	}
	defer rows.Close()

	var out []ItemLocation
	for rows.Next() {
		var loc ItemLocation
		sp, err := scanStockpile(rows, &loc.Quantity, &loc.Crated)
		if err != nil {
			return nil, err
		}
		loc.Stockpile = sp
		out = append(out, loc)
	}
	return out, rows.Err()
}

// InventoryTotals sums quantities per item code across the regiment,
// restricted to codes. Codes with no stock are absent from the map.
func (s *Store) InventoryTotals(ctx context.Context, regimentID string, codes []string) (map[string]int, error) {
	totals := make(map[string]int, len(codes))
	if len(codes) == 0 {
		return totals, nil
	}
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		want[c] = true
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.item_code, SUM(i.quantity)
		FROM stockpile_items i JOIN stockpiles s ON s.id = i.stockpile_id
		WHERE s.regiment_id = ?
		GROUP BY i.item_code`, regimentID)
	if err != nil {
		return nil, fmt.Errorf("inventory totals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		var total int
		if err := rows.Scan(&code, &total); err != nil {
			return nil, err
		}
		if want[code] {
			totals[code] = total
		}
	}
	return totals, rows.Err()
}

// RefreshStockpile resets the decay timer and records who did it.
func (s *Store) RefreshStockpile(ctx context.Context, regimentID, stockpileID, userID string, warNumber int) (Refresh, error) {
	sp, err := s.FindStockpile(ctx, regimentID, stockpileID, "")
	if err != nil {
		return Refresh{}, err
	}
	now := s.now()
	ref := Refresh{ID: s.newID(), RefreshedAt: now}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE stockpiles SET last_refreshed_at = ? WHERE id = ?", millis(now), sp.ID); err != nil {
			return fmt.Errorf("update refresh time: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stockpile_refreshes (id, stockpile_id, refreshed_by_id, war_number, created_at)
			VALUES (?, ?, ?, ?, ?)`, ref.ID, sp.ID, userID, nullWar(warNumber), millis(now))
		if err != nil {
			return fmt.Errorf("insert refresh: %w", err)
		}
		return nil
	})
	if err != nil {
		return Refresh{}, err
	}
	sp.LastRefreshedAt = &now
	ref.Stockpile = sp
	return ref, nil
}

// ExpiringStockpiles returns stockpiles whose remaining lifetime is in (0, within].
// Stockpiles that were never refreshed are not included.
func (s *Store) ExpiringStockpiles(ctx context.Context, within time.Duration) ([]ExpiringStockpile, error) {
	now := s.now()
	oldest := now.Add(-StockpileLifetime)
	newest := oldest.Add(within)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stockpileColumns+`, COALESCE(r.scanner_channel_id, '')
		FROM stockpiles s LEFT JOIN regiments r ON r.discord_id = s.regiment_id
		WHERE s.last_refreshed_at IS NOT NULL AND s.last_refreshed_at > ? AND s.last_refreshed_at <= ?
		ORDER BY s.regiment_id, s.last_refreshed_at`, millis(oldest), millis(newest))
	if err != nil {
		return nil, fmt.Errorf("expiring stockpiles: %w", err)
	}
	defer rows.Close()

	var out []ExpiringStockpile
	for rows.Next() {
		var e ExpiringStockpile
		sp, err := scanStockpile(rows, &e.ScannerChannelID)
		if err != nil {
			return nil, err
		}
		e.Stockpile = sp
		e.ExpiresAt = sp.LastRefreshedAt.Add(StockpileLifetime)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullWar(war int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(war), Valid: war > 0}
}
