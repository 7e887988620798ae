package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ScanItem is one OCR line. Confidence is a 0-100 percentage; 0 means unknown.
type ScanItem struct {
	ItemCode   string `json:"itemCode"`
	Quantity   int    `json:"quantity"`
	Crated     bool   `json:"crated"`
	Confidence int    `json:"confidence,omitempty"`
}

type ScanInput struct {
	RegimentID    string
	StockpileID   string
	ScannedByID   string
	ScreenshotURL string
	WarNumber     int
	Items         []ScanItem
}

type ScanResult struct {
	ScanID        string
	Stockpile     Stockpile
	ItemsSaved    int
	TotalQuantity int
}

// SaveScan records a scan with its items, replaces the stockpile's inventory
// with the scanned lines and bumps the stockpile's updated time.
func (s *Store) SaveScan(ctx context.Context, in ScanInput) (ScanResult, error) {
	sp, err := s.FindStockpile(ctx, in.RegimentID, in.StockpileID, "")
	if err != nil {
		return ScanResult{}, err
	}

	res := ScanResult{ScanID: s.newID(), Stockpile: sp, ItemsSaved: len(in.Items)}
	var confSum int
	inventory := make([]StockpileItem, 0, len(in.Items))
	for _, it := range in.Items {
		res.TotalQuantity += it.Quantity
		confSum += it.Confidence
		inventory = append(inventory, StockpileItem{
			ItemCode:   it.ItemCode,
			Quantity:   it.Quantity,
			Crated:     it.Crated,
			Confidence: fraction(it.Confidence),
		})
	}
	var scanConf sql.NullFloat64
	if len(in.Items) > 0 {
		scanConf = sql.NullFloat64{Float64: float64(confSum) / float64(len(in.Items)) / 100, Valid: true}
	}

	now := s.now()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stockpile_scans (id, stockpile_id, scanned_by_id, screenshot_url, ocr_confidence, item_count, war_number, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			res.ScanID, sp.ID, in.ScannedByID, nullString(in.ScreenshotURL), scanConf, len(in.Items),
			nullWar(in.WarNumber), millis(now))
		if err != nil {
			return fmt.Errorf("insert scan: %w", err)
		}
		for _, it := range in.Items {
			var conf sql.NullFloat64
			if c := fraction(it.Confidence); c != nil {
				conf = sql.NullFloat64{Float64: *c, Valid: true}
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO stockpile_scan_items (id, scan_id, item_code, quantity, crated, confidence)
				VALUES (?, ?, ?, ?, ?, ?)`,
				s.newID(), res.ScanID, it.ItemCode, it.Quantity, boolInt(it.Crated), conf)
			if err != nil {
				return fmt.Errorf("insert scan item %s: %w", it.ItemCode, err)
			}
		}
		if err := s.replaceItems(ctx, tx, sp.ID, inventory); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE stockpiles SET updated_at = ? WHERE id = ?", millis(now), sp.ID); err != nil {
			return fmt.Errorf("touch stockpile: %w", err)
		}
		return nil
	})
	if err != nil {
		return ScanResult{}, err
	}
	res.Stockpile.UpdatedAt = now
	return res, nil
}

func fraction(percent int) *float64 {
	if percent == 0 {
		return nil
	}
	f := float64(percent) / 100
	return &f
}
