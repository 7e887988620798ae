package logistics

import (
	"context"
	"errors"
	"math"

	"quartermaster/internal/foxhole"
	"quartermaster/internal/store"
)

type listStockpilesInput struct {
	RegimentID string `json:"regimentId" jsonschema_description:"Discord guild ID of the regiment"`
	Hex        string `json:"hex,omitempty" jsonschema_description:"Filter by hex/region name"`
}

type stockpileSummary struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Type             string   `json:"type"`
	Hex              string   `json:"hex"`
	LocationName     string   `json:"locationName"`
	Location         string   `json:"location"`
	TotalItems       int      `json:"totalItems"`
	UniqueItemCount  int      `json:"uniqueItemCount"`
	LastScanTime     *string  `json:"lastScanTime"`
	LastScanRelative string   `json:"lastScanRelative"`
	LastScannedBy    *string  `json:"lastScannedBy"`
	LastRefreshedAt  *string  `json:"lastRefreshedAt"`
	FreshnessStatus  string   `json:"freshnessStatus"`
	HoursUntilExpiry *float64 `json:"hoursUntilExpiry"`
	HasCode          bool     `json:"hasCode"`
}

type listStockpilesResult struct {
	StockpileCount int                `json:"stockpileCount"`
	Stockpiles     []stockpileSummary `json:"stockpiles"`
}

func (s *Service) listStockpiles(ctx context.Context, in listStockpilesInput) (any, error) {
	rows, err := s.store.ListStockpiles(ctx, in.RegimentID, in.Hex)
	if err != nil {
		return nil, err
	}
	now := s.store.Now()
	out := make([]stockpileSummary, 0, len(rows))
	for _, sp := range rows {
		status, hours := foxhole.Freshness(sp.LastRefreshedAt, now)
		if hours != nil {
			rounded := math.Round(*hours*10) / 10
			hours = &rounded
		}
		sum := stockpileSummary{
			ID:               sp.ID,
			Name:             sp.Name,
			Type:             foxhole.StockpileTypeLabel(sp.Type),
			Hex:              sp.Hex,
			LocationName:     sp.LocationName,
			Location:         hexLocation(sp.Hex, sp.LocationName),
			TotalItems:       sp.TotalItems,
			UniqueItemCount:  sp.UniqueItems,
			LastScanTime:     isoPtr(sp.LastScanAt),
			LastScanRelative: "Never",
			LastScannedBy:    strPtr(sp.LastScannedBy),
			LastRefreshedAt:  isoPtr(sp.LastRefreshedAt),
			FreshnessStatus:  status,
			HoursUntilExpiry: hours,
			HasCode:          sp.Code != "",
		}
		if sp.LastScanAt != nil {
			sum.LastScanRelative = foxhole.RelativeTime(*sp.LastScanAt, now)
		}
		out = append(out, sum)
	}
	return listStockpilesResult{StockpileCount: len(out), Stockpiles: out}, nil
}

// stockpileRef is the lookup shared by tools addressing one stockpile.
type stockpileRef struct {
	RegimentID    string `json:"regimentId" jsonschema_description:"Discord guild ID of the regiment"`
	StockpileID   string `json:"stockpileId,omitempty" jsonschema_description:"Stockpile ID"`
	StockpileName string `json:"stockpileName,omitempty" jsonschema_description:"Stockpile name (partial match)"`
}

func (s *Service) findStockpile(ctx context.Context, ref stockpileRef) (store.Stockpile, error) {
	if ref.StockpileID == "" && ref.StockpileName == "" {
		return store.Stockpile{}, errStockpileRequired
	}
	sp, err := s.store.FindStockpile(ctx, ref.RegimentID, ref.StockpileID, ref.StockpileName)
	if errors.Is(err, store.ErrNotFound) {
		return store.Stockpile{}, errStockpileNotFound
	}
	return sp, err
}

type inventoryLine struct {
	ItemCode    string `json:"itemCode"`
	DisplayName string `json:"displayName"`
	Quantity    int    `json:"quantity"`
	Crated      bool   `json:"crated"`
}

type recentScan struct {
	ID           string `json:"id"`
	CreatedAt    string `json:"createdAt"`
	RelativeTime string `json:"relativeTime"`
	ItemCount    int    `json:"itemCount"`
	ScannedBy    string `json:"scannedBy"`
}

type stockpileDetail struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	Hex             string          `json:"hex"`
	LocationName    string          `json:"locationName"`
	Location        string          `json:"location"`
	Code            *string         `json:"code"`
	LastRefreshedAt *string         `json:"lastRefreshedAt"`
	UpdatedAt       string          `json:"updatedAt"`
	TotalItems      int             `json:"totalItems"`
	UniqueItemCount int             `json:"uniqueItemCount"`
	Inventory       []inventoryLine `json:"inventory"`
	RecentScans     []recentScan    `json:"recentScans"`
}

func (s *Service) getStockpile(ctx context.Context, in stockpileRef) (any, error) {
	sp, err := s.findStockpile(ctx, in)
	if err != nil {
		return nil, err
	}
	items, err := s.store.StockpileItems(ctx, sp.ID)
	if err != nil {
		return nil, err
	}
	scans, err := s.store.RecentScans(ctx, sp.ID, recentScanCount)
	if err != nil {
		return nil, err
	}

	d := stockpileDetail{
		ID:              sp.ID,
		Name:            sp.Name,
		Type:            foxhole.StockpileTypeLabel(sp.Type),
		Hex:             sp.Hex,
		LocationName:    sp.LocationName,
		Location:        hexLocation(sp.Hex, sp.LocationName),
		LastRefreshedAt: isoPtr(sp.LastRefreshedAt),
		UpdatedAt:       iso(sp.UpdatedAt),
		UniqueItemCount: len(items),
		Inventory:       make([]inventoryLine, 0, len(items)),
		RecentScans:     make([]recentScan, 0, len(scans)),
	}
	if sp.Code != "" {
		redacted := "[REDACTED]"
		d.Code = &redacted
	}
	for _, it := range items {
		d.TotalItems += it.Quantity
		d.Inventory = append(d.Inventory, inventoryLine{
			ItemCode:    it.ItemCode,
			DisplayName: s.catalog.DisplayName(it.ItemCode),
			Quantity:    it.Quantity,
			Crated:      it.Crated,
		})
	}
	now := s.store.Now()
	for _, sc := range scans {
		by := sc.ScannedBy
		if by == "" {
			by = "Unknown"
		}
		d.RecentScans = append(d.RecentScans, recentScan{
			ID:           sc.ID,
			CreatedAt:    iso(sc.CreatedAt),
			RelativeTime: foxhole.RelativeTime(sc.CreatedAt, now),
			ItemCount:    sc.ItemCount,
			ScannedBy:    by,
		})
	}
	return d, nil
}

type minimumLine struct {
	ItemCode    string `json:"itemCode"`
	DisplayName string `json:"displayName"`
	Target      int    `json:"target"`
	Current     int    `json:"current"`
	Deficit     int    `json:"deficit"`
	BelowTarget bool   `json:"belowTarget"`
}

type minimumsResult struct {
	StockpileID    string        `json:"stockpileId"`
	StockpileName  string        `json:"stockpileName"`
	Location       string        `json:"location"`
	OrderID        string        `json:"orderId"`
	ShortID        string        `json:"shortId"`
	OrderName      string        `json:"orderName"`
	BelowTargetCnt int           `json:"belowTargetCount"`
	Items          []minimumLine `json:"items"`
}

// stockpileMinimums reads the standing order linked to a stockpile as a list
// of per-item minimums and compares each against what the stockpile holds.
func (s *Service) stockpileMinimums(ctx context.Context, in stockpileRef) (any, error) {
	sp, err := s.findStockpile(ctx, in)
	if err != nil {
		return nil, err
	}
	order, err := s.store.StandingOrderFor(ctx, in.RegimentID, sp.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errNoStandingOrder
	}
	if err != nil {
		return nil, err
	}
	items, err := s.store.StockpileItems(ctx, sp.ID)
	if err != nil {
		return nil, err
	}
	held := make(map[string]int, len(items))
	for _, it := range items {
		held[it.ItemCode] += it.Quantity
	}

	res := minimumsResult{
		StockpileID:   sp.ID,
		StockpileName: sp.Name,
		Location:      hexLocation(sp.Hex, sp.LocationName),
		OrderID:       order.ID,
		ShortID:       order.ShortID,
		OrderName:     order.Name,
		Items:         make([]minimumLine, 0, len(order.Items)),
	}
	for _, it := range order.Items {
		line := minimumLine{
			ItemCode:    it.ItemCode,
			DisplayName: s.catalog.DisplayName(it.ItemCode),
			Target:      it.QuantityRequired,
			Current:     held[it.ItemCode],
		}
		line.Deficit = max(0, line.Target-line.Current)
		line.BelowTarget = line.Deficit > 0
		if line.BelowTarget {
			res.BelowTargetCnt++
		}
		res.Items = append(res.Items, line)
	}
	return res, nil
}

type refreshStockpileInput struct {
	RegimentID  string `json:"regimentId" jsonschema_description:"Discord guild ID of the regiment"`
	StockpileID string `json:"stockpileId" jsonschema:"minLength=1" jsonschema_description:"Stockpile ID to refresh"`
	UserID      string `json:"userId" jsonschema_description:"User ID recording the refresh"`
}

type refreshResult struct {
	Success       bool   `json:"success"`
	StockpileID   string `json:"stockpileId"`
	StockpileName string `json:"stockpileName"`
	RefreshedAt   string `json:"refreshedAt"`
	ExpiresAt     string `json:"expiresAt"`
	RefreshID     string `json:"refreshId"`
}

func (s *Service) refreshStockpile(ctx context.Context, in refreshStockpileInput) (any, error) {
	ref, err := s.store.RefreshStockpile(ctx, in.RegimentID, in.StockpileID, s.userID(ctx, in.UserID), s.war)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errRefreshNotFound
	}
	if err != nil {
		return nil, err
	}
	s.log().Info("stockpile refreshed", "stockpile", ref.Stockpile.Name, "regiment", in.RegimentID)
	return refreshResult{
		Success:       true,
		StockpileID:   ref.Stockpile.ID,
		StockpileName: ref.Stockpile.Name,
		RefreshedAt:   iso(ref.RefreshedAt),
		ExpiresAt:     iso(ref.RefreshedAt.Add(store.StockpileLifetime)),
		RefreshID:     ref.ID,
	}, nil
}
