package logistics

import (
	"context"
	"sort"
	"strings"
)

type searchInventoryInput struct {
	RegimentID string `json:"regimentId" jsonschema_description:"Discord guild ID of the regiment"`
	Query      string `json:"query,omitempty" jsonschema_description:"Search term (item name, code, or slang)"`
	Category   string `json:"category,omitempty" jsonschema:"enum=all,enum=vehicles,enum=weapons,enum=ammo,enum=resources,enum=supplies,enum=medical" jsonschema_description:"Filter by category: vehicles, weapons, ammo, resources, all"`
	Limit      int    `json:"limit,omitempty" jsonschema:"default=20,minimum=1" jsonschema_description:"Max items to return"`
}

type inventoryHit struct {
	ItemCode       string  `json:"itemCode"`
	DisplayName    string  `json:"displayName"`
	TotalQuantity  int     `json:"totalQuantity"`
	CratedQuantity int     `json:"cratedQuantity"`
	LooseQuantity  int     `json:"looseQuantity"`
	StockpileCount int     `json:"stockpileCount"`
	MatchedTag     *string `json:"matchedTag"`

	stockpiles map[string]bool
}

type searchInventoryResult struct {
	Query            *string        `json:"query"`
	Category         string         `json:"category"`
	ResultCount      int            `json:"resultCount"`
	TotalUniqueItems int            `json:"totalUniqueItems"`
	Items            []inventoryHit `json:"items"`
}

func (s *Service) searchInventory(ctx context.Context, in searchInventoryInput) (any, error) {
	rows, err := s.store.RegimentItems(ctx, in.RegimentID)
	if err != nil {
		return nil, err
	}

	byCode := make(map[string]*inventoryHit)
	var order []string
	for _, r := range rows {
		hit, ok := byCode[r.ItemCode]
		if !ok {
			hit = &inventoryHit{
				ItemCode:    r.ItemCode,
				DisplayName: s.catalog.DisplayName(r.ItemCode),
				stockpiles:  make(map[string]bool),
			}
			byCode[r.ItemCode] = hit
			order = append(order, r.ItemCode)
		}
		if r.Crated {
			hit.CratedQuantity += r.Quantity
		} else {
			hit.LooseQuantity += r.Quantity
		}
		hit.TotalQuantity += r.Quantity
		hit.stockpiles[r.StockpileID] = true
	}

	var tagged map[string]bool
	needle := strings.ToLower(in.Query)
	if needle != "" {
		tagged = make(map[string]bool)
		for _, code := range s.catalog.CodesByTag(needle) {
			tagged[code] = true
		}
	}

	items := make([]inventoryHit, 0, len(order))
	for _, code := range order {
		hit := byCode[code]
		hit.StockpileCount = len(hit.stockpiles)
		if in.Category != "" && !s.catalog.InCategory(code, in.Category) {
			continue
		}
		if needle != "" {
			nameHit := strings.Contains(strings.ToLower(hit.DisplayName), needle) ||
				strings.Contains(strings.ToLower(code), needle)
			if !nameHit && !tagged[code] {
				continue
			}
			if tagged[code] {
				tag := strings.ToUpper(in.Query)
				hit.MatchedTag = &tag
			}
		}
		items = append(items, *hit)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].TotalQuantity > items[j].TotalQuantity })
	if limit := limitOr(in.Limit, defaultListLimit); len(items) > limit {
		items = items[:limit]
	}

	category := in.Category
	if category == "" {
		category = "all"
	}
	return searchInventoryResult{
		Query:            strPtr(in.Query),
		Category:         category,
		ResultCount:      len(items),
		TotalUniqueItems: len(byCode),
		Items:            items,
	}, nil
}

type itemLocationsInput struct {
	RegimentID string `json:"regimentId" jsonschema_description:"Discord guild ID of the regiment"`
	ItemCode   string `json:"itemCode" jsonschema:"minLength=1" jsonschema_description:"Item code to search for (e.g., 'RifleC', 'HEGrenade')"`
}

type itemLocation struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Hex            string `json:"hex"`
	LocationName   string `json:"locationName"`
	UpdatedAt      string `json:"updatedAt"`
	LooseQuantity  int    `json:"looseQuantity"`
	CratedQuantity int    `json:"cratedQuantity"`
	TotalQuantity  int    `json:"totalQuantity"`
	Location       string `json:"location"`
}

type itemLocationsResult struct {
	ItemCode       string         `json:"itemCode"`
	DisplayName    string         `json:"displayName"`
	TotalQuantity  int            `json:"totalQuantity"`
	TotalCrated    int            `json:"totalCrated"`
	TotalLoose     int            `json:"totalLoose"`
	StockpileCount int            `json:"stockpileCount"`
	Stockpiles     []itemLocation `json:"stockpiles"`
}

func (s *Service) itemLocations(ctx context.Context, in itemLocationsInput) (any, error) {
	lines, err := s.store.ItemLocations(ctx, in.RegimentID, in.ItemCode)
	if err != nil {
		return nil, err
	}
	byStockpile := make(map[string]*itemLocation)
	var order []string
	for _, l := range lines {
		loc, ok := byStockpile[l.ID]
		if !ok {
			loc = &itemLocation{
				ID:           l.ID,
				Name:         l.Name,
				Type:         l.Type,
				Hex:          l.Hex,
				LocationName: l.LocationName,
				UpdatedAt:    iso(l.UpdatedAt),
				Location:     hexLocation(l.Hex, l.LocationName),
			}
			byStockpile[l.ID] = loc
			order = append(order, l.ID)
		}
		if l.Crated {
			loc.CratedQuantity += l.Quantity
		} else {
			loc.LooseQuantity += l.Quantity
		}
		loc.TotalQuantity += l.Quantity
	}

	res := itemLocationsResult{
		ItemCode:    in.ItemCode,
		DisplayName: s.catalog.DisplayName(in.ItemCode),
		Stockpiles:  make([]itemLocation, 0, len(order)),
	}
	for _, id := range order {
		loc := byStockpile[id]
		res.TotalQuantity += loc.TotalQuantity
		res.TotalCrated += loc.CratedQuantity
		res.TotalLoose += loc.LooseQuantity
		res.Stockpiles = append(res.Stockpiles, *loc)
	}
	sort.SliceStable(res.Stockpiles, func(i, j int) bool {
		return res.Stockpiles[i].TotalQuantity > res.Stockpiles[j].TotalQuantity
	})
	res.StockpileCount = len(res.Stockpiles)
	return res, nil
}
