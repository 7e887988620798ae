package logistics

import (
	"context"
	"testing"

	"quartermaster/internal/store"
)

func TestListStockpiles_ShouldReportFreshnessAndCodePresence(t *testing.T) {
	// Given: Bravo refreshed 47h ago with a code, Ocean Depot never refreshed
	h := newHarness(t)

	// When
	out := h.mustOK(t, "list_stockpiles", map[string]any{})

	// Then: most recently updated first, regiment 99's Sunset excluded
	sps := list(out["stockpiles"])
	if num(out["stockpileCount"]) != 2 || len(sps) != 2 {
		t.Fatalf("stockpiles: %v", out["stockpiles"])
	}
	ocean, bravo := sps[0], sps[1]
	if ocean["name"] != "Ocean Depot" || ocean["type"] != "Seaport" {
		t.Errorf("ocean: %v", ocean)
	}
	if ocean["freshnessStatus"] != "unknown" || ocean["hoursUntilExpiry"] != nil {
		t.Errorf("ocean freshness: %v / %v", ocean["freshnessStatus"], ocean["hoursUntilExpiry"])
	}
	if ocean["lastScanRelative"] != "Never" || ocean["hasCode"] != false {
		t.Errorf("ocean scan/code: %v", ocean)
	}
	if bravo["freshnessStatus"] != "expiring_soon" {
		t.Errorf("bravo freshness: got %v, want expiring_soon", bravo["freshnessStatus"])
	}
	if hrs, _ := bravo["hoursUntilExpiry"].(float64); hrs != 3.0 {
		t.Errorf("bravo hours: got %v, want 3", bravo["hoursUntilExpiry"])
	}
	if bravo["hasCode"] != true || bravo["type"] != "Storage Depot" {
		t.Errorf("bravo: %v", bravo)
	}
	if num(bravo["totalItems"]) != 50 || num(bravo["uniqueItemCount"]) != 3 {
		t.Errorf("bravo totals: %v", bravo)
	}
	if bravo["location"] != "Westgate - Abandoned Ward" {
		t.Errorf("bravo location: %v", bravo["location"])
	}
}

func TestListStockpiles_WhenHexFilter_ShouldMatchSubstring(t *testing.T) {
	h := newHarness(t)

	out := h.mustOK(t, "list_stockpiles", map[string]any{"hex": "march"})

	sps := list(out["stockpiles"])
	if len(sps) != 1 || sps[0]["name"] != "Ocean Depot" {
		t.Errorf("got %v", out["stockpiles"])
	}
}

func TestGetStockpile_WhenPartialName_ShouldReturnDetailWithRedactedCode(t *testing.T) {
	h := newHarness(t)

	out := h.mustOK(t, "get_stockpile", map[string]any{"stockpileName": "brav"})

	if out["id"] != "sp-bravo" {
		t.Fatalf("id: got %v", out["id"])
	}
	if out["code"] != "[REDACTED]" {
		t.Errorf("code: got %v, want [REDACTED]", out["code"])
	}
	if num(out["totalItems"]) != 50 || num(out["uniqueItemCount"]) != 3 {
		t.Errorf("totals: %v", out)
	}
	if len(list(out["inventory"])) != 3 {
		t.Errorf("inventory: %v", out["inventory"])
	}
	if len(list(out["recentScans"])) != 0 {
		t.Errorf("recentScans: %v", out["recentScans"])
	}
}

func TestGetStockpile_WhenNoCode_ShouldReturnNullCode(t *testing.T) {
	h := newHarness(t)

	out := h.mustOK(t, "get_stockpile", map[string]any{"stockpileId": "sp-ocean"})

	if v, ok := out["code"]; !ok || v != nil {
		t.Errorf("code: got %v (present %v), want null", v, ok)
	}
}

func TestGetStockpile_WhenNeitherIdNorName_ShouldFail(t *testing.T) {
	h := newHarness(t)

	msg := h.errorOf(t, "get_stockpile", map[string]any{})

	if msg != "Either stockpileId or stockpileName is required" {
		t.Errorf("got %q", msg)
	}
}

func TestGetStockpile_WhenOtherRegiment_ShouldNotFind(t *testing.T) {
	h := newHarness(t)

	msg := h.errorOf(t, "get_stockpile", map[string]any{"stockpileName": "Sunset"})

	if msg != "Stockpile not found" {
		t.Errorf("got %q", msg)
	}
}

func TestGetStockpile_AfterScan_ShouldListRecentScanWithScanner(t *testing.T) {
	h := newHarness(t)
	h.mustOK(t, "save_scan_results", map[string]any{
		"stockpileId": "sp-ocean",
		"items":       []map[string]any{{"itemCode": "Cloth", "quantity": 480, "crated": true}},
	})

	out := h.mustOK(t, "get_stockpile", map[string]any{"stockpileId": "sp-ocean"})

	scans := list(out["recentScans"])
	if len(scans) != 1 {
		t.Fatalf("recentScans: %v", out["recentScans"])
	}
	if scans[0]["scannedBy"] != "Alice" || num(scans[0]["itemCount"]) != 1 {
		t.Errorf("scan: %v", scans[0])
	}
	if scans[0]["relativeTime"] != "Just now" {
		t.Errorf("relativeTime: %v", scans[0]["relativeTime"])
	}
}

func TestRefreshStockpile_ShouldStampRefreshAndExpiry(t *testing.T) {
	h := newHarness(t)

	out := h.mustOK(t, "refresh_stockpile", map[string]any{"stockpileId": "sp-bravo"})

	if out["success"] != true || out["stockpileName"] != "Bravo" {
		t.Errorf("result: %v", out)
	}
	if out["refreshedAt"] != "2026-03-14T12:00:00Z" {
		t.Errorf("refreshedAt: %v", out["refreshedAt"])
	}
	if out["expiresAt"] != "2026-03-16T14:00:00Z" {
		t.Errorf("expiresAt: got %v, want +50h", out["expiresAt"])
	}
	after := h.mustOK(t, "list_stockpiles", map[string]any{"hex": "Westgate"})
	sps := list(after["stockpiles"])
	if len(sps) != 1 || sps[0]["freshnessStatus"] != "fresh" {
		t.Errorf("after refresh: %v", after["stockpiles"])
	}
}

func TestRefreshStockpile_WhenOtherRegiment_ShouldFail(t *testing.T) {
	h := newHarness(t)

	msg := h.errorOf(t, "refresh_stockpile", map[string]any{"stockpileId": "sp-sunset"})

	if msg != "Stockpile not found or does not belong to this regiment" {
		t.Errorf("got %q", msg)
	}
}

func TestStockpileMinimums_ShouldCompareStandingOrderAgainstStock(t *testing.T) {
	// Given: a standing order on Bravo asking for 100 bmats and 20 7.62mm
	h := newHarness(t)
	_, err := h.st.CreateProductionOrder(context.Background(), store.NewProductionOrder{
		RegimentID:        "42",
		CreatedByID:       "u-alice",
		Name:              "Bravo minimums",
		Priority:          1,
		IsStandingOrder:   true,
		LinkedStockpileID: "sp-bravo",
		Items: []store.ProductionItem{
			{ItemCode: "Cloth", QuantityRequired: 100},
			{ItemCode: "RifleAmmo", QuantityRequired: 20},
		},
	})
	if err != nil {
		t.Fatalf("standing order: %v", err)
	}

	// When
	out := h.mustOK(t, "get_stockpile_minimums", map[string]any{"stockpileName": "Bravo"})

	// Then: crated and loose lines count together toward the target
	if num(out["belowTargetCount"]) != 1 || out["orderName"] != "Bravo minimums" {
		t.Errorf("summary: %v", out)
	}
	byCode := map[string]map[string]any{}
	for _, it := range list(out["items"]) {
		byCode[it["itemCode"].(string)] = it
	}
	if c := byCode["Cloth"]; num(c["current"]) != 10 || num(c["deficit"]) != 90 || c["belowTarget"] != true {
		t.Errorf("cloth: %v", c)
	}
	if r := byCode["RifleAmmo"]; num(r["deficit"]) != 0 || r["belowTarget"] != false {
		t.Errorf("rifle ammo: %v", r)
	}
}

func TestStockpileMinimums_WhenNoStandingOrder_ShouldFail(t *testing.T) {
	h := newHarness(t)

	msg := h.errorOf(t, "get_stockpile_minimums", map[string]any{"stockpileId": "sp-ocean"})

	if msg != "No standing order is linked to this stockpile" {
		t.Errorf("got %q", msg)
	}
}
