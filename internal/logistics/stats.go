package logistics

import (
	"context"
	"time"

	"quartermaster/internal/foxhole"
	"quartermaster/internal/store"
)

type regimentInput struct {
	RegimentID string `json:"regimentId" jsonschema_description:"Discord guild ID of the regiment"`
}

type dashboardResult struct {
	StockpileCount         int     `json:"stockpileCount"`
	TotalItems             int     `json:"totalItems"`
	ActiveOperationCount   int     `json:"activeOperationCount"`
	PendingProductionCount int     `json:"pendingProductionCount"`
	LastUpdated            *string `json:"lastUpdated"`
	LastUpdatedStockpile   *string `json:"lastUpdatedStockpile"`
	ScansLast24Hours       int     `json:"scansLast24Hours"`
}

func (s *Service) dashboardStats(ctx context.Context, in regimentInput) (any, error) {
	d, err := s.store.DashboardStats(ctx, in.RegimentID)
	if err != nil {
		return nil, err
	}
	res := dashboardResult{
		StockpileCount:         d.StockpileCount,
		TotalItems:             d.TotalItems,
		ActiveOperationCount:   d.ActiveOperationCount,
		PendingProductionCount: d.PendingProductionCount,
		ScansLast24Hours:       d.ScansLast24Hours,
	}
	if sp := d.LastUpdated; sp != nil {
		res.LastUpdated = strPtr(foxhole.RelativeTime(sp.UpdatedAt, s.store.Now()))
		res.LastUpdatedStockpile = strPtr(hexLocation(sp.Hex, sp.Name))
	}
	return res, nil
}

// Leaderboard periods.
const (
	periodWeekly  = "weekly"
	periodMonthly = "monthly"
	periodWar     = "war"
	periodAllTime = "all-time"
)

type leaderboardInput struct {
	RegimentID string `json:"regimentId" jsonschema_description:"Discord guild ID of the regiment"`
	Period     string `json:"period,omitempty" jsonschema:"enum=weekly,enum=monthly,enum=war,enum=all-time" jsonschema_description:"Time period for leaderboard: weekly, monthly, war"`
	Limit      int    `json:"limit,omitempty" jsonschema:"default=10,minimum=1" jsonschema_description:"Max number of contributors to return"`
}

type scanLeader struct {
	UserID       string  `json:"userId"`
	UserName     string  `json:"userName"`
	DiscordID    *string `json:"discordId"`
	ScanCount    int     `json:"scanCount"`
	ItemsScanned int     `json:"itemsScanned"`
}

type productionLeader struct {
	UserID            string  `json:"userId"`
	UserName          string  `json:"userName"`
	DiscordID         *string `json:"discordId"`
	ContributionCount int     `json:"contributionCount"`
	ItemsProduced     int     `json:"itemsProduced"`
}

type leaderboardResult struct {
	Period                string             `json:"period"`
	ScanLeaderboard       []scanLeader       `json:"scanLeaderboard"`
	ProductionLeaderboard []productionLeader `json:"productionLeaderboard"`
}

func (s *Service) leaderboard(ctx context.Context, in leaderboardInput) (any, error) {
	q := store.LeaderboardQuery{RegimentID: in.RegimentID, Limit: limitOr(in.Limit, defaultLeaderboardLimit)}
	now := s.store.Now()
	switch in.Period {
	case periodWeekly:
		q.Since = now.Add(-7 * 24 * time.Hour)
	case periodMonthly:
		q.Since = now.Add(-30 * 24 * time.Hour)
	case periodWar:
		q.WarNumber = s.war
	}
	lb, err := s.store.Leaderboard(ctx, q)
	if err != nil {
		return nil, err
	}

	period := in.Period
	if period == "" {
		period = periodAllTime
	}
	res := leaderboardResult{
		Period:                period,
		ScanLeaderboard:       make([]scanLeader, 0, len(lb.Scans)),
		ProductionLeaderboard: make([]productionLeader, 0, len(lb.Production)),
	}
	for _, l := range lb.Scans {
		res.ScanLeaderboard = append(res.ScanLeaderboard, scanLeader{
			UserID:       l.UserID,
			UserName:     l.UserName,
			DiscordID:    strPtr(l.DiscordID),
			ScanCount:    l.ScanCount,
			ItemsScanned: l.ItemsScanned,
		})
	}
	for _, l := range lb.Production {
		res.ProductionLeaderboard = append(res.ProductionLeaderboard, productionLeader{
			UserID:            l.UserID,
			UserName:          l.UserName,
			DiscordID:         strPtr(l.DiscordID),
			ContributionCount: l.ContributionCount,
			ItemsProduced:     l.ItemsProduced,
		})
	}
	return res, nil
}
