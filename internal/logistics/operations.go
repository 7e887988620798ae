package logistics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"quartermaster/internal/foxhole"
	"quartermaster/internal/store"
)

// Deficit states, ordered most urgent first.
const (
	deficitCritical  = "critical"
	deficitPartial   = "partial"
	deficitFulfilled = "fulfilled"
)

var deficitRank = map[string]int{deficitCritical: 0, deficitPartial: 1, deficitFulfilled: 2}

type listOperationsInput struct {
	RegimentID string `json:"regimentId" jsonschema_description:"Discord guild ID of the regiment"`
	Status     string `json:"status,omitempty" jsonschema:"enum=PLANNING,enum=ACTIVE,enum=COMPLETED,enum=CANCELLED" jsonschema_description:"Filter by status: PLANNING, ACTIVE, COMPLETED, CANCELLED"`
	Limit      int    `json:"limit,omitempty" jsonschema:"default=20,minimum=1" jsonschema_description:"Max operations to return"`
}

type operationSummary struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	Description          *string `json:"description"`
	Status               string  `json:"status"`
	Location             *string `json:"location"`
	ScheduledFor         *string `json:"scheduledFor"`
	ScheduledForDisplay  *string `json:"scheduledForDisplay"`
	ScheduledEndAt       *string `json:"scheduledEndAt"`
	CreatedBy            string  `json:"createdBy"`
	CreatedAt            string  `json:"createdAt"`
	CreatedRelative      string  `json:"createdRelative"`
	RequirementCount     int     `json:"requirementCount"`
	TotalRequiredItems   int     `json:"totalRequiredItems"`
	DestinationStockpile *string `json:"destinationStockpile"`
}

type listOperationsResult struct {
	OperationCount int                `json:"operationCount"`
	Operations     []operationSummary `json:"operations"`
}

func (s *Service) listOperations(ctx context.Context, in listOperationsInput) (any, error) {
	ops, err := s.store.ListOperations(ctx, in.RegimentID, in.Status, limitOr(in.Limit, defaultListLimit))
	if err != nil {
		return nil, err
	}
	now := s.store.Now()
	out := make([]operationSummary, 0, len(ops))
	for _, op := range ops {
		sum := operationSummary{
			ID:                 op.ID,
			Name:               op.Name,
			Description:        strPtr(op.Description),
			Status:             op.Status,
			Location:           strPtr(op.Location),
			ScheduledFor:       isoPtr(op.ScheduledFor),
			ScheduledEndAt:     isoPtr(op.ScheduledEndAt),
			CreatedBy:          orUnknown(op.CreatedByName),
			CreatedAt:          iso(op.CreatedAt),
			CreatedRelative:    foxhole.RelativeTime(op.CreatedAt, now),
			RequirementCount:   len(op.Requirements),
			TotalRequiredItems: op.TotalRequired(),
		}
		if op.ScheduledFor != nil {
			sum.ScheduledForDisplay = strPtr(foxhole.Date(*op.ScheduledFor))
		}
		if sp := op.DestinationStockpile; sp != nil {
			sum.DestinationStockpile = strPtr(hexLocation(sp.Hex, sp.Name))
		}
		out = append(out, sum)
	}
	return listOperationsResult{OperationCount: len(out), Operations: out}, nil
}

type operationRef struct {
	RegimentID  string `json:"regimentId" jsonschema_description:"Discord guild ID of the regiment"`
	OperationID string `json:"operationId" jsonschema:"minLength=1" jsonschema_description:"Operation ID"`
}

func (s *Service) findOperation(ctx context.Context, ref operationRef) (store.Operation, error) {
	op, err := s.store.GetOperation(ctx, ref.RegimentID, ref.OperationID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Operation{}, errOperationNotFound
	}
	return op, err
}

type requirementLine struct {
	ItemCode      string `json:"itemCode"`
	DisplayName   string `json:"displayName"`
	Quantity      int    `json:"quantity"`
	Priority      int    `json:"priority"`
	PriorityLabel string `json:"priorityLabel"`
}

type stockpileRefOut struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

type operationDetail struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	Description          *string           `json:"description"`
	Status               string            `json:"status"`
	Location             *string           `json:"location"`
	ScheduledFor         *string           `json:"scheduledFor"`
	ScheduledEndAt       *string           `json:"scheduledEndAt"`
	CreatedBy            string            `json:"createdBy"`
	CreatedAt            string            `json:"createdAt"`
	DestinationStockpile *stockpileRefOut  `json:"destinationStockpile"`
	Requirements         []requirementLine `json:"requirements"`
	TotalRequiredItems   int               `json:"totalRequiredItems"`
}

// byPriority returns a copy of reqs, highest priority first.
func byPriority(reqs []store.Requirement) []store.Requirement {
	out := append([]store.Requirement(nil), reqs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

func (s *Service) getOperation(ctx context.Context, in operationRef) (any, error) {
	op, err := s.findOperation(ctx, in)
	if err != nil {
		return nil, err
	}
	d := operationDetail{
		ID:                 op.ID,
		Name:               op.Name,
		Description:        strPtr(op.Description),
		Status:             op.Status,
		Location:           strPtr(op.Location),
		ScheduledFor:       isoPtr(op.ScheduledFor),
		ScheduledEndAt:     isoPtr(op.ScheduledEndAt),
		CreatedBy:          orUnknown(op.CreatedByName),
		CreatedAt:          iso(op.CreatedAt),
		Requirements:       make([]requirementLine, 0, len(op.Requirements)),
		TotalRequiredItems: op.TotalRequired(),
	}
	if sp := op.DestinationStockpile; sp != nil {
		d.DestinationStockpile = &stockpileRefOut{ID: sp.ID, Name: sp.Name, Location: hexLocation(sp.Hex, sp.LocationName)}
	}
	for _, r := range byPriority(op.Requirements) {
		d.Requirements = append(d.Requirements, requirementLine{
			ItemCode:      r.ItemCode,
			DisplayName:   s.catalog.DisplayName(r.ItemCode),
			Quantity:      r.Quantity,
			Priority:      r.Priority,
			PriorityLabel: foxhole.PriorityLabel(r.Priority),
		})
	}
	return d, nil
}

type deficitLine struct {
	ItemCode           string `json:"itemCode"`
	DisplayName        string `json:"displayName"`
	Required           int    `json:"required"`
	Available          int    `json:"available"`
	Deficit            int    `json:"deficit"`
	FulfillmentPercent int    `json:"fulfillmentPercent"`
	Priority           int    `json:"priority"`
	PriorityLabel      string `json:"priorityLabel"`
	Status             string `json:"status"`
}

type deficitSummary struct {
	TotalRequired      int `json:"totalRequired"`
	TotalAvailable     int `json:"totalAvailable"`
	TotalDeficit       int `json:"totalDeficit"`
	OverallFulfillment int `json:"overallFulfillment"`
	CriticalCount      int `json:"criticalCount"`
	PartialCount       int `json:"partialCount"`
	FulfilledCount     int `json:"fulfilledCount"`
}

type deficitResult struct {
	OperationID   string         `json:"operationId"`
	OperationName string         `json:"operationName"`
	Status        string         `json:"status"`
	Summary       deficitSummary `json:"summary"`
	Items         []deficitLine  `json:"items"`
}

func (s *Service) operationDeficit(ctx context.Context, in operationRef) (any, error) {
	op, err := s.findOperation(ctx, in)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(op.Requirements))
	for _, r := range op.Requirements {
		codes = append(codes, r.ItemCode)
	}
	stock, err := s.store.InventoryTotals(ctx, in.RegimentID, codes)
	if err != nil {
		return nil, err
	}

	res := deficitResult{
		OperationID:   op.ID,
		OperationName: op.Name,
		Status:        op.Status,
		Items:         make([]deficitLine, 0, len(op.Requirements)),
	}
	for _, r := range byPriority(op.Requirements) {
		line := deficitLine{
			ItemCode:           r.ItemCode,
			DisplayName:        s.catalog.DisplayName(r.ItemCode),
			Required:           r.Quantity,
			Available:          stock[r.ItemCode],
			Priority:           r.Priority,
			PriorityLabel:      foxhole.PriorityLabel(r.Priority),
			FulfillmentPercent: 100,
		}
		line.Deficit = max(0, line.Required-line.Available)
		if line.Required > 0 {
			line.FulfillmentPercent = min(100, percent(line.Available, line.Required))
		}
		switch {
		case line.Deficit == 0:
			line.Status = deficitFulfilled
			res.Summary.FulfilledCount++
		case line.FulfillmentPercent >= 50:
			line.Status = deficitPartial
			res.Summary.PartialCount++
		default:
			line.Status = deficitCritical
			res.Summary.CriticalCount++
		}
		res.Summary.TotalRequired += line.Required
		res.Summary.TotalAvailable += min(line.Available, line.Required)
		res.Summary.TotalDeficit += line.Deficit
		res.Items = append(res.Items, line)
	}
	sort.SliceStable(res.Items, func(i, j int) bool {
		a, b := res.Items[i], res.Items[j]
		if deficitRank[a.Status] != deficitRank[b.Status] {
			return deficitRank[a.Status] < deficitRank[b.Status]
		}
		return a.Priority > b.Priority
	})
	res.Summary.OverallFulfillment = 100
	if res.Summary.TotalRequired > 0 {
		res.Summary.OverallFulfillment = percent(res.Summary.TotalAvailable, res.Summary.TotalRequired)
	}
	return res, nil
}

type requirementInput struct {
	ItemCode string `json:"itemCode" jsonschema:"minLength=1"`
	Quantity int    `json:"quantity" jsonschema:"minimum=1"`
	Priority *int   `json:"priority,omitempty" jsonschema:"minimum=0,maximum=3,default=1"`
}

type createOperationInput struct {
	RegimentID             string             `json:"regimentId" jsonschema_description:"Discord guild ID of the regiment"`
	UserID                 string             `json:"userId" jsonschema_description:"User ID creating the operation"`
	Name                   string             `json:"name" jsonschema:"minLength=1" jsonschema_description:"Operation name"`
	Description            string             `json:"description,omitempty" jsonschema_description:"Operation description"`
	Location               string             `json:"location,omitempty" jsonschema_description:"Target hex/location"`
	ScheduledFor           string             `json:"scheduledFor,omitempty" jsonschema_description:"ISO datetime when operation starts"`
	ScheduledEndAt         string             `json:"scheduledEndAt,omitempty" jsonschema_description:"ISO datetime when operation ends"`
	DestinationStockpileID string             `json:"destinationStockpileId,omitempty" jsonschema_description:"Destination stockpile ID"`
	Requirements           []requirementInput `json:"requirements,omitempty" jsonschema_description:"Equipment requirements"`
}

type createOperationResult struct {
	Success              bool    `json:"success"`
	OperationID          string  `json:"operationId"`
	Name                 string  `json:"name"`
	Status               string  `json:"status"`
	RequirementCount     int     `json:"requirementCount"`
	DestinationStockpile *string `json:"destinationStockpile"`
}

// isoLayouts are the datetime shapes accepted for scheduling, most specific first.
var isoLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}

func parseISO(field, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("Invalid %s: expected an ISO datetime", field)
}

func (s *Service) createOperation(ctx context.Context, in createOperationInput) (any, error) {
	userID, err := s.requireUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	start, err := parseISO("scheduledFor", in.ScheduledFor)
	if err != nil {
		return nil, err
	}
	end, err := parseISO("scheduledEndAt", in.ScheduledEndAt)
	if err != nil {
		return nil, err
	}
	reqs := make([]store.Requirement, 0, len(in.Requirements))
	for _, r := range in.Requirements {
		priority := 1
		if r.Priority != nil {
			priority = *r.Priority
		}
		reqs = append(reqs, store.Requirement{ItemCode: r.ItemCode, Quantity: r.Quantity, Priority: priority})
	}
	op, err := s.store.CreateOperation(ctx, store.NewOperation{
		RegimentID:             in.RegimentID,
		CreatedByID:            userID,
		Name:                   in.Name,
		Description:            in.Description,
		Location:               in.Location,
		ScheduledFor:           start,
		ScheduledEndAt:         end,
		DestinationStockpileID: in.DestinationStockpileID,
		WarNumber:              s.war,
		Requirements:           reqs,
	})
	if err != nil {
		return nil, err
	}
	s.log().Info("operation created", "operation", op.ID, "regiment", in.RegimentID, "requirements", len(reqs))
	res := createOperationResult{
		Success:          true,
		OperationID:      op.ID,
		Name:             op.Name,
		Status:           store.OpPlanning,
		RequirementCount: len(reqs),
	}
	if sp := op.DestinationStockpile; sp != nil {
		res.DestinationStockpile = strPtr(hexLocation(sp.Hex, sp.Name))
	}
	return res, nil
}
