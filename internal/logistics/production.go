package logistics

import (
	"context"
	"errors"
	"sort"

	"quartermaster/internal/foxhole"
	"quartermaster/internal/store"
)

// MPF timer states.
const (
	mpfInProduction = "in_production"
	mpfReady        = "ready"
)

type listProductionOrdersInput struct {
	RegimentID      string `json:"regimentId" jsonschema_description:"Discord guild ID of the regiment"`
	Status          string `json:"status,omitempty" jsonschema:"enum=PENDING,enum=IN_PROGRESS,enum=READY_FOR_PICKUP,enum=COMPLETED,enum=CANCELLED,enum=FULFILLED" jsonschema_description:"Filter by status: PENDING, IN_PROGRESS, READY_FOR_PICKUP, COMPLETED, CANCELLED, FULFILLED"`
	IsMPF           *bool  `json:"isMpf,omitempty" jsonschema_description:"Filter for MPF orders only"`
	IsStandingOrder *bool  `json:"isStandingOrder,omitempty" jsonschema_description:"Filter for standing orders (stockpile minimums) only"`
	Limit           int    `json:"limit,omitempty" jsonschema:"default=20,minimum=1" jsonschema_description:"Max orders to return"`
}

type targetStockpile struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Location string `json:"location"`
}

type orderSummary struct {
	ID              string            `json:"id"`
	ShortID         string            `json:"shortId"`
	Name            string            `json:"name"`
	Description     *string           `json:"description"`
	Status          string            `json:"status"`
	Priority        int               `json:"priority"`
	PriorityLabel   string            `json:"priorityLabel"`
	IsMPF           bool              `json:"isMpf"`
	IsStandingOrder bool              `json:"isStandingOrder"`
	WarNumber       *int              `json:"warNumber"`
	MPFStatus       *string           `json:"mpfStatus"`
	MPFReadyAt      *string           `json:"mpfReadyAt"`
	TimeRemaining   *string           `json:"timeRemaining"`
	CreatedBy       string            `json:"createdBy"`
	CreatedAt       string            `json:"createdAt"`
	CreatedRelative string            `json:"createdRelative"`
	TotalRequired   int               `json:"totalRequired"`
	TotalProduced   int               `json:"totalProduced"`
	ProgressPercent int               `json:"progressPercent"`
	ItemCount       int               `json:"itemCount"`
	TargetStockpile []targetStockpile `json:"targetStockpiles"`
}

type listProductionOrdersResult struct {
	OrderCount int            `json:"orderCount"`
	Orders     []orderSummary `json:"orders"`
}

func (s *Service) summarizeOrder(o store.ProductionOrder) orderSummary {
	now := s.store.Now()
	required, produced := o.Totals()
	sum := orderSummary{
		ID:              o.ID,
		ShortID:         o.ShortID,
		Name:            o.Name,
		Description:     strPtr(o.Description),
		Status:          o.Status,
		Priority:        o.Priority,
		PriorityLabel:   foxhole.PriorityLabel(o.Priority),
		IsMPF:           o.IsMPF,
		IsStandingOrder: o.IsStandingOrder,
		MPFReadyAt:      isoPtr(o.MPFReadyAt),
		CreatedBy:       orUnknown(o.CreatedByName),
		CreatedAt:       iso(o.CreatedAt),
		CreatedRelative: foxhole.RelativeTime(o.CreatedAt, now),
		TotalRequired:   required,
		TotalProduced:   produced,
		ProgressPercent: percent(produced, required),
		ItemCount:       len(o.Items),
		TargetStockpile: targets(o.Targets),
	}
	if o.WarNumber > 0 {
		war := o.WarNumber
		sum.WarNumber = &war
	}
	if o.IsMPF && o.MPFReadyAt != nil {
		status := mpfReady
		if o.MPFReadyAt.After(now) {
			status = mpfInProduction
			remaining := foxhole.Duration(o.MPFReadyAt.Sub(now))
			sum.TimeRemaining = &remaining
		}
		sum.MPFStatus = &status
	}
	return sum
}

func targets(sps []store.Stockpile) []targetStockpile {
	out := make([]targetStockpile, 0, len(sps))
	for _, sp := range sps {
		out = append(out, targetStockpile{ID: sp.ID, Name: sp.Name, Location: hexLocation(sp.Hex, sp.Name)})
	}
	return out
}

func orUnknown(name string) string {
	if name == "" {
		return "Unknown"
	}
	return name
}

func (s *Service) listProductionOrders(ctx context.Context, in listProductionOrdersInput) (any, error) {
	orders, err := s.store.ListProductionOrders(ctx, store.ProductionFilter{
		RegimentID:      in.RegimentID,
		Status:          in.Status,
		IsMPF:           in.IsMPF,
		IsStandingOrder: in.IsStandingOrder,
		Limit:           limitOr(in.Limit, defaultListLimit),
	})
	if err != nil {
		return nil, err
	}
	out := make([]orderSummary, 0, len(orders))
	for _, o := range orders {
		out = append(out, s.summarizeOrder(o))
	}
	return listProductionOrdersResult{OrderCount: len(out), Orders: out}, nil
}

type getProductionOrderInput struct {
	RegimentID string `json:"regimentId" jsonschema_description:"Discord guild ID of the regiment"`
	OrderID    string `json:"orderId,omitempty" jsonschema_description:"Production order ID"`
	ShortID    string `json:"shortId,omitempty" jsonschema_description:"Short ID for the order"`
}

type orderItem struct {
	ItemCode         string `json:"itemCode"`
	DisplayName      string `json:"displayName"`
	QuantityRequired int    `json:"quantityRequired"`
	QuantityProduced int    `json:"quantityProduced"`
	Remaining        int    `json:"remaining"`
	ProgressPercent  int    `json:"progressPercent"`
}

type orderDetail struct {
	orderSummary
	LinkedStockpileID *string          `json:"linkedStockpileId"`
	LinkedStockpile   *targetStockpile `json:"linkedStockpile"`
	MPFSubmittedAt    *string          `json:"mpfSubmittedAt"`
	CompletedAt       *string          `json:"completedAt"`
	DeliveredAt       *string          `json:"deliveredAt"`
	DeliveryStockpile *string          `json:"deliveryStockpile"`
	Items             []orderItem      `json:"items"`
}

func (s *Service) getProductionOrder(ctx context.Context, in getProductionOrderInput) (any, error) {
	if in.OrderID == "" && in.ShortID == "" {
		return nil, errOrderRequired
	}
	o, err := s.store.GetProductionOrder(ctx, in.RegimentID, in.OrderID, in.ShortID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	d := orderDetail{
		orderSummary:   s.summarizeOrder(o),
		MPFSubmittedAt: isoPtr(o.MPFSubmittedAt),
		CompletedAt:    isoPtr(o.CompletedAt),
		DeliveredAt:    isoPtr(o.DeliveredAt),
		Items:          make([]orderItem, 0, len(o.Items)),
	}
	if sp := o.LinkedStockpile; sp != nil {
		d.LinkedStockpileID = &sp.ID
		d.LinkedStockpile = &targetStockpile{ID: sp.ID, Name: sp.Name, Location: hexLocation(sp.Hex, sp.Name)}
	}
	if sp := o.DeliveryStockpile; sp != nil {
		loc := hexLocation(sp.Hex, sp.Name)
		d.DeliveryStockpile = &loc
	}
	items := append([]store.ProductionItem(nil), o.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].QuantityRequired > items[j].QuantityRequired })
	for _, it := range items {
		d.Items = append(d.Items, orderItem{
			ItemCode:         it.ItemCode,
			DisplayName:      s.catalog.DisplayName(it.ItemCode),
			QuantityRequired: it.QuantityRequired,
			QuantityProduced: it.QuantityProduced,
			Remaining:        it.QuantityRequired - it.QuantityProduced,
			ProgressPercent:  percent(it.QuantityProduced, it.QuantityRequired),
		})
	}
	return d, nil
}

type orderItemInput struct {
	ItemCode string `json:"itemCode" jsonschema:"minLength=1"`
	Quantity int    `json:"quantity" jsonschema:"minimum=1"`
}

type createProductionOrderInput struct {
	RegimentID         string           `json:"regimentId" jsonschema_description:"Discord guild ID of the regiment"`
	UserID             string           `json:"userId" jsonschema_description:"User ID creating the order"`
	Name               string           `json:"name" jsonschema:"minLength=1" jsonschema_description:"Order name"`
	Description        string           `json:"description,omitempty" jsonschema_description:"Order description"`
	Priority           *int             `json:"priority,omitempty" jsonschema:"minimum=0,maximum=3,default=1" jsonschema_description:"0=Low, 1=Medium, 2=High, 3=Critical"`
	IsMPF              bool             `json:"isMpf,omitempty" jsonschema:"default=false" jsonschema_description:"Whether this is an MPF order"`
	Items              []orderItemInput `json:"items" jsonschema:"minItems=1" jsonschema_description:"Items to produce"`
	TargetStockpileIDs []string         `json:"targetStockpileIds,omitempty" jsonschema_description:"Target stockpile IDs"`
}

type createProductionOrderResult struct {
	Success          bool     `json:"success"`
	OrderID          string   `json:"orderId"`
	ShortID          string   `json:"shortId"`
	Name             string   `json:"name"`
	ItemCount        int      `json:"itemCount"`
	TotalQuantity    int      `json:"totalQuantity"`
	IsMPF            bool     `json:"isMpf"`
	TargetStockpiles []string `json:"targetStockpiles"`
}

func (s *Service) createProductionOrder(ctx context.Context, in createProductionOrderInput) (any, error) {
	userID, err := s.requireUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	priority := 1
	if in.Priority != nil {
		priority = *in.Priority
	}
	items := make([]store.ProductionItem, 0, len(in.Items))
	total := 0
	for _, it := range in.Items {
		items = append(items, store.ProductionItem{ItemCode: it.ItemCode, QuantityRequired: it.Quantity})
		total += it.Quantity
	}
	o, err := s.store.CreateProductionOrder(ctx, store.NewProductionOrder{
		RegimentID:         in.RegimentID,
		CreatedByID:        userID,
		Name:               in.Name,
		Description:        in.Description,
		Priority:           priority,
		IsMPF:              in.IsMPF,
		WarNumber:          s.war,
		Items:              items,
		TargetStockpileIDs: in.TargetStockpileIDs,
	})
	if err != nil {
		return nil, err
	}
	s.log().Info("production order created", "order", o.ShortID, "regiment", in.RegimentID, "items", len(items))
	tgts := in.TargetStockpileIDs
	if tgts == nil {
		tgts = []string{}
	}
	return createProductionOrderResult{
		Success:          true,
		OrderID:          o.ID,
		ShortID:          o.ShortID,
		Name:             o.Name,
		ItemCount:        len(in.Items),
		TotalQuantity:    total,
		IsMPF:            o.IsMPF,
		TargetStockpiles: tgts,
	}, nil
}

type progressItemInput struct {
	ItemCode         string `json:"itemCode" jsonschema:"minLength=1"`
	QuantityProduced int    `json:"quantityProduced" jsonschema:"minimum=0"`
}

type updateProductionProgressInput struct {
	RegimentID string              `json:"regimentId" jsonschema_description:"Discord guild ID of the regiment"`
	OrderID    string              `json:"orderId" jsonschema:"minLength=1" jsonschema_description:"Production order ID"`
	UserID     string              `json:"userId" jsonschema_description:"User ID making the update"`
	Items      []progressItemInput `json:"items" jsonschema_description:"Items with updated quantities"`
}

type progressResult struct {
	Success      bool   `json:"success"`
	OrderID      string `json:"orderId"`
	UpdatedItems int    `json:"updatedItems"`
	NewStatus    string `json:"newStatus"`
}

func (s *Service) updateProductionProgress(ctx context.Context, in updateProductionProgressInput) (any, error) {
	updates := make([]store.ProgressUpdate, 0, len(in.Items))
	for _, it := range in.Items {
		updates = append(updates, store.ProgressUpdate{ItemCode: it.ItemCode, QuantityProduced: it.QuantityProduced})
	}
	res, err := s.store.UpdateProductionProgress(ctx, in.RegimentID, in.OrderID, s.userID(ctx, in.UserID), updates, s.war)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errProgressNotFound
	}
	if err != nil {
		return nil, err
	}
	return progressResult{
		Success:      true,
		OrderID:      res.OrderID,
		UpdatedItems: res.UpdatedItems,
		NewStatus:    res.Status,
	}, nil
}
