package logistics

import (
	"context"
	"errors"

	"quartermaster/internal/scanner"
	"quartermaster/internal/store"
)

const saveHint = "Use save_scan_results to save these items to a stockpile"

type scanScreenshotInput struct {
	ImageURL string `json:"imageUrl" jsonschema:"minLength=1" jsonschema_description:"URL of the screenshot to process"`
	Faction  string `json:"faction,omitempty" jsonschema:"enum=colonials,enum=wardens,enum=all,default=all" jsonschema_description:"Faction filter: colonials, wardens, all"`
}

type scannedItem struct {
	ItemCode    string `json:"itemCode"`
	DisplayName string `json:"displayName"`
	Quantity    int    `json:"quantity"`
	Crated      bool   `json:"crated"`
	Confidence  int    `json:"confidence"`
}

type scanScreenshotResult struct {
	Success           bool          `json:"success"`
	ItemCount         int           `json:"itemCount"`
	TotalQuantity     int           `json:"totalQuantity"`
	AverageConfidence int           `json:"averageConfidence"`
	Faction           string        `json:"faction"`
	DetectedName      *string       `json:"detectedName"`
	DetectedType      *string       `json:"detectedType"`
	Items             []scannedItem `json:"items"`
	Note              string        `json:"note"`
}

func (s *Service) scanScreenshot(ctx context.Context, in scanScreenshotInput) (any, error) {
	if s.ocr == nil {
		return nil, errScannerUnconfigured
	}
	faction := in.Faction
	if faction == "" {
		faction = "all"
	}
	res, err := s.ocr.ScanURL(ctx, in.ImageURL, faction)
	if err != nil {
		s.log().Warn("screenshot scan failed", "error", err)
		return nil, scanFailure(err)
	}
	out := scanScreenshotResult{
		Success:           true,
		ItemCount:         len(res.Items),
		TotalQuantity:     res.TotalQuantity,
		AverageConfidence: res.AverageConfidence(),
		Faction:           res.Faction,
		DetectedName:      strPtr(res.DetectedName),
		DetectedType:      strPtr(res.DetectedType),
		Items:             make([]scannedItem, 0, len(res.Items)),
		Note:              saveHint,
	}
	for _, it := range res.Items {
		out.Items = append(out.Items, scannedItem{
			ItemCode:    it.Code,
			DisplayName: s.catalog.DisplayName(it.Code),
			Quantity:    it.Quantity,
			Crated:      it.Crated,
			Confidence:  it.Confidence,
		})
	}
	return out, nil
}

// scanFailure reduces a scanner error to the short cause the model sees.
func scanFailure(err error) error {
	var se *scanner.ServiceError
	switch {
	case errors.Is(err, scanner.ErrTimeout):
		return scanner.ErrTimeout
	case errors.Is(err, scanner.ErrDownload):
		return scanner.ErrDownload
	case errors.As(err, &se):
		if se.Status != 0 {
			return scanner.ErrService
		}
		return se
	default:
		return errScreenshotFailed
	}
}

type saveScanItemInput struct {
	ItemCode    string `json:"itemCode" jsonschema:"minLength=1"`
	DisplayName string `json:"displayName,omitempty"`
	Quantity    int    `json:"quantity" jsonschema:"minimum=0"`
	Crated      bool   `json:"crated,omitempty"`
	Confidence  int    `json:"confidence,omitempty" jsonschema:"minimum=0,maximum=100"`
}

type saveScanResultsInput struct {
	RegimentID  string              `json:"regimentId" jsonschema_description:"Discord guild ID of the regiment"`
	UserID      string              `json:"userId" jsonschema_description:"User ID saving the scan"`
	StockpileID string              `json:"stockpileId" jsonschema:"minLength=1" jsonschema_description:"Stockpile ID to save items to"`
	Items       []saveScanItemInput `json:"items" jsonschema_description:"Items to save"`
}

type saveScanResult struct {
	Success       bool   `json:"success"`
	ScanID        string `json:"scanId"`
	StockpileID   string `json:"stockpileId"`
	StockpileName string `json:"stockpileName"`
	ItemsSaved    int    `json:"itemsSaved"`
	TotalQuantity int    `json:"totalQuantity"`
}

func (s *Service) saveScanResults(ctx context.Context, in saveScanResultsInput) (any, error) {
	items := make([]store.ScanItem, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, store.ScanItem{
			ItemCode:   it.ItemCode,
			Quantity:   it.Quantity,
			Crated:     it.Crated,
			Confidence: it.Confidence,
		})
	}
	res, err := s.store.SaveScan(ctx, store.ScanInput{
		RegimentID:  in.RegimentID,
		StockpileID: in.StockpileID,
		ScannedByID: s.userID(ctx, in.UserID),
		WarNumber:   s.war,
		Items:       items,
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, errStockpileNotFound
	}
	if err != nil {
		return nil, err
	}
	s.log().Info("scan results saved", "stockpile", res.Stockpile.Name, "items", res.ItemsSaved)
	return saveScanResult{
		Success:       true,
		ScanID:        res.ScanID,
		StockpileID:   res.Stockpile.ID,
		StockpileName: res.Stockpile.Name,
		ItemsSaved:    res.ItemsSaved,
		TotalQuantity: res.TotalQuantity,
	}, nil
}

type scannerChannelResult struct {
	ScannerChannelID *string `json:"scannerChannelId"`
}

func (s *Service) scannerChannel(ctx context.Context, in regimentInput) (any, error) {
	ch, err := s.store.ScannerChannel(ctx, in.RegimentID)
	if err != nil {
		return nil, err
	}
	return scannerChannelResult{ScannerChannelID: strPtr(ch)}, nil
}

type resolveDiscordUserInput struct {
	DiscordID string `json:"discordId" jsonschema:"minLength=1" jsonschema_description:"Discord user ID to look up"`
}

type resolveDiscordUserResult struct {
	UserID string `json:"userId"`
}

func (s *Service) resolveDiscordUser(ctx context.Context, in resolveDiscordUserInput) (any, error) {
	u, err := s.store.UserByDiscordID(ctx, in.DiscordID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return resolveDiscordUserResult{UserID: u.ID}, nil
}
