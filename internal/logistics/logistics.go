// Package logistics is the regiment tool catalog: one typed input struct and
// handler per tool, all scoped to a regiment and registered into a
// tooling.Registry.
package logistics

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"quartermaster/internal/foxhole"
	"quartermaster/internal/scanner"
	"quartermaster/internal/store"
	"quartermaster/internal/tooling"
)

// Defaults applied by handlers when the model leaves a limit out.
const (
	defaultListLimit        = 20
	defaultLeaderboardLimit = 10
	recentScanCount         = 5
)

// Messages the model sees for missing records and bad arguments.
var (
	errStockpileRequired   = errors.New("Either stockpileId or stockpileName is required")
	errStockpileNotFound   = errors.New("Stockpile not found")
	errRefreshNotFound     = errors.New("Stockpile not found or does not belong to this regiment")
	errOrderRequired       = errors.New("Either orderId or shortId is required")
	errOrderNotFound       = errors.New("Production order not found")
	errProgressNotFound    = errors.New("Order not found")
	errOperationNotFound   = errors.New("Operation not found")
	errUserNotFound        = errors.New("User not found")
	errNoStandingOrder     = errors.New("No standing order is linked to this stockpile")
	errScannerUnconfigured = errors.New("Scanner service is not configured")
	errScreenshotFailed    = errors.New("Failed to process screenshot")
)

// Option configures a Service.
type Option func(*Service)

// WithCatalog replaces the embedded item catalog.
func WithCatalog(c *foxhole.Catalog) Option {
	return func(s *Service) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithScanner enables scan_screenshot.
func WithScanner(ocr scanner.OCR) Option {
	return func(s *Service) { s.ocr = ocr }
}

// WithWarNumber stamps refreshes, scans and contributions with the current war
// and scopes the "war" leaderboard period.
func WithWarNumber(n int) Option {
	return func(s *Service) { s.war = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service holds what the tool handlers share.
type Service struct {
	store   *store.Store
	catalog *foxhole.Catalog
	ocr     scanner.OCR
	war     int
	logger  *slog.Logger
}

// New returns a Service over st.
func New(st *store.Store, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("logistics: store must not be nil")
	}
	s := &Service{store: st, catalog: foxhole.DefaultCatalog()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// Tools returns the catalog in advertisement order.
func (s *Service) Tools() []*tooling.Tool {
	return []*tooling.Tool{
		tooling.MustTool("get_dashboard_stats",
			"Get regiment overview: stockpile count, total items, active operations, production orders",
			s.dashboardStats),
		tooling.MustTool("search_inventory",
			"Search regiment inventory for items by name, code, or slang (e.g., '12.7', 'mammon', 'bmat')",
			s.searchInventory),
		tooling.MustTool("get_item_locations",
			"Get list of stockpiles containing a specific item with quantities",
			s.itemLocations),
		tooling.MustTool("list_stockpiles",
			"List all stockpiles with last scan times, item counts, and freshness status",
			s.listStockpiles),
		tooling.MustTool("get_stockpile",
			"Get detailed stockpile information including full inventory",
			s.getStockpile),
		tooling.MustTool("get_stockpile_minimums",
			"Compare a stockpile's standing order minimums against its current inventory",
			s.stockpileMinimums),
		tooling.MustTool("refresh_stockpile",
			"Record a stockpile refresh (resets 50-hour expiration timer)",
			s.refreshStockpile),
		tooling.MustTool("list_production_orders",
			"List production orders, optionally filtered by status. Excludes archived orders by default.",
			s.listProductionOrders),
		tooling.MustTool("get_production_order",
			"Get detailed production order with all items and progress",
			s.getProductionOrder),
		tooling.MustTool("create_production_order",
			"Create a new production order",
			s.createProductionOrder),
		tooling.MustTool("update_production_progress",
			"Update quantity produced for items in an order",
			s.updateProductionProgress),
		tooling.MustTool("list_operations",
			"List operations, optionally filtered by status",
			s.listOperations),
		tooling.MustTool("get_operation",
			"Get detailed operation information including requirements",
			s.getOperation),
		tooling.MustTool("get_operation_deficit",
			"Get operation requirements compared against current inventory to show deficits",
			s.operationDeficit),
		tooling.MustTool("create_operation",
			"Create a new operation with equipment requirements",
			s.createOperation),
		tooling.MustTool("get_leaderboard",
			"Get contributor leaderboard for scans and production",
			s.leaderboard),
		tooling.MustTool("scan_screenshot",
			"Process a stockpile screenshot via OCR to extract item inventory",
			s.scanScreenshot),
		tooling.MustTool("save_scan_results",
			"Save OCR scan results to a stockpile",
			s.saveScanResults),
		tooling.MustTool("get_scanner_channel",
			"Get the configured scanner channel ID for a regiment",
			s.scannerChannel),
		tooling.MustTool("resolve_discord_user",
			"Resolve a Discord user ID to an internal user ID",
			s.resolveDiscordUser),
	}
}

// Register adds every logistics tool to reg.
func Register(reg *tooling.Registry, s *Service) error {
	return reg.RegisterAll(s.Tools()...)
}

// userID maps a Discord or internal id to the internal user id, falling back
// to the raw value for people who never signed in.
func (s *Service) userID(ctx context.Context, id string) string {
	u, err := s.store.ResolveUser(ctx, id)
	if err != nil {
		return id
	}
	return u.ID
}

// requireUser is userID for creations, which need a known author.
func (s *Service) requireUser(ctx context.Context, id string) (string, error) {
	u, err := s.store.ResolveUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return "", errUserNotFound
	}
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func iso(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func isoPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := iso(*t)
	return &v
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// hexLocation renders "hex - detail", the way players name places.
func hexLocation(hex, detail string) string {
	return hex + " - " + detail
}

func limitOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(float64(part)/float64(whole)*100 + 0.5)
}
