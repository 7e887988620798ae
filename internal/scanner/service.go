package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quartermaster/internal/foxhole"
	"quartermaster/internal/store"
)

// Defaults for the scanner channel flow.
const (
	DefaultChannelTTL = 5 * time.Minute
	DefaultConfirmTTL = 5 * time.Minute
)

// diffSoftLimit and diffCutoff keep the rendered change list inside one
// Discord embed field.
const (
	diffSoftLimit = 1000
	diffCutoff    = 950
)

var (
	ErrNoItems      = errors.New("no items detected")
	ErrUnknownScan  = errors.New("scan is no longer pending")
	ErrExpired      = errors.New("scan confirmation expired")
	ErrNotUploader  = errors.New("only the uploader can confirm or cancel")
	ErrNotSignedIn  = errors.New("uploader has not signed in")
	errNoRepository = errors.New("scanner: repository must not be nil")
)

// NoMatchError is returned by Begin when the detected stockpile name matches
// none of the regiment's stockpiles.
type NoMatchError struct {
	DetectedName  string
	ItemCount     int
	TotalQuantity int
}

func (e *NoMatchError) Error() string {
	if e.DetectedName == "" {
		return "no stockpile name detected"
	}
	return fmt.Sprintf("no stockpile matches %q", e.DetectedName)
}

// Repository is the persistence the flow needs.
type Repository interface {
	ScannerChannel(ctx context.Context, regimentID string) (string, error)
	ListStockpiles(ctx context.Context, regimentID, hex string) ([]store.StockpileSummary, error)
	StockpileItems(ctx context.Context, stockpileID string) ([]store.StockpileItem, error)
	SaveScan(ctx context.Context, in store.ScanInput) (store.ScanResult, error)
	UserByDiscordID(ctx context.Context, discordID string) (store.User, error)
}

// OCR reads a screenshot by URL.
type OCR interface {
	ScanURL(ctx context.Context, imageURL, faction string) (Result, error)
}

// Upload is one screenshot posted to a scanner channel.
type Upload struct {
	RegimentID string
	UploaderID string
	ImageURL   string
}

// Pending is a scan waiting for its uploader to confirm or cancel.
type Pending struct {
	ID         string
	RegimentID string
	UploaderID string
	ImageURL   string
	Stockpile  store.Stockpile
	Result     Result
	ExpiresAt  time.Time
}

// Change is the quantity delta of one item line after a confirmed scan.
type Change struct {
	ItemCode    string
	DisplayName string
	Crated      bool
	Delta       int
}

// Outcome is a confirmed and saved scan.
type Outcome struct {
	Stockpile store.Stockpile
	Scan      store.ScanResult
	Changes   []Change
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithFaction(f string) ServiceOption { return func(s *Service) { s.faction = f } }

func WithWarNumber(n int) ServiceOption { return func(s *Service) { s.warNumber = n } }

// WithChannelTTL sets how long a regiment's scanner channel is cached.
func WithChannelTTL(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.channels.ttl = d
		}
	}
}

// WithConfirmTTL sets how long a scan waits for confirmation.
func WithConfirmTTL(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.confirmTTL = d
		}
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
		s.channels.now = now
	}
}

func WithServiceLogger(l *slog.Logger) ServiceOption { return func(s *Service) { s.logger = l } }

// Service runs the scanner channel flow: OCR an upload, match it to a
// stockpile, hold it for confirmation, then save and diff.
type Service struct {
	repo       Repository
	ocr        OCR
	catalog    *foxhole.Catalog
	faction    string
	warNumber  int
	confirmTTL time.Duration
	channels   *channelCache
	now        func() time.Time
	newID      func() string
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]*Pending
}

// NewService wires the flow. catalog may be nil to use the embedded one.
func NewService(repo Repository, ocr OCR, catalog *foxhole.Catalog, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errNoRepository
	}
	if ocr == nil {
		return nil, errors.New("scanner: ocr client must not be nil")
	}
	if catalog == nil {
		catalog = foxhole.DefaultCatalog()
	}
	s := &Service{
		repo:       repo,
		ocr:        ocr,
		catalog:    catalog,
		faction:    "all",
		confirmTTL: DefaultConfirmTTL,
		channels:   newChannelCache(repo, DefaultChannelTTL),
		now:        time.Now,
		newID:      uuid.NewString,
		pending:    make(map[string]*Pending),
	}
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

// ConfirmTTL is how long Begin's result stays confirmable.
func (s *Service) ConfirmTTL() time.Duration { return s.confirmTTL }

// IsScannerChannel reports whether channelID is the regiment's scanner channel.
func (s *Service) IsScannerChannel(ctx context.Context, regimentID, channelID string) (bool, error) {
	if regimentID == "" || channelID == "" {
		return false, nil
	}
	ch, err := s.channels.get(ctx, regimentID)
	if err != nil {
		return false, err
	}
	return ch != "" && ch == channelID, nil
}

// Begin scans an upload and parks it for confirmation.
func (s *Service) Begin(ctx context.Context, up Upload) (*Pending, error) {
	res, err := s.ocr.ScanURL(ctx, up.ImageURL, s.faction)
	if err != nil {
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, ErrNoItems
	}

	stockpiles, err := s.repo.ListStockpiles(ctx, up.RegimentID, "")
	if err != nil {
		return nil, fmt.Errorf("scanner: list stockpiles: %w", err)
	}
	names := make([]string, len(stockpiles))
	for i, sp := range stockpiles {
		names[i] = sp.Name
	}
	idx := foxhole.MatchName(res.DetectedName, names)
	if idx < 0 {
		return nil, &NoMatchError{
			DetectedName:  res.DetectedName,
			ItemCount:     len(res.Items),
			TotalQuantity: res.TotalQuantity,
		}
	}

	p := &Pending{
		ID:         s.newID(),
		RegimentID: up.RegimentID,
		UploaderID: up.UploaderID,
		ImageURL:   up.ImageURL,
		Stockpile:  stockpiles[idx].Stockpile,
		Result:     res,
		ExpiresAt:  s.now().Add(s.confirmTTL),
	}
	s.mu.Lock()
	s.pending[p.ID] = p
	s.mu.Unlock()
	s.log().Info("scan awaiting confirmation",
		"scan", p.ID,
		"stockpile", p.Stockpile.Name,
		"items", len(res.Items),
	)
	return p, nil
}

// claim removes and returns a pending scan if userID may act on it.
func (s *Service) claim(id, userID string) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return nil, ErrUnknownScan
	}
	if p.UploaderID != userID {
		return nil, ErrNotUploader
	}
	delete(s.pending, id)
	if !s.now().Before(p.ExpiresAt) {
		return nil, ErrExpired
	}
	return p, nil
}

// Confirm saves a pending scan on behalf of its uploader and returns the
// per-item changes against the previous inventory.
func (s *Service) Confirm(ctx context.Context, id, userID string) (Outcome, error) {
	p, err := s.claim(id, userID)
	if err != nil {
		return Outcome{}, err
	}
	user, err := s.repo.UserByDiscordID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Outcome{}, ErrNotSignedIn
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("scanner: resolve user: %w", err)
	}

	old, err := s.repo.StockpileItems(ctx, p.Stockpile.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("scanner: load inventory: %w", err)
	}
	items := make([]store.ScanItem, len(p.Result.Items))
	for i, it := range p.Result.Items {
		items[i] = store.ScanItem{ItemCode: it.Code, Quantity: it.Quantity, Crated: it.Crated, Confidence: it.Confidence}
	}
	saved, err := s.repo.SaveScan(ctx, store.ScanInput{
		RegimentID:    p.RegimentID,
		StockpileID:   p.Stockpile.ID,
		ScannedByID:   user.ID,
		ScreenshotURL: p.ImageURL,
		WarNumber:     s.warNumber,
		Items:         items,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("scanner: save scan: %w", err)
	}
	s.log().Info("scan saved", "scan", saved.ScanID, "stockpile", saved.Stockpile.Name, "items", saved.ItemsSaved)
	return Outcome{
		Stockpile: saved.Stockpile,
		Scan:      saved,
		Changes:   Diff(s.catalog, old, items),
	}, nil
}

// Cancel discards a pending scan on behalf of its uploader.
func (s *Service) Cancel(id, userID string) error {
	_, err := s.claim(id, userID)
	return err
}

// Expire drops a pending scan regardless of who uploaded it. It reports
// whether the scan was still pending.
func (s *Service) Expire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	return true
}

type lineKey struct {
	code   string
	crated bool
}

// Diff compares a stockpile's previous inventory with newly scanned lines.
// Lines that vanished count as removed. Additions come first, then larger
// magnitudes.
func Diff(catalog *foxhole.Catalog, old []store.StockpileItem, scanned []store.ScanItem) []Change {
	before := make(map[lineKey]int, len(old))
	var oldOrder []lineKey
	for _, it := range old {
		k := lineKey{it.ItemCode, it.Crated}
		if _, ok := before[k]; !ok {
			oldOrder = append(oldOrder, k)
		}
		before[k] += it.Quantity
	}
	after := make(map[lineKey]int, len(scanned))
	var newOrder []lineKey
	for _, it := range scanned {
		k := lineKey{it.ItemCode, it.Crated}
		if _, ok := after[k]; !ok {
			newOrder = append(newOrder, k)
		}
		after[k] += it.Quantity
	}

	var changes []Change
	add := func(k lineKey, delta int) {
		changes = append(changes, Change{
			ItemCode:    k.code,
			DisplayName: catalog.DisplayName(k.code),
			Crated:      k.crated,
			Delta:       delta,
		})
	}
	for _, k := range newOrder {
		if d := after[k] - before[k]; d != 0 {
			add(k, d)
		}
	}
	for _, k := range oldOrder {
		if _, seen := after[k]; !seen && before[k] > 0 {
			add(k, -before[k])
		}
	}
	sort.SliceStable(changes, func(i, j int) bool {
		ai, aj := changes[i].Delta > 0, changes[j].Delta > 0
		if ai != aj {
			return ai
		}
		return abs(changes[i].Delta) > abs(changes[j].Delta)
	})
	return changes
}

// RenderChanges formats changes as ANSI-coloured lines, green for additions
// and red for removals, cut short with "...and N more" when too long.
func RenderChanges(changes []Change) string {
	lines := make([]string, len(changes))
	for i, c := range changes {
		colour := "\x1b[1;31m"
		if c.Delta > 0 {
			colour = "\x1b[1;32m"
		}
		lines[i] = colour + foxhole.SignedQuantity(c.Delta) + "\x1b[0m " + c.DisplayName
	}
	text := strings.Join(lines, "\n")
	if len(text) <= diffSoftLimit {
		return text
	}
	var kept []string
	length := 0
	for _, line := range lines {
		if length+len(line)+1 > diffCutoff {
			kept = append(kept, fmt.Sprintf("...and %d more", len(lines)-len(kept)))
			break
		}
		kept = append(kept, line)
		length += len(line) + 1
	}
	return strings.Join(kept, "\n")
}

// FailureMessage turns a Begin error into the text shown to the uploader.
func FailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "Scanner service timed out. Please try again."
	case errors.Is(err, ErrDownload):
		return "Could not download the image. Please try uploading again."
	default:
		return "Scanner error: " + err.Error()
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// channelCache memoizes scanner channel lookups per regiment, including
// regiments that have none.
type channelCache struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]channelEntry
}

type channelEntry struct {
	channelID string
	expires   time.Time
}

func newChannelCache(repo Repository, ttl time.Duration) *channelCache {
	return &channelCache{repo: repo, ttl: ttl, now: time.Now, entries: make(map[string]channelEntry)}
}

func (c *channelCache) get(ctx context.Context, regimentID string) (string, error) {
	now := c.now()
	c.mu.Lock()
	e, ok := c.entries[regimentID]
	c.mu.Unlock()
	if ok && now.Before(e.expires) {
		return e.channelID, nil
	}
	ch, err := c.repo.ScannerChannel(ctx, regimentID)
	if err != nil {
		return "", fmt.Errorf("scanner: channel lookup: %w", err)
	}
	c.mu.Lock()
	c.entries[regimentID] = channelEntry{channelID: ch, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return ch, nil
}
