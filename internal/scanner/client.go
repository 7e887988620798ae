// Package scanner talks to the stockpile OCR service and drives the
// screenshot confirmation flow used by the scanner channel.
package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"
)

// DefaultTimeout bounds one download plus one OCR request.
const DefaultTimeout = 60 * time.Second

// maxDownloadSize caps a downloaded screenshot.
const maxDownloadSize = 20 << 20

// Sentinel errors. Their messages are what tool callers see.
var (
	ErrDownload = errors.New("Failed to download image")
	ErrService  = errors.New("Scanner service error")
	ErrTimeout  = errors.New("Scanner service timeout")
	ErrNotImage = errors.New("attachment is not an image")
)

// Item is one detected inventory line. Confidence is a 0-100 percentage.
type Item struct {
	Code       string
	Quantity   int
	Crated     bool
	Confidence int
}

// Result is the OCR service's reading of one screenshot.
type Result struct {
	Items         []Item
	Faction       string
	DetectedName  string
	DetectedType  string
	TotalQuantity int
}

// AverageConfidence returns the rounded mean confidence, 0 when empty.
func (r Result) AverageConfidence() int {
	if len(r.Items) == 0 {
		return 0
	}
	sum := 0
	for _, it := range r.Items {
		sum += it.Confidence
	}
	return int(math.Round(float64(sum) / float64(len(r.Items))))
}

// ServiceError carries a failure reported by the OCR service itself.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s (HTTP %d)", ErrService, e.Status)
}

func (e *ServiceError) Unwrap() error { return ErrService }

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for downloads and uploads.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithMaxEdge downscales screenshots whose longest edge exceeds px. 0 disables it.
func WithMaxEdge(px int) Option {
	return func(c *Client) { c.maxEdge = px }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client downloads screenshots and posts them to <baseURL>/ocr/scan_image.
type Client struct {
	baseURL string
	http    *http.Client
	maxEdge int
	logger  *slog.Logger
}

// NewClient returns a Client for the OCR service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// ScanURL downloads imageURL and runs it through the OCR service.
func (c *Client) ScanURL(ctx context.Context, imageURL, faction string) (Result, error) {
	data, err := c.Download(ctx, imageURL)
	if err != nil {
		return Result{}, err
	}
	return c.Scan(ctx, data, faction)
}

// Download fetches an image. Any failure wraps ErrDownload, except a
// timeout which wraps ErrTimeout.
func (c *Client) Download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrDownload, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	return data, nil
}

// Scan uploads image bytes as multipart fields image and faction.
func (c *Client) Scan(ctx context.Context, image []byte, faction string) (Result, error) {
	if faction == "" {
		faction = "all"
	}
	prepared, err := Prepare(image, c.maxEdge)
	if err != nil {
		return Result{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "screenshot."+prepared.Ext)
	if err != nil {
		return Result{}, fmt.Errorf("scanner: build form: %w", err)
	}
	if _, err := part.Write(prepared.Data); err != nil {
		return Result{}, fmt.Errorf("scanner: build form: %w", err)
	}
	if err := mw.WriteField("faction", faction); err != nil {
		return Result{}, fmt.Errorf("scanner: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("scanner: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr/scan_image", &body)
	if err != nil {
		return Result{}, fmt.Errorf("scanner: new request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Result{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Result{}, &ServiceError{Message: fmt.Sprintf("%s: %v", ErrService, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, &ServiceError{Status: resp.StatusCode}
	}

	var raw rawResult
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Result{}, fmt.Errorf("scanner: decode response: %w", err)
	}
	if raw.Error != "" {
		return Result{}, &ServiceError{Status: resp.StatusCode, Message: raw.Error}
	}
	res := raw.result(faction)
	c.log().Debug("screenshot scanned",
		"items", len(res.Items),
		"detected_name", res.DetectedName,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

type rawItem struct {
	Code       string  `json:"code"`
	Quantity   int     `json:"quantity"`
	Crated     bool    `json:"crated"`
	Confidence float64 `json:"confidence"`
}

// rawResult accepts both the camelCase and snake_case spellings the
// service has used for the detected stockpile.
type rawResult struct {
	Items              []rawItem `json:"items"`
	Faction            string    `json:"faction"`
	Error              string    `json:"error"`
	StockpileName      string    `json:"stockpileName"`
	StockpileNameSnake string    `json:"stockpile_name"`
	Name               string    `json:"name"`
	StockpileType      string    `json:"stockpileType"`
	StockpileTypeSnake string    `json:"stockpile_type"`
}

func (r rawResult) result(faction string) Result {
	res := Result{
		Faction:      firstNonEmpty(r.Faction, faction),
		DetectedName: firstNonEmpty(r.StockpileName, r.StockpileNameSnake, r.Name),
		DetectedType: firstNonEmpty(r.StockpileType, r.StockpileTypeSnake),
		Items:        make([]Item, 0, len(r.Items)),
	}
	for _, it := range r.Items {
		res.Items = append(res.Items, Item{
			Code:       it.Code,
			Quantity:   it.Quantity,
			Crated:     it.Crated,
			Confidence: int(math.Round(it.Confidence * 100)),
		})
		res.TotalQuantity += it.Quantity
	}
	sort.SliceStable(res.Items, func(i, j int) bool {
		return res.Items[i].Quantity > res.Items[j].Quantity
	})
	return res
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
