package foxhole

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// RelativeTime renders how long ago t was: "Just now", "5m ago", "3h ago",
// "2d ago", or a date once it is a week old.
func RelativeTime(t, now time.Time) string {
	diff := now.Sub(t)
	mins := int(diff.Minutes())
	switch {
	case mins < 1:
		return "Just now"
	case mins < 60:
		return fmt.Sprintf("%dm ago", mins)
	}
	hours := mins / 60
	if hours < 24 {
		return fmt.Sprintf("%dh ago", hours)
	}
	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd ago", days)
	}
	return t.Format("Jan 02, 2006")
}

// Duration renders a span compactly: "2d 3h", "4h 12m", "7m" or "30s".
func Duration(d time.Duration) string {
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours%24)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%ds", seconds)
}

// Date renders a schedule time, e.g. "Mar 14, 06:30 PM".
func Date(t time.Time) string {
	return t.Format("Jan 02, 03:04 PM")
}

// Quantity adds thousands separators.
func Quantity(n int) string {
	return humanize.Comma(int64(n))
}

// SignedQuantity renders a change with an explicit sign: "+1,200" or "-35".
func SignedQuantity(n int) string {
	if n > 0 {
		return "+" + humanize.Comma(int64(n))
	}
	return humanize.Comma(int64(n))
}

var priorityLabels = map[int]string{0: "Low", 1: "Medium", 2: "High", 3: "Critical"}

// PriorityLabel maps 0..3 to Low..Critical.
func PriorityLabel(p int) string {
	if l, ok := priorityLabels[p]; ok {
		return l
	}
	return "Unknown"
}

var stockpileTypeLabels = map[string]string{
	"SEAPORT":       "Seaport",
	"STORAGE_DEPOT": "Storage Depot",
	"DEPOT":         "Depot",
	"BASE":          "Base",
}

// StockpileTypeLabel returns the display label, or the raw type when unknown.
func StockpileTypeLabel(t string) string {
	if l, ok := stockpileTypeLabels[t]; ok {
		return l
	}
	return t
}

// Freshness buckets.
const (
	FreshnessUnknown      = "unknown"
	FreshnessFresh        = "fresh"
	FreshnessAging        = "aging"
	FreshnessExpiringSoon = "expiring_soon"
	FreshnessExpired      = "expired"
)

// Lifetime is how long a stockpile survives after its last refresh.
const Lifetime = 50 * time.Hour

// Freshness classifies a stockpile by the hours left before decay. hoursLeft
// is nil when the stockpile was never refreshed.
func Freshness(lastRefreshed *time.Time, now time.Time) (status string, hoursLeft *float64) {
	if lastRefreshed == nil {
		return FreshnessUnknown, nil
	}
	left := Lifetime.Hours() - now.Sub(*lastRefreshed).Hours()
	if left < 0 {
		left = 0
	}
	switch {
	case left > 24:
		status = FreshnessFresh
	case left > 6:
		status = FreshnessAging
	case left > 0:
		status = FreshnessExpiringSoon
	default:
		status = FreshnessExpired
	}
	return status, &left
}
