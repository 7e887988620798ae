package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"quartermaster/internal/foxhole"
	"quartermaster/internal/store"
)

// ReminderJobID identifies the stockpile expiry reminder job.
const ReminderJobID = "stockpile-expiry"

// ExpiringSource lists stockpiles close to decay (implemented by store.Store).
type ExpiringSource interface {
	ExpiringStockpiles(ctx context.Context, within time.Duration) ([]store.ExpiringStockpile, error)
}

// Notifier posts a message to a chat channel (implemented by discord.Bot).
type Notifier interface {
	Notify(ctx context.Context, channelID, text string) error
}

// Reminders warns each regiment about stockpiles that will decay within the
// warning window. Each refresh of a stockpile is announced once; a stockpile
// comes up again only after it is refreshed and nears expiry anew.
type Reminders struct {
	source   ExpiringSource
	notifier Notifier
	within   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	notified map[string]time.Time // stockpile ID -> expiry already announced
}

// NewReminders creates the reminder job body. warn must be positive.
func NewReminders(source ExpiringSource, notifier Notifier, warn time.Duration, logger *slog.Logger) *Reminders {
	if source == nil || notifier == nil {
		panic("scheduler: reminders need a source and a notifier")
	}
	if warn <= 0 {
		panic("scheduler: reminder window must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reminders{
		source:   source,
		notifier: notifier,
		within:   warn,
		logger:   logger,
		now:      time.Now,
		notified: make(map[string]time.Time),
	}
}

// Job wraps r as a scheduler job on cronExpr.
func (r *Reminders) Job(cronExpr string) Job {
	return Job{ID: ReminderJobID, Name: "Stockpile expiry reminders", CronExpr: cronExpr, Run: r.Run}
}

// Run posts one reminder per regiment with newly expiring stockpiles.
// Regiments without a scanner channel are skipped. A failed post does not
// stop the others; the first failure is returned and those stockpiles are
// tried again on the next run.
func (r *Reminders) Run(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiring, err := r.source.ExpiringStockpiles(ctx, r.within)
	if err != nil {
		return fmt.Errorf("reminders: %w", err)
	}

	// Forget stockpiles that left the window so a later refresh cycle is
	// announced again.
	current := make(map[string]bool, len(expiring))
	for _, e := range expiring {
		current[e.ID] = true
	}
	for id := range r.notified {
		if !current[id] {
			delete(r.notified, id)
		}
	}

	var order []string
	byRegiment := make(map[string][]store.ExpiringStockpile)
	for _, e := range expiring {
		if at, ok := r.notified[e.ID]; ok && at.Equal(e.ExpiresAt) {
			continue
		}
		if _, seen := byRegiment[e.RegimentID]; !seen {
			order = append(order, e.RegimentID)
		}
		byRegiment[e.RegimentID] = append(byRegiment[e.RegimentID], e)
	}

	var first error
	sent := 0
	for _, regiment := range order {
		group := byRegiment[regiment]
		channel := group[0].ScannerChannelID
		if channel == "" {
			r.logger.Debug("no scanner channel for reminder", "regiment", regiment, "stockpiles", len(group))
			continue
		}
		if err := r.notifier.Notify(ctx, channel, r.message(group)); err != nil {
			r.logger.Warn("reminder post failed", "regiment", regiment, "channel", channel, "error", err)
			if first == nil {
				first = err
			}
			continue
		}
		for _, e := range group {
			r.notified[e.ID] = e.ExpiresAt
		}
		sent++
	}
	r.logger.Info("stockpile reminders checked", "expiring", len(expiring), "regiments", len(order), "sent", sent)
	return first
}

func (r *Reminders) message(group []store.ExpiringStockpile) string {
	now := r.now()
	var b strings.Builder
	if len(group) == 1 {
		b.WriteString("⏰ **A stockpile is about to expire.** Refresh it in game and rescan:\n")
	} else {
		fmt.Fprintf(&b, "⏰ **%d stockpiles are about to expire.** Refresh them in game and rescan:\n", len(group))
	}
	for _, e := range group {
		where := e.Hex
		if e.LocationName != "" {
			where += ", " + e.LocationName
		}
		fmt.Fprintf(&b, "- **%s** (%s) expires in %s\n", e.Name, where, foxhole.Duration(e.ExpiresAt.Sub(now)))
	}
	return strings.TrimSuffix(b.String(), "\n")
}
