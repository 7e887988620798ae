package session

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"quartermaster/internal/domain"
)

// Window bounds the prior turns re-supplied to the model. Zero fields
// disable that bound.
type Window struct {
	MaxMessages int
	MaxAge      time.Duration
}

// WindowFrom reads the history section of the config.
func WindowFrom(cfg domain.HistoryConfig) Window {
	return Window{
		MaxMessages: cfg.MaxMessages,
		MaxAge:      time.Duration(cfg.MaxAgeMinutes) * time.Minute,
	}
}

// Apply drops turns older than MaxAge, then keeps the newest MaxMessages of
// what remains. msgs must be oldest first.
func (w Window) Apply(msgs []domain.Message, now time.Time) []domain.Message {
	if w.MaxAge > 0 {
		cutoff := now.Add(-w.MaxAge)
		kept := msgs[:0:0]
		for _, m := range msgs {
			if m.Timestamp.IsZero() || m.Timestamp.Before(cutoff) {
				continue
			}
			kept = append(kept, m)
		}
		msgs = kept
	}
	if w.MaxMessages > 0 && len(msgs) > w.MaxMessages {
		msgs = msgs[len(msgs)-w.MaxMessages:]
	}
	return msgs
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Manager hands out one HistoryStore per channel under a directory.
type Manager struct {
	dir    string
	window Window
	now    func() time.Time

	mu     sync.Mutex
	stores map[string]*HistoryStore
}

// NewManager creates dir if needed.
func NewManager(dir string, w Window) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("session: history dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("session: create history dir: %w", err)
	}
	return &Manager{dir: dir, window: w, now: time.Now, stores: make(map[string]*HistoryStore)}, nil
}

// Store returns the channel's history store.
func (m *Manager) Store(channelID string) *HistoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[channelID]; ok {
		return s
	}
	name := unsafeFileChars.ReplaceAllString(channelID, "_")
	if name == "" {
		name = "_"
	}
	s := NewHistoryStore(filepath.Join(m.dir, name+".jsonl"))
	m.stores[channelID] = s
	return s
}

// Recent returns the channel's prior turns inside the window, oldest first.
func (m *Manager) Recent(channelID string) ([]domain.Message, error) {
	n := m.window.MaxMessages
	if n <= 0 {
		n = math.MaxInt
	}
	msgs, err := m.Store(channelID).LoadHistory(n)
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", channelID, err)
	}
	return m.window.Apply(msgs, m.now()), nil
}

// Record appends turns to the channel's history in order.
func (m *Manager) Record(channelID string, msgs ...domain.Message) error {
	s := m.Store(channelID)
	for _, msg := range msgs {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = m.now()
		}
		if err := s.Append(msg); err != nil {
			return fmt.Errorf("session: append %s: %w", channelID, err)
		}
	}
	return nil
}

// Forget deletes the channel's history.
func (m *Manager) Forget(channelID string) error {
	return m.Store(channelID).Clear()
}

// Channels lists the channel ids opened since start, sorted.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.stores))
	for id := range m.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
