// Package session keeps each channel's recent conversation as a JSONL file
// and decides which prior turns are handed back to the model.
package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"quartermaster/internal/domain"
)

// maxLineSize bounds one stored turn. Longer lines are skipped on load.
const maxLineSize = 1 << 20

// writeFunc is used to write content so tests can inject a failing implementation.
type writeFunc func(f *os.File, data []byte) (int, error)

// marshalFunc is the JSON marshaling function; tests may replace it to force errors.
type marshalFunc func(v any) ([]byte, error)

// HistoryStore persists one channel's text turns to a JSONL file, one
// message per line, oldest first.
type HistoryStore struct {
	path      string
	mu        sync.Mutex
	writeFn   writeFunc   // nil means use f.Write
	marshalFn marshalFunc // nil means use json.Marshal
}

// NewHistoryStore returns a HistoryStore that reads/writes to the given JSONL file path.
func NewHistoryStore(path string) *HistoryStore {
	return &HistoryStore{path: path}
}

// Path is the backing file.
func (h *HistoryStore) Path() string { return h.path }

// Append writes msg as one line. Only the text of a turn is kept; tool
// exchanges belong to the run that produced them.
func (h *HistoryStore) Append(msg domain.Message) error {
	marshal := json.Marshal
	if h.marshalFn != nil {
		marshal = h.marshalFn
	}
	data, err := marshal(domain.Message{Role: msg.Role, Text: msg.Text, Timestamp: msg.Timestamp})
	if err != nil {
		return err
	}
	data = append(data, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	var writeErr error
	if h.writeFn != nil {
		_, writeErr = h.writeFn(f, data)
	} else {
		_, writeErr = f.Write(data)
	}
	closeErr := f.Close()
	if writeErr != nil {
		return writeErr
	}
	return closeErr
}

// LoadHistory reads the last n messages from the history file.
// Returns empty slice when the file does not exist or n <= 0.
func (h *HistoryStore) LoadHistory(n int) ([]domain.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	// Ring of the last n non-empty lines.
	ring := make([]string, 0, min(n, 64))
	start := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if len(ring) < n {
			ring = append(ring, line)
			continue
		}
		ring[start] = line
		start = (start + 1) % n
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	msgs := make([]domain.Message, 0, len(ring))
	for i := range ring {
		var msg domain.Message
		if err := json.Unmarshal([]byte(ring[(start+i)%len(ring)]), &msg); err != nil {
			continue // corrupt line
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Clear removes the history file.
func (h *HistoryStore) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

var _ domain.SessionHistoryStore = (*HistoryStore)(nil)
