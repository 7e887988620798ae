package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"quartermaster/internal/domain"
)

// =============================================================================
// Helpers
// =============================================================================

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func msgAt(role domain.Role, text string, at time.Time) domain.Message {
	return domain.Message{Role: role, Text: text, Timestamp: at}
}

func newStore(t *testing.T) *HistoryStore {
	t.Helper()
	return NewHistoryStore(filepath.Join(t.TempDir(), "history.jsonl"))
}

// =============================================================================
// Append
// =============================================================================

func TestHistoryStore_Append_WhenFileDoesNotExist_ShouldCreateAndAppend(t *testing.T) {
	store := newStore(t)

	if err := store.Append(msgAt(domain.RoleUser, "how many bmats?", t0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.HasSuffix(string(b), "\n") {
		t.Error("expected a trailing newline")
	}
	var decoded domain.Message
	if err := json.Unmarshal(b[:len(b)-1], &decoded); err != nil {
		t.Fatalf("invalid JSON in file: %v", err)
	}
	if decoded.Role != domain.RoleUser || decoded.Text != "how many bmats?" {
		t.Errorf("decoded: %+v", decoded)
	}
}

func TestHistoryStore_Append_ShouldDropToolExchanges(t *testing.T) {
	store := newStore(t)
	msg := msgAt(domain.RoleModel, "510 Basic Materials.", t0)
	msg.ToolCalls = []domain.ToolCall{{Name: "search_inventory"}}
	msg.ToolResults = []domain.ToolResult{{Name: "search_inventory", Content: "{}"}}

	if err := store.Append(msg); err != nil {
		t.Fatal(err)
	}

	b, _ := os.ReadFile(store.Path())
	if strings.Contains(string(b), "search_inventory") {
		t.Errorf("tool data persisted: %s", b)
	}
}

func TestHistoryStore_Append_WhenDirDoesNotExist_ShouldReturnError(t *testing.T) {
	store := NewHistoryStore(filepath.Join(t.TempDir(), "missing", "history.jsonl"))

	if err := store.Append(msgAt(domain.RoleUser, "x", t0)); err == nil {
		t.Fatal("expected error when dir does not exist")
	}
}

func TestHistoryStore_Append_WhenMarshalFails_ShouldReturnError(t *testing.T) {
	store := newStore(t)
	store.marshalFn = func(any) ([]byte, error) { return nil, errors.New("marshal boom") }

	err := store.Append(msgAt(domain.RoleUser, "x", t0))

	if err == nil || err.Error() != "marshal boom" {
		t.Errorf("got %v", err)
	}
}

func TestHistoryStore_Append_WhenWriteFails_ShouldReturnError(t *testing.T) {
	store := newStore(t)
	store.writeFn = func(*os.File, []byte) (int, error) { return 0, errors.New("disk full") }

	err := store.Append(msgAt(domain.RoleUser, "x", t0))

	if err == nil || err.Error() != "disk full" {
		t.Errorf("got %v", err)
	}
}

func TestHistoryStore_Append_WhenConcurrent_ShouldKeepLinesIntact(t *testing.T) {
	store := newStore(t)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Append(msgAt(domain.RoleUser, fmt.Sprintf("message %d", i), t0))
		}()
	}
	wg.Wait()

	msgs, err := store.LoadHistory(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 20 {
		t.Errorf("got %d messages, want 20", len(msgs))
	}
}

// =============================================================================
// LoadHistory
// =============================================================================

func TestHistoryStore_LoadHistory_WhenFileDoesNotExist_ShouldReturnEmpty(t *testing.T) {
	msgs, err := newStore(t).LoadHistory(10)

	if err != nil || len(msgs) != 0 {
		t.Errorf("got %v, %v", msgs, err)
	}
}

func TestHistoryStore_LoadHistory_WhenNNotPositive_ShouldReturnEmpty(t *testing.T) {
	store := newStore(t)
	_ = store.Append(msgAt(domain.RoleUser, "ignored", t0))

	for _, n := range []int{0, -5} {
		msgs, err := store.LoadHistory(n)
		if err != nil || len(msgs) != 0 {
			t.Errorf("n=%d: got %v, %v", n, msgs, err)
		}
	}
}

func TestHistoryStore_LoadHistory_ShouldReturnLastNInOrder(t *testing.T) {
	store := newStore(t)
	for i := range 7 {
		if err := store.Append(msgAt(domain.RoleUser, fmt.Sprintf("m%d", i), t0.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := store.LoadHistory(3)

	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, m := range msgs {
		got = append(got, m.Text)
	}
	if strings.Join(got, ",") != "m4,m5,m6" {
		t.Errorf("got %v, want m4,m5,m6", got)
	}
}

func TestHistoryStore_LoadHistory_ShouldSkipCorruptAndBlankLines(t *testing.T) {
	store := newStore(t)
	content := `{"role":"user","text":"first"}` + "\n\nnot json\n" + `{"role":"model","text":"second"}` + "\n"
	if err := os.WriteFile(store.Path(), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	msgs, err := store.LoadHistory(10)

	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Text != "first" || msgs[1].Role != domain.RoleModel {
		t.Errorf("got %+v", msgs)
	}
}

func TestHistoryStore_Clear_ShouldRemoveFileAndTolerateMissing(t *testing.T) {
	store := newStore(t)
	_ = store.Append(msgAt(domain.RoleUser, "x", t0))

	if err := store.Clear(); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear(); err != nil {
		t.Errorf("second clear: %v", err)
	}
	if _, err := os.Stat(store.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file still present: %v", err)
	}
}
