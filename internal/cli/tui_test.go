package cli

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/libbyhq/libby/pkg/cache"
)

type fakeStore struct {
	damaged map[string]bool
	removed []string
}

func (f *fakeStore) Verify(_ context.Context, key string) error {
	if f.damaged[key] {
		return errors.New("checksum mismatch")
	}
	return nil
}

func (f *fakeStore) Remove(key string) error {
	f.removed = append(f.removed, key)
	return nil
}

func testEntries() []*cache.Entry {
	now := time.Now()
	return []*cache.Entry{
		{Key: "k1", Coordinate: "org.example:a:1.0", File: "a-1.0.jar", Size: 2048, CreatedAt: now},
		{Key: "k2", Coordinate: "org.example:b:1.0", File: "b-1.0.jar", Size: 10, CreatedAt: now.Add(-2 * time.Hour)},
		{Key: "k3", Coordinate: "org.example:c:1.0", File: "c-1.0.jar", Size: 1 << 20, CreatedAt: now.Add(-72 * time.Hour)},
	}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and runs any command it returns, feeding the result back.
func press(t *testing.T, m CacheModel, k string) CacheModel {
	t.Helper()
	next, cmd := m.Update(key(k))
	m = next.(CacheModel)
	if cmd != nil {
		if msg := cmd(); msg != nil {
			if _, quit := msg.(tea.QuitMsg); !quit {
				next, _ = m.Update(msg)
				m = next.(CacheModel)
			}
		}
	}
	return m
}

func TestCacheModelNavigation(t *testing.T) {
	m := NewCacheModel(context.Background(), &fakeStore{}, testEntries())

	m = press(t, m, "up")
	if m.Cursor != 0 {
		t.Errorf("Cursor = %d, want 0 at the top", m.Cursor)
	}
	m = press(t, m, "down")
	m = press(t, m, "j")
	m = press(t, m, "down")
	if m.Cursor != 2 {
		t.Errorf("Cursor = %d, want 2 at the bottom", m.Cursor)
	}
}

func TestCacheModelVerify(t *testing.T) {
	store := &fakeStore{damaged: map[string]bool{"k2": true}}
	m := NewCacheModel(context.Background(), store, testEntries())

	m = press(t, m, "v")
	if m.states["k1"] != stateVerified {
		t.Errorf("k1 state = %v, want verified", m.states["k1"])
	}
	m = press(t, m, "down")
	m = press(t, m, "v")
	if m.states["k2"] != stateDamaged {
		t.Errorf("k2 state = %v, want damaged", m.states["k2"])
	}
	if !strings.Contains(m.Status, "mismatch") {
		t.Errorf("Status = %q", m.Status)
	}
}

func TestCacheModelRemove(t *testing.T) {
	store := &fakeStore{}
	m := NewCacheModel(context.Background(), store, testEntries())

	m = press(t, m, "down")
	m = press(t, m, "down")
	m = press(t, m, "d")

	if len(store.removed) != 1 || store.removed[0] != "k3" {
		t.Errorf("removed = %v, want [k3]", store.removed)
	}
	if len(m.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(m.Entries))
	}
	if m.Cursor != 1 {
		t.Errorf("Cursor = %d, want 1 after removing the last row", m.Cursor)
	}
}

func TestCacheModelQuit(t *testing.T) {
	m := NewCacheModel(context.Background(), &fakeStore{}, nil)
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestCacheModelView(t *testing.T) {
	m := NewCacheModel(context.Background(), &fakeStore{}, testEntries())
	out := m.View()
	for _, want := range []string{"Artifact Cache", "org.example:a:1.0", "2.0 KiB", "[1/3]"} {
		if !strings.Contains(out, want) {
			t.Errorf("View() missing %q", want)
		}
	}

	empty := NewCacheModel(context.Background(), &fakeStore{}, nil).View()
	if !strings.Contains(empty, "cache is empty") {
		t.Errorf("empty View() = %q", empty)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.0 KiB",
		1 << 20: "1.0 MiB",
		3 << 29: "1.5 GiB",
	}
	for n, want := range tests {
		if got := formatBytes(n); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}
