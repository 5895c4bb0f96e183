package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/libbyhq/libby/pkg/cache"
)

// List styles
var (
	listDimStyle = lipgloss.NewStyle().Foreground(colorDim)
)

// =============================================================================
// CacheModel - Interactive cache browser
// =============================================================================

// entryStore is the part of cache.Store the browser needs.
type entryStore interface {
	Verify(ctx context.Context, key string) error
	Remove(key string) error
}

// entryState records what the browser has learned about an entry.
type entryState int

const (
	stateUnknown entryState = iota
	stateVerified
	stateDamaged
)

// CacheModel is the bubbletea model for browsing the artifact cache.
type CacheModel struct {
	Entries []*cache.Entry
	Cursor  int
	Height  int
	Offset  int
	Status  string

	ctx    context.Context
	store  entryStore
	states map[string]entryState
}

// NewCacheModel creates a cache browser over entries.
func NewCacheModel(ctx context.Context, store entryStore, entries []*cache.Entry) CacheModel {
	return CacheModel{
		Entries: entries,
		Height:  15,
		ctx:     ctx,
		store:   store,
		states:  make(map[string]entryState),
	}
}

// verifiedMsg reports the result of verifying one entry.
type verifiedMsg struct {
	key string
	err error
}

// removedMsg reports the result of removing one entry.
type removedMsg struct {
	key string
	err error
}

func (m CacheModel) Init() tea.Cmd {
	return nil
}

func (m CacheModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.Cursor > 0 {
				m.Cursor--
				if m.Cursor < m.Offset {
					m.Offset = m.Cursor
				}
			}
		case "down", "j":
			if m.Cursor < len(m.Entries)-1 {
				m.Cursor++
				if m.Cursor >= m.Offset+m.Height {
					m.Offset = m.Cursor - m.Height + 1
				}
			}
		case "v":
			if e := m.selected(); e != nil {
				m.Status = "verifying " + e.Coordinate
				return m, m.verify(e.Key)
			}
		case "d":
			if e := m.selected(); e != nil {
				m.Status = "removing " + e.Coordinate
				return m, m.remove(e.Key)
			}
		}
	case tea.WindowSizeMsg:
		m.Height = max(msg.Height-8, 5)
	case verifiedMsg:
		if msg.err != nil {
			m.states[msg.key] = stateDamaged
			m.Status = msg.err.Error()
		} else {
			m.states[msg.key] = stateVerified
			m.Status = "checksum ok"
		}
	case removedMsg:
		if msg.err != nil {
			m.Status = msg.err.Error()
			break
		}
		m.drop(msg.key)
		m.Status = "removed"
	}
	return m, nil
}

func (m CacheModel) selected() *cache.Entry {
	if m.Cursor < 0 || m.Cursor >= len(m.Entries) {
		return nil
	}
	return m.Entries[m.Cursor]
}

func (m CacheModel) verify(key string) tea.Cmd {
	return func() tea.Msg {
		return verifiedMsg{key: key, err: m.store.Verify(m.ctx, key)}
	}
}

func (m CacheModel) remove(key string) tea.Cmd {
	return func() tea.Msg {
		return removedMsg{key: key, err: m.store.Remove(key)}
	}
}

func (m *CacheModel) drop(key string) {
	kept := m.Entries[:0:0]
	for _, e := range m.Entries {
		if e.Key != key {
			kept = append(kept, e)
		}
	}
	m.Entries = kept
	delete(m.states, key)
	if m.Cursor >= len(m.Entries) {
		m.Cursor = max(len(m.Entries)-1, 0)
	}
	if m.Offset > m.Cursor {
		m.Offset = m.Cursor
	}
}

func (m CacheModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Artifact Cache"))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ navigate  v verify  d remove  q quit"))
	b.WriteString("\n\n")

	if len(m.Entries) == 0 {
		b.WriteString(listDimStyle.Render("  cache is empty"))
		b.WriteString("\n")
		return b.String()
	}

	end := min(m.Offset+m.Height, len(m.Entries))
	rows := [][]string{}
	for i := m.Offset; i < end; i++ {
		e := m.Entries[i]
		cursor := "  "
		if i == m.Cursor {
			cursor = "▸ "
		}
		state := ""
		switch m.states[e.Key] {
		case stateVerified:
			state = iconSuccess
		case stateDamaged:
			state = iconError
		}
		rows = append(rows, []string{
			cursor, e.Coordinate, filepath.Base(e.File), formatBytes(e.Size),
			formatRelativeTime(e.CreatedAt), state,
		})
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("", "Coordinate", "File", "Size", "Cached", "").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			idx := m.Offset + row
			if idx >= len(m.Entries) {
				return lipgloss.NewStyle()
			}
			base := lipgloss.NewStyle()
			switch m.states[m.Entries[idx].Key] {
			case stateDamaged:
				base = base.Foreground(colorRed)
			case stateVerified:
				base = base.Foreground(colorGreen)
			default:
				if col >= 2 {
					base = base.Foreground(colorDim)
				}
			}
			if idx == m.Cursor {
				return base.Bold(true)
			}
			return base
		})

	b.WriteString(t.Render())
	b.WriteString("\n\n")
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d]", m.Cursor+1, len(m.Entries))))
	if m.Status != "" {
		b.WriteString("  " + StyleHighlight.Render(m.Status))
	}

	return b.String()
}

// =============================================================================
// Helpers
// =============================================================================

func formatRelativeTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("Jan 2, 2006")
	}
}
