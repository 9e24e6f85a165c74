package memory

import (
	"context"
	"sort"
	"sync"

	ports "dividi/internal/sheets"
)

// Writer keeps written tabs in memory, for development and tests.
type Writer struct {
	mu     sync.Mutex
	tabs   map[string][][]string
	writes int
}

var _ ports.ReportWriter = (*Writer)(nil)

func New() *Writer {
	return &Writer{tabs: make(map[string][][]string)}
}

// WriteReport replaces the tab with a copy of rows.
func (w *Writer) WriteReport(_ context.Context, tab string, rows [][]string) error {
	cp := make([][]string, len(rows))
	for i, r := range rows {
		cp[i] = append([]string(nil), r...)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tabs[tab] = cp
	w.writes++
	return nil
}

// Rows returns the current content of tab.
func (w *Writer) Rows(tab string) ([][]string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rows, ok := w.tabs[tab]
	return rows, ok
}

// Tabs lists written tab names, sorted.
func (w *Writer) Tabs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.tabs))
	for t := range w.tabs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Writes counts WriteReport calls.
func (w *Writer) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}
