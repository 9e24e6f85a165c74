package memory

import (
	"context"
	"testing"
)

func TestWriterReplacesTab(t *testing.T) {
	w := New()
	ctx := context.Background()

	rows := [][]string{{"Date", "Description"}, {"2025-01-01", "Dinner"}}
	if err := w.WriteReport(ctx, "Trip", rows); err != nil {
		t.Fatal(err)
	}
	rows[1][1] = "mutated"

	got, ok := w.Rows("Trip")
	if !ok || len(got) != 2 || got[1][1] != "Dinner" {
		t.Fatalf("unexpected rows: %v (ok=%v)", got, ok)
	}

	if err := w.WriteReport(ctx, "Trip", [][]string{{"only"}}); err != nil {
		t.Fatal(err)
	}
	got, _ = w.Rows("Trip")
	if len(got) != 1 {
		t.Fatalf("tab not replaced: %v", got)
	}

	_ = w.WriteReport(ctx, "Another", nil)
	if tabs := w.Tabs(); len(tabs) != 2 || tabs[0] != "Another" {
		t.Fatalf("unexpected tabs: %v", tabs)
	}
	if w.Writes() != 3 {
		t.Fatalf("writes = %d", w.Writes())
	}
}
