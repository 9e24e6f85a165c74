package sheets

import (
	"context"
)

// Ports for outbound adapters.
type (
	// ReportWriter replaces the content of one tab with rows. The tab is
	// created when missing.
	ReportWriter interface {
		WriteReport(ctx context.Context, tab string, rows [][]string) error
	}
)
