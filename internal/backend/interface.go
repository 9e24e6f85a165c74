// Package backend builds the persistence and export adapters selected by
// configuration.
package backend

import (
	"dividi/internal/sheets"
	"dividi/internal/store"
)

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// Result holds the store and its cleanup function.
type Result struct {
	Store   store.Store
	Cleanup CleanupFunc
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Google Sheets export. An empty SpreadsheetID disables it.
	SheetsExport          bool
	GoogleSpreadsheetID   string
	GoogleOAuthClientFile string
	GoogleOAuthTokenFile  string
	GoogleOAuthClientJSON string
	GoogleOAuthTokenJSON  string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// ReportWriterResult is the export target, nil when export is disabled.
type ReportWriterResult struct {
	Writer sheets.ReportWriter
}
