package backend

import (
	"context"
	"fmt"

	"dividi/internal/log"
	gsheet "dividi/internal/sheets/google"
	"dividi/internal/storage"
	"dividi/internal/store/memory"
)

type Factory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) *Factory {
	return &Factory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateStore opens the configured store, migrating SQLite on the way.
func (f *Factory) CreateStore(config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return &Result{Store: repo, Cleanup: repo.Close}, nil
	case MemoryBackend:
		s := memory.New()
		f.logger.Info("Initialized memory backend")
		return &Result{Store: s, Cleanup: s.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// CreateReportWriter returns the Google Sheets writer, or a nil writer when
// export is disabled.
func (f *Factory) CreateReportWriter(ctx context.Context, config Config) (ReportWriterResult, error) {
	if !config.SheetsExport {
		f.logger.Info("Sheets export disabled")
		return ReportWriterResult{}, nil
	}
	cli, err := gsheet.New(ctx, config.GoogleSpreadsheetID, gsheet.Credentials{
		ClientJSON: config.GoogleOAuthClientJSON,
		ClientFile: config.GoogleOAuthClientFile,
		TokenJSON:  config.GoogleOAuthTokenJSON,
		TokenFile:  config.GoogleOAuthTokenFile,
	}, f.logger)
	if err != nil {
		return ReportWriterResult{}, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	f.logger.Info("Initialized Google Sheets export")
	return ReportWriterResult{Writer: cli}, nil
}
