package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dividi/internal/config"
	"dividi/internal/log"
	"dividi/internal/storage"
	"dividi/internal/store/memory"
)

func TestFromAppConfig(t *testing.T) {
	_, err := FromAppConfig(nil)
	require.Error(t, err)

	_, err = FromAppConfig(&config.Config{DataBackend: "sheets"})
	require.Error(t, err)

	cfg, err := FromAppConfig(&config.Config{DataBackend: "sqlite", SQLiteDBPath: "x.db", GoogleSpreadsheetID: "sid"})
	require.NoError(t, err)
	assert.Equal(t, SQLiteBackend, cfg.Type)
	assert.Equal(t, "x.db", cfg.SQLiteDBPath)
	assert.Equal(t, "sid", cfg.GoogleSpreadsheetID)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"unknown", Config{Type: "mongo"}, true},
		{"export without id", Config{Type: MemoryBackend, SheetsExport: true}, true},
		{"export without token", Config{Type: MemoryBackend, SheetsExport: true, GoogleSpreadsheetID: "s", GoogleOAuthClientJSON: "{}"}, true},
		{"export complete", Config{Type: MemoryBackend, SheetsExport: true, GoogleSpreadsheetID: "s", GoogleOAuthClientJSON: "{}", GoogleOAuthTokenJSON: "{}"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.ElementsMatch(t, []string{"sqlite", "memory"}, GetBackendTypeStrings())
}

func TestCreateStore(t *testing.T) {
	f := NewFactory(log.Discard())

	res, err := f.CreateStore(Config{Type: MemoryBackend})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, res.Store)
	require.NoError(t, res.Cleanup())

	path := filepath.Join(t.TempDir(), "nested", "dividi.db")
	res, err = f.CreateStore(Config{Type: SQLiteBackend, SQLiteDBPath: path})
	require.NoError(t, err)
	assert.IsType(t, &storage.SQLiteRepository{}, res.Store)
	require.NoError(t, res.Store.Ping(context.Background()))
	require.NoError(t, res.Cleanup())
}

func TestCreateReportWriter(t *testing.T) {
	f := NewFactory(log.Discard())

	res, err := f.CreateReportWriter(context.Background(), Config{Type: MemoryBackend})
	require.NoError(t, err)
	assert.Nil(t, res.Writer)

	_, err = f.CreateReportWriter(context.Background(), Config{
		Type: MemoryBackend, SheetsExport: true, GoogleSpreadsheetID: "s",
		GoogleOAuthClientJSON: "not json", GoogleOAuthTokenJSON: "{}",
	})
	require.Error(t, err)
}
