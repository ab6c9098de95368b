package badger

import (
	"fmt"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/common"
)

// BadgerDB manages the Badger database connection
type BadgerDB struct {
	db     *badger.DB
	logger arbor.ILogger
	config *common.BadgerConfig
}

// NewBadgerDB creates a new Badger database connection
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	// If reset_on_startup is enabled, delete the existing database
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete database directory")
			}
		}
	}

	// Ensure the directory exists
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Opening Badger database connection")

	options := badger.DefaultOptions(config.Path)
	options.Logger = nil // Disable default badger logger to use arbor

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Badger database initialized")

	return &BadgerDB{
		db:     db,
		logger: logger,
		config: config,
	}, nil
}

// DB returns the underlying badger database
func (b *BadgerDB) DB() *badger.DB {
	return b.db
}

// RunGC runs one value-log garbage collection pass. Badger returns
// ErrNoRewrite when there is nothing to collect; that is not an error here.
func (b *BadgerDB) RunGC() {
	if b.db == nil {
		return
	}
	err := b.db.RunValueLogGC(0.5)
	if err != nil && err != badger.ErrNoRewrite {
		b.logger.Warn().Err(err).Msg("Badger value-log GC failed")
		return
	}
	if err == nil {
		b.logger.Debug().Msg("Badger value-log GC reclaimed space")
	}
}

// Close closes the database connection
func (b *BadgerDB) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
