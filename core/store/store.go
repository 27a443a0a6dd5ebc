// Package store persists memory units, entities, and the typed edge graph in
// sqlite, and maintains a bleve full-text index over unit text for the
// keyword retrieval strategy. One store hosts any number of banks.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	_ "modernc.org/sqlite"

	coreerrors "github.com/adalundhe/hindsight/core/errors"
)

var (
	ErrUnitNotFound = errors.New("memory unit not found")
	ErrStoreClosed  = errors.New("store closed")
)

// Config configures a Store.
type Config struct {
	// Path is the sqlite database location; ":memory:" for tests.
	Path string `yaml:"path"`

	// IndexPath is the bleve index location; empty means in-memory.
	IndexPath string `yaml:"index_path"`
}

// Store is the shared fact, entity, and graph persistence layer.
type Store struct {
	db      *sql.DB
	index   bleve.Index
	breaker *coreerrors.CircuitBreaker
	logger  *slog.Logger
}

// Open opens the sqlite database, applies the schema, and opens or creates
// the bleve index.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer keeps modernc's sqlite happy under concurrent strategies.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	index, err := openIndex(cfg.IndexPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open bleve index: %w", err)
	}

	return &Store{
		db:      db,
		index:   index,
		breaker: coreerrors.NewCircuitBreaker("keyword_index", coreerrors.DefaultCircuitBreakerConfig()),
		logger:  logger,
	}, nil
}

func openIndex(path string) (bleve.Index, error) {
	mapping := bleve.NewIndexMapping()

	unitMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	unitMapping.AddFieldMappingsAt("text", textField)

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name
	unitMapping.AddFieldMappingsAt("bank_id", keywordField)
	unitMapping.AddFieldMappingsAt("fact_type", keywordField)

	mapping.DefaultMapping = unitMapping

	if path == "" {
		return bleve.NewMemOnly(mapping)
	}
	index, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return bleve.New(path, mapping)
	}
	return index, err
}

// DB exposes the underlying handle for transactional callers in this module.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database and index.
func (s *Store) Close() error {
	var errs []error
	if err := s.index.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close index: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close db: %w", err))
	}
	return errors.Join(errs...)
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
