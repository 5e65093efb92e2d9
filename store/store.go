// Package store holds the gorm models and queries shared by the engine,
// gateway, agent service, tool bridge, and monitor.
package store

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/flowforge/types"
)

// Store wraps the gorm handle with the platform's query surface.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a Store over an opened gorm DB.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "store"))}
}

// DB exposes the underlying handle for migrations and health checks.
func (s *Store) DB() *gorm.DB { return s.db }

// AutoMigrate creates or updates all tables. Used for dev/test bootstrap;
// production schemas go through versioned SQL migrations.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(AllModels()...)
}

// active excludes soft-deleted rows. Every read query goes through it.
func active(db *gorm.DB) *gorm.DB {
	return db.Where("is_deleted = ?", false)
}

// WithTransaction runs fn inside a transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// wrapNotFound converts gorm's record-not-found into the platform taxonomy.
func wrapNotFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.NewNotFoundError("%s %s not found", what, id)
	}
	return types.NewInternalError("query "+what, err)
}
