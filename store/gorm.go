package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// stateRecord is the single-table schema: one JSON blob per user. The
// aggregate is always read and written whole, so a blob beats per-entity
// tables here.
type stateRecord struct {
	UserID    string    `gorm:"column:user_id;primaryKey"`
	State     []byte    `gorm:"column:state"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (stateRecord) TableName() string { return "workflow_states" }

// GormStore is a durable Store backed by GORM.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore wraps an existing GORM handle and migrates the schema.
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&stateRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_store")),
	}, nil
}

// NewSQLiteStore opens (or creates) a SQLite-backed store at dsn. Use
// ":memory:" for tests.
func NewSQLiteStore(dsn string, logger *zap.Logger) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return NewGormStore(db, logger)
}

// Load reads the user's aggregate, returning an empty one when absent.
func (g *GormStore) Load(ctx context.Context, userID string) (*WorkflowState, error) {
	var record stateRecord
	err := g.db.WithContext(ctx).First(&record, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewWorkflowState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", userID, err)
	}
	var state WorkflowState
	if err := json.Unmarshal(record.State, &state); err != nil {
		return nil, fmt.Errorf("decode state for %s: %w", userID, err)
	}
	return &state, nil
}

// Save upserts the user's aggregate.
func (g *GormStore) Save(ctx context.Context, userID string, state *WorkflowState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", userID, err)
	}
	record := stateRecord{UserID: userID, State: raw, UpdatedAt: time.Now()}
	err = g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("save state for %s: %w", userID, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
