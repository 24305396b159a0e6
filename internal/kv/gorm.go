package kv

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/utils"
)

// KVBlob is one persisted collection: a single JSON value per collection name.
type KVBlob struct {
	Collection string         `gorm:"primaryKey;column:collection"`
	Value      datatypes.JSON `gorm:"column:value;type:jsonb"`
	UpdatedAt  time.Time      `gorm:"not null;default:now()"`
}

func (KVBlob) TableName() string { return "kv_blob" }

// GormStore persists collections in postgres (KV_DRIVER=postgres) or a local
// sqlite file (default).
type GormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGormStore(log *logger.Logger) (*GormStore, error) {
	storeLog := log.With("service", "GormStore")

	driver := utils.GetEnv("KV_DRIVER", "sqlite", log)

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "postgres":
		host := utils.GetEnv("POSTGRES_HOST", "localhost", log)
		port := utils.GetEnv("POSTGRES_PORT", "5432", log)
		user := utils.GetEnv("POSTGRES_USER", "postgres", log)
		password := utils.GetEnv("POSTGRES_PASSWORD", "", log)
		name := utils.GetEnv("POSTGRES_NAME", "loom", log)
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	default:
		path := utils.GetEnv("KV_SQLITE_PATH", "loom.db", log)
		db, err = gorm.Open(sqlite.Open(path), &gorm.Config{})
	}
	if err != nil {
		storeLog.Error("Failed to open kv database", "driver", driver, "error", err)
		return nil, fmt.Errorf("open kv database: %w", err)
	}

	if err := db.AutoMigrate(&KVBlob{}); err != nil {
		storeLog.Error("kv_blob automigrate failed", "error", err)
		return nil, fmt.Errorf("kv_blob automigrate: %w", err)
	}
	return &GormStore{db: db, log: storeLog}, nil
}

func (s *GormStore) Load(ctx context.Context, collection string) ([]byte, error) {
	var blob KVBlob
	err := s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Limit(1).
		Find(&blob).Error
	if err != nil {
		return nil, err
	}
	if blob.Collection == "" {
		return nil, nil
	}
	return []byte(blob.Value), nil
}

func (s *GormStore) Save(ctx context.Context, collection string, value []byte) error {
	blob := KVBlob{
		Collection: collection,
		Value:      datatypes.JSON(value),
		UpdatedAt:  time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&blob).Error
}
