package data

import (
	"context"
	"time"

	"InsightLane/internal/model"
	pkgerrors "InsightLane/pkg/errors"
	pkglog "InsightLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ArchiveEntry is one row of the long-term archive.
type ArchiveEntry struct {
	ID         int64     `gorm:"primaryKey;column:id"`
	StorageKey string    `gorm:"column:storage_key;size:255;uniqueIndex;not null"`
	Payload    string    `gorm:"column:payload;type:json;not null"`
	TTLSeconds int64     `gorm:"column:ttl_seconds;not null"`
	StoredAt   time.Time `gorm:"column:stored_at;not null"`
	ExpiresAt  time.Time `gorm:"column:expires_at;index;not null"`
}

// TableName specifies the table name for GORM.
func (ArchiveEntry) TableName() string {
	return "analytics_archive"
}

// ArchiveLayer stores entries in MySQL, one row per storage key.
type ArchiveLayer struct {
	db     *gorm.DB
	now    func() time.Time
	logger *pkglog.LogHelper
}

// NewArchiveLayer creates an ArchiveLayer.
func NewArchiveLayer(db *gorm.DB, logger log.Logger) *ArchiveLayer {
	return &ArchiveLayer{
		db:     db,
		now:    time.Now,
		logger: pkglog.NewLogHelper(logger),
	}
}

// Migrate creates or updates the archive table.
func (l *ArchiveLayer) Migrate(ctx context.Context) error {
	return l.db.WithContext(ctx).AutoMigrate(&ArchiveEntry{})
}

// Put upserts the entry on its storage key.
func (l *ArchiveLayer) Put(ctx context.Context, entry *model.StorageEntry) error {
	start := time.Now()
	row := &ArchiveEntry{
		StorageKey: entry.Key,
		Payload:    string(entry.Data),
		TTLSeconds: int64(entry.TTL / time.Second),
		StoredAt:   entry.StoredAt,
		ExpiresAt:  entry.ExpiresAt,
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storage_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "ttl_seconds", "stored_at", "expires_at"}),
	}).Create(row).Error
	if err != nil {
		dbErr := pkgerrors.ClassifyDBError(err)
		l.logger.Errorw("msg", "archive write failed", "storage_id", entry.Key, "error_type", dbErr.Type.String(), "error", dbErr.Error())
		return dbErr
	}

	l.logger.Database("archive upsert", "storage_id", entry.Key, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Get returns the unexpired entry stored under key.
func (l *ArchiveLayer) Get(ctx context.Context, key string) (*model.StorageEntry, error) {
	start := time.Now()
	var row ArchiveEntry
	err := l.db.WithContext(ctx).
		Where("storage_key = ? AND expires_at > ?", key, l.now().UTC()).
		First(&row).Error
	if err != nil {
		if pkgerrors.IsNotFoundError(err) {
			return nil, model.ErrEntryNotFound
		}
		return nil, pkgerrors.ClassifyDBError(err)
	}

	l.logger.Database("archive read", "storage_id", key, "duration_ms", time.Since(start).Milliseconds())
	return &model.StorageEntry{
		Key:       row.StorageKey,
		Layer:     model.LayerArchive,
		Data:      []byte(row.Payload),
		TTL:       time.Duration(row.TTLSeconds) * time.Second,
		StoredAt:  row.StoredAt,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

// PurgeExpired deletes rows that expired at or before now and returns how many.
func (l *ArchiveLayer) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := l.db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&ArchiveEntry{})
	if res.Error != nil {
		return 0, pkgerrors.ClassifyDBError(res.Error)
	}
	return res.RowsAffected, nil
}
