package store

import (
	"context"
	"errors"
	"time"

	"github.com/secureflow/backend/internal/keylock"
	"github.com/secureflow/backend/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// logRecordUpdateColumns are overwritten when an upsert hits an existing key.
// created_at is deliberately absent.
var logRecordUpdateColumns = []string{
	"source", "system", "env", "risk", "incident_category", "title", "text",
	"log_detail", "pii_summary", "risk_reason", "recommendation",
	"pii_found", "pii_types", "learn_enabled", "learn_completed", "final_risk_for_learning",
	"meta", "processing_time_ms", "is_garbage", "garbage_reason", "updated_at",
}

// GormStore keeps records in PostgreSQL through GORM.
type GormStore struct {
	db    *gorm.DB
	now   Clock
	locks keylock.Mutex
}

// Option configures a store.
type Option func(*options)

type options struct {
	clock Clock
}

// WithClock overrides the clock used for CreatedAt/UpdatedAt.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{clock: utcNow}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewGormStore wraps an open GORM connection.
func NewGormStore(db *gorm.DB, opts ...Option) *GormStore {
	o := buildOptions(opts)
	clock := o.clock
	return &GormStore{
		db: db,
		// PostgreSQL keeps microseconds; truncating keeps returned rows equal to re-read ones.
		now: func() time.Time { return clock().Truncate(time.Microsecond) },
	}
}

// AutoMigrate creates or updates the log_records and kb_items tables.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&models.LogRecord{}, &models.KBItem{})
}

func (s *GormStore) Upsert(ctx context.Context, rec models.LogRecord) (models.LogRecord, error) {
	unlock := s.locks.Lock(rec.Key)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.LogRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("log_key", "created_at").
			Where("log_key = ?", rec.Key).
			Take(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		stamp(&rec, existing.CreatedAt, s.now())
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "log_key"}},
			DoUpdates: clause.AssignmentColumns(logRecordUpdateColumns),
		}).Create(&rec).Error
	})
	if err != nil {
		return models.LogRecord{}, persistenceError("upsert log record", err)
	}
	return rec, nil
}

func (s *GormStore) GetByKey(ctx context.Context, key string) (models.LogRecord, error) {
	var rec models.LogRecord
	if err := s.db.WithContext(ctx).Where("log_key = ?", key).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.LogRecord{}, ErrNotFound
		}
		return models.LogRecord{}, persistenceError("get log record", err)
	}
	return rec, nil
}

func (s *GormStore) ListRecent(ctx context.Context, limit int) ([]models.LogRecord, error) {
	if limit <= 0 {
		return []models.LogRecord{}, nil
	}
	var recs []models.LogRecord
	if err := s.newest(ctx).Limit(limit).Find(&recs).Error; err != nil {
		return nil, persistenceError("list recent log records", err)
	}
	return recs, nil
}

// learnQueueClause mirrors models.LogRecord.InLearnQueue.
const learnQueueClause = "learn_enabled = ? AND learn_completed = ?"

func (s *GormStore) ListLearnQueue(ctx context.Context) ([]models.LogRecord, error) {
	var recs []models.LogRecord
	err := s.newest(ctx).
		Where(learnQueueClause, true, false).
		Find(&recs).Error
	if err != nil {
		return nil, persistenceError("list learn queue", err)
	}
	return recs, nil
}

func (s *GormStore) ListSince(ctx context.Context, since time.Time) ([]models.LogRecord, error) {
	var recs []models.LogRecord
	if err := s.newest(ctx).Where("created_at >= ?", since).Find(&recs).Error; err != nil {
		return nil, persistenceError("list log records since", err)
	}
	return recs, nil
}

func (s *GormStore) Count(ctx context.Context, f Filter) (int64, error) {
	query := s.db.WithContext(ctx).Model(&models.LogRecord{})
	if f.Risk != "" {
		query = query.Where("risk = ?", f.Risk)
	}
	if f.RiskEmpty {
		query = query.Where("COALESCE(TRIM(risk), '') = ''")
	}
	if f.Category != "" {
		query = query.Where("incident_category = ?", f.Category)
	}
	if f.PIIFound != nil {
		query = query.Where("pii_found = ?", *f.PIIFound)
	}
	if f.LearnEnabled != nil {
		query = query.Where("learn_enabled = ?", *f.LearnEnabled)
	}
	if f.LearnCompleted != nil {
		query = query.Where("learn_completed = ?", *f.LearnCompleted)
	}
	if f.LearnQueue {
		query = query.Where(learnQueueClause, true, false)
	}
	if !f.Since.IsZero() {
		query = query.Where("created_at >= ?", f.Since)
	}

	var n int64
	if err := query.Count(&n).Error; err != nil {
		return 0, persistenceError("count log records", err)
	}
	return n, nil
}

func (s *GormStore) PatchLearnState(ctx context.Context, key string, patch models.LearnPatch) (models.LogRecord, error) {
	unlock := s.locks.Lock(key)
	defer unlock()

	var rec models.LogRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("log_key = ?", key).Take(&rec).Error; err != nil {
			return err
		}
		patch.Apply(&rec)
		stamp(&rec, rec.CreatedAt, s.now())

		return tx.Model(&models.LogRecord{}).Where("log_key = ?", key).Updates(map[string]interface{}{
			"learn_enabled":           rec.LearnEnabled,
			"learn_completed":         rec.LearnCompleted,
			"final_risk_for_learning": rec.FinalRiskForLearning,
			"updated_at":              rec.UpdatedAt,
		}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.LogRecord{}, ErrNotFound
		}
		return models.LogRecord{}, persistenceError("patch learn state", err)
	}
	return rec, nil
}

func (s *GormStore) AddKBItem(ctx context.Context, item models.KBItem) (models.KBItem, error) {
	item.ID = 0
	item.CreatedAt = s.now()
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		return models.KBItem{}, persistenceError("add kb item", err)
	}
	return item, nil
}

func (s *GormStore) ListKBItems(ctx context.Context, f models.KBFilter) ([]models.KBItem, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if f.Risk != "" {
		query = query.Where("risk = ?", f.Risk)
	}
	if f.Category != "" {
		query = query.Where(clause.Or(
			clause.Eq{Column: clause.Column{Name: "incident_category"}, Value: f.Category},
			datatypes.JSONQuery("meta").Equals(f.Category, "incident_category"),
		))
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var items []models.KBItem
	if err := query.Find(&items).Error; err != nil {
		return nil, persistenceError("list kb items", err)
	}
	return items, nil
}

func (s *GormStore) ExportKB(ctx context.Context) ([]models.KBItem, error) {
	var items []models.KBItem
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&items).Error; err != nil {
		return nil, persistenceError("export kb items", err)
	}
	return items, nil
}

func (s *GormStore) CountKB(ctx context.Context, since time.Time) (int64, error) {
	query := s.db.WithContext(ctx).Model(&models.KBItem{})
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}
	var n int64
	if err := query.Count(&n).Error; err != nil {
		return 0, persistenceError("count kb items", err)
	}
	return n, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return persistenceError("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return persistenceError("ping", err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) newest(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Order("created_at DESC").Order("log_key DESC")
}
