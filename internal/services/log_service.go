package services

import (
	"context"
	"errors"
	"time"

	"github.com/secureflow/backend/internal/cache"
	"github.com/secureflow/backend/internal/keylock"
	"github.com/secureflow/backend/internal/logger"
	"github.com/secureflow/backend/internal/models"
	"github.com/secureflow/backend/internal/normalizer"
	"github.com/secureflow/backend/internal/observability"
	"github.com/secureflow/backend/internal/store"
	"github.com/secureflow/backend/internal/stream"
	"golang.org/x/sync/errgroup"
)

// IngestResult is returned to the pipeline after a successful ingest.
type IngestResult struct {
	Accepted models.LogRecord `json:"accepted"`
	// Summary is omitted when the counts could not be read; the write
	// itself has already been committed and published by then.
	Summary *models.Summary `json:"summary,omitempty"`
}

// LogService owns the write path: normalize, persist, then update the
// working cache and publish, in that order.
type LogService struct {
	store      store.Store
	cache      *cache.WorkingCache
	bus        *stream.Bus
	normalizer *normalizer.Normalizer
	metrics    *observability.Metrics
	locks      keylock.Mutex
}

// NewLogService creates a new log service. metrics may be nil.
func NewLogService(st store.Store, c *cache.WorkingCache, bus *stream.Bus, n *normalizer.Normalizer, metrics *observability.Metrics) *LogService {
	return &LogService{
		store:      st,
		cache:      c,
		bus:        bus,
		normalizer: n,
		metrics:    metrics,
	}
}

// WarmCache rebuilds the working cache from the store's newest records.
func (s *LogService) WarmCache(ctx context.Context) error {
	recs, err := s.store.ListRecent(ctx, s.cache.Bound())
	if err != nil {
		return err
	}
	s.cache.Load(recs)
	logger.Info("Working cache loaded", map[string]interface{}{
		"records": len(recs),
		"bound":   s.cache.Bound(),
	})
	return nil
}

// write runs op under the key lock and, only if it succeeds, updates the
// cache and publishes the stored record. Holding the key lock across both
// keeps cache and subscriber order equal to commit order for that key.
func (s *LogService) write(key string, op func() (models.LogRecord, error)) (models.LogRecord, error) {
	unlock := s.locks.Lock(key)
	defer unlock()

	stored, err := op()
	if err != nil {
		return models.LogRecord{}, err
	}
	s.bus.Publish(stored, func() { s.cache.Put(stored) })
	return stored, nil
}

// Ingest normalizes raw, upserts it and publishes the stored record.
func (s *LogService) Ingest(ctx context.Context, raw []byte) (IngestResult, error) {
	start := time.Now()

	rec, err := s.normalizer.Normalize(raw)
	if err != nil {
		s.metrics.RecordIngest(observability.OutcomeInvalid, 0)
		return IngestResult{}, &ValidationError{Field: "body", Message: err.Error()}
	}

	stored, err := s.write(rec.Key, func() (models.LogRecord, error) {
		return s.store.Upsert(ctx, rec)
	})
	if err != nil {
		s.metrics.RecordIngest(observability.OutcomeFailed, 0)
		logger.WithError(err, "log_service").WithField("log_key", rec.Key).Error("Failed to store log record")
		return IngestResult{}, err
	}
	s.metrics.RecordIngest(observability.OutcomeAccepted, time.Since(start).Seconds())

	logger.WithRecord(stored.Key, stored.Risk).WithField("title", stored.Title).Info("Log record ingested")

	result := IngestResult{Accepted: stored}
	summary, err := s.GetSummary(ctx)
	if err != nil {
		logger.WithError(err, "log_service").Warn("Summary unavailable after ingest")
		return result, nil
	}
	result.Summary = &summary
	return result, nil
}

// GetRecent returns the newest records. Requests within the cache bound are
// served from memory; larger ones go to the store.
func (s *LogService) GetRecent(ctx context.Context, limit int) ([]models.LogRecord, error) {
	if limit <= 0 {
		limit = s.cache.Bound()
	}
	if limit <= s.cache.Bound() {
		return s.cache.Recent(limit), nil
	}
	return s.store.ListRecent(ctx, limit)
}

func (s *LogService) GetByKey(ctx context.Context, key string) (models.LogRecord, error) {
	return s.store.GetByKey(ctx, key)
}

// ReplaceFields merges the fields present in raw onto the stored record and
// writes the whole record back. CreatedAt is kept by the store.
func (s *LogService) ReplaceFields(ctx context.Context, key string, raw []byte) (models.LogRecord, error) {
	return s.write(key, func() (models.LogRecord, error) {
		existing, err := s.store.GetByKey(ctx, key)
		if err != nil {
			return models.LogRecord{}, err
		}
		merged, err := s.normalizer.Merge(existing, raw)
		if err != nil {
			return models.LogRecord{}, &ValidationError{Field: "body", Message: err.Error()}
		}
		merged.Key = key
		return s.store.Upsert(ctx, merged)
	})
}

// MarkLearnComplete applies a learning-state patch. learnCompleted is set
// to true unless the patch says otherwise.
func (s *LogService) MarkLearnComplete(ctx context.Context, key string, patch models.LearnPatch) (models.LogRecord, error) {
	if patch.LearnCompleted == nil {
		done := true
		patch.LearnCompleted = &done
	}
	rec, err := s.write(key, func() (models.LogRecord, error) {
		return s.store.PatchLearnState(ctx, key, patch)
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.WithError(err, "log_service").WithField("log_key", key).Error("Failed to update learn state")
		}
		return models.LogRecord{}, err
	}
	logger.WithRecord(rec.Key, rec.Risk).WithFields(map[string]interface{}{
		"learn_enabled":   rec.LearnEnabled,
		"learn_completed": rec.LearnCompleted,
	}).Info("Learn state updated")
	return rec, nil
}

// ParseLearnPatch extracts a learning patch from a raw request body.
func (s *LogService) ParseLearnPatch(raw []byte) (models.LearnPatch, error) {
	if len(raw) == 0 {
		return models.LearnPatch{}, nil
	}
	patch, err := s.normalizer.LearnPatch(raw)
	if err != nil {
		return models.LearnPatch{}, &ValidationError{Field: "body", Message: err.Error()}
	}
	return patch, nil
}

func (s *LogService) ListLearnQueue(ctx context.Context) ([]models.LogRecord, error) {
	return s.store.ListLearnQueue(ctx)
}

// GetSummary computes the all-time dashboard counts. The counts are read
// concurrently and are not a single consistent snapshot.
func (s *LogService) GetSummary(ctx context.Context) (models.Summary, error) {
	var sum models.Summary
	g, gctx := errgroup.WithContext(ctx)

	count := func(dst *int64, f store.Filter) {
		g.Go(func() error {
			n, err := s.store.Count(gctx, f)
			*dst = n
			return err
		})
	}
	count(&sum.Total, store.Filter{})
	count(&sum.High, store.Filter{Risk: models.RiskHigh})
	count(&sum.PIICases, store.Filter{PIIFound: store.Bool(true)})
	count(&sum.LearnQueue, store.Filter{LearnQueue: true})
	count(&sum.Learned, store.Filter{LearnCompleted: store.Bool(true)})
	count(&sum.Exfiltration, store.Filter{Category: models.CategoryExfiltration})
	count(&sum.CredentialAbuse, store.Filter{Category: models.CategoryCredentialAbuse})
	count(&sum.Misconfiguration, store.Filter{Category: models.CategoryMisconfiguration})
	g.Go(func() error {
		n, err := s.store.CountKB(gctx, time.Time{})
		sum.KBCount = n
		return err
	})

	if err := g.Wait(); err != nil {
		return models.Summary{}, err
	}
	return sum, nil
}

// Subscribe attaches a live subscriber whose snapshot is the working cache.
// The caller must Unsubscribe when its transport closes.
func (s *LogService) Subscribe(transport string) *stream.Subscriber {
	return s.bus.Subscribe(transport, s.cache.Snapshot)
}

func (s *LogService) Unsubscribe(sub *stream.Subscriber) {
	s.bus.Unsubscribe(sub)
}

// CachedKeys lists the working cache keys, newest first.
func (s *LogService) CachedKeys() []string {
	return s.cache.Keys()
}

// CacheSize returns the number of records held in the working cache.
func (s *LogService) CacheSize() int {
	return s.cache.Len()
}

// PublishedSeq returns the sequence number of the last published record.
func (s *LogService) PublishedSeq() uint64 {
	return s.bus.Seq()
}

// Subscribers returns the number of attached live subscribers.
func (s *LogService) Subscribers() int {
	return s.bus.Len()
}

// Ping checks the store.
func (s *LogService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
