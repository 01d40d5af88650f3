package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/secureflow/backend/internal/keylock"
	"github.com/secureflow/backend/internal/models"
	"github.com/sirupsen/logrus"
)

// Key layout:
//
//	log/<key>                      CBOR LogRecord
//	ts/<createdAt ns, 20 digits>/<key>   recency index, empty value
//	kb/<id, 20 digits>             CBOR KBItem
//	seq/kb                         KB id sequence
var (
	logPrefix = []byte("log/")
	tsPrefix  = []byte("ts/")
	kbPrefix  = []byte("kb/")
	kbSeqKey  = []byte("seq/kb")
)

const tsDigits = 20

// BadgerConfig configures the embedded store.
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is true.
	Path     string
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// GCInterval paces value-log GC in RunGC. Zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64
	// Logger receives badger's internal logging. Nil silences it.
	Logger logrus.FieldLogger
}

// DefaultBadgerConfig returns production defaults for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// badgerLogger adapts logrus to badger.Logger.
type badgerLogger struct {
	log logrus.FieldLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.log.Infof(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }

// BadgerStore keeps records in an embedded BadgerDB.
type BadgerStore struct {
	db    *badger.DB
	kbSeq *badger.Sequence
	cfg   BadgerConfig
	now   Clock
	locks keylock.Mutex

	closeOnce sync.Once
	closeErr  error
}

// OpenBadger opens (creating if needed) a store described by cfg.
func OpenBadger(cfg BadgerConfig, opts ...Option) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required for a persistent store")
	}

	var bopts badger.Options
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		bopts = badger.DefaultOptions(cfg.Path)
	}
	bopts = bopts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		bopts = bopts.WithLogger(badgerLogger{log: cfg.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	seq, err := db.GetSequence(kbSeqKey, 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open kb sequence: %w", err)
	}

	o := buildOptions(opts)
	return &BadgerStore{db: db, kbSeq: seq, cfg: cfg, now: o.clock}, nil
}

// OpenBadgerInMemory opens a throwaway store, used by tests and demos.
func OpenBadgerInMemory(opts ...Option) (*BadgerStore, error) {
	return OpenBadger(BadgerConfig{InMemory: true}, opts...)
}

func recordKey(key string) []byte {
	return append(append([]byte{}, logPrefix...), key...)
}

func tsKey(createdAt time.Time, key string) []byte {
	k := make([]byte, 0, len(tsPrefix)+tsDigits+1+len(key))
	k = append(k, tsPrefix...)
	k = append(k, fmt.Sprintf("%0*d", tsDigits, createdAt.UnixNano())...)
	k = append(k, '/')
	return append(k, key...)
}

func tsKeyParts(k []byte) (int64, string) {
	body := k[len(tsPrefix):]
	ns, _ := strconv.ParseInt(string(body[:tsDigits]), 10, 64)
	return ns, string(body[tsDigits+1:])
}

func kbKey(id uint) []byte {
	return []byte(fmt.Sprintf("%s%0*d", kbPrefix, tsDigits, id))
}

func getRecord(txn *badger.Txn, key string) (models.LogRecord, error) {
	item, err := txn.Get(recordKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.LogRecord{}, ErrNotFound
	}
	if err != nil {
		return models.LogRecord{}, err
	}
	var rec models.LogRecord
	err = item.Value(func(val []byte) error {
		return unmarshal(val, &rec)
	})
	return rec, err
}

func putRecord(txn *badger.Txn, rec models.LogRecord) error {
	val, err := marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.Key, err)
	}
	return txn.Set(recordKey(rec.Key), val)
}

// scan walks every key under prefix. fn returns false to stop early.
func scan(txn *badger.Txn, prefix []byte, reverse, values bool, fn func(item *badger.Item) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = reverse
	opts.PrefetchValues = values
	it := txn.NewIterator(opts)
	defer it.Close()

	start := prefix
	if reverse {
		start = append(append([]byte{}, prefix...), 0xFF)
	}
	for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
		more, err := fn(it.Item())
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (s *BadgerStore) Upsert(ctx context.Context, rec models.LogRecord) (models.LogRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.LogRecord{}, err
	}
	unlock := s.locks.Lock(rec.Key)
	defer unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := getRecord(txn, rec.Key)
		switch {
		case errors.Is(err, ErrNotFound):
			stamp(&rec, time.Time{}, s.now())
			if err := txn.Set(tsKey(rec.CreatedAt, rec.Key), []byte{}); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			stamp(&rec, existing.CreatedAt, s.now())
		}
		return putRecord(txn, rec)
	})
	if err != nil {
		return models.LogRecord{}, persistenceError("upsert log record", err)
	}
	return rec, nil
}

func (s *BadgerStore) GetByKey(ctx context.Context, key string) (models.LogRecord, error) {
	var rec models.LogRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, key)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return models.LogRecord{}, ErrNotFound
	}
	if err != nil {
		return models.LogRecord{}, persistenceError("get log record", err)
	}
	return rec, nil
}

func (s *BadgerStore) ListRecent(ctx context.Context, limit int) ([]models.LogRecord, error) {
	recs := []models.LogRecord{}
	if limit <= 0 {
		return recs, nil
	}
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, tsPrefix, true, false, func(item *badger.Item) (bool, error) {
			_, key := tsKeyParts(item.Key())
			rec, err := getRecord(txn, key)
			if err != nil {
				return false, err
			}
			recs = append(recs, rec)
			return len(recs) < limit, nil
		})
	})
	if err != nil {
		return nil, persistenceError("list recent log records", err)
	}
	return recs, nil
}

func (s *BadgerStore) ListSince(ctx context.Context, since time.Time) ([]models.LogRecord, error) {
	recs := []models.LogRecord{}
	floor := since.UnixNano()
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, tsPrefix, true, false, func(item *badger.Item) (bool, error) {
			ns, key := tsKeyParts(item.Key())
			if ns < floor {
				return false, nil
			}
			rec, err := getRecord(txn, key)
			if err != nil {
				return false, err
			}
			recs = append(recs, rec)
			return true, nil
		})
	})
	if err != nil {
		return nil, persistenceError("list log records since", err)
	}
	return recs, nil
}

// all decodes every record matching f.
func (s *BadgerStore) all(f Filter) ([]models.LogRecord, error) {
	var recs []models.LogRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, logPrefix, false, true, func(item *badger.Item) (bool, error) {
			var rec models.LogRecord
			if err := item.Value(func(val []byte) error { return unmarshal(val, &rec) }); err != nil {
				return false, err
			}
			if f.Match(rec) {
				recs = append(recs, rec)
			}
			return true, nil
		})
	})
	return recs, err
}

func (s *BadgerStore) ListLearnQueue(ctx context.Context) ([]models.LogRecord, error) {
	recs, err := s.all(Filter{LearnQueue: true})
	if err != nil {
		return nil, persistenceError("list learn queue", err)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].Key > recs[j].Key
	})
	if recs == nil {
		recs = []models.LogRecord{}
	}
	return recs, nil
}

func (s *BadgerStore) Count(ctx context.Context, f Filter) (int64, error) {
	recs, err := s.all(f)
	if err != nil {
		return 0, persistenceError("count log records", err)
	}
	return int64(len(recs)), nil
}

func (s *BadgerStore) PatchLearnState(ctx context.Context, key string, patch models.LearnPatch) (models.LogRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.LogRecord{}, err
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	var rec models.LogRecord
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, key)
		if err != nil {
			return err
		}
		patch.Apply(&rec)
		stamp(&rec, rec.CreatedAt, s.now())
		return putRecord(txn, rec)
	})
	if errors.Is(err, ErrNotFound) {
		return models.LogRecord{}, ErrNotFound
	}
	if err != nil {
		return models.LogRecord{}, persistenceError("patch learn state", err)
	}
	return rec, nil
}

func (s *BadgerStore) AddKBItem(ctx context.Context, item models.KBItem) (models.KBItem, error) {
	if err := ctx.Err(); err != nil {
		return models.KBItem{}, err
	}
	n, err := s.kbSeq.Next()
	if err != nil {
		return models.KBItem{}, persistenceError("allocate kb id", err)
	}
	// Sequences start at zero; ids start at one like a SQL serial.
	item.ID = uint(n + 1)
	item.CreatedAt = s.now()

	val, err := marshal(item)
	if err != nil {
		return models.KBItem{}, fmt.Errorf("encode kb item: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(kbKey(item.ID), val)
	})
	if err != nil {
		return models.KBItem{}, persistenceError("add kb item", err)
	}
	return item, nil
}

func (s *BadgerStore) kbItems(reverse bool, fn func(models.KBItem) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		return scan(txn, kbPrefix, reverse, true, func(it *badger.Item) (bool, error) {
			var item models.KBItem
			if err := it.Value(func(val []byte) error { return unmarshal(val, &item) }); err != nil {
				return false, err
			}
			return fn(item), nil
		})
	})
}

func (s *BadgerStore) ListKBItems(ctx context.Context, f models.KBFilter) ([]models.KBItem, error) {
	items := []models.KBItem{}
	err := s.kbItems(true, func(item models.KBItem) bool {
		if matchKB(f, item) {
			items = append(items, item)
		}
		return f.Limit <= 0 || len(items) < f.Limit
	})
	if err != nil {
		return nil, persistenceError("list kb items", err)
	}
	// Ids are allocated before commit, so re-sort by creation time.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (s *BadgerStore) ExportKB(ctx context.Context) ([]models.KBItem, error) {
	items := []models.KBItem{}
	err := s.kbItems(false, func(item models.KBItem) bool {
		items = append(items, item)
		return true
	})
	if err != nil {
		return nil, persistenceError("export kb items", err)
	}
	return items, nil
}

func (s *BadgerStore) CountKB(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.kbItems(false, func(item models.KBItem) bool {
		if since.IsZero() || !item.CreatedAt.Before(since) {
			n++
		}
		return true
	})
	if err != nil {
		return 0, persistenceError("count kb items", err)
	}
	return n, nil
}

func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return persistenceError("ping", errors.New("badger database is closed"))
	}
	return nil
}

// RunGC triggers value-log garbage collection every GCInterval until ctx ends.
// It returns immediately for in-memory stores or a zero interval.
func (s *BadgerStore) RunGC(ctx context.Context) error {
	if s.cfg.InMemory || s.cfg.GCInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := s.db.RunValueLogGC(s.cfg.GCDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && s.cfg.Logger != nil {
				s.cfg.Logger.WithField("error", err.Error()).Warn("badger value log GC failed")
			}
		}
	}
}

// Close releases the KB sequence and closes the database. Later calls
// return the first result.
func (s *BadgerStore) Close() error {
	s.closeOnce.Do(func() {
		if err := s.kbSeq.Release(); err != nil {
			s.db.Close()
			s.closeErr = err
			return
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

var (
	_ Store = (*BadgerStore)(nil)
	_ Store = (*GormStore)(nil)
)
