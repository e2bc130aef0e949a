package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/pkg/crypto/adaptive"
)

// BadgerConfig contains Badger tuning parameters.
type BadgerConfig struct {
	// Dir is the storage directory.
	Dir string

	// GCInterval is the interval between value log GC runs.
	// Default: 10m
	GCInterval time.Duration

	// GCThreshold is the discard ratio passed to RunValueLogGC.
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 64MB
	CacheSize int64

	// SyncWrites enables fsync after each write.
	SyncWrites bool

	// InMemory runs Badger without touching disk. Used by tests.
	InMemory bool

	// Cipher, when set, encrypts every stored value. The record key is
	// bound as additional data so values cannot be swapped between keys.
	Cipher adaptive.Cipher
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{
		Dir:         dir,
		GCInterval:  10 * time.Minute,
		GCThreshold: 0.5,
		CacheSize:   64 << 20, // 64MB
	}
}

// Key layout:
//
//	s/{session}/a/{annotation} -> JSON annotation
//	s/{session}/l/{layer}      -> JSON layer
//	s/{session}/seq            -> big-endian uint64
const keyPrefix = "s/"

func sessionPrefix(sessionID string) []byte {
	return []byte(keyPrefix + sessionID + "/")
}

func annotationKey(sessionID, id string) []byte {
	return []byte(keyPrefix + sessionID + "/a/" + id)
}

func layerKey(sessionID, id string) []byte {
	return []byte(keyPrefix + sessionID + "/l/" + id)
}

func seqKey(sessionID string) []byte {
	return []byte(keyPrefix + sessionID + "/seq")
}

// BadgerArchive is an Archive backed by Badger v3.
type BadgerArchive struct {
	db     *badger.DB
	cfg    BadgerConfig
	cipher adaptive.Cipher
	logger *slog.Logger

	closed           atomic.Bool
	lastGCTime       atomic.Int64 // Unix milliseconds
	gcRuns           atomic.Uint64
	metricsLSMSize   prometheus.Gauge
	metricsVLogSize  prometheus.Gauge
	metricsLastGC    prometheus.Gauge
	metricsGCRunsCtr prometheus.Counter

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewBadgerArchive opens (or creates) a Badger archive.
func NewBadgerArchive(cfg BadgerConfig, logger *slog.Logger) (*BadgerArchive, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 10 * time.Minute
	}
	if cfg.GCThreshold <= 0 || cfg.GCThreshold >= 1 {
		cfg.GCThreshold = 0.5
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger}
	if cfg.CacheSize > 0 {
		opts.BlockCacheSize = cfg.CacheSize
	}
	opts.SyncWrites = cfg.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	a := &BadgerArchive{
		db:     db,
		cfg:    cfg,
		cipher: cfg.Cipher,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go a.gcLoop()

	logger.Info("badger archive opened",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"encrypted", cfg.Cipher != nil)
	return a, nil
}

func (a *BadgerArchive) seal(key []byte, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if a.cipher == nil {
		return raw, nil
	}
	return a.cipher.Encrypt(raw, key)
}

func (a *BadgerArchive) open(key, value []byte, v any) error {
	if a.cipher != nil {
		plain, err := a.cipher.Decrypt(value, key)
		if err != nil {
			return fmt.Errorf("decrypt %s: %w", key, err)
		}
		value = plain
	}
	return json.Unmarshal(value, v)
}

func (a *BadgerArchive) update(fn func(txn *badger.Txn) error) error {
	if a.closed.Load() {
		return ErrClosed
	}
	return a.db.Update(fn)
}

// raiseSeq stores seq if it is higher than the stored value.
func raiseSeq(txn *badger.Txn, sessionID string, seq uint64) error {
	key := seqKey(sessionID)
	item, err := txn.Get(key)
	switch {
	case err == nil:
		var cur []byte
		if cur, err = item.ValueCopy(nil); err != nil {
			return err
		}
		if len(cur) == 8 && binary.BigEndian.Uint64(cur) >= seq {
			return nil
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return txn.Set(key, buf)
}

// SaveAnnotation implements Archive.
func (a *BadgerArchive) SaveAnnotation(_ context.Context, sessionID string, ann *domain.Annotation, seq uint64) error {
	key := annotationKey(sessionID, ann.ID)
	value, err := a.seal(key, ann)
	if err != nil {
		return fmt.Errorf("badger: encode annotation: %w", err)
	}
	return a.update(func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return raiseSeq(txn, sessionID, seq)
	})
}

// DeleteAnnotation implements Archive.
func (a *BadgerArchive) DeleteAnnotation(_ context.Context, sessionID, annotationID string, seq uint64) error {
	return a.update(func(txn *badger.Txn) error {
		if err := txn.Delete(annotationKey(sessionID, annotationID)); err != nil {
			return err
		}
		return raiseSeq(txn, sessionID, seq)
	})
}

// SaveLayer implements Archive.
func (a *BadgerArchive) SaveLayer(_ context.Context, sessionID string, l *domain.Layer) error {
	key := layerKey(sessionID, l.ID)
	value, err := a.seal(key, l)
	if err != nil {
		return fmt.Errorf("badger: encode layer: %w", err)
	}
	return a.update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// DeleteLayer implements Archive.
func (a *BadgerArchive) DeleteLayer(_ context.Context, sessionID, layerID string) error {
	return a.update(func(txn *badger.Txn) error {
		return txn.Delete(layerKey(sessionID, layerID))
	})
}

// ReplaceSession implements Archive.
func (a *BadgerArchive) ReplaceSession(_ context.Context, snap *domain.Snapshot) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if err := a.db.DropPrefix(sessionPrefix(snap.SessionID)); err != nil {
		return fmt.Errorf("badger: drop session: %w", err)
	}

	wb := a.db.NewWriteBatch()
	defer wb.Cancel()
	for _, ann := range snap.Annotations {
		key := annotationKey(snap.SessionID, ann.ID)
		value, err := a.seal(key, ann)
		if err != nil {
			return fmt.Errorf("badger: encode annotation: %w", err)
		}
		if err := wb.Set(key, value); err != nil {
			return err
		}
	}
	for _, l := range snap.Layers {
		key := layerKey(snap.SessionID, l.ID)
		value, err := a.seal(key, l)
		if err != nil {
			return fmt.Errorf("badger: encode layer: %w", err)
		}
		if err := wb.Set(key, value); err != nil {
			return err
		}
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, snap.Seq)
	if err := wb.Set(seqKey(snap.SessionID), buf); err != nil {
		return err
	}
	return wb.Flush()
}

// Load implements Archive.
func (a *BadgerArchive) Load(_ context.Context, sessionID string) (*domain.Snapshot, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	prefix := sessionPrefix(sessionID)
	snap := &domain.Snapshot{SessionID: sessionID}
	found := false

	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			found = true

			rest := strings.TrimPrefix(string(key), string(prefix))
			switch {
			case rest == "seq":
				if len(value) == 8 {
					snap.Seq = binary.BigEndian.Uint64(value)
				}
			case strings.HasPrefix(rest, "a/"):
				var ann domain.Annotation
				if err := a.open(key, value, &ann); err != nil {
					return err
				}
				snap.Annotations = append(snap.Annotations, &ann)
			case strings.HasPrefix(rest, "l/"):
				var l domain.Layer
				if err := a.open(key, value, &l); err != nil {
					return err
				}
				snap.Layers = append(snap.Layers, &l)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: load %s: %w", sessionID, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	SortSnapshot(snap)
	snap.TakenAt = time.Now().UnixMilli()
	return snap, nil
}

// GC runs value log garbage collection until nothing more can be rewritten.
// Returns the number of rewritten value log files.
func (a *BadgerArchive) GC() (int, error) {
	runs := 0
	for {
		err := a.db.RunValueLogGC(a.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
				break
			}
			return runs, fmt.Errorf("badger: gc: %w", err)
		}
		runs++
	}
	a.lastGCTime.Store(time.Now().UnixMilli())
	a.gcRuns.Add(uint64(runs))
	if a.metricsGCRunsCtr != nil {
		a.metricsGCRunsCtr.Add(float64(runs))
	}
	return runs, nil
}

// Close stops background work and closes the database.
func (a *BadgerArchive) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(a.stopCh)
	<-a.doneCh
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("badger: close db: %w", err)
	}
	a.logger.Info("badger archive closed")
	return nil
}

// RegisterMetrics registers size and GC metrics with registry.
func (a *BadgerArchive) RegisterMetrics(registry prometheus.Registerer) *BadgerArchive {
	a.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "annomesh",
		Subsystem: "badger",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes",
	})
	a.metricsVLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "annomesh",
		Subsystem: "badger",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes",
	})
	a.metricsLastGC = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "annomesh",
		Subsystem: "badger",
		Name:      "last_gc_timestamp_seconds",
		Help:      "Unix timestamp of the last value log GC",
	})
	a.metricsGCRunsCtr = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "annomesh",
		Subsystem: "badger",
		Name:      "gc_rewrites_total",
		Help:      "Value log files rewritten by GC",
	})
	registry.MustRegister(a.metricsLSMSize, a.metricsVLogSize, a.metricsLastGC, a.metricsGCRunsCtr)
	a.updateMetrics()
	return a
}

func (a *BadgerArchive) updateMetrics() {
	if a.metricsLSMSize == nil {
		return
	}
	lsm, vlog := a.db.Size()
	a.metricsLSMSize.Set(float64(lsm))
	a.metricsVLogSize.Set(float64(vlog))
	if ts := a.lastGCTime.Load(); ts > 0 {
		a.metricsLastGC.Set(float64(ts) / 1000.0)
	}
}

func (a *BadgerArchive) gcLoop() {
	defer close(a.doneCh)

	gcTicker := time.NewTicker(a.cfg.GCInterval)
	defer gcTicker.Stop()
	metricsTicker := time.NewTicker(15 * time.Second)
	defer metricsTicker.Stop()

	for {
		select {
		case <-gcTicker.C:
			if _, err := a.GC(); err != nil {
				a.logger.Error("badger gc failed", "error", err)
			}
		case <-metricsTicker.C:
			a.updateMetrics()
		case <-a.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
