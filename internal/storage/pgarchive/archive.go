// Package pgarchive stores session state in PostgreSQL.
package pgarchive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/storage"
	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
)

var _ storage.Archive = (*Archive)(nil)

// Schema creates the archive tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS annomesh_sessions (
	session_id TEXT PRIMARY KEY,
	seq        BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS annomesh_annotations (
	session_id    TEXT NOT NULL,
	annotation_id TEXT NOT NULL,
	created_at    BIGINT NOT NULL,
	body          JSONB NOT NULL,
	PRIMARY KEY (session_id, annotation_id)
);
CREATE TABLE IF NOT EXISTS annomesh_layers (
	session_id TEXT NOT NULL,
	layer_id   TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	body       JSONB NOT NULL,
	PRIMARY KEY (session_id, layer_id)
);
`

// Config configures the PostgreSQL archive.
type Config struct {
	// DSN is a libpq connection string or URL.
	DSN string

	// MaxConns bounds the pool. Zero keeps the pgx default.
	MaxConns int32

	// ConnectTimeout bounds the initial ping.
	ConnectTimeout time.Duration
}

// Archive is a storage.Archive backed by a pgx connection pool.
type Archive struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects, verifies the connection and applies Schema.
func Open(ctx context.Context, cfg Config, l *slog.Logger) (*Archive, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pgarchive: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgarchive: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgarchive: connect: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgarchive: ping: %w", err)
	}
	if _, err := pool.Exec(connectCtx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgarchive: apply schema: %w", err)
	}

	l = logger.OrDiscard(l)
	l.Info("postgres archive connected", "dsn", logger.RedactURL(cfg.DSN))
	return &Archive{pool: pool, logger: l}, nil
}

const upsertSeq = `
INSERT INTO annomesh_sessions (session_id, seq) VALUES ($1, $2)
ON CONFLICT (session_id) DO UPDATE
SET seq = GREATEST(annomesh_sessions.seq, EXCLUDED.seq), updated_at = now()`

const upsertAnnotation = `
INSERT INTO annomesh_annotations (session_id, annotation_id, created_at, body) VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id, annotation_id) DO UPDATE SET body = EXCLUDED.body`

const upsertLayer = `
INSERT INTO annomesh_layers (session_id, layer_id, created_at, body) VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id, layer_id) DO UPDATE SET body = EXCLUDED.body`

// SaveAnnotation implements storage.Archive.
func (a *Archive) SaveAnnotation(ctx context.Context, sessionID string, ann *domain.Annotation, seq uint64) error {
	body, err := json.Marshal(ann)
	if err != nil {
		return fmt.Errorf("pgarchive: encode annotation: %w", err)
	}
	batch := &pgx.Batch{}
	batch.Queue(upsertAnnotation, sessionID, ann.ID, ann.CreatedAt, body)
	batch.Queue(upsertSeq, sessionID, int64(seq))
	return a.sendBatch(ctx, batch)
}

// DeleteAnnotation implements storage.Archive.
func (a *Archive) DeleteAnnotation(ctx context.Context, sessionID, annotationID string, seq uint64) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM annomesh_annotations WHERE session_id = $1 AND annotation_id = $2`, sessionID, annotationID)
	batch.Queue(upsertSeq, sessionID, int64(seq))
	return a.sendBatch(ctx, batch)
}

// SaveLayer implements storage.Archive.
func (a *Archive) SaveLayer(ctx context.Context, sessionID string, l *domain.Layer) error {
	body, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("pgarchive: encode layer: %w", err)
	}
	batch := &pgx.Batch{}
	batch.Queue(upsertLayer, sessionID, l.ID, l.CreatedAt, body)
	batch.Queue(upsertSeq, sessionID, int64(0))
	return a.sendBatch(ctx, batch)
}

// DeleteLayer implements storage.Archive.
func (a *Archive) DeleteLayer(ctx context.Context, sessionID, layerID string) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM annomesh_layers WHERE session_id = $1 AND layer_id = $2`, sessionID, layerID)
	if err != nil {
		return fmt.Errorf("pgarchive: delete layer: %w", err)
	}
	return nil
}

// ReplaceSession implements storage.Archive.
func (a *Archive) ReplaceSession(ctx context.Context, snap *domain.Snapshot) error {
	return pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM annomesh_annotations WHERE session_id = $1`, snap.SessionID)
		batch.Queue(`DELETE FROM annomesh_layers WHERE session_id = $1`, snap.SessionID)
		batch.Queue(`INSERT INTO annomesh_sessions (session_id, seq) VALUES ($1, $2)
ON CONFLICT (session_id) DO UPDATE SET seq = EXCLUDED.seq, updated_at = now()`, snap.SessionID, int64(snap.Seq))
		for _, ann := range snap.Annotations {
			body, err := json.Marshal(ann)
			if err != nil {
				return err
			}
			batch.Queue(upsertAnnotation, snap.SessionID, ann.ID, ann.CreatedAt, body)
		}
		for _, l := range snap.Layers {
			body, err := json.Marshal(l)
			if err != nil {
				return err
			}
			batch.Queue(upsertLayer, snap.SessionID, l.ID, l.CreatedAt, body)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// Load implements storage.Archive.
func (a *Archive) Load(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	var seq int64
	err := a.pool.QueryRow(ctx, `SELECT seq FROM annomesh_sessions WHERE session_id = $1`, sessionID).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgarchive: load session: %w", err)
	}

	snap := &domain.Snapshot{SessionID: sessionID, Seq: uint64(seq), TakenAt: time.Now().UnixMilli()}

	rows, err := a.pool.Query(ctx,
		`SELECT body FROM annomesh_annotations WHERE session_id = $1 ORDER BY created_at, annotation_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("pgarchive: load annotations: %w", err)
	}
	snap.Annotations, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Annotation, error) {
		var body []byte
		if err := row.Scan(&body); err != nil {
			return nil, err
		}
		var ann domain.Annotation
		return &ann, json.Unmarshal(body, &ann)
	})
	if err != nil {
		return nil, fmt.Errorf("pgarchive: decode annotations: %w", err)
	}

	rows, err = a.pool.Query(ctx,
		`SELECT body FROM annomesh_layers WHERE session_id = $1 ORDER BY created_at, layer_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("pgarchive: load layers: %w", err)
	}
	snap.Layers, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Layer, error) {
		var body []byte
		if err := row.Scan(&body); err != nil {
			return nil, err
		}
		var l domain.Layer
		return &l, json.Unmarshal(body, &l)
	})
	if err != nil {
		return nil, fmt.Errorf("pgarchive: decode layers: %w", err)
	}

	storage.SortSnapshot(snap)
	return snap, nil
}

func (a *Archive) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if err := a.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("pgarchive: write: %w", err)
	}
	return nil
}

// Close releases the pool.
func (a *Archive) Close() error {
	a.pool.Close()
	return nil
}
