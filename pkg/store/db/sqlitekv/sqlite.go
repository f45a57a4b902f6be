// Package sqlitekv is a single-file modernc.org/sqlite backend of db.KV.
package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"chatevents/pkg/logger"
	"chatevents/pkg/store/db"
)

// Empty values are bound as NULL by the driver; writes coalesce them to a
// zero-length blob.
const schema = `CREATE TABLE IF NOT EXISTS kv (
	k BLOB PRIMARY KEY,
	v BLOB NOT NULL
) WITHOUT ROWID`

// scanPage bounds how many rows are buffered before callbacks run, so that a
// callback may write to the store without holding an open cursor.
const scanPage = 512

// Options configures the SQLite store.
type Options struct {
	// Path is the database file, or ":memory:".
	Path  string
	Fsync db.FsyncMode
	// Metrics observes read and commit latencies. Optional.
	Metrics db.MetricsHook
}

// Store is a db.KV over one SQLite table.
type Store struct {
	conn    *sql.DB
	metrics db.MetricsHook
}

var _ db.KV = (*Store)(nil)

// Open opens or creates the database at opts.Path.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("sqlitekv: Options.Path is required")
	}
	sync := "NORMAL"
	switch opts.Fsync {
	case db.FsyncModeAlways:
		sync = "FULL"
	case db.FsyncModeNever:
		sync = "OFF"
	}
	conn, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", opts.Path, err)
	}
	// one connection keeps ":memory:" databases shared and serialises writers
	conn.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=" + sync,
		"PRAGMA busy_timeout=5000",
	}
	if opts.Path == ":memory:" {
		pragmas = pragmas[1:]
	}
	for _, p := range append(pragmas, schema) {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			logger.Error("sqlite_init_failed", "path", opts.Path, "stmt", p, "error", err)
			return nil, fmt.Errorf("init sqlite %s: %w", opts.Path, err)
		}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = db.NoopMetrics{}
	}
	logger.Info("sqlite_opened", "path", opts.Path, "synchronous", sync)
	return &Store{conn: conn, metrics: metrics}, nil
}

// OpenInMemory opens an empty private database.
func OpenInMemory() (*Store, error) {
	return Open(Options{Path: ":memory:"})
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Store) Get(key []byte) ([]byte, error) {
	if s.conn == nil {
		return nil, db.ErrClosed
	}
	start := time.Now()
	var v []byte
	err := s.conn.QueryRow(`SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = []byte{}
	}
	s.metrics.ObserveRead(time.Since(start), len(v))
	return v, nil
}

func (s *Store) Set(key, value []byte) error {
	b := s.NewBatch()
	defer b.Close()
	if err := b.Set(key, value); err != nil {
		return err
	}
	return b.Commit(context.Background())
}

func (s *Store) Delete(key []byte) error {
	b := s.NewBatch()
	defer b.Close()
	if err := b.Delete(key); err != nil {
		return err
	}
	return b.Commit(context.Background())
}

func (s *Store) NewBatch() db.Batch {
	return &batch{store: s}
}

// Scan pages through the range, releasing the cursor before each page's
// callbacks run.
func (s *Store) Scan(ctx context.Context, opts db.ScanOptions, fn func(key, value []byte) (bool, error)) error {
	if s.conn == nil {
		return db.ErrClosed
	}
	lower := opts.Lower
	upper := opts.Upper
	lowerIncl, upperExcl := true, true
	seen := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		limit := scanPage
		if opts.Limit > 0 && opts.Limit-seen < limit {
			limit = opts.Limit - seen
		}
		ks, vs, err := s.page(ctx, lower, lowerIncl, upper, upperExcl, opts.Reverse, limit)
		if err != nil {
			return err
		}
		for i := range ks {
			cont, err := fn(ks[i], vs[i])
			if err != nil {
				return err
			}
			seen++
			if !cont || (opts.Limit > 0 && seen >= opts.Limit) {
				return nil
			}
		}
		if len(ks) < limit {
			return nil
		}
		last := ks[len(ks)-1]
		if opts.Reverse {
			upper, upperExcl = last, true
		} else {
			lower, lowerIncl = last, false
		}
	}
}

func (s *Store) page(ctx context.Context, lower []byte, lowerIncl bool, upper []byte, upperExcl bool, reverse bool, limit int) ([][]byte, [][]byte, error) {
	var (
		where []string
		args  []any
	)
	if lower != nil {
		if lowerIncl {
			where = append(where, "k >= ?")
		} else {
			where = append(where, "k > ?")
		}
		args = append(args, lower)
	}
	if upper != nil && upperExcl {
		where = append(where, "k < ?")
		args = append(args, upper)
	}
	q := "SELECT k, v FROM kv"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	if reverse {
		q += " ORDER BY k DESC"
	} else {
		q += " ORDER BY k ASC"
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var ks, vs [][]byte
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, nil, err
		}
		if v == nil {
			v = []byte{}
		}
		ks = append(ks, k)
		vs = append(vs, v)
	}
	return ks, vs, rows.Err()
}

type op struct {
	key   []byte
	value []byte
	del   bool
}

type batch struct {
	store *Store
	ops   []op
	done  bool
}

func (b *batch) Set(key, value []byte) error {
	if b.done {
		return db.ErrClosed
	}
	b.ops = append(b.ops, op{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	return nil
}

func (b *batch) Delete(key []byte) error {
	if b.done {
		return db.ErrClosed
	}
	b.ops = append(b.ops, op{key: append([]byte(nil), key...), del: true})
	return nil
}

func (b *batch) Count() int { return len(b.ops) }

func (b *batch) Commit(ctx context.Context) error {
	if b.done || b.store.conn == nil {
		return db.ErrClosed
	}
	start := time.Now()
	tx, err := b.store.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	size := 0
	for _, o := range b.ops {
		if o.del {
			_, err = tx.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, o.key)
		} else {
			_, err = tx.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES (?, COALESCE(?, x'')) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, o.key, o.value)
			size += len(o.key) + len(o.value)
		}
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	b.store.metrics.ObserveBatchCommit(time.Since(start), len(b.ops), size)
	b.done = true
	return nil
}

func (b *batch) Close() error {
	b.done = true
	b.ops = nil
	return nil
}
