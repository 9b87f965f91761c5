// Package checkpoint persists the progress of a benchmark sweep so an
// interrupted sweep can resume without re-running completed repetitions.
//
// A checkpoint is a SQLite file holding one item per configuration with its
// remaining repetition count, the samples collected so far, the progress
// counters and the length of the output table at the last commit.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/weiihann/benchit/space"
)

// ErrNotFound is returned for a missing checkpoint file or configuration.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS items (
	key       TEXT PRIMARY KEY,
	params    TEXT NOT NULL,
	position  INTEGER NOT NULL,
	remaining INTEGER NOT NULL CHECK (remaining > 0)
);
CREATE TABLE IF NOT EXISTS samples (
	key     TEXT NOT NULL,
	rep     INTEGER NOT NULL,
	metrics TEXT NOT NULL,
	PRIMARY KEY (key, rep)
);
`

const (
	metaRunID      = "run_id"
	metaExperiment = "experiment"
	metaOutput     = "output"
	metaReps       = "reps"
	metaCreated    = "created"
	metaTotal      = "total"
	metaLeft       = "left"
	metaCount      = "count"
	metaOffset     = "offset"
	metaDigest     = "digest"
)

// Meta identifies the sweep a checkpoint belongs to.
type Meta struct {
	RunID      string
	Experiment string
	Output     string
	Reps       int
	Created    time.Time

	// Digest identifies the ordered configuration set, see Digest.
	Digest string
}

// Progress holds the sweep counters. Left == Total - Count.
type Progress struct {
	Total int
	Left  int
	Count int
}

// Item is one configuration still waiting for repetitions.
type Item struct {
	Key       string
	Params    space.Config
	Position  int
	Remaining int
}

// Sample is the metrics of one committed repetition.
type Sample map[string]float64

// Store is an open checkpoint.
type Store struct {
	path string
	db   *sql.DB
	meta Meta

	closeOnce sync.Once
	closeErr  error
}

// Digest hashes the keys of configs in order. Two sweeps with the same
// digest visit the same configurations.
func Digest(configs []space.Config) string {
	h := sha256.New()
	for _, cfg := range configs {
		h.Write([]byte(cfg.Key()))
		h.Write([]byte{'\n'})
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Exists reports whether a checkpoint file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Create builds a fresh checkpoint at path, replacing any previous one. Every
// configuration gets reps remaining repetitions, in insertion order.
func Create(
	ctx context.Context,
	path string,
	meta Meta,
	configs []space.Config,
	reps int,
) (*Store, error) {
	if reps < 1 {
		return nil, fmt.Errorf("create checkpoint: reps must be positive, got %d", reps)
	}

	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove old checkpoint %s: %w", p, err)
		}
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	if meta.RunID == "" {
		meta.RunID = uuid.NewString()
	}

	if meta.Created.IsZero() {
		meta.Created = time.Now().UTC()
	}

	meta.Reps = reps
	meta.Digest = Digest(configs)

	s := &Store{path: path, db: db, meta: meta}

	if err := s.build(ctx, configs, reps); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Open reopens the checkpoint at path. Missing progress counters are rebuilt
// from the stored items.
func Open(ctx context.Context, path string) (*Store, error) {
	if !Exists(path) {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, ErrNotFound)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	s := &Store{path: path, db: db}

	if err := s.load(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_sync=FULL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}

	// One connection keeps every statement on the same SQLite handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init checkpoint %s: %w", path, err)
	}

	return db, nil
}

func (s *Store) build(ctx context.Context, configs []space.Config, reps int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin build: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO items (key, params, position, remaining) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, cfg := range configs {
		params, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}

		key := cfg.Key()
		if _, err := stmt.ExecContext(ctx, key, string(params), i, reps); err != nil {
			return fmt.Errorf("insert config %s: %w", key, err)
		}
	}

	total := len(configs) * reps

	values := map[string]string{
		metaRunID:      s.meta.RunID,
		metaExperiment: s.meta.Experiment,
		metaOutput:     s.meta.Output,
		metaReps:       strconv.Itoa(reps),
		metaCreated:    s.meta.Created.Format(time.RFC3339Nano),
		metaDigest:     s.meta.Digest,
		metaTotal:      strconv.Itoa(total),
		metaLeft:       strconv.Itoa(total),
		metaCount:      "0",
		metaOffset:     "0",
	}

	for k, v := range values {
		if err := setMeta(ctx, tx, k, v); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit build: %w", err)
	}

	return nil
}

func (s *Store) load(ctx context.Context) error {
	vals, err := s.metaValues(ctx)
	if err != nil {
		return err
	}

	s.meta = Meta{
		RunID:      vals[metaRunID],
		Experiment: vals[metaExperiment],
		Output:     vals[metaOutput],
		Digest:     vals[metaDigest],
	}
	s.meta.Reps, _ = strconv.Atoi(vals[metaReps])
	s.meta.Created, _ = time.Parse(time.RFC3339Nano, vals[metaCreated])

	_, hasTotal := vals[metaTotal]
	_, hasLeft := vals[metaLeft]
	_, hasCount := vals[metaCount]

	if hasTotal && hasLeft && hasCount {
		return nil
	}

	// Counters were never written: every remaining repetition is still left.
	var left int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(remaining), 0) FROM items`,
	).Scan(&left); err != nil {
		return fmt.Errorf("sum remaining: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin counters: %w", err)
	}
	defer tx.Rollback()

	for k, v := range map[string]string{
		metaTotal: strconv.Itoa(left),
		metaLeft:  strconv.Itoa(left),
		metaCount: "0",
	} {
		if err := setMeta(ctx, tx, k, v); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) metaValues(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	defer rows.Close()

	vals := make(map[string]string)

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		vals[k] = v
	}

	return vals, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setMeta(ctx context.Context, db execer, key, value string) error {
	if _, err := db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	); err != nil {
		return fmt.Errorf("write meta %s: %w", key, err)
	}

	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func metaInt(ctx context.Context, q queryer, key string) (int64, error) {
	var raw string

	err := q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("meta %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("read meta %s: %w", key, err)
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("meta %s: %w", key, err)
	}

	return v, nil
}

// Path returns the checkpoint file path.
func (s *Store) Path() string {
	return s.path
}

// Meta returns the identity of the sweep.
func (s *Store) Meta() Meta {
	return s.meta
}

// Progress returns the current counters.
func (s *Store) Progress(ctx context.Context) (Progress, error) {
	var p Progress

	for _, f := range []struct {
		key string
		dst *int
	}{
		{metaTotal, &p.Total},
		{metaLeft, &p.Left},
		{metaCount, &p.Count},
	} {
		v, err := metaInt(ctx, s.db, f.key)
		if err != nil {
			return Progress{}, err
		}
		*f.dst = int(v)
	}

	return p, nil
}

// Offset returns the output table length recorded with the last commit.
func (s *Store) Offset(ctx context.Context) (int64, error) {
	return metaInt(ctx, s.db, metaOffset)
}

// SetOffset records the output table length without committing a run.
func (s *Store) SetOffset(ctx context.Context, offset int64) error {
	return setMeta(ctx, s.db, metaOffset, strconv.FormatInt(offset, 10))
}

// Pending returns the items that still have repetitions left, in insertion
// order.
func (s *Store) Pending(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, params, position, remaining FROM items ORDER BY position`,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var items []Item

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// Item returns the pending item for key, or ErrNotFound once it is done.
func (s *Store) Item(ctx context.Context, key string) (Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, params, position, remaining FROM items WHERE key = ?`, key,
	)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("config %s: %w", key, ErrNotFound)
	}

	return item, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (Item, error) {
	var (
		item   Item
		params string
	)

	if err := row.Scan(&item.Key, &params, &item.Position, &item.Remaining); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, err
		}
		return Item{}, fmt.Errorf("scan item: %w", err)
	}

	if err := json.Unmarshal([]byte(params), &item.Params); err != nil {
		return Item{}, fmt.Errorf("decode params of %s: %w", item.Key, err)
	}

	return item, nil
}

// Samples returns the committed samples of key ordered by repetition.
func (s *Store) Samples(ctx context.Context, key string) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metrics FROM samples WHERE key = ? ORDER BY rep`, key,
	)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var out []Sample

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}

		var sample Sample
		if err := json.Unmarshal([]byte(raw), &sample); err != nil {
			return nil, fmt.Errorf("decode sample of %s: %w", key, err)
		}

		out = append(out, sample)
	}

	return out, rows.Err()
}

// Commit records one finished repetition of key atomically: the sample is
// stored, the item is decremented (and removed at zero), the counters move
// by one and offset becomes the committed output table length.
func (s *Store) Commit(
	ctx context.Context,
	key string,
	sample Sample,
	offset int64,
) (Progress, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Progress{}, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	var remaining int

	err = tx.QueryRowContext(ctx,
		`SELECT remaining FROM items WHERE key = ?`, key,
	).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return Progress{}, fmt.Errorf("commit config %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Progress{}, fmt.Errorf("read config %s: %w", key, err)
	}

	raw, err := json.Marshal(sample)
	if err != nil {
		return Progress{}, fmt.Errorf("encode sample: %w", err)
	}

	rep := s.meta.Reps - remaining
	if s.meta.Reps == 0 {
		// The repetition count was lost; continue after the last sample.
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(rep) + 1, 0) FROM samples WHERE key = ?`, key,
		).Scan(&rep); err != nil {
			return Progress{}, fmt.Errorf("next repetition of %s: %w", key, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO samples (key, rep, metrics) VALUES (?, ?, ?)`,
		key, rep, string(raw),
	); err != nil {
		return Progress{}, fmt.Errorf("insert sample: %w", err)
	}

	if remaining > 1 {
		_, err = tx.ExecContext(ctx,
			`UPDATE items SET remaining = remaining - 1 WHERE key = ?`, key,
		)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM items WHERE key = ?`, key)
	}
	if err != nil {
		return Progress{}, fmt.Errorf("decrement config %s: %w", key, err)
	}

	left, err := metaInt(ctx, tx, metaLeft)
	if err != nil {
		return Progress{}, err
	}

	count, err := metaInt(ctx, tx, metaCount)
	if err != nil {
		return Progress{}, err
	}

	total, err := metaInt(ctx, tx, metaTotal)
	if err != nil {
		return Progress{}, err
	}

	if left < 1 {
		return Progress{}, fmt.Errorf("commit config %s: no repetitions left", key)
	}

	p := Progress{Total: int(total), Left: int(left - 1), Count: int(count + 1)}

	for k, v := range map[string]string{
		metaLeft:   strconv.Itoa(p.Left),
		metaCount:  strconv.Itoa(p.Count),
		metaOffset: strconv.FormatInt(offset, 10),
	} {
		if err := setMeta(ctx, tx, k, v); err != nil {
			return Progress{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Progress{}, fmt.Errorf("commit config %s: %w", key, err)
	}

	return p, nil
}

// Close closes the underlying database. It is safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})

	return s.closeErr
}
