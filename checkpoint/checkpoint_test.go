package checkpoint

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weiihann/benchit/space"
)

func testConfigs() []space.Config {
	return space.Product(
		[]string{"sparse", "dense"},
		[]string{"0.5", "0.9"},
	)
}

func newStore(t *testing.T, reps int) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sweep.ckpt")

	s, err := Create(context.Background(), path, Meta{
		Experiment: "einsum",
		Output:     "result.csv",
	}, testConfigs(), reps)
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s, path
}

func sumRemaining(t *testing.T, s *Store) int {
	t.Helper()

	items, err := s.Pending(context.Background())
	require.NoError(t, err)

	sum := 0
	for _, it := range items {
		sum += it.Remaining
	}

	return sum
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, 3)

	p, err := s.Progress(ctx)
	require.NoError(t, err)
	require.Equal(t, Progress{Total: 12, Left: 12, Count: 0}, p)

	items, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, items, 4)

	for i, it := range items {
		require.Equal(t, testConfigs()[i], it.Params)
		require.Equal(t, testConfigs()[i].Key(), it.Key)
		require.Equal(t, 3, it.Remaining)
	}

	meta := s.Meta()
	require.NotEmpty(t, meta.RunID)
	require.Equal(t, "einsum", meta.Experiment)
	require.Equal(t, 3, meta.Reps)
}

func TestCreateRejectsZeroReps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.ckpt")
	_, err := Create(context.Background(), path, Meta{}, testConfigs(), 0)
	require.Error(t, err)
}

func TestCommitDecrementsByOne(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, 2)
	key := testConfigs()[0].Key()

	before := sumRemaining(t, s)

	p, err := s.Commit(ctx, key, Sample{"runtime": 1.5}, 100)
	require.NoError(t, err)
	require.Equal(t, Progress{Total: 8, Left: 7, Count: 1}, p)
	require.Equal(t, before-1, sumRemaining(t, s))

	it, err := s.Item(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 1, it.Remaining)

	off, err := s.Offset(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(100), off)
}

func TestCommitRemovesExhaustedItem(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, 2)
	key := testConfigs()[1].Key()

	_, err := s.Commit(ctx, key, Sample{"runtime": 1}, 10)
	require.NoError(t, err)
	_, err = s.Commit(ctx, key, Sample{"runtime": 3}, 20)
	require.NoError(t, err)

	_, err = s.Item(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Commit(ctx, key, Sample{"runtime": 5}, 30)
	require.ErrorIs(t, err, ErrNotFound)

	samples, err := s.Samples(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []Sample{{"runtime": 1}, {"runtime": 3}}, samples)

	items, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
}

func TestInvariantsAcrossFullSweep(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, 3)

	items, err := s.Pending(ctx)
	require.NoError(t, err)

	prev := sumRemaining(t, s)

	for _, it := range items {
		for i := 0; i < it.Remaining; i++ {
			p, err := s.Commit(ctx, it.Key, Sample{"runtime": float64(i)}, 0)
			require.NoError(t, err)
			require.Equal(t, p.Total-p.Count, p.Left)
			require.GreaterOrEqual(t, p.Left, 0)

			cur := sumRemaining(t, s)
			require.Equal(t, prev-1, cur)
			require.Equal(t, p.Left, cur)
			prev = cur
		}
	}

	p, err := s.Progress(ctx)
	require.NoError(t, err)
	require.Equal(t, Progress{Total: 12, Left: 0, Count: 12}, p)
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	s, path := newStore(t, 2)
	key := testConfigs()[2].Key()

	_, err := s.Commit(ctx, key, Sample{"runtime": 2}, 42)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	r, err := Open(ctx, path)
	require.NoError(t, err)
	defer r.Close()

	p, err := r.Progress(ctx)
	require.NoError(t, err)
	require.Equal(t, Progress{Total: 8, Left: 7, Count: 1}, p)

	off, err := r.Offset(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(42), off)

	require.Equal(t, s.Meta().RunID, r.Meta().RunID)
	require.Equal(t, 2, r.Meta().Reps)
	require.Equal(t, Digest(testConfigs()), r.Meta().Digest)

	_, err = r.Commit(ctx, key, Sample{"runtime": 4}, 50)
	require.NoError(t, err)

	samples, err := r.Samples(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []Sample{{"runtime": 2}, {"runtime": 4}}, samples)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "none.ckpt"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOpenRebuildsMissingCounters(t *testing.T) {
	ctx := context.Background()
	s, path := newStore(t, 3)
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`DELETE FROM meta WHERE key IN ('total', 'left', 'count')`)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE items SET remaining = 1 WHERE position = 0`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	r, err := Open(ctx, path)
	require.NoError(t, err)
	defer r.Close()

	p, err := r.Progress(ctx)
	require.NoError(t, err)
	require.Equal(t, Progress{Total: 10, Left: 10, Count: 0}, p)
}

func TestCreateReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	s, path := newStore(t, 2)

	_, err := s.Commit(ctx, testConfigs()[0].Key(), Sample{}, 1)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	n, err := Create(ctx, path, Meta{Experiment: "graph"}, testConfigs()[:1], 5)
	require.NoError(t, err)
	defer n.Close()

	p, err := n.Progress(ctx)
	require.NoError(t, err)
	require.Equal(t, Progress{Total: 5, Left: 5, Count: 0}, p)
	require.Equal(t, "graph", n.Meta().Experiment)
}

func TestDigest(t *testing.T) {
	cfgs := testConfigs()
	require.Equal(t, Digest(cfgs), Digest(testConfigs()))

	reversed := []space.Config{cfgs[3], cfgs[2], cfgs[1], cfgs[0]}
	require.NotEqual(t, Digest(cfgs), Digest(reversed))
	require.NotEqual(t, Digest(cfgs), Digest(cfgs[:3]))

	// Keys are separated, so field boundaries cannot shift.
	require.NotEqual(t,
		Digest([]space.Config{{"a"}, {"bc"}}),
		Digest([]space.Config{{"ab"}, {"c"}}),
	)
}

func TestCommitWithoutRepsMeta(t *testing.T) {
	ctx := context.Background()
	s, path := newStore(t, 3)
	key := testConfigs()[0].Key()

	_, err := s.Commit(ctx, key, Sample{"runtime": 1}, 10)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`DELETE FROM meta WHERE key = 'reps'`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	r, err := Open(ctx, path)
	require.NoError(t, err)
	defer r.Close()
	require.Zero(t, r.Meta().Reps)

	_, err = r.Commit(ctx, key, Sample{"runtime": 2}, 20)
	require.NoError(t, err)
	_, err = r.Commit(ctx, key, Sample{"runtime": 3}, 30)
	require.NoError(t, err)

	rows, err := r.db.QueryContext(ctx, `SELECT rep FROM samples WHERE key = ? ORDER BY rep`, key)
	require.NoError(t, err)
	defer rows.Close()

	var reps []int
	for rows.Next() {
		var rep int
		require.NoError(t, rows.Scan(&rep))
		reps = append(reps, rep)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []int{0, 1, 2}, reps)

	samples, err := r.Samples(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []Sample{{"runtime": 1}, {"runtime": 2}, {"runtime": 3}}, samples)
}
