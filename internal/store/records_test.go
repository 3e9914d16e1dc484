package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(context.Background(), ":memory:")
	require.NoError(t, err, "failed to open in-memory record store")
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGetPutDeleteRecord(t *testing.T) {
	t.Parallel()
	db := testDB(t)
	ctx := context.Background()

	t.Run("missing key is a miss, not an error", func(t *testing.T) {
		t.Parallel()
		_, ok, err := db.GetRecord(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("round trips a value", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, db.PutRecord(ctx, "k1", []byte("hello")))

		value, ok, err := db.GetRecord(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("hello"), value)
	})

	t.Run("put overwrites an existing key", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, db.PutRecord(ctx, "k2", []byte("first")))
		require.NoError(t, db.PutRecord(ctx, "k2", []byte("second")))

		value, ok, err := db.GetRecord(ctx, "k2")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("second"), value)
	})

	t.Run("delete removes a key", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, db.PutRecord(ctx, "k3", []byte("x")))
		require.NoError(t, db.DeleteRecord(ctx, "k3"))

		_, ok, err := db.GetRecord(ctx, "k3")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete of an absent key is not an error", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, db.DeleteRecord(ctx, "never-existed"))
	})
}

func TestListKeys(t *testing.T) {
	t.Parallel()
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.PutRecord(ctx, "pkg:amsmath", []byte("a")))
	require.NoError(t, db.PutRecord(ctx, "pkg:geometry", []byte("b")))
	require.NoError(t, db.PutRecord(ctx, "stats:p_abc123:xelatex", []byte("c")))

	keys, err := db.ListKeys(ctx, "pkg:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pkg:amsmath", "pkg:geometry"}, keys)

	keys, err = db.ListKeys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestPackageRecordCacheVersionInvalidation(t *testing.T) {
	t.Parallel()
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.PutPackage(ctx, PackageRecord{
		Name:           "amsmath",
		CanonicalPaths: []string{"/texlive/texmf-dist/tex/latex/amsmath/amsmath.sty"},
	}))

	rec, ok, err := db.GetPackage(ctx, "amsmath")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, CacheVersion, rec.CacheVersion)
	assert.Equal(t, []string{"/texlive/texmf-dist/tex/latex/amsmath/amsmath.sty"}, rec.CanonicalPaths)

	// Simulate a stale record written under an older cache version: it must
	// read back as a miss, not as stale data (§3, §9 open-question decision).
	stale := rec
	stale.CacheVersion = CacheVersion - 1
	raw, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, db.PutRecord(ctx, packageKey("amsmath"), raw))

	_, ok, err = db.GetPackage(ctx, "amsmath")
	require.NoError(t, err)
	assert.False(t, ok, "stale cache version must read back as absent")
}

func TestNotFoundNegativeCache(t *testing.T) {
	t.Parallel()
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.PutNotFound(ctx, "nonexistent-package"))

	rec, ok, err := db.GetPackage(ctx, "nonexistent-package")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.NotFound)
}

func TestAliasLearning(t *testing.T) {
	t.Parallel()
	db := testDB(t)
	ctx := context.Background()

	table, err := db.GetAliases(ctx)
	require.NoError(t, err)
	assert.Empty(t, table)

	require.NoError(t, db.PutAlias(ctx, "babel-english", "babel"))
	table, err = db.GetAliases(ctx)
	require.NoError(t, err)
	assert.Equal(t, "babel", table["babel-english"])

	require.NoError(t, db.PutAlias(ctx, "babel-french", "babel"))
	table, err = db.GetAliases(ctx)
	require.NoError(t, err)
	assert.Len(t, table, 2)
}

func TestEngineStatsMonotoneLearning(t *testing.T) {
	t.Parallel()
	db := testDB(t)
	ctx := context.Background()

	_, ok, err := db.GetStats(ctx, "p_abc123", "xelatex")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.UpdateStats(ctx, "p_abc123", "xelatex", 1000, true, 1700000000000))
	stats, ok, err := db.GetStats(ctx, "p_abc123", "xelatex")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, stats.SampleCount)
	assert.InDelta(t, 1000, stats.MeanDuration, 0.001)
	assert.InDelta(t, 1.0, stats.SuccessRate, 0.001)

	require.NoError(t, db.UpdateStats(ctx, "p_abc123", "xelatex", 2000, false, 1700000001000))
	stats, ok, err = db.GetStats(ctx, "p_abc123", "xelatex")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, stats.SampleCount, "sample count must only grow")
	assert.InDelta(t, 1500, stats.MeanDuration, 0.001)
	assert.InDelta(t, 0.5, stats.SuccessRate, 0.001)
}

func TestEngineFlags(t *testing.T) {
	t.Parallel()
	db := testDB(t)
	ctx := context.Background()

	_, ok, err := db.GetFlag(ctx, "p_abc123", "requires-xelatex")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.PutFlag(ctx, "p_abc123", "requires-xelatex", true))
	value, ok, err := db.GetFlag(ctx, "p_abc123", "requires-xelatex")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, value)
}

func TestCompileJobTelemetry(t *testing.T) {
	t.Parallel()
	db := testDB(t)
	ctx := context.Background()

	job := CompileJobModel{
		JobID:       "job-1",
		SubmittedAt: 1000,
		Engine:      "pdflatex",
		Status:      "success",
	}
	require.NoError(t, db.PutCompileJob(ctx, job))

	job.Status = "success"
	job.Retries = 2
	job.DurationMs = 4200
	require.NoError(t, db.PutCompileJob(ctx, job))

	jobs, err := db.RecentCompileJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 2, jobs[0].Retries)
	assert.Equal(t, int64(4200), jobs[0].DurationMs)
}

func TestBundleCacheTracking(t *testing.T) {
	t.Parallel()
	db := testDB(t)
	ctx := context.Background()

	names, err := db.LoadedBundleNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, db.PutBundleCache(ctx, "latex-base", 1<<20))
	require.NoError(t, db.PutBundleCache(ctx, "amsmath", 1<<12))

	names, err = db.LoadedBundleNames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"latex-base", "amsmath"}, names)
}
