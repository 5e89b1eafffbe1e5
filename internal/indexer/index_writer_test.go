package indexer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/facts"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/sched"
)

func newTestWriter(t *testing.T, dir string) *IndexWriter {
	t.Helper()
	w, err := NewIndexWriter(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func TestIndexWriterSkipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	w := newTestWriter(t, dir)

	first, err := w.Write(ctx, sched.Normal, testTables())
	require.NoError(t, err)
	assert.True(t, first.Written)
	assert.Equal(t, testTables().Len(), first.Delta.Added.Len(), "full write")

	second, err := w.Write(ctx, sched.Idle, testTables())
	require.NoError(t, err)
	assert.False(t, second.Written)
	assert.True(t, second.Delta.Empty())

	// A fresh writer compares against the file on disk.
	fresh := newTestWriter(t, dir)
	changed := testTables()
	changed.Configs[0].Value = "n"
	res, err := fresh.Write(ctx, sched.Normal, changed)
	require.NoError(t, err)
	assert.True(t, res.Written)
	assert.Len(t, res.Delta.Added.Configs, 1)
	assert.Len(t, res.Delta.Removed.Configs, 1)
}

func TestIndexWriterRejectsInvalidTables(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir)

	bad := testTables()
	bad.Files = append(bad.Files, facts.FileRow{Path: "", Kind: "nonsense"})
	_, err := w.Write(context.Background(), sched.Normal, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contract violation")

	_, ok, _ := loadFactTablesCache(dir)
	assert.False(t, ok, "nothing is written")
}

func TestIndexWriterSerializesWrites(t *testing.T) {
	w := newTestWriter(t, t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	var written atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := w.Write(ctx, sched.Normal, testTables())
			if !assert.NoError(t, err) {
				return
			}
			if res.Written {
				written.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, written.Load(), "identical tables are written once")
	assert.Zero(t, w.Pending())
}
