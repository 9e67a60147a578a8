package kscrash

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReportStoreWriteListReadPrune(t *testing.T) {
	dir := t.TempDir()
	store, err := NewReportStore(filepath.Join(dir, "reports"), "testapp", 2)
	require.NoError(t, err)

	id1, path1, err := store.WriteReport([]byte(`{"report_version_major":1,"report_version_minor":0}`))
	require.NoError(t, err)
	require.FileExists(t, path1)

	id2, _, err := store.WriteReport([]byte(`{"report_version_major":1,"report_version_minor":0}`))
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	id3, _, err := store.WriteReport([]byte(`{}`))
	require.NoError(t, err)

	ids, err := store.List()
	require.NoError(t, err)
	require.Len(t, ids, 2, "Prune should have kept only the newest 2 reports")
	require.Equal(t, []uint64{id2, id3}, ids)

	doc, err := store.ReadReport(id3)
	require.NoError(t, err)
	require.EqualValues(t, 0, doc["report_version_minor"], "fixupReport should default a missing minor version")
	require.EqualValues(t, 1, doc["report_version_major"])

	_, err = store.ReadReport(id1)
	require.Error(t, err, "id1's file should have been pruned")
}

func TestReportStorePathForIsStableAndMonotonicIDs(t *testing.T) {
	dir := t.TempDir()
	store, err := NewReportStore(filepath.Join(dir, "reports"), "testapp", 0)
	require.NoError(t, err)

	a := store.NextID()
	b := store.NextID()
	require.Greater(t, b, a)
	require.Equal(t, store.PathFor(a), store.PathFor(a))
	require.NotEqual(t, store.PathFor(a), store.PathFor(b))
}
