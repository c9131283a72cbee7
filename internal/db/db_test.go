package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Recorder {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "pbs-jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Recorder{DB: db}
}

func TestFeedErrors(t *testing.T) {
	r := openTestDB(t)

	r.RecordFeedError("cluster-a", errors.New("invalid character 'x'"), []byte(`[{"JobID":x}]`))
	r.RecordFeedError("cluster-b", nil, []byte(`{`))

	list, err := ListFeedErrors(r.DB, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "cluster-b", list[0].Server)
	assert.Equal(t, "unknown error", list[0].Message)
	assert.Empty(t, list[0].Payload, "list does not load payloads")

	got, err := GetFeedError(r.DB, list[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "cluster-a", got.Server)
	assert.Equal(t, `[{"JobID":x}]`, got.Payload)

	missing, err := GetFeedError(r.DB, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestOperations(t *testing.T) {
	r := openTestDB(t)

	r.RecordOperation(Operation{Kind: OpSubmit, Server: "cluster-a", Path: "/data/users/alice/run1", Output: "123.server1"})
	r.RecordOperation(Operation{Kind: OpKill, Server: "cluster-b", JobID: "9.server2", Error: "qdel: Unknown Job Id"})

	all, err := ListOperations(r.DB, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, OpKill, all[0].Kind)
	assert.NotEmpty(t, all[0].ID)
	assert.NotEqual(t, all[0].ID, all[1].ID)

	filtered, err := ListOperations(r.DB, "cluster-a", 10)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "123.server1", filtered[0].Output)
}

func TestCleanupOld(t *testing.T) {
	r := openTestDB(t)

	old := time.Now().AddDate(0, 0, -30).Unix()
	_, err := RecordOperation(r.DB, Operation{Kind: OpKill, Server: "a", CreatedAt: old})
	require.NoError(t, err)
	_, err = RecordOperation(r.DB, Operation{Kind: OpKill, Server: "a"})
	require.NoError(t, err)

	n, err := CleanupOld(r.DB, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r Recorder
	r.RecordFeedError("a", errors.New("x"), nil)
	r.RecordOperation(Operation{Kind: OpSubmit})
}

func TestErrString(t *testing.T) {
	assert.Equal(t, "", ErrString(nil))
	assert.Equal(t, "boom", ErrString(errors.New("boom")))
}
