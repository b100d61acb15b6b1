package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "jar", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndHistory(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)

	e, err := l.Record(ctx, Entry{Instance: "fe-k", Kind: KindRun, JobID: "12345", Launch: "submitted", Outcome: OutcomeOK})
	require.NoError(t, err)
	_, err = uuid.Parse(e.ID)
	assert.NoError(t, err)
	assert.False(t, e.CreatedAt.IsZero())

	_, err = l.Record(ctx, Entry{Instance: "o-k", Kind: KindSync, Outcome: OutcomePartial, Detail: "dft: remote path does not exist"})
	require.NoError(t, err)
	_, err = l.Record(ctx, Entry{Instance: "fe-k", Kind: KindSync, Outcome: OutcomeOK})
	require.NoError(t, err)

	all, err := l.History(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, KindSync, all[0].Kind)
	assert.Equal(t, "fe-k", all[0].Instance)

	fe, err := l.History(ctx, "fe-k", 0)
	require.NoError(t, err)
	require.Len(t, fe, 2)
	assert.Equal(t, KindRun, fe[1].Kind)
	assert.Equal(t, "12345", fe[1].JobID)

	limited, err := l.History(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLastJobID(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)

	id, err := l.LastJobID(ctx, "fe-k")
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = l.Record(ctx, Entry{Instance: "fe-k", Kind: KindRun, JobID: "1"})
	require.NoError(t, err)
	_, err = l.Record(ctx, Entry{Instance: "fe-k", Kind: KindRun, JobID: "2"})
	require.NoError(t, err)
	_, err = l.Record(ctx, Entry{Instance: "fe-k", Kind: KindSync})
	require.NoError(t, err)

	id, err = l.LastJobID(ctx, "fe-k")
	require.NoError(t, err)
	assert.Equal(t, "2", id)
}

func TestReopenKeepsEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := Open(path)
	require.NoError(t, err)
	_, err = l.Record(ctx, Entry{Instance: "fe-k", Kind: KindRun})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()
	all, err := l.History(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
