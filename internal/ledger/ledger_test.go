package ledger_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/ledger"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/testutil"
)

type accountOpenedPayload struct {
	Kind           string
	OpeningCapital float64
}

func TestAppendAssignsIncreasingSeq(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, "ledger")
	defer cleanup()
	l := ledger.New(db, zerolog.Nop())
	ctx := context.Background()

	seq1, err := l.Append(ctx, "cycle-1", ledger.CategoryAccountOpened, "acct-1", "", "", accountOpenedPayload{Kind: "Generator", OpeningCapital: 120000})
	require.NoError(t, err)
	seq2, err := l.Append(ctx, "cycle-1", ledger.CategoryAccountStatus, "acct-1", "", "", map[string]string{"status": "Active"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), seq1)
	assert.Equal(t, int64(2), seq2)
}

func TestReadSinceReturnsEntriesInOrder(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, "ledger")
	defer cleanup()
	l := ledger.New(db, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, "cycle-1", ledger.CategoryAccountOpened, "acct-1", "", "", accountOpenedPayload{Kind: "Generator", OpeningCapital: float64(i)})
		require.NoError(t, err)
	}

	var seen []int64
	err := l.ReadSince(ctx, 1, func(r ledger.Record) error {
		seen = append(seen, r.Seq)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, seen)
}

func TestDecodeRoundTrips(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, "ledger")
	defer cleanup()
	l := ledger.New(db, zerolog.Nop())
	ctx := context.Background()

	_, err := l.Append(ctx, "cycle-1", ledger.CategoryAccountOpened, "acct-1", "", "", accountOpenedPayload{Kind: "Revenue", OpeningCapital: 50000})
	require.NoError(t, err)

	var got accountOpenedPayload
	err = l.ReadSince(ctx, 0, func(r ledger.Record) error {
		return r.Decode(&got)
	})
	require.NoError(t, err)
	assert.Equal(t, "Revenue", got.Kind)
	assert.Equal(t, 50000.0, got.OpeningCapital)
}

func TestVerifyChainPassesOnCleanLedger(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, "ledger")
	defer cleanup()
	l := ledger.New(db, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, "cycle-1", ledger.CategoryOrderFilled, "acct-1", "", "order-1", map[string]int{"i": i})
		require.NoError(t, err)
	}

	assert.NoError(t, l.VerifyChain(ctx))
}

func TestVerifyChainDetectsTamperedPayload(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, "ledger")
	defer cleanup()
	l := ledger.New(db, zerolog.Nop())
	ctx := context.Background()

	_, err := l.Append(ctx, "cycle-1", ledger.CategoryOrderFilled, "acct-1", "", "order-1", map[string]int{"i": 1})
	require.NoError(t, err)

	_, err = db.Conn().ExecContext(ctx, `UPDATE ledger_entries SET payload = ? WHERE seq = 1`, []byte{0xFF, 0xFE})
	require.NoError(t, err)

	err = l.VerifyChain(ctx)
	assert.ErrorIs(t, err, ledger.ErrChainBroken)
}

func TestSnapshotReflectsChainHead(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, "ledger")
	defer cleanup()
	l := ledger.New(db, zerolog.Nop())
	ctx := context.Background()

	seq, hash, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
	assert.NotEmpty(t, hash)

	appended, err := l.Append(ctx, "cycle-1", ledger.CategoryAccountOpened, "acct-1", "", "", accountOpenedPayload{Kind: "Generator"})
	require.NoError(t, err)

	seq, hash2, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, appended, seq)
	assert.NotEqual(t, hash, hash2)
}
