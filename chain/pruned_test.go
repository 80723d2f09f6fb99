package chain

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/gathogajanice/charmcards/charms"
	"github.com/stretchr/testify/require"
)

// testUtxo builds a UTXO whose txid is derived from the given seed byte.
func testUtxo(seed byte) charms.Utxo {
	var hash chainhash.Hash
	hash[0] = seed

	return charms.Utxo{
		OutPoint: wire.OutPoint{Hash: hash, Index: 0},
		Value:    100_000,
		Height:   1,
	}
}

// confirmedTx builds a TxInfo confirmed at the given height with the given
// parent txids.
func confirmedTx(txid string, height int32, parents ...string) *TxInfo {
	info := &TxInfo{
		TxID: txid,
		Status: TxStatus{
			Confirmed:   true,
			BlockHeight: height,
		},
	}

	for _, p := range parents {
		info.Inputs = append(info.Inputs, TxIn{TxID: p})
	}

	return info
}

// TestClassifyPrunedSelf verifies that a UTXO confirmed at or below the
// prune height is always classified pruned, including the boundary case
// where the prune height equals the confirmation height.
func TestClassifyPrunedSelf(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		height      int32
		pruneHeight int32
	}{
		{name: "below prune height", height: 40, pruneHeight: 50},
		{name: "at prune height", height: 50, pruneHeight: 50},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			utxo := testUtxo(1)
			src := &mockSource{}
			src.On("GetTransaction", utxo.OutPoint.Hash.String()).
				Return(confirmedTx("", tc.height), nil).Once()

			v := NewValidator(src)
			result, err := v.Classify(
				context.Background(), []charms.Utxo{utxo},
				100, tc.pruneHeight,
			)
			require.NoError(t, err)

			require.Len(t, result.Pruned, 1)
			require.Equal(t, PrunedSelf, result.Pruned[0].Reason)
			require.Empty(t, result.Synced)
			src.AssertExpectations(t)
		})
	}
}

// TestClassifyPrunedAncestor verifies that a recent UTXO whose parent sits
// at or below the prune height is classified pruned: the node cannot
// revalidate through a missing ancestor even if the child is recent.
func TestClassifyPrunedAncestor(t *testing.T) {
	t.Parallel()

	utxo := testUtxo(2)
	childID := utxo.OutPoint.Hash.String()
	parentID := "deadbeef"

	src := &mockSource{}
	src.On("GetTransaction", childID).
		Return(confirmedTx(childID, 90, parentID), nil).Once()
	src.On("GetTransaction", parentID).
		Return(confirmedTx(parentID, 30), nil).Once()

	v := NewValidator(src)
	result, err := v.Classify(
		context.Background(), []charms.Utxo{utxo}, 100, 50,
	)
	require.NoError(t, err)

	require.Len(t, result.Pruned, 1)
	require.Equal(t, PrunedAncestor, result.Pruned[0].Reason)
	src.AssertExpectations(t)
}

// TestClassifyUnknownAncestorFailsClosed verifies that an ancestor whose
// height cannot be determined on a pruned node classifies the UTXO as
// pruned rather than failing open.
func TestClassifyUnknownAncestorFailsClosed(t *testing.T) {
	t.Parallel()

	utxo := testUtxo(3)
	childID := utxo.OutPoint.Hash.String()
	parentID := "cafebabe"

	src := &mockSource{}
	src.On("GetTransaction", childID).
		Return(confirmedTx(childID, 90, parentID), nil).Once()
	src.On("GetTransaction", parentID).
		Return(nil, ErrTxNotFound).Once()

	v := NewValidator(src)
	result, err := v.Classify(
		context.Background(), []charms.Utxo{utxo}, 100, 50,
	)
	require.NoError(t, err)

	require.Len(t, result.Pruned, 1)
	require.Equal(
		t, PrunedUnknownAncestor, result.Pruned[0].Reason,
	)
	src.AssertExpectations(t)
}

// TestClassifySyncedAndUnsynced verifies the height comparison against the
// node's current tip.
func TestClassifySyncedAndUnsynced(t *testing.T) {
	t.Parallel()

	synced := testUtxo(4)
	unsynced := testUtxo(5)

	src := &mockSource{}
	src.On("GetTransaction", synced.OutPoint.Hash.String()).
		Return(confirmedTx("", 95), nil).Once()
	src.On("GetTransaction", unsynced.OutPoint.Hash.String()).
		Return(confirmedTx("", 110), nil).Once()

	v := NewValidator(src)
	result, err := v.Classify(
		context.Background(), []charms.Utxo{synced, unsynced}, 100, 0,
	)
	require.NoError(t, err)

	require.Len(t, result.Synced, 1)
	require.Equal(t, synced.OutPoint, result.Synced[0].OutPoint)

	require.Len(t, result.Unsynced, 1)
	require.Equal(t, int32(10), result.Unsynced[0].BlocksNeeded)
	src.AssertExpectations(t)
}

// TestClassifyUnconfirmed verifies that unconfirmed UTXOs are recorded
// separately instead of being rejected.
func TestClassifyUnconfirmed(t *testing.T) {
	t.Parallel()

	utxo := testUtxo(6)

	src := &mockSource{}
	src.On("GetTransaction", utxo.OutPoint.Hash.String()).
		Return(&TxInfo{Status: TxStatus{Confirmed: false}}, nil).Once()

	v := NewValidator(src)
	result, err := v.Classify(
		context.Background(), []charms.Utxo{utxo}, 100, 50,
	)
	require.NoError(t, err)

	require.Len(t, result.Unconfirmed, 1)
	require.Empty(t, result.Pruned)
	src.AssertExpectations(t)
}

// TestClassifyUnprunedSkipsAncestry verifies that with pruneHeight 0 no
// ancestor lookups are issued at all.
func TestClassifyUnprunedSkipsAncestry(t *testing.T) {
	t.Parallel()

	utxo := testUtxo(7)
	childID := utxo.OutPoint.Hash.String()

	src := &mockSource{}
	src.On("GetTransaction", childID).
		Return(confirmedTx(childID, 90, "someparent"), nil).Once()

	v := NewValidator(src)
	result, err := v.Classify(
		context.Background(), []charms.Utxo{utxo}, 100, 0,
	)
	require.NoError(t, err)

	require.Len(t, result.Synced, 1)

	// No lookup for "someparent" may have happened.
	src.AssertNotCalled(t, "GetTransaction", "someparent")
	src.AssertExpectations(t)
}

// TestClassifyVisitedAncestorsOnce verifies that a diamond-shaped ancestry
// does not trigger duplicate lookups.
func TestClassifyVisitedAncestorsOnce(t *testing.T) {
	t.Parallel()

	utxo := testUtxo(8)
	childID := utxo.OutPoint.Hash.String()

	src := &mockSource{}
	child := confirmedTx(childID, 90, "shared", "shared")
	src.On("GetTransaction", childID).Return(child, nil).Once()
	src.On("GetTransaction", "shared").
		Return(confirmedTx("shared", 80), nil).Once()

	v := NewValidator(src)
	_, err := v.Classify(
		context.Background(), []charms.Utxo{utxo}, 100, 50,
	)
	require.NoError(t, err)
	src.AssertExpectations(t)
}

// TestMapRejectErr verifies the reject message mapping used by both chain
// sources.
func TestMapRejectErr(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		msg  string
		want error
	}{
		{msg: "txn-already-in-mempool", want: ErrTxAlreadyInMempool},
		{msg: "18: txn-already-known", want: ErrTxAlreadyKnown},
		{msg: "Transaction already in block chain",
			want: ErrTxAlreadyConfirmed},
		{msg: "bad-txns-inputs-missingorspent", want: ErrMissingInputs},
		{msg: "min relay fee not met, 100 < 141", want: ErrFeeTooLow},
	}

	for _, tc := range testCases {
		require.ErrorIs(t, MapRejectErr(tc.msg), tc.want, tc.msg)
	}

	// Unrecognized messages survive verbatim for diagnostics.
	err := MapRejectErr("scriptsig-not-pushonly")
	require.EqualError(t, err, "scriptsig-not-pushonly")
}
