package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/gathogajanice/charmcards/chain"
	"github.com/stretchr/testify/require"
)

// testPkScript is a placeholder v0 p2wpkh output script.
var testPkScript = append(
	[]byte{0x00, 0x14}, bytes.Repeat([]byte{0x11}, 20)...,
)

// testOutPoint returns a deterministic outpoint derived from the seed.
func testOutPoint(seed byte, index uint32) wire.OutPoint {
	var hash chainhash.Hash
	for i := range hash {
		hash[i] = seed
	}

	return wire.OutPoint{Hash: hash, Index: index}
}

// makeCommitTx builds an unsigned commit-shaped transaction: one plain input
// and one output committing to the spell.
func makeCommitTx() *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash:  *(*chainhash.Hash)(bytes.Repeat([]byte{0xaa}, 32)),
		Index: 0,
	}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(9_000, testPkScript))

	return tx
}

// makeSpellTx builds a spell-shaped transaction spending the commit's first
// output. Its input carries a pre-populated witness, the way the proving
// service hands spells back.
func makeSpellTx(commit *wire.MsgTx) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)

	txIn := wire.NewTxIn(&wire.OutPoint{
		Hash:  commit.TxHash(),
		Index: 0,
	}, nil, nil)
	txIn.Witness = wire.TxWitness{
		bytes.Repeat([]byte{0x30}, 71),
		bytes.Repeat([]byte{0x02}, 33),
	}
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(8_000, testPkScript))

	return tx
}

// txToHex serializes a transaction to its hex wire form.
func txToHex(t *testing.T, tx *wire.MsgTx) string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))

	return hex.EncodeToString(buf.Bytes())
}

// newTestHistory opens a throwaway history store.
func newTestHistory(t *testing.T) *HistoryStore {
	t.Helper()

	store, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

// fakeProvider is the minimal provider surface shared by the capability
// fakes below.
type fakeProvider struct {
	name string
}

func (f *fakeProvider) Name() string {
	return f.name
}

// fakeLister is a provider exposing the unspent-listing capability.
type fakeLister struct {
	fakeProvider

	raw []RawUnspent
	err error
}

func (f *fakeLister) ListUnspent(_ context.Context,
	_ string) ([]RawUnspent, error) {

	return f.raw, f.err
}

// fakeSigner is a provider exposing the PSBT signing capability. Each call
// consumes the next entry of errs; a nil entry (or running past the slice)
// signs successfully by finalizing every incomplete input with a dummy
// witness.
type fakeSigner struct {
	fakeProvider

	errs  []error
	calls int
}

func (f *fakeSigner) SignPsbt(_ context.Context, psbtB64 string,
	_ *SignOptions) (string, error) {

	call := f.calls
	f.calls++

	if call < len(f.errs) && f.errs[call] != nil {
		return "", f.errs[call]
	}

	packet, err := DecodePacket(psbtB64)
	if err != nil {
		return "", err
	}

	for i := range packet.Inputs {
		pInput := &packet.Inputs[i]
		if len(pInput.FinalScriptWitness) > 0 ||
			len(pInput.FinalScriptSig) > 0 {

			continue
		}

		witness, err := serializeWitness(wire.TxWitness{
			bytes.Repeat([]byte{0x30}, 71),
			bytes.Repeat([]byte{0x03}, 33),
		})
		if err != nil {
			return "", err
		}

		pInput.FinalScriptWitness = witness
	}

	return EncodePacket(packet)
}

// fakePusher is a provider exposing the transaction-push capability.
type fakePusher struct {
	fakeProvider

	pushed []string
	err    error
}

func (f *fakePusher) PushTx(_ context.Context, rawHex string) (string,
	error) {

	if f.err != nil {
		return "", f.err
	}

	f.pushed = append(f.pushed, rawHex)

	tx, err := decodeTxHex(rawHex)
	if err != nil {
		return "", err
	}

	return tx.TxHash().String(), nil
}

// fakeBackend is an in-memory broadcast backend standing in for both the
// relay and the proxy. It tracks which txids it has "seen" so the mempool
// poll can be exercised deterministically.
type fakeBackend struct {
	mu sync.Mutex

	seen       map[string]bool
	broadcasts []string

	// autoSee marks a transaction as observed the moment it is
	// broadcast. Turning it off simulates propagation lag.
	autoSee bool

	broadcastErr error
	packageErr   error
	packageCalls int
}

func newFakeBackend(autoSee bool) *fakeBackend {
	return &fakeBackend{
		seen:    make(map[string]bool),
		autoSee: autoSee,
	}
}

func (f *fakeBackend) markSeen(txid string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seen[txid] = true
}

func (f *fakeBackend) BroadcastTransaction(_ context.Context,
	rawHex string) (string, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.broadcastErr != nil {
		return "", f.broadcastErr
	}

	tx, err := decodeTxHex(rawHex)
	if err != nil {
		return "", err
	}

	txid := tx.TxHash().String()
	f.broadcasts = append(f.broadcasts, txid)
	if f.autoSee {
		f.seen[txid] = true
	}

	return txid, nil
}

func (f *fakeBackend) GetTransaction(_ context.Context, txid string) (
	*chain.TxInfo, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.seen[txid] {
		return nil, fmt.Errorf("%w: %s", chain.ErrTxNotFound, txid)
	}

	return &chain.TxInfo{TxID: txid}, nil
}

func (f *fakeBackend) BroadcastPackage(_ context.Context, commitHex,
	spellHex string) ([]string, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	f.packageCalls++
	if f.packageErr != nil {
		return nil, f.packageErr
	}

	var txids []string
	for _, rawHex := range []string{commitHex, spellHex} {
		tx, err := decodeTxHex(rawHex)
		if err != nil {
			return nil, err
		}

		txid := tx.TxHash().String()
		f.seen[txid] = true
		txids = append(txids, txid)
	}

	return txids, nil
}
