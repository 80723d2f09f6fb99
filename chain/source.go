// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain provides read and broadcast access to the Bitcoin network
// through HTTP relay/explorer endpoints and the CharmCards server-side
// proxy, plus the pruned-chain validator that decides which UTXOs a
// (possibly pruned) node can still verify.
package chain

import (
	"context"

	"github.com/gathogajanice/charmcards/charms"
)

// TxStatus describes the confirmation status of a transaction as reported
// by a source.
type TxStatus struct {
	// Confirmed is true once the transaction is mined.
	Confirmed bool `json:"confirmed"`

	// BlockHeight is the height of the confirming block. It is only
	// meaningful when Confirmed is true; a confirmed transaction whose
	// height the source cannot report is surfaced as ErrHeightUnknown by
	// the validator.
	BlockHeight int32 `json:"block_height"`
}

// TxIn is a declared input of a fetched transaction. Only the parent txid is
// needed by the pruned validator; the full previous output is resolved
// separately when the PSBT codec asks for it.
type TxIn struct {
	// TxID is the id of the parent transaction.
	TxID string `json:"txid"`

	// Vout is the spent output index.
	Vout uint32 `json:"vout"`
}

// TxInfo is the normalized view of a transaction lookup.
type TxInfo struct {
	// TxID is the transaction id.
	TxID string `json:"txid"`

	// Inputs are the declared inputs.
	Inputs []TxIn `json:"vin"`

	// Status is the confirmation status.
	Status TxStatus `json:"status"`
}

// Source is the read/broadcast surface the pipeline needs from any chain
// backend. Both the public relay client and the server-side proxy implement
// it; the broadcast coordinator walks an ordered list of sources and takes
// the first success.
type Source interface {
	// GetTransaction looks up a transaction by id. It returns
	// ErrTxNotFound if the source does not know the transaction.
	GetTransaction(ctx context.Context, txid string) (*TxInfo, error)

	// GetRawTransaction fetches the full serialized transaction, hex
	// encoded.
	GetRawTransaction(ctx context.Context, txid string) (string, error)

	// BroadcastTransaction submits a raw transaction and returns its
	// txid. Reject messages are mapped through MapRejectErr.
	BroadcastTransaction(ctx context.Context, rawHex string) (string,
		error)

	// TipHeight returns the source's current best block height.
	TipHeight(ctx context.Context) (int32, error)
}

// UtxoLister is implemented by sources that can enumerate the unspent
// outputs of an address. Only the proxy exposes this; public relays are not
// queried for address state to keep browser cross-origin restrictions out
// of the picture.
type UtxoLister interface {
	// ListUtxos returns the unspent outputs of the address.
	ListUtxos(ctx context.Context, address string) ([]charms.Utxo, error)
}
