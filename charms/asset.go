// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package charms

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// AssetRecord is a displayable view of an asset instance bound to a UTXO.
// A transfer produces a new record bound to a new UTXO rather than mutating
// the old one.
type AssetRecord struct {
	// AppID is the typed application identifier of the asset.
	AppID AppID

	// Brand is the human-readable brand name, e.g. the card issuer.
	Brand string

	// Remaining is the remaining balance carried by the asset, in card
	// units (not satoshis).
	Remaining uint64

	// Utxo is the output currently carrying the asset.
	Utxo Utxo

	// Image is the display image reference. It is always non-empty; a
	// failed brand lookup substitutes a fixed placeholder.
	Image string
}

// TxIDPair carries the commit/spell txid pair for a broadcast (or
// pre-broadcast) transaction pair.
type TxIDPair struct {
	// CommitTxID is the id of the commit transaction.
	CommitTxID chainhash.Hash

	// SpellTxID is the id of the spell transaction.
	SpellTxID chainhash.Hash
}

// TransactionPair is a linked commit/spell transaction pair produced by the
// proving service.
//
// Invariant: the spell transaction's qualifying input references an output
// of the commit transaction, and the spell must never be submitted to the
// network before the commit is observed as accepted.
type TransactionPair struct {
	// CommitHex is the raw commit transaction, hex encoded.
	CommitHex string

	// SpellHex is the raw spell transaction, hex encoded.
	SpellHex string

	// IDs holds the txids of the two transactions.
	IDs TxIDPair
}
