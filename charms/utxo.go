// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package charms

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// Utxo is the canonical record for an unspent transaction output as observed
// through the inventory service. Identity is the outpoint; a Utxo is
// immutable once observed and logically destroyed once spent.
type Utxo struct {
	// OutPoint is the (txid, output index) pair identifying the output.
	OutPoint wire.OutPoint

	// Value is the output value in satoshis.
	Value btcutil.Amount

	// Height is the height of the confirming block, or 0 if the output is
	// still unconfirmed.
	Height int32

	// PkScript is the output script, if the reporting source exposed it.
	// It may be nil; the PSBT codec falls back to fetching the full parent
	// transaction when it needs the script.
	PkScript []byte
}

// ID returns the "txid:vout" rendering used as the stable map key for a
// UTXO throughout the pipeline.
func (u Utxo) ID() string {
	return u.OutPoint.String()
}

// Confirmed returns true once the output has a confirming block.
func (u Utxo) Confirmed() bool {
	return u.Height > 0
}

// String renders the outpoint and value for logging.
func (u Utxo) String() string {
	return fmt.Sprintf("%v (%v)", u.OutPoint, u.Value)
}
