// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"
	"strings"
)

var (
	// ErrTxNotFound is returned when a transaction cannot be found by any
	// configured source.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrTxAlreadyInMempool is returned when a broadcast is rejected
	// because the transaction is already in the mempool.
	ErrTxAlreadyInMempool = errors.New("transaction already in mempool")

	// ErrTxAlreadyKnown is returned when a broadcast is rejected because
	// the transaction is already known to the node.
	ErrTxAlreadyKnown = errors.New("transaction already known")

	// ErrTxAlreadyConfirmed is returned when a broadcast is rejected
	// because the transaction has already been mined.
	ErrTxAlreadyConfirmed = errors.New("transaction already confirmed")

	// ErrMissingInputs is returned when a broadcast is rejected because
	// one of the transaction's inputs is missing or already spent.
	ErrMissingInputs = errors.New("transaction inputs missing or spent")

	// ErrFeeTooLow is returned when a broadcast is rejected for not
	// meeting the relay fee floor.
	ErrFeeTooLow = errors.New("fee below relay minimum")

	// ErrSourceUnavailable is returned when a source cannot be reached or
	// answers with a server-side failure. It signals the caller to try
	// the next source in its fallback chain.
	ErrSourceUnavailable = errors.New("chain source unavailable")

	// ErrHeightUnknown is returned when the height of a confirmed
	// transaction cannot be determined.
	ErrHeightUnknown = errors.New("block height unknown")
)

// rejectMap maps substrings of relay/node reject messages to the sentinel
// errors above. The phrasings are the union of what bitcoind, btcd and the
// public relay endpoints emit; the proxy passes node messages through
// verbatim.
var rejectMap = map[string]error{
	"txn-already-in-mempool":         ErrTxAlreadyInMempool,
	"already in mempool":             ErrTxAlreadyInMempool,
	"txn-already-known":              ErrTxAlreadyKnown,
	"already have transaction":       ErrTxAlreadyKnown,
	"transaction already in block":   ErrTxAlreadyConfirmed,
	"already in block chain":         ErrTxAlreadyConfirmed,
	"bad-txns-inputs-missingorspent": ErrMissingInputs,
	"missing inputs":                 ErrMissingInputs,
	"orphan transaction":             ErrMissingInputs,
	"min relay fee not met":          ErrFeeTooLow,
	"mempool min fee not met":        ErrFeeTooLow,
	"insufficient fee":               ErrFeeTooLow,
}

// MapRejectErr maps a raw reject message from a relay or node into one of
// the package's sentinel errors so callers can branch with errors.Is. The
// original message is preserved by wrapping when no mapping matches.
func MapRejectErr(msg string) error {
	normalized := strings.ToLower(msg)

	for pattern, mapped := range rejectMap {
		if strings.Contains(normalized, pattern) {
			return mapped
		}
	}

	return errors.New(msg)
}

// IsAlreadyBroadcast returns true when a broadcast failure actually means
// the transaction has been accepted before: already in the mempool, already
// known to the node, or already mined. The broadcast coordinator treats all
// three as success.
func IsAlreadyBroadcast(err error) bool {
	return errors.Is(err, ErrTxAlreadyInMempool) ||
		errors.Is(err, ErrTxAlreadyKnown) ||
		errors.Is(err, ErrTxAlreadyConfirmed)
}
