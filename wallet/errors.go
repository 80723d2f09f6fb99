// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"strings"
)

var (
	// ErrUserRejected is returned when the user declines a wallet
	// signing prompt. The provider's message is preserved verbatim by
	// wrapping; the pipeline aborts.
	ErrUserRejected = errors.New("user rejected signing request")

	// ErrProviderUnavailable is returned when no configured wallet
	// provider exposes the capability needed at a given step. It triggers
	// the next fallback and is fatal only once every fallback is
	// exhausted.
	ErrProviderUnavailable = errors.New("no wallet provider available")

	// ErrMalformedTransaction is returned when a raw transaction fails
	// structural validation. Such a transaction is never submitted.
	ErrMalformedTransaction = errors.New("malformed transaction")

	// ErrMalformedWitness is returned when a PSBT input lacks a valid
	// signature or witness after finalization.
	ErrMalformedWitness = errors.New("input witness missing or malformed")

	// ErrPrunedAncestry is returned when a UTXO is excluded from the
	// funding candidate set because a pruned node cannot verify it or its
	// ancestry. It is never pipeline-fatal.
	ErrPrunedAncestry = errors.New("utxo ancestry unverifiable on " +
		"pruned node")

	// ErrMempoolTimeout is the soft condition recorded when a broadcast
	// transaction is not observed in the mempool within the poll window.
	// It is logged and attached as a warning, never thrown.
	ErrMempoolTimeout = errors.New("transaction not observed in mempool")

	// ErrNoFundingUtxo is returned when the funding selector has no
	// candidate left after exclusions.
	ErrNoFundingUtxo = errors.New("no funding utxo available")

	// ErrInsufficientFunds is returned when the selected funding value
	// cannot cover the spell's declared fee requirement. The check runs
	// before any signature is requested.
	ErrInsufficientFunds = errors.New("funding value below required fee")
)

// rejectionMarkers are the phrasings wallet extensions use when the user
// declines a prompt. There is no shared error code across extensions, so
// message inspection is the only portable signal.
var rejectionMarkers = []string{
	"rejected",
	"denied",
	"cancelled",
	"canceled",
	"user refused",
}

// isUserRejection reports whether a provider error represents an explicit
// user rejection rather than a technical failure.
func isUserRejection(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrUserRejected) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rejectionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
