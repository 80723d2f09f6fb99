// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet implements the CharmCards transaction pipeline: UTXO
// inventory over heterogeneous wallet providers, funding selection that
// avoids asset-carrying outputs, the PSBT codec, the commit/spell signing
// orchestrator, the ordered broadcast coordinator and the asset ledger
// view.
package wallet

import (
	"context"
	"fmt"
)

// RawUnspent is a single unspent output exactly as reported by a wallet
// provider. Extensions disagree on field names (txid/txId/tx_hash,
// vout/outputIndex/index, value/satoshis/amount), so the shape is kept
// loose here and normalized at the inventory boundary. Provider-specific
// names never leak past that layer.
type RawUnspent map[string]any

// SignOptions carries the options accepted by a provider's PSBT signer.
type SignOptions struct {
	// AutoFinalize asks the provider to finalize the inputs it signs.
	// The orchestrator keeps this off and finalizes through the codec so
	// prover-supplied witnesses are preserved.
	AutoFinalize bool
}

// Provider is the minimal surface every wallet extension adapter exposes.
// Everything else is an optional capability discovered by type assertion:
// absence of a capability is a normal, non-exceptional state, never an
// error.
type Provider interface {
	// Name identifies the extension for logs and provider selection.
	Name() string
}

// AccountLister is the optional capability of enumerating the wallet's
// addresses.
type AccountLister interface {
	Provider

	// Accounts returns the wallet's addresses, primary first.
	Accounts(ctx context.Context) ([]string, error)
}

// UtxoLister is the optional capability of listing unspent outputs.
type UtxoLister interface {
	Provider

	// ListUnspent returns the address's unspent outputs in the
	// provider's native shape.
	ListUnspent(ctx context.Context, address string) ([]RawUnspent,
		error)
}

// PsbtSigner is the optional capability of signing a PSBT. The call may
// block indefinitely on a user-approval prompt; it must stay cancelable
// through the context and is never given an internal timeout.
type PsbtSigner interface {
	Provider

	// SignPsbt signs the base64-encoded packet and returns the signed
	// packet, base64 encoded.
	SignPsbt(ctx context.Context, psbtB64 string,
		opts *SignOptions) (string, error)
}

// TxPusher is the optional capability of broadcasting a raw transaction
// through the wallet's own backend.
type TxPusher interface {
	Provider

	// PushTx submits the raw hex transaction and returns its txid.
	PushTx(ctx context.Context, rawHex string) (string, error)
}

// firstCapability walks the ordered provider list and returns the first
// provider exposing the capability T. Detection is a pure function over the
// injected list; nothing reaches into ambient global state.
func firstCapability[T any](providers []Provider) (T, bool) {
	for _, p := range providers {
		if cap, ok := p.(T); ok {
			return cap, true
		}
	}

	var zero T
	return zero, false
}

// FirstSigner returns the first provider able to sign PSBTs.
func FirstSigner(providers []Provider) (PsbtSigner, error) {
	signer, ok := firstCapability[PsbtSigner](providers)
	if !ok {
		return nil, fmt.Errorf("%w: no psbt signer detected",
			ErrProviderUnavailable)
	}

	return signer, nil
}

// FirstPusher returns the first provider able to broadcast transactions,
// or false if none is installed. Broadcasting has non-wallet fallbacks, so
// absence is not an error here.
func FirstPusher(providers []Provider) (TxPusher, bool) {
	return firstCapability[TxPusher](providers)
}

// PrimaryAddress returns the primary address of the first provider able to
// enumerate accounts.
func PrimaryAddress(ctx context.Context, providers []Provider) (string,
	error) {

	lister, ok := firstCapability[AccountLister](providers)
	if !ok {
		return "", fmt.Errorf("%w: no account lister detected",
			ErrProviderUnavailable)
	}

	accounts, err := lister.Accounts(ctx)
	if err != nil {
		return "", fmt.Errorf("unable to list accounts via %s: %w",
			lister.Name(), err)
	}

	if len(accounts) == 0 {
		return "", fmt.Errorf("%w: provider %s has no accounts",
			ErrProviderUnavailable, lister.Name())
	}

	return accounts[0], nil
}
