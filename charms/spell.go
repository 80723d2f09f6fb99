// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package charms

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

var (
	// ErrInvalidAssetState is returned when a spell's declared balances
	// violate an asset invariant. This is fatal before any signing is
	// requested, since on-chain rejection is certain.
	ErrInvalidAssetState = errors.New("invalid asset state")
)

// SpellInput declares an asset-carrying UTXO consumed by a spell, together
// with the per-app balances it carries.
type SpellInput struct {
	// UtxoID is the "txid:vout" id of the consumed output.
	UtxoID string `json:"utxo_id"`

	// Charms maps an index into Spell.Apps to the balance carried by this
	// input for that app. NFTs carry a balance of 1.
	Charms map[int]uint64 `json:"charms"`
}

// SpellOutput declares an output created by a spell and the per-app balances
// it will carry.
type SpellOutput struct {
	// Address is the receiving address.
	Address string `json:"address"`

	// Charms maps an index into Spell.Apps to the balance assigned to
	// this output for that app.
	Charms map[int]uint64 `json:"charms"`
}

// Spell is the declarative asset operation submitted to the proving service.
// It names the apps involved, the asset inputs and outputs, the funding
// UTXO paying the fee and the change address for the remainder.
type Spell struct {
	// Version is the protocol version of the spell.
	Version int `json:"version"`

	// Apps lists the typed app identifiers referenced by index from the
	// inputs and outputs.
	Apps []AppID `json:"apps"`

	// Ins are the asset-carrying inputs consumed by the spell. A mint has
	// no asset inputs.
	Ins []SpellInput `json:"ins"`

	// Outs are the outputs created by the spell.
	Outs []SpellOutput `json:"outs"`

	// FundingUtxoID is the "txid:vout" id of the plain UTXO selected to
	// pay the transaction fees. It must never be an asset-carrying output.
	FundingUtxoID string `json:"funding_utxo_id"`

	// FundingValue is the value of the funding UTXO in satoshis.
	FundingValue btcutil.Amount `json:"funding_utxo_value"`

	// ChangeAddress receives the funding remainder.
	ChangeAddress string `json:"change_address"`
}

// Validate checks the spell's declared balances against the asset
// invariants. Any violation is reported as ErrInvalidAssetState and must
// abort the pipeline before a signature is ever requested.
func (s *Spell) Validate() error {
	if len(s.Outs) == 0 {
		return fmt.Errorf("%w: spell has no outputs",
			ErrInvalidAssetState)
	}

	if s.FundingUtxoID == "" {
		return fmt.Errorf("%w: missing funding utxo",
			ErrInvalidAssetState)
	}

	// Tally the declared per-app totals on both sides.
	totalIn := make(map[int]uint64, len(s.Apps))
	totalOut := make(map[int]uint64, len(s.Apps))

	for _, in := range s.Ins {
		for app, amt := range in.Charms {
			if err := s.checkAppIndex(app); err != nil {
				return err
			}

			totalIn[app] += amt
		}
	}

	for _, out := range s.Outs {
		for app, amt := range out.Charms {
			if err := s.checkAppIndex(app); err != nil {
				return err
			}

			totalOut[app] += amt
		}
	}

	for app := range s.Apps {
		in, out := totalIn[app], totalOut[app]

		switch s.Apps[app].Kind {
		// A fungible transfer must conserve the declared balance. A
		// mint (no inputs for the app) may create any amount.
		case KindToken:
			if in > 0 && out != in {
				return fmt.Errorf("%w: app %v declares %d in "+
					"but %d out", ErrInvalidAssetState,
					s.Apps[app], in, out)
			}

		// An NFT is carried whole: once minted, every spell that
		// touches it must pass it through exactly once.
		case KindNFT:
			if in > 1 || out > 1 {
				return fmt.Errorf("%w: nft %v duplicated",
					ErrInvalidAssetState, s.Apps[app])
			}
			if in == 1 && out != 1 {
				return fmt.Errorf("%w: nft %v consumed "+
					"without being reissued",
					ErrInvalidAssetState, s.Apps[app])
			}
		}
	}

	return nil
}

// checkAppIndex validates that an app index declared by an input or output
// refers to an entry of the Apps list.
func (s *Spell) checkAppIndex(app int) error {
	if app < 0 || app >= len(s.Apps) {
		return fmt.Errorf("%w: app index %d out of range",
			ErrInvalidAssetState, app)
	}

	return nil
}
