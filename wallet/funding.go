// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/gathogajanice/charmcards/chain"
	"github.com/gathogajanice/charmcards/charms"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// HealthFunc reports the verifying node's sync and prune status. The proxy
// client's Health method satisfies it.
type HealthFunc func(ctx context.Context) (*chain.NodeHealth, error)

// FundingConfig defines the options used when initializing a Selector.
type FundingConfig struct {
	// Inventory provides the candidate UTXO set. Lookups are live;
	// funding selection must never run on cached data.
	Inventory *Inventory

	// Ledger identifies asset-carrying UTXOs, which are never eligible
	// to pay fees.
	Ledger *Ledger

	// Validator classifies candidates against the verifying node's prune
	// state. Optional; without it every candidate is assumed verifiable.
	Validator *chain.Validator

	// Health reports the node's height and prune height. Required when
	// Validator is set.
	Health HealthFunc
}

// validate checks the required config options are set.
func (c *FundingConfig) validate() error {
	if c == nil {
		return errors.New("missing funding config")
	}

	if c.Inventory == nil {
		return errors.New("missing inventory config")
	}

	if c.Ledger == nil {
		return errors.New("missing ledger config")
	}

	if c.Validator != nil && c.Health == nil {
		return errors.New("missing node health config")
	}

	return nil
}

// Selector picks a non-asset-carrying UTXO to pay transaction fees.
type Selector struct {
	inventory *Inventory
	ledger    *Ledger
	validator *chain.Validator
	health    HealthFunc
}

// NewSelector creates a funding selector from the given config.
func NewSelector(cfg *FundingConfig) (*Selector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Selector{
		inventory: cfg.Inventory,
		ledger:    cfg.Ledger,
		validator: cfg.Validator,
		health:    cfg.Health,
	}, nil
}

// FindFundingUtxo returns a plain UTXO suitable to pay fees. The candidate
// set is all UTXOs minus asset-carrying UTXOs minus the explicit
// exclusions. Candidates are considered largest first; the first one whose
// value reaches min wins.
//
// If no candidate reaches min, the single largest remaining candidate is
// returned as a best-effort fallback. This fallback is explicitly not
// guaranteed sufficient: callers must separately confirm the chosen value
// covers the transaction's required fee before requesting any signature
// (see Orchestrator.SignPair).
func (s *Selector) FindFundingUtxo(ctx context.Context, address string,
	exclude []wire.OutPoint, min btcutil.Amount) (*charms.Utxo, error) {

	utxos, err := s.inventory.ListUtxos(ctx, address)
	if err != nil {
		return nil, err
	}

	assetIDs, err := s.ledger.AssetOutPoints(ctx, address)
	if err != nil {
		return nil, err
	}

	excluded := fn.NewSet(exclude...)

	candidates := make([]charms.Utxo, 0, len(utxos))
	for _, utxo := range utxos {
		if assetIDs.Contains(utxo.ID()) {
			continue
		}

		if excluded.Contains(utxo.OutPoint) {
			continue
		}

		candidates = append(candidates, utxo)
	}

	candidates = s.dropPruned(ctx, candidates)

	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: address %s", ErrNoFundingUtxo,
			address)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Value > candidates[j].Value
	})

	for _, candidate := range candidates {
		if candidate.Value >= min {
			utxo := candidate
			return &utxo, nil
		}
	}

	// Best effort: hand back the largest remaining candidate even though
	// it misses the requested minimum. The pre-sign funds check catches
	// the truly insufficient case before a prompt is shown.
	largest := candidates[0]
	log.Warnf("No funding utxo reaches %v; falling back to largest "+
		"candidate %v", min, largest)

	return &largest, nil
}

// dropPruned removes candidates the verifying node cannot revalidate. The
// exclusion is best-effort and never fatal: if the node's state cannot be
// determined the candidate set passes through unchanged.
func (s *Selector) dropPruned(ctx context.Context,
	candidates []charms.Utxo) []charms.Utxo {

	if s.validator == nil || len(candidates) == 0 {
		return candidates
	}

	health, err := s.health(ctx)
	if err != nil {
		log.Warnf("Unable to determine node health, skipping pruned "+
			"check: %v", err)

		return candidates
	}

	if !health.Pruned() {
		return candidates
	}

	result, err := s.validator.Classify(
		ctx, candidates, health.Height, health.PruneHeight,
	)
	if err != nil {
		log.Warnf("Pruned classification failed, skipping: %v", err)
		return candidates
	}

	excluded := fn.NewSet[string]()
	for _, pruned := range result.Pruned {
		log.Warnf("Excluding funding candidate %v: %v (%v)",
			pruned.Utxo.OutPoint, ErrPrunedAncestry, pruned.Reason)

		excluded.Add(pruned.Utxo.ID())
	}

	if len(excluded) == 0 {
		return candidates
	}

	kept := make([]charms.Utxo, 0, len(candidates))
	for _, utxo := range candidates {
		if excluded.Contains(utxo.ID()) {
			continue
		}

		kept = append(kept, utxo)
	}

	return kept
}
