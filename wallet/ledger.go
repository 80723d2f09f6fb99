// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"

	"github.com/gathogajanice/charmcards/charms"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// PlaceholderImage is substituted whenever a brand lookup fails. Every
// produced asset record carries a non-empty image reference.
const PlaceholderImage = "/assets/card-placeholder.svg"

// BrandResolver resolves an app identifier to its brand name and display
// image. Lookups are best-effort; failures fall back to the history entry's
// recorded brand and the placeholder image.
type BrandResolver interface {
	// Brand returns the brand name and image reference for an app.
	Brand(ctx context.Context, appID charms.AppID) (name string,
		image string, err error)
}

// AssetView is the displayable partition of an address's assets.
type AssetView struct {
	// NFTs are the non-fungible records, e.g. the cards themselves.
	NFTs []charms.AssetRecord

	// Tokens are the fungible records, e.g. card balances.
	Tokens []charms.AssetRecord
}

// LedgerConfig defines the options used when initializing a Ledger.
type LedgerConfig struct {
	// Inventory provides the on-chain UTXO view.
	Inventory *Inventory

	// History is the local mint/transfer log.
	History *HistoryStore

	// Brands resolves brand names and images. Optional.
	Brands BrandResolver
}

// validate checks the required config options are set.
func (c *LedgerConfig) validate() error {
	if c == nil {
		return errors.New("missing ledger config")
	}

	if c.Inventory == nil {
		return errors.New("missing inventory config")
	}

	if c.History == nil {
		return errors.New("missing history store config")
	}

	return nil
}

// Ledger reconciles on-chain UTXOs with the locally recorded mint/transfer
// history into displayable asset records. The history log is a best-effort
// cache: on-chain state always wins, and a history read failure degrades to
// an empty view rather than blocking.
type Ledger struct {
	inventory *Inventory
	history   *HistoryStore
	brands    BrandResolver
}

// NewLedger creates a ledger view from the given config.
func NewLedger(cfg *LedgerConfig) (*Ledger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Ledger{
		inventory: cfg.Inventory,
		history:   cfg.History,
		brands:    cfg.Brands,
	}, nil
}

// ListAssets returns the address's assets, classified into NFTs and tokens.
func (l *Ledger) ListAssets(ctx context.Context, address string) (
	*AssetView, error) {

	utxos, err := l.inventory.ListUtxos(ctx, address)
	if err != nil {
		return nil, err
	}

	// Index the live UTXO set by id. History entries whose bound output
	// is no longer unspent have been superseded by a later transfer.
	live := make(map[string]charms.Utxo, len(utxos))
	for _, utxo := range utxos {
		live[utxo.ID()] = utxo
	}

	entries := l.recentEntries(address)

	view := &AssetView{}
	for _, entry := range entries {
		utxo, ok := live[entry.OutPoint]
		if !ok {
			continue
		}

		record, err := l.buildRecord(ctx, entry, utxo)
		if err != nil {
			log.Warnf("Skipping undisplayable asset entry %s: %v",
				entry.OutPoint, err)

			continue
		}

		switch record.AppID.Kind {
		case charms.KindNFT:
			view.NFTs = append(view.NFTs, record)

		case charms.KindToken:
			view.Tokens = append(view.Tokens, record)
		}
	}

	return view, nil
}

// AssetOutPoints returns the ids of the address's asset-carrying UTXOs.
// The funding selector subtracts this set from its candidates so fees are
// never paid out of an asset output.
func (l *Ledger) AssetOutPoints(ctx context.Context,
	address string) (fn.Set[string], error) {

	view, err := l.ListAssets(ctx, address)
	if err != nil {
		return nil, err
	}

	ids := fn.NewSet[string]()
	for _, record := range view.NFTs {
		ids.Add(record.Utxo.ID())
	}
	for _, record := range view.Tokens {
		ids.Add(record.Utxo.ID())
	}

	return ids, nil
}

// recentEntries loads the address's history and deduplicates it into one
// entry per asset instance.
//
// Dedup rule: two entries denote the same asset instance iff they share a
// commit or spell transaction id. An AppID match alone is insufficient,
// since distinct mints can derive the same identifier from a reused
// originating UTXO. The newest entry of each group wins.
func (l *Ledger) recentEntries(address string) []HistoryEntry {
	entries, err := l.history.Entries(address)
	if err != nil {
		// The log is a display aid only: degrade, never block.
		log.Errorf("Unable to read local history: %v", err)
		return nil
	}

	// Walk oldest to newest, unioning entries into groups keyed by every
	// txid they mention. A later entry replaces its group's survivor.
	groupOf := make(map[string]int)
	survivors := make([]HistoryEntry, 0, len(entries))

	for _, entry := range entries {
		group := -1
		for _, txid := range []string{
			entry.CommitTxID, entry.SpellTxID,
		} {
			if txid == "" {
				continue
			}

			if g, ok := groupOf[txid]; ok {
				group = g
				break
			}
		}

		if group == -1 {
			group = len(survivors)
			survivors = append(survivors, entry)
		} else {
			survivors[group] = entry
		}

		for _, txid := range []string{
			entry.CommitTxID, entry.SpellTxID,
		} {
			if txid != "" {
				groupOf[txid] = group
			}
		}
	}

	return survivors
}

// buildRecord assembles the displayable record for one history entry bound
// to a live UTXO.
func (l *Ledger) buildRecord(ctx context.Context, entry HistoryEntry,
	utxo charms.Utxo) (charms.AssetRecord, error) {

	appID, err := charms.ParseAppID(entry.AppID)
	if err != nil {
		return charms.AssetRecord{}, err
	}

	record := charms.AssetRecord{
		AppID:     appID,
		Brand:     entry.Brand,
		Remaining: entry.Amount,
		Utxo:      utxo,
		Image:     PlaceholderImage,
	}

	if l.brands == nil {
		return record, nil
	}

	name, image, err := l.brands.Brand(ctx, appID)
	if err != nil {
		// Keep the placeholder image; the record must never ship
		// without one.
		log.Debugf("Brand lookup for %v failed: %v", appID, err)
		return record, nil
	}

	if name != "" {
		record.Brand = name
	}
	if image != "" {
		record.Image = image
	}

	return record, nil
}
