// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/gathogajanice/charmcards/chain"
	"github.com/gathogajanice/charmcards/charms"
	"github.com/gathogajanice/charmcards/pkg/btcunit"
)

// Alias keys accepted by the normalizer, in the order they are probed. Each
// wallet extension ships its own JSON shape; everything is folded into the
// canonical charms.Utxo at this boundary.
var (
	txidKeys   = []string{"txid", "txId", "tx_hash"}
	voutKeys   = []string{"vout", "outputIndex", "index"}
	valueKeys  = []string{"value", "satoshis", "amount"}
	heightKeys = []string{"height", "block_height", "blockHeight"}
	scriptKeys = []string{"script", "scriptPk", "scriptPubKey"}
)

// InventoryConfig defines the options used when initializing an Inventory.
type InventoryConfig struct {
	// Providers is the ordered list of wallet providers to query.
	Providers []Provider

	// Proxy is the server-side relay proxy consulted when every provider
	// yields nothing. It exists to bypass browser cross-origin
	// restrictions.
	Proxy chain.UtxoLister

	// Params identifies the network, which feeds the amount-unit
	// decision table.
	Params *chaincfg.Params
}

// validate checks the required config options are set.
func (c *InventoryConfig) validate() error {
	if c == nil {
		return errors.New("missing inventory config")
	}

	if c.Params == nil {
		return errors.New("missing chain params config")
	}

	return nil
}

// Inventory fetches and normalizes a wallet's unspent outputs from multiple
// heterogeneous sources.
type Inventory struct {
	providers []Provider
	proxy     chain.UtxoLister
	params    *chaincfg.Params
}

// NewInventory creates an inventory service from the given config.
func NewInventory(cfg *InventoryConfig) (*Inventory, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Inventory{
		providers: cfg.Providers,
		proxy:     cfg.Proxy,
		params:    cfg.Params,
	}, nil
}

// ListUtxos returns the address's unspent outputs, trying the configured
// providers in priority order and falling back to the server-side proxy.
//
// If every source fails, an empty slice and nil error are returned: empty
// means "unknown", never "zero". Callers must not infer a zero balance from
// an empty result.
//
// Results are never cached. Stale inventory feeding funding selection could
// cause a double-spend attempt.
func (inv *Inventory) ListUtxos(ctx context.Context, address string) (
	[]charms.Utxo, error) {

	for _, p := range inv.providers {
		lister, ok := p.(UtxoLister)
		if !ok {
			continue
		}

		raw, err := lister.ListUnspent(ctx, address)
		if err != nil {
			// Context cancellation is the caller abandoning the
			// pipeline, not a provider fault.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			log.Debugf("Provider %s list_unspent failed: %v",
				p.Name(), err)

			continue
		}

		if len(raw) == 0 {
			continue
		}

		utxos, err := inv.normalizeAll(p.Name(), raw)
		if err != nil {
			log.Warnf("Provider %s returned unusable utxos: %v",
				p.Name(), err)

			continue
		}

		return utxos, nil
	}

	// No provider produced anything; ask the proxy.
	if inv.proxy != nil {
		utxos, err := inv.proxy.ListUtxos(ctx, address)
		if err == nil {
			return utxos, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		log.Warnf("Proxy utxo lookup for %s failed: %v", address, err)
	}

	// Exhausted every source. Empty, not an error: the set is unknown.
	return []charms.Utxo{}, nil
}

// normalizeAll converts a provider's native unspent list into canonical
// records. A single malformed entry fails the whole response so a partial,
// silently-truncated view never reaches funding selection.
func (inv *Inventory) normalizeAll(provider string, raw []RawUnspent) (
	[]charms.Utxo, error) {

	utxos := make([]charms.Utxo, 0, len(raw))
	for i, entry := range raw {
		utxo, err := inv.normalize(entry)
		if err != nil {
			return nil, fmt.Errorf("entry %d from %s: %w", i,
				provider, err)
		}

		utxos = append(utxos, utxo)
	}

	return utxos, nil
}

// normalize folds one loosely-shaped unspent entry into a charms.Utxo.
func (inv *Inventory) normalize(raw RawUnspent) (charms.Utxo, error) {
	var utxo charms.Utxo

	txid, ok := firstString(raw, txidKeys)
	if !ok {
		return utxo, errors.New("missing txid field")
	}

	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return utxo, fmt.Errorf("malformed txid %q: %w", txid, err)
	}

	vout, ok := firstNumber(raw, voutKeys)
	if !ok || vout < 0 {
		return utxo, errors.New("missing output index field")
	}

	value, ok := firstNumber(raw, valueKeys)
	if !ok {
		return utxo, errors.New("missing value field")
	}

	// The reported value may be satoshis or BTC depending on the
	// extension; the decision table settles it.
	amount, err := btcunit.Detect(value, inv.params)
	if err != nil {
		return utxo, err
	}

	utxo.OutPoint = wire.OutPoint{Hash: *hash, Index: uint32(vout)}
	utxo.Value = amount.Value

	if height, ok := firstNumber(raw, heightKeys); ok {
		utxo.Height = int32(height)
	} else if height, ok := statusBlockHeight(raw); ok {
		utxo.Height = height
	}

	if script, ok := firstString(raw, scriptKeys); ok {
		pkScript, err := hex.DecodeString(script)
		if err != nil {
			return utxo, fmt.Errorf("malformed script: %w", err)
		}

		utxo.PkScript = pkScript
	}

	return utxo, nil
}

// firstString probes the alias keys in order and returns the first string
// value present.
func firstString(raw RawUnspent, keys []string) (string, bool) {
	for _, key := range keys {
		if s, ok := raw[key].(string); ok && s != "" {
			return s, true
		}
	}

	return "", false
}

// firstNumber probes the alias keys in order and returns the first numeric
// value present. JSON numbers decode as float64.
func firstNumber(raw RawUnspent, keys []string) (float64, bool) {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case float64:
			return v, true

		case int:
			return float64(v), true

		case int64:
			return float64(v), true

		case uint32:
			return float64(v), true
		}
	}

	return 0, false
}

// statusBlockHeight digs the esplora-style nested confirmation status out
// of an entry, for providers that relay explorer responses unchanged.
func statusBlockHeight(raw RawUnspent) (int32, bool) {
	status, ok := raw["status"].(map[string]any)
	if !ok {
		return 0, false
	}

	if confirmed, ok := status["confirmed"].(bool); ok && !confirmed {
		return 0, true
	}

	height, ok := status["block_height"].(float64)
	if !ok {
		return 0, false
	}

	return int32(height), true
}
