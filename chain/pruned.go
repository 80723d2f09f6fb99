// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/gathogajanice/charmcards/charms"
)

// maxAncestryDepth bounds the recursive parent walk. Parents beyond this
// depth sit in blocks the node fully validated while it still held their
// data, so their history is vouched for by the retained chain of block
// headers.
const maxAncestryDepth = 4

// PrunedReason records why a UTXO landed in the pruned partition.
type PrunedReason uint8

const (
	// PrunedSelf means the UTXO's own transaction is at or below the
	// prune height.
	PrunedSelf PrunedReason = iota

	// PrunedAncestor means an ancestor transaction is at or below the
	// prune height. A pruned node cannot revalidate through a missing
	// ancestor even if the UTXO's own transaction is recent.
	PrunedAncestor

	// PrunedUnknownAncestor means an ancestor's height could not be
	// determined while the node is pruned. The validator fails closed
	// rather than guessing.
	PrunedUnknownAncestor
)

// String returns a short description of the reason.
func (r PrunedReason) String() string {
	switch r {
	case PrunedSelf:
		return "transaction below prune height"

	case PrunedAncestor:
		return "ancestor below prune height"

	case PrunedUnknownAncestor:
		return "ancestor height unknown on pruned node"

	default:
		return "unknown reason"
	}
}

// UnsyncedUtxo is a confirmed UTXO the node has not yet reached.
type UnsyncedUtxo struct {
	// Utxo is the output in question.
	Utxo charms.Utxo

	// BlocksNeeded is the number of blocks the node must still sync
	// before it can verify the output.
	BlocksNeeded int32
}

// PrunedUtxo is a UTXO the node cannot verify due to pruning.
type PrunedUtxo struct {
	// Utxo is the output in question.
	Utxo charms.Utxo

	// Reason records whether the output itself or one of its ancestors
	// fell below the prune height.
	Reason PrunedReason
}

// PrunedValidationResult partitions a UTXO set by whether a possibly-pruned
// node can verify each output and its ancestry.
type PrunedValidationResult struct {
	// Synced holds outputs the node can fully verify.
	Synced []charms.Utxo

	// Unsynced holds confirmed outputs above the node's current height.
	Unsynced []UnsyncedUtxo

	// Pruned holds outputs the node cannot revalidate.
	Pruned []PrunedUtxo

	// Unconfirmed holds outputs without a confirming block. They are
	// recorded with lower confidence, not rejected outright.
	Unconfirmed []charms.Utxo
}

// Validator classifies UTXOs against a node's sync and prune state. It only
// needs transaction lookups, so any Source will do; lookups are idempotent
// and benefit from the relay client's short response cache.
type Validator struct {
	src Source
}

// NewValidator creates a validator reading from the given source.
func NewValidator(src Source) *Validator {
	return &Validator{src: src}
}

// Classify partitions the given UTXOs. nodeHeight is the verifying node's
// current best height and pruneHeight the earliest height for which it
// retains full block data (0 for an unpruned node).
func (v *Validator) Classify(ctx context.Context, utxos []charms.Utxo,
	nodeHeight, pruneHeight int32) (*PrunedValidationResult, error) {

	result := &PrunedValidationResult{}

	for _, utxo := range utxos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		v.classifyOne(ctx, utxo, nodeHeight, pruneHeight, result)
	}

	log.Debugf("Classified %d utxos: %d synced, %d unsynced, %d pruned, "+
		"%d unconfirmed", len(utxos), len(result.Synced),
		len(result.Unsynced), len(result.Pruned),
		len(result.Unconfirmed))

	return result, nil
}

// classifyOne places a single UTXO into the matching partition.
func (v *Validator) classifyOne(ctx context.Context, utxo charms.Utxo,
	nodeHeight, pruneHeight int32, result *PrunedValidationResult) {

	txid := utxo.OutPoint.Hash.String()

	info, err := v.src.GetTransaction(ctx, txid)
	if err != nil {
		// On a pruned node a failed lookup is expected for pruned
		// history: fail closed. On an unpruned node it just means the
		// transaction has not propagated, so record it with the
		// unconfirmed set.
		if pruneHeight > 0 {
			result.Pruned = append(result.Pruned, PrunedUtxo{
				Utxo:   utxo,
				Reason: PrunedSelf,
			})

			return
		}

		log.Warnf("Lookup of %s failed, treating as unconfirmed: %v",
			txid, err)
		result.Unconfirmed = append(result.Unconfirmed, utxo)

		return
	}

	if !info.Status.Confirmed {
		result.Unconfirmed = append(result.Unconfirmed, utxo)
		return
	}

	height := info.Status.BlockHeight

	// The output's own transaction sits at or below the prune height: the
	// node no longer holds its block.
	if pruneHeight > 0 && height <= pruneHeight {
		result.Pruned = append(result.Pruned, PrunedUtxo{
			Utxo:   utxo,
			Reason: PrunedSelf,
		})

		return
	}

	// Regardless of the output's own height, the node must be able to
	// revalidate through the output's ancestry.
	if pruneHeight > 0 {
		reason, pruned := v.ancestorPruned(
			ctx, info, pruneHeight, make(map[string]struct{}), 0,
		)
		if pruned {
			result.Pruned = append(result.Pruned, PrunedUtxo{
				Utxo:   utxo,
				Reason: reason,
			})

			return
		}
	}

	if nodeHeight >= height {
		result.Synced = append(result.Synced, utxo)
		return
	}

	result.Unsynced = append(result.Unsynced, UnsyncedUtxo{
		Utxo:         utxo,
		BlocksNeeded: height - nodeHeight,
	})
}

// ancestorPruned walks the declared inputs of a transaction and reports
// whether any ancestor within maxAncestryDepth sits at or below the prune
// height, or has an undeterminable height. Unknown heights fail closed:
// never fail open on a pruned node.
func (v *Validator) ancestorPruned(ctx context.Context, info *TxInfo,
	pruneHeight int32, visited map[string]struct{},
	depth int) (PrunedReason, bool) {

	if depth >= maxAncestryDepth {
		return 0, false
	}

	for _, in := range info.Inputs {
		// Coinbase inputs have no parent.
		if in.TxID == "" {
			continue
		}

		if _, ok := visited[in.TxID]; ok {
			continue
		}
		visited[in.TxID] = struct{}{}

		parent, err := v.src.GetTransaction(ctx, in.TxID)
		if err != nil {
			log.Debugf("Parent %s unavailable on pruned node: %v",
				in.TxID, err)

			return PrunedUnknownAncestor, true
		}

		parentHeight, err := confirmedHeight(parent)
		if err != nil {
			// A parent in the mempool is above the prune height by
			// definition; only an unknown height of a confirmed
			// parent forces the closed failure.
			if errors.Is(err, errParentUnconfirmed) {
				continue
			}

			return PrunedUnknownAncestor, true
		}

		if parentHeight <= pruneHeight {
			return PrunedAncestor, true
		}

		reason, pruned := v.ancestorPruned(
			ctx, parent, pruneHeight, visited, depth+1,
		)
		if pruned {
			return reason, true
		}
	}

	return 0, false
}

// errParentUnconfirmed marks a parent transaction still in the mempool.
var errParentUnconfirmed = errors.New("parent unconfirmed")

// confirmedHeight extracts the confirmation height of a transaction,
// distinguishing "unconfirmed" from "confirmed but height unknown".
func confirmedHeight(info *TxInfo) (int32, error) {
	if !info.Status.Confirmed {
		return 0, errParentUnconfirmed
	}

	if info.Status.BlockHeight <= 0 {
		return 0, fmt.Errorf("%w: tx %s", ErrHeightUnknown, info.TxID)
	}

	return info.Status.BlockHeight, nil
}
