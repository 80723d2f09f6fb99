// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gathogajanice/charmcards/chain"
	"github.com/gathogajanice/charmcards/charms"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

const (
	// defaultPollInterval is the pacing of the mempool observation poll.
	defaultPollInterval = 2 * time.Second

	// defaultPollTimeout bounds how long the coordinator waits for a
	// broadcast transaction to appear in the mempool before degrading to
	// a warning.
	defaultPollTimeout = 30 * time.Second

	// minTxBytes is the smallest structurally plausible transaction: a
	// 1-in 1-out transaction cannot serialize below this.
	minTxBytes = 60

	// maxTxBytes is the standardness ceiling on transaction size.
	maxTxBytes = 400_000
)

// Broadcaster submits raw transactions and answers transaction lookups. The
// relay client satisfies it directly.
type Broadcaster interface {
	// BroadcastTransaction submits the raw hex transaction and returns
	// its txid.
	BroadcastTransaction(ctx context.Context, rawHex string) (string,
		error)

	// GetTransaction looks up a transaction by txid.
	GetTransaction(ctx context.Context, txid string) (*chain.TxInfo,
		error)
}

// PackageBroadcaster additionally accepts a dependent transaction pair as a
// single package. The proxy client satisfies it.
type PackageBroadcaster interface {
	Broadcaster

	// BroadcastPackage submits commit and spell to the node in one shot.
	BroadcastPackage(ctx context.Context, commitHex,
		spellHex string) ([]string, error)
}

// BroadcastConfig defines the options used when initializing a Coordinator.
type BroadcastConfig struct {
	// Providers is the ordered wallet-provider list. A provider with the
	// TxPusher capability is preferred for the commit broadcast since
	// the wallet then tracks the spend itself.
	Providers []Provider

	// Relay is the public relay used as the first non-wallet fallback
	// and as the mempool observation source.
	Relay Broadcaster

	// Proxy is the server-side proxy, the last fallback and the only
	// source able to broadcast the pair as a package.
	Proxy PackageBroadcaster

	// PollInterval overrides the mempool poll pacing. Optional.
	PollInterval time.Duration

	// PollTimeout overrides the mempool observation deadline. Optional.
	PollTimeout time.Duration
}

// validate checks the required config options are set.
func (c *BroadcastConfig) validate() error {
	if c == nil {
		return errors.New("missing broadcast config")
	}

	if c.Relay == nil && c.Proxy == nil {
		return errors.New("missing broadcast backend config")
	}

	return nil
}

// BroadcastResult reports the outcome of a pair submission. Soft conditions
// are attached as warnings; only conditions that prevented submission
// surface as errors.
type BroadcastResult struct {
	// IDs are the pair's transaction ids.
	IDs charms.TxIDPair

	// Warnings holds the soft conditions observed on the way, e.g. the
	// commit not being seen in the mempool within the poll window.
	Warnings []error
}

// Coordinator drives the ordered submission of a commit/spell pair: commit
// first, an observation window, then the spell, with a package broadcast as
// the recovery path when the commit fails to propagate.
type Coordinator struct {
	providers []Provider
	relay     Broadcaster
	proxy     PackageBroadcaster

	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewCoordinator creates a broadcast coordinator from the given config.
func NewCoordinator(cfg *BroadcastConfig) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = defaultPollInterval
	}

	pollTimeout := cfg.PollTimeout
	if pollTimeout == 0 {
		pollTimeout = defaultPollTimeout
	}

	return &Coordinator{
		providers:    cfg.Providers,
		relay:        cfg.Relay,
		proxy:        cfg.Proxy,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}, nil
}

// BroadcastPair submits the signed pair in dependency order and returns the
// pair's txids. The call is idempotent: if the spell is already known to the
// network the pair is reported as broadcast without resubmission.
func (c *Coordinator) BroadcastPair(ctx context.Context, commitHex,
	spellHex string) (*BroadcastResult, error) {

	if err := checkRawTxHex(commitHex); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	if err := checkRawTxHex(spellHex); err != nil {
		return nil, fmt.Errorf("spell: %w", err)
	}

	ids, err := VerifyPairLinkage(commitHex, spellHex)
	if err != nil {
		return nil, err
	}

	result := &BroadcastResult{IDs: *ids}

	// Already-broadcast short circuit, e.g. when the proving service
	// submitted on the caller's behalf and only the record-keeping path
	// runs here.
	if c.seen(ctx, ids.SpellTxID.String()) {
		log.Infof("Pair %v already broadcast, skipping submission",
			ids.SpellTxID)

		return result, nil
	}

	if err := c.pushCommit(ctx, commitHex); err != nil {
		return nil, fmt.Errorf("commit broadcast failed: %w", err)
	}

	log.Debugf("Commit %v submitted, awaiting mempool", ids.CommitTxID)

	// The spell must never race its commit into the relay: wait for the
	// commit to become visible first.
	if !c.awaitMempool(ctx, ids.CommitTxID.String()) {
		// The commit was accepted somewhere but has not propagated to
		// the observation source. Hand the node both transactions as a
		// package; a duplicate commit is harmless.
		if c.proxy != nil {
			_, err := c.proxy.BroadcastPackage(
				ctx, commitHex, spellHex,
			)
			if err == nil || chain.IsAlreadyBroadcast(err) {
				c.confirmPropagation(ctx, result)
				return result, nil
			}

			log.Warnf("Package broadcast fallback failed: %v", err)
		}

		result.Warnings = append(result.Warnings, fmt.Errorf(
			"%w: commit %v", ErrMempoolTimeout, ids.CommitTxID,
		))
	}

	if err := c.pushSpell(ctx, spellHex); err != nil {
		return nil, fmt.Errorf("spell broadcast failed: %w", err)
	}

	c.confirmPropagation(ctx, result)

	return result, nil
}

// pushCommit submits the commit transaction through the fallback chain:
// wallet pusher, then relay, then proxy. A source reporting the transaction
// as already known counts as success.
func (c *Coordinator) pushCommit(ctx context.Context, rawHex string) error {
	var lastErr error

	if pusher, ok := FirstPusher(c.providers); ok {
		_, err := pusher.PushTx(ctx, rawHex)
		if err == nil || chain.IsAlreadyBroadcast(err) {
			return nil
		}

		log.Debugf("Wallet pusher %s failed: %v", pusher.Name(), err)
		lastErr = err
	}

	return c.pushFallback(ctx, rawHex, lastErr)
}

// pushSpell submits the spell transaction. The wallet pusher is skipped
// here: extension backends commonly reject a spend of an unconfirmed parent
// they did not create.
func (c *Coordinator) pushSpell(ctx context.Context, rawHex string) error {
	return c.pushFallback(ctx, rawHex, nil)
}

// pushFallback runs the non-wallet fallback chain: relay, then proxy.
func (c *Coordinator) pushFallback(ctx context.Context, rawHex string,
	lastErr error) error {

	if c.relay != nil {
		_, err := c.relay.BroadcastTransaction(ctx, rawHex)
		if err == nil || chain.IsAlreadyBroadcast(err) {
			return nil
		}

		log.Debugf("Relay broadcast failed: %v", err)
		lastErr = err
	}

	if c.proxy != nil {
		_, err := c.proxy.BroadcastTransaction(ctx, rawHex)
		if err == nil || chain.IsAlreadyBroadcast(err) {
			return nil
		}

		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("no broadcast backend configured")
	}

	return lastErr
}

// awaitMempool polls the observation source until the transaction is seen
// or the poll window closes. It returns false on timeout; the condition is
// soft and the caller decides how to degrade.
func (c *Coordinator) awaitMempool(ctx context.Context, txid string) bool {
	if c.seen(ctx, txid) {
		return true
	}

	t := ticker.New(c.pollInterval)
	t.Resume()
	defer t.Stop()

	deadline := time.NewTimer(c.pollTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-t.Ticks():
			if c.seen(ctx, txid) {
				return true
			}

		case <-deadline.C:
			return false

		case <-ctx.Done():
			return false
		}
	}
}

// seen reports whether any observation source knows the transaction.
func (c *Coordinator) seen(ctx context.Context, txid string) bool {
	for _, source := range []Broadcaster{c.relay, c.proxy} {
		if source == nil {
			continue
		}

		if _, err := source.GetTransaction(ctx, txid); err == nil {
			return true
		}
	}

	return false
}

// confirmPropagation re-polls both txids concurrently and attaches a soft
// warning for any transaction still unseen. Propagation lag is never a
// failure at this point: both transactions have been accepted by a backend.
func (c *Coordinator) confirmPropagation(ctx context.Context,
	result *BroadcastResult) {

	var eg errgroup.Group

	warnings := make([]error, 2)
	for i, txid := range []string{
		result.IDs.CommitTxID.String(), result.IDs.SpellTxID.String(),
	} {
		i, txid := i, txid
		eg.Go(func() error {
			if !c.awaitMempool(ctx, txid) {
				warnings[i] = fmt.Errorf("%w: %s",
					ErrMempoolTimeout, txid)
			}

			return nil
		})
	}

	_ = eg.Wait()

	for _, warning := range warnings {
		if warning != nil {
			log.Warnf("Propagation not confirmed: %v", warning)
			result.Warnings = append(result.Warnings, warning)
		}
	}
}

// checkRawTxHex structurally validates a raw transaction before submission:
// hex charset, even length and plausible size bounds. Deep validation is
// the node's job; this check only keeps obvious garbage off the wire.
func checkRawTxHex(rawHex string) error {
	if len(rawHex)%2 != 0 {
		return fmt.Errorf("%w: odd hex length", ErrMalformedTransaction)
	}

	byteLen := len(rawHex) / 2
	if byteLen < minTxBytes {
		return fmt.Errorf("%w: %d bytes below minimum",
			ErrMalformedTransaction, byteLen)
	}
	if byteLen > maxTxBytes {
		return fmt.Errorf("%w: %d bytes above maximum",
			ErrMalformedTransaction, byteLen)
	}

	for _, r := range rawHex {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return fmt.Errorf("%w: invalid hex character %q",
				ErrMalformedTransaction, r)
		}
	}

	return nil
}
