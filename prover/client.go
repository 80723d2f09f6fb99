// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package prover talks to the CharmCards proving service, which turns a
// declarative spell into a ready-to-sign commit/spell transaction pair.
package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gathogajanice/charmcards/charms"
)

const (
	// defaultProveTimeout bounds a proving request. Proof generation is
	// slow; this is deliberately much longer than an ordinary API call.
	defaultProveTimeout = 5 * time.Minute

	// maxResponseSize caps the response body read from the service.
	maxResponseSize = 8 << 20
)

var (
	// ErrProverUnavailable is returned when the proving service cannot
	// be reached or answers with a server-side failure.
	ErrProverUnavailable = errors.New("proving service unavailable")

	// ErrProverRejected is returned when the proving service refuses the
	// submitted spell.
	ErrProverRejected = errors.New("proving service rejected spell")

	// ErrBadChangeAddress is returned when the spell's change address
	// does not parse for the configured network. Caught before the spell
	// leaves the client.
	ErrBadChangeAddress = errors.New("invalid change address")
)

// Config defines the options used when initializing a prover Client.
type Config struct {
	// BaseURL is the root of the proving service API.
	BaseURL string

	// Params identifies the network change addresses must belong to.
	Params *chaincfg.Params

	// Client is the HTTP client used for all requests. If nil, a default
	// client with defaultProveTimeout is used.
	Client *http.Client
}

// validate checks the required config options are set.
func (c *Config) validate() error {
	if c == nil {
		return errors.New("missing prover config")
	}

	if c.BaseURL == "" {
		return errors.New("missing prover base url")
	}

	if c.Params == nil {
		return errors.New("missing chain params config")
	}

	return nil
}

// Result is the proving service's answer to a spell submission.
type Result struct {
	// Pair holds the unsigned commit/spell transactions when the service
	// hands the pair back for local signing and broadcast.
	Pair *charms.TransactionPair

	// Broadcast is true when the service signed and broadcast the pair
	// itself. Pair is nil in that case and IDs carries the txids.
	Broadcast bool

	// IDs are the pair's txids when Broadcast is true.
	IDs *charms.TxIDPair

	// RequiredFee is the fee requirement the service declared for the
	// pair. The signing orchestrator checks the funding value against it
	// before any prompt is shown.
	RequiredFee btcutil.Amount
}

// Client submits spells to the proving service.
type Client struct {
	baseURL string
	params  *chaincfg.Params
	client  *http.Client
}

// NewClient creates a prover client from the given config.
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultProveTimeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		params:  cfg.Params,
		client:  client,
	}, nil
}

// proveResponse is the wire shape of the service's answer. The service
// returns either the raw pair or, on its broadcast-on-behalf path, the
// txids of the already submitted pair.
type proveResponse struct {
	CommitTx string `json:"commit_tx"`
	SpellTx  string `json:"spell_tx"`

	Broadcasted bool   `json:"broadcasted"`
	CommitTxID  string `json:"commit_txid"`
	SpellTxID   string `json:"spell_txid"`

	Fee   int64  `json:"fee"`
	Error string `json:"error,omitempty"`
}

// Prove submits the spell and returns the resulting transaction pair. The
// spell's asset invariants and change address are validated locally first:
// a spell certain to be rejected never reaches the service.
func (c *Client) Prove(ctx context.Context, spell *charms.Spell) (*Result,
	error) {

	if err := spell.Validate(); err != nil {
		return nil, err
	}

	if err := c.checkChangeAddress(spell.ChangeAddress); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(spell)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/spells/prove",
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProverUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProverUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrProverUnavailable,
			resp.StatusCode)
	}

	var decoded proveResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("malformed prover response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || decoded.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrProverRejected,
			decoded.Error)
	}

	return c.buildResult(&decoded)
}

// buildResult converts the wire response into a Result, resolving which of
// the two answer shapes the service used.
func (c *Client) buildResult(decoded *proveResponse) (*Result, error) {
	result := &Result{
		RequiredFee: btcutil.Amount(decoded.Fee),
	}

	if decoded.Broadcasted {
		commitID, err := chainhash.NewHashFromStr(decoded.CommitTxID)
		if err != nil {
			return nil, fmt.Errorf("malformed commit txid from "+
				"prover: %w", err)
		}

		spellID, err := chainhash.NewHashFromStr(decoded.SpellTxID)
		if err != nil {
			return nil, fmt.Errorf("malformed spell txid from "+
				"prover: %w", err)
		}

		log.Infof("Prover broadcast pair itself: commit=%v spell=%v",
			commitID, spellID)

		result.Broadcast = true
		result.IDs = &charms.TxIDPair{
			CommitTxID: *commitID,
			SpellTxID:  *spellID,
		}

		return result, nil
	}

	if decoded.CommitTx == "" || decoded.SpellTx == "" {
		return nil, fmt.Errorf("%w: response carries neither pair "+
			"nor txids", ErrProverRejected)
	}

	result.Pair = &charms.TransactionPair{
		CommitHex: decoded.CommitTx,
		SpellHex:  decoded.SpellTx,
	}

	return result, nil
}

// checkChangeAddress validates the change address against the configured
// network.
func (c *Client) checkChangeAddress(address string) error {
	if address == "" {
		return fmt.Errorf("%w: empty", ErrBadChangeAddress)
	}

	addr, err := btcutil.DecodeAddress(address, c.params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadChangeAddress, err)
	}

	if !addr.IsForNet(c.params) {
		return fmt.Errorf("%w: %s is not a %s address",
			ErrBadChangeAddress, address, c.params.Name)
	}

	return nil
}
