// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/gathogajanice/charmcards/charms"
)

// NodeHealth reports the proxied node's sync and prune status.
type NodeHealth struct {
	// Height is the node's current best block height.
	Height int32 `json:"height"`

	// PruneHeight is the earliest height for which the node retains full
	// block data, or 0 if the node is unpruned.
	PruneHeight int32 `json:"prune_height"`
}

// Pruned returns true if the node runs in pruned mode.
func (h NodeHealth) Pruned() bool {
	return h.PruneHeight > 0
}

// ProxyConfig defines the options used when initializing a ProxyClient.
type ProxyConfig struct {
	// BaseURL is the root of the CharmCards server-side proxy API.
	BaseURL string

	// Client is the HTTP client used for all requests. If nil, a default
	// client with defaultRequestTimeout is used.
	Client *http.Client
}

// validate checks the required config options are set.
func (c *ProxyConfig) validate() error {
	if c == nil {
		return errors.New("missing proxy config")
	}

	if c.BaseURL == "" {
		return errors.New("missing proxy base url")
	}

	return nil
}

// ProxyClient talks to the CharmCards server-side relay proxy. The proxy
// exists to bypass browser cross-origin restrictions and to expose the
// node-only surfaces the public relays lack: UTXO lookup by address,
// package (commit+spell) broadcast and node health including the prune
// height.
type ProxyClient struct {
	baseURL string
	client  *http.Client
}

// Compile-time checks for the interfaces the proxy serves.
var (
	_ Source     = (*ProxyClient)(nil)
	_ UtxoLister = (*ProxyClient)(nil)
)

// NewProxyClient creates a proxy client from the given config.
func NewProxyClient(cfg *ProxyConfig) (*ProxyClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}

	return &ProxyClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
	}, nil
}

// proxyUtxo is the wire shape of a proxy UTXO entry.
type proxyUtxo struct {
	TxID     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Value    int64  `json:"value"`
	Height   int32  `json:"height"`
	PkScript string `json:"script,omitempty"`
}

// ListUtxos returns the unspent outputs of an address as seen by the
// proxied node.
func (p *ProxyClient) ListUtxos(ctx context.Context, address string) (
	[]charms.Utxo, error) {

	var entries []proxyUtxo
	err := p.getJSON(ctx, "/utxos?address="+address, &entries)
	if err != nil {
		return nil, err
	}

	utxos := make([]charms.Utxo, 0, len(entries))
	for _, e := range entries {
		hash, err := chainhash.NewHashFromStr(e.TxID)
		if err != nil {
			return nil, fmt.Errorf("malformed txid %q from "+
				"proxy: %w", e.TxID, err)
		}

		utxos = append(utxos, charms.Utxo{
			OutPoint: wire.OutPoint{Hash: *hash, Index: e.Vout},
			Value:    btcutil.Amount(e.Value),
			Height:   e.Height,
		})
	}

	return utxos, nil
}

// GetTransaction looks up a transaction through the proxied node.
func (p *ProxyClient) GetTransaction(ctx context.Context, txid string) (
	*TxInfo, error) {

	var info TxInfo
	err := p.getJSON(ctx, "/tx/"+txid, &info)
	if err != nil {
		return nil, err
	}

	return &info, nil
}

// GetRawTransaction fetches the raw transaction hex through the proxied
// node. For transactions at or below the node's prune height this fails
// with ErrTxNotFound: the block data is gone.
func (p *ProxyClient) GetRawTransaction(ctx context.Context, txid string) (
	string, error) {

	var resp struct {
		Hex string `json:"hex"`
	}
	err := p.getJSON(ctx, "/tx/"+txid+"/raw", &resp)
	if err != nil {
		return "", err
	}

	return resp.Hex, nil
}

// broadcastRequest is the wire shape of both broadcast endpoints.
type broadcastRequest struct {
	RawTxs []string `json:"raw_txs"`
}

// broadcastResponse is the proxy's answer to a broadcast request.
type broadcastResponse struct {
	TxIDs []string `json:"txids"`
	Error string   `json:"error,omitempty"`
}

// BroadcastTransaction submits a single raw transaction through the proxy.
func (p *ProxyClient) BroadcastTransaction(ctx context.Context,
	rawHex string) (string, error) {

	txids, err := p.broadcast(ctx, "/broadcast", []string{rawHex})
	if err != nil {
		return "", err
	}

	if len(txids) != 1 {
		return "", fmt.Errorf("expected 1 txid from proxy, got %d",
			len(txids))
	}

	return txids[0], nil
}

// BroadcastPackage submits a dependent transaction pair as a package. Some
// relays accept dependent submissions speculatively; the proxy's package
// endpoint hands both to the node in one shot so the spell cannot be
// evaluated without its commit.
func (p *ProxyClient) BroadcastPackage(ctx context.Context,
	commitHex, spellHex string) ([]string, error) {

	return p.broadcast(ctx, "/broadcast-package", []string{
		commitHex, spellHex,
	})
}

// Health returns the node's sync height and prune height.
func (p *ProxyClient) Health(ctx context.Context) (*NodeHealth, error) {
	var health NodeHealth
	err := p.getJSON(ctx, "/health", &health)
	if err != nil {
		return nil, err
	}

	return &health, nil
}

// TipHeight returns the proxied node's best block height.
func (p *ProxyClient) TipHeight(ctx context.Context) (int32, error) {
	health, err := p.Health(ctx)
	if err != nil {
		return 0, err
	}

	return health.Height, nil
}

// broadcast performs a POST against one of the proxy's broadcast endpoints.
func (p *ProxyClient) broadcast(ctx context.Context, path string,
	rawTxs []string) ([]string, error) {

	payload, err := json.Marshal(&broadcastRequest{RawTxs: rawTxs})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: proxy status %d",
			ErrSourceUnavailable, resp.StatusCode)
	}

	var decoded broadcastResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("malformed proxy response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || decoded.Error != "" {
		return nil, MapRejectErr(decoded.Error)
	}

	return decoded.TxIDs, nil
}

// getJSON performs a GET against the proxy and decodes the JSON body into
// out.
func (p *ProxyClient) getJSON(ctx context.Context, path string,
	out interface{}) error {

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, p.baseURL+path, nil,
	)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrTxNotFound, path)

	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: proxy status %d for %s",
			ErrSourceUnavailable, resp.StatusCode, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("malformed proxy response for %s: %w", path,
			err)
	}

	return nil
}
