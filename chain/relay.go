// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	// defaultRequestTimeout bounds every relay HTTP request. Network
	// fetches fall back rather than hang, so this stays in the
	// single-digit seconds.
	defaultRequestTimeout = 8 * time.Second

	// defaultCacheTTL is the lifetime of cached transaction lookups.
	// Transaction data by id is immutable, so a short cache only exists
	// to absorb the validator's repeated ancestry lookups. UTXO listings
	// are never cached: stale inventory could double-select a funding
	// UTXO.
	defaultCacheTTL = 5 * time.Second

	// maxResponseSize caps relay response bodies. The largest expected
	// body is a raw transaction of a few hundred KB.
	maxResponseSize = 4 << 20
)

// RelayConfig defines the options used when initializing a RelayClient.
type RelayConfig struct {
	// BaseURL is the root of the relay REST API, e.g.
	// "https://mempool.space/api".
	BaseURL string

	// Client is the HTTP client used for all requests. If nil, a default
	// client with defaultRequestTimeout is used.
	Client *http.Client

	// CacheTTL overrides the transaction lookup cache lifetime. Zero
	// selects the default.
	CacheTTL time.Duration
}

// validate checks the required config options are set.
func (c *RelayConfig) validate() error {
	if c == nil {
		return errors.New("missing relay config")
	}

	if c.BaseURL == "" {
		return errors.New("missing relay base url")
	}

	return nil
}

// RelayClient speaks the esplora-style REST contract exposed by public
// relay/explorer endpoints: transaction lookup by id, raw hex fetch,
// broadcast submission and tip height.
type RelayClient struct {
	baseURL string
	client  *http.Client

	// txCache holds recent transaction lookups. Read-only, idempotent
	// data only.
	txCache *ttlcache.Cache[string, *TxInfo]

	// rawCache holds recent raw hex fetches.
	rawCache *ttlcache.Cache[string, string]
}

// A compile-time check to ensure that RelayClient satisfies the Source
// interface.
var _ Source = (*RelayClient)(nil)

// NewRelayClient creates a relay client from the given config.
func NewRelayClient(cfg *RelayConfig) (*RelayClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}

	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}

	r := &RelayClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		txCache: ttlcache.New(
			ttlcache.WithTTL[string, *TxInfo](ttl),
			ttlcache.WithDisableTouchOnHit[string, *TxInfo](),
		),
		rawCache: ttlcache.New(
			ttlcache.WithTTL[string, string](ttl),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
	}

	go r.txCache.Start()
	go r.rawCache.Start()

	return r, nil
}

// Stop releases the cache janitors.
func (r *RelayClient) Stop() {
	r.txCache.Stop()
	r.rawCache.Stop()
}

// GetTransaction looks up a transaction by id via GET /tx/:txid.
func (r *RelayClient) GetTransaction(ctx context.Context, txid string) (
	*TxInfo, error) {

	if item := r.txCache.Get(txid); item != nil {
		return item.Value(), nil
	}

	body, err := r.get(ctx, "/tx/"+txid)
	if err != nil {
		return nil, err
	}

	var info TxInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("malformed relay response for tx "+
			"%s: %w", txid, err)
	}

	r.txCache.Set(txid, &info, ttlcache.DefaultTTL)

	return &info, nil
}

// GetRawTransaction fetches the raw transaction hex via GET /tx/:txid/hex.
func (r *RelayClient) GetRawTransaction(ctx context.Context, txid string) (
	string, error) {

	if item := r.rawCache.Get(txid); item != nil {
		return item.Value(), nil
	}

	body, err := r.get(ctx, "/tx/"+txid+"/hex")
	if err != nil {
		return "", err
	}

	rawHex := strings.TrimSpace(string(body))
	r.rawCache.Set(txid, rawHex, ttlcache.DefaultTTL)

	return rawHex, nil
}

// BroadcastTransaction submits a raw transaction via POST /tx. The relay
// responds with the txid on success and a reject message otherwise.
func (r *RelayClient) BroadcastTransaction(ctx context.Context,
	rawHex string) (string, error) {

	url := r.baseURL + "/tx"
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, url, strings.NewReader(rawHex),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		// 4xx responses carry the node's reject message in the body.
		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("%w: relay status %d",
				ErrSourceUnavailable, resp.StatusCode)
		}

		return "", MapRejectErr(strings.TrimSpace(string(body)))
	}

	txid := strings.TrimSpace(string(body))
	log.Debugf("Relay accepted tx %s", txid)

	return txid, nil
}

// TipHeight returns the relay's best block height via GET
// /blocks/tip/height.
func (r *RelayClient) TipHeight(ctx context.Context) (int32, error) {
	body, err := r.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed tip height %q: %w",
			string(body), err)
	}

	return int32(height), nil
}

// get performs a GET against the relay and returns the body. A 404 maps to
// ErrTxNotFound, transport and 5xx failures to ErrSourceUnavailable.
func (r *RelayClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, r.baseURL+path, nil,
	)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, path)

	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: relay status %d for %s",
			ErrSourceUnavailable, resp.StatusCode, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	return body, nil
}
