package prover

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gathogajanice/charmcards/charms"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const testProverURL = "https://prover.test/api"

// newTestClient returns a prover client whose HTTP transport is intercepted
// by httpmock.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	httpClient := &http.Client{Timeout: time.Second}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	client, err := NewClient(&Config{
		BaseURL: testProverURL,
		Params:  &chaincfg.RegressionNetParams,
		Client:  httpClient,
	})
	require.NoError(t, err)

	return client
}

// testAddress returns a valid regtest bech32 address.
func testAddress(t *testing.T) string {
	t.Helper()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	return addr.EncodeAddress()
}

// testSpell returns a minimal valid mint spell.
func testSpell(t *testing.T) *charms.Spell {
	t.Helper()

	app, err := charms.ParseAppID("t/" + strings.Repeat("ee", 32))
	require.NoError(t, err)

	return &charms.Spell{
		Version: 2,
		Apps:    []charms.AppID{app},
		Outs: []charms.SpellOutput{{
			Address: testAddress(t),
			Charms:  map[int]uint64{0: 100},
		}},
		FundingUtxoID: strings.Repeat("aa", 32) + ":0",
		FundingValue:  10_000,
		ChangeAddress: testAddress(t),
	}
}

// TestProvePairResponse verifies the local-signing answer shape.
func TestProvePairResponse(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(
		"POST", testProverURL+"/spells/prove",
		httpmock.NewStringResponder(200, `{
			"commit_tx": "02000000aa",
			"spell_tx": "02000000bb",
			"fee": 1200
		}`),
	)

	result, err := client.Prove(context.Background(), testSpell(t))
	require.NoError(t, err)
	require.False(t, result.Broadcast)
	require.NotNil(t, result.Pair)
	require.Equal(t, "02000000aa", result.Pair.CommitHex)
	require.Equal(t, "02000000bb", result.Pair.SpellHex)
	require.Equal(t, btcutil.Amount(1200), result.RequiredFee)
}

// TestProveBroadcastedResponse verifies the broadcast-on-behalf answer
// shape.
func TestProveBroadcastedResponse(t *testing.T) {
	client := newTestClient(t)

	commitID := strings.Repeat("11", 32)
	spellID := strings.Repeat("22", 32)

	httpmock.RegisterResponder(
		"POST", testProverURL+"/spells/prove",
		httpmock.NewStringResponder(200, `{
			"broadcasted": true,
			"commit_txid": "`+commitID+`",
			"spell_txid": "`+spellID+`"
		}`),
	)

	result, err := client.Prove(context.Background(), testSpell(t))
	require.NoError(t, err)
	require.True(t, result.Broadcast)
	require.Nil(t, result.Pair)
	require.NotNil(t, result.IDs)
	require.Equal(t, commitID, result.IDs.CommitTxID.String())
	require.Equal(t, spellID, result.IDs.SpellTxID.String())
}

// TestProveRejection verifies service refusals map to ErrProverRejected.
func TestProveRejection(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(
		"POST", testProverURL+"/spells/prove",
		httpmock.NewStringResponder(
			400, `{"error": "funding utxo already spent"}`,
		),
	)

	_, err := client.Prove(context.Background(), testSpell(t))
	require.ErrorIs(t, err, ErrProverRejected)
	require.Contains(t, err.Error(), "funding utxo already spent")
}

// TestProveServerError verifies 5xx answers map to ErrProverUnavailable.
func TestProveServerError(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(
		"POST", testProverURL+"/spells/prove",
		httpmock.NewStringResponder(503, "maintenance"),
	)

	_, err := client.Prove(context.Background(), testSpell(t))
	require.ErrorIs(t, err, ErrProverUnavailable)
}

// TestProveLocalValidation verifies invalid spells and foreign-network
// change addresses never reach the service.
func TestProveLocalValidation(t *testing.T) {
	client := newTestClient(t)

	// No responder is registered: any HTTP call would fail the test.

	// A balance-violating spell is caught first.
	spell := testSpell(t)
	spell.Outs = nil

	_, err := client.Prove(context.Background(), spell)
	require.ErrorIs(t, err, charms.ErrInvalidAssetState)

	// A mainnet change address on a regtest client is refused.
	spell = testSpell(t)
	mainnet, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.MainNetParams,
	)
	require.NoError(t, err)
	spell.ChangeAddress = mainnet.EncodeAddress()

	_, err = client.Prove(context.Background(), spell)
	require.ErrorIs(t, err, ErrBadChangeAddress)

	require.Zero(t, httpmock.GetTotalCallCount())
}
