package charms

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// testApp returns a deterministic app id of the given kind.
func testApp(t *testing.T, kind AssetKind) AppID {
	t.Helper()

	id, err := ParseAppID(
		string(rune(kind)) + "/" + strings.Repeat("cd", 32),
	)
	require.NoError(t, err)

	return id
}

// TestSpellValidate exercises the asset invariants a spell must satisfy
// before it is allowed anywhere near a signing prompt.
func TestSpellValidate(t *testing.T) {
	t.Parallel()

	token := testApp(t, KindToken)
	nft := testApp(t, KindNFT)

	fundingID := strings.Repeat("aa", 32) + ":1"

	testCases := []struct {
		name  string
		spell Spell
		valid bool
	}{{
		name: "token mint creates any amount",
		spell: Spell{
			Apps:          []AppID{token},
			Outs:          []SpellOutput{{Charms: map[int]uint64{0: 5000}}},
			FundingUtxoID: fundingID,
		},
		valid: true,
	}, {
		name: "token transfer conserves balance",
		spell: Spell{
			Apps: []AppID{token},
			Ins: []SpellInput{{
				UtxoID: strings.Repeat("bb", 32) + ":0",
				Charms: map[int]uint64{0: 300},
			}},
			Outs: []SpellOutput{
				{Charms: map[int]uint64{0: 100}},
				{Charms: map[int]uint64{0: 200}},
			},
			FundingUtxoID: fundingID,
		},
		valid: true,
	}, {
		name: "token balance inflated",
		spell: Spell{
			Apps: []AppID{token},
			Ins: []SpellInput{{
				UtxoID: strings.Repeat("bb", 32) + ":0",
				Charms: map[int]uint64{0: 300},
			}},
			Outs:          []SpellOutput{{Charms: map[int]uint64{0: 301}}},
			FundingUtxoID: fundingID,
		},
	}, {
		name: "nft passes through whole",
		spell: Spell{
			Apps: []AppID{nft},
			Ins: []SpellInput{{
				UtxoID: strings.Repeat("bb", 32) + ":0",
				Charms: map[int]uint64{0: 1},
			}},
			Outs:          []SpellOutput{{Charms: map[int]uint64{0: 1}}},
			FundingUtxoID: fundingID,
		},
		valid: true,
	}, {
		name: "nft consumed without reissue",
		spell: Spell{
			Apps: []AppID{nft},
			Ins: []SpellInput{{
				UtxoID: strings.Repeat("bb", 32) + ":0",
				Charms: map[int]uint64{0: 1},
			}},
			Outs:          []SpellOutput{{Charms: map[int]uint64{}}},
			FundingUtxoID: fundingID,
		},
	}, {
		name: "nft duplicated",
		spell: Spell{
			Apps: []AppID{nft},
			Outs: []SpellOutput{
				{Charms: map[int]uint64{0: 1}},
				{Charms: map[int]uint64{0: 1}},
			},
			FundingUtxoID: fundingID,
		},
	}, {
		name: "app index out of range",
		spell: Spell{
			Apps:          []AppID{token},
			Outs:          []SpellOutput{{Charms: map[int]uint64{7: 1}}},
			FundingUtxoID: fundingID,
		},
	}, {
		name: "missing funding utxo",
		spell: Spell{
			Apps: []AppID{token},
			Outs: []SpellOutput{{Charms: map[int]uint64{0: 1}}},
		},
	}, {
		name: "no outputs",
		spell: Spell{
			Apps:          []AppID{token},
			FundingUtxoID: fundingID,
		},
	}}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.spell.Validate()
			if tc.valid {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, ErrInvalidAssetState)
		})
	}
}
