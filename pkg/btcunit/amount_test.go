// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

// TestDetect verifies the unit decision table over the magnitude and network
// combinations the inventory service encounters in the wild.
func TestDetect(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		raw      float64
		params   *chaincfg.Params
		wantUnit Unit
		wantSats btcutil.Amount
		wantErr  error
	}{
		{
			name:     "integral sats",
			raw:      500_000,
			params:   &chaincfg.MainNetParams,
			wantUnit: UnitSatoshi,
			wantSats: 500_000,
		},
		{
			name:     "fractional is btc",
			raw:      0.005,
			params:   &chaincfg.MainNetParams,
			wantUnit: UnitBTC,
			wantSats: 500_000,
		},
		{
			name:     "integral below dust floor is btc",
			raw:      2,
			params:   &chaincfg.MainNetParams,
			wantUnit: UnitBTC,
			wantSats: 2 * btcutil.SatoshiPerBitcoin,
		},
		{
			name:     "dust floor itself is sats",
			raw:      546,
			params:   &chaincfg.MainNetParams,
			wantUnit: UnitSatoshi,
			wantSats: 546,
		},
		{
			name:     "regtest keeps small integers as sats",
			raw:      2,
			params:   &chaincfg.RegressionNetParams,
			wantUnit: UnitSatoshi,
			wantSats: 2,
		},
		{
			name:    "negative rejected",
			raw:     -1,
			params:  &chaincfg.MainNetParams,
			wantErr: ErrAmountOutOfRange,
		},
		{
			name:    "beyond supply in btc rejected",
			raw:     22_000_000.5,
			params:  &chaincfg.MainNetParams,
			wantErr: ErrAmountOutOfRange,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := Detect(tc.raw, tc.params)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantUnit, got.Unit)
			require.Equal(t, tc.wantSats, got.Value)
		})
	}
}
