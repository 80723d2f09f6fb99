// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides a set of types for dealing with bitcoin units.
//
// Wallet extensions disagree about the unit of reported values: some report
// satoshis, some report BTC, and none of them say which. Rather than
// guessing and silently converting, this package encodes the decision as an
// explicit table keyed by magnitude and network and returns a tagged
// amount.
package btcunit

import (
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	// ErrAmountOutOfRange is returned when a reported value cannot be a
	// valid bitcoin amount in either unit.
	ErrAmountOutOfRange = errors.New("reported amount out of range")
)

// Unit tags the unit a reported value was decided to be in.
type Unit uint8

const (
	// UnitSatoshi marks a value reported in satoshis.
	UnitSatoshi Unit = iota

	// UnitBTC marks a value reported in whole bitcoin.
	UnitBTC
)

// String returns the conventional name of the unit.
func (u Unit) String() string {
	switch u {
	case UnitSatoshi:
		return "sat"

	case UnitBTC:
		return "BTC"

	default:
		return "unknown unit"
	}
}

// Amount is a reported value together with the unit it was decided to be in.
// Value is always normalized to satoshis regardless of the reported unit.
type Amount struct {
	// Value is the normalized value in satoshis.
	Value btcutil.Amount

	// Unit is the unit the source reported the value in.
	Unit Unit
}

// maxSupplyBTC is the ceiling, in whole bitcoin, that any reported value may
// represent. Anything above this cannot be a BTC-denominated amount.
const maxSupplyBTC = 21e6

// rule is a single row of the unit decision table.
type rule struct {
	// match reports whether this row applies to the reported value.
	match func(raw float64, params *chaincfg.Params) bool

	// unit is the unit assigned by this row.
	unit Unit
}

// decisionTable is consulted in order; the first matching row decides the
// unit. The rows encode:
//
//  1. A fractional value can only be BTC; satoshis are integral.
//  2. An integral value below the network's dust floor is implausibly small
//     for a satoshi-denominated UTXO but perfectly plausible in BTC (e.g. a
//     value of 2 is 2 BTC, not 2 sats). Test networks keep the same floor
//     because faucet outputs still clear it.
//  3. Everything else is satoshis.
func decisionTable() []rule {
	return []rule{
		{
			match: func(raw float64, _ *chaincfg.Params) bool {
				return raw != math.Trunc(raw)
			},
			unit: UnitBTC,
		},
		{
			match: func(raw float64, p *chaincfg.Params) bool {
				return raw < dustFloor(p)
			},
			unit: UnitBTC,
		},
		{
			match: func(float64, *chaincfg.Params) bool {
				return true
			},
			unit: UnitSatoshi,
		},
	}
}

// dustFloor returns the smallest satoshi value below which an integral
// reported value is treated as BTC instead.
func dustFloor(params *chaincfg.Params) float64 {
	// 546 sats is the relay dust limit for P2PKH outputs. Regression test
	// networks mine arbitrary small outputs, so the floor is relaxed
	// there.
	if params.Net == chaincfg.RegressionNetParams.Net {
		return 1
	}

	return 546
}

// Detect decides the unit of a reported value and returns the normalized
// amount. It fails with ErrAmountOutOfRange for negative values and values
// that exceed the maximum supply in both interpretations.
func Detect(raw float64, params *chaincfg.Params) (Amount, error) {
	if raw < 0 || math.IsNaN(raw) || math.IsInf(raw, 0) {
		return Amount{}, fmt.Errorf("%w: %v", ErrAmountOutOfRange, raw)
	}

	for _, row := range decisionTable() {
		if !row.match(raw, params) {
			continue
		}

		return normalize(raw, row.unit)
	}

	// The last table row matches unconditionally.
	return Amount{}, fmt.Errorf("%w: %v", ErrAmountOutOfRange, raw)
}

// normalize converts the raw value into satoshis under the decided unit.
func normalize(raw float64, unit Unit) (Amount, error) {
	switch unit {
	case UnitBTC:
		if raw > maxSupplyBTC {
			return Amount{}, fmt.Errorf("%w: %v BTC",
				ErrAmountOutOfRange, raw)
		}

		value, err := btcutil.NewAmount(raw)
		if err != nil {
			return Amount{}, fmt.Errorf("%w: %v",
				ErrAmountOutOfRange, err)
		}

		return Amount{Value: value, Unit: UnitBTC}, nil

	default:
		if raw > maxSupplyBTC*btcutil.SatoshiPerBitcoin {
			return Amount{}, fmt.Errorf("%w: %v sat",
				ErrAmountOutOfRange, raw)
		}

		return Amount{
			Value: btcutil.Amount(int64(raw)),
			Unit:  UnitSatoshi,
		}, nil
	}
}
