// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package charms defines the domain model shared by the CharmCards
// transaction pipeline: application identifiers, UTXO records, asset
// records and the declarative spell submitted to the proving service.
package charms

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidAppID is returned when an application identifier cannot be
	// parsed.
	ErrInvalidAppID = errors.New("invalid app id")
)

// AssetKind describes the class of asset an app identifier refers to.
type AssetKind byte

const (
	// KindNFT identifies a non-fungible asset, e.g. the gift card itself.
	KindNFT AssetKind = 'n'

	// KindToken identifies a fungible asset, e.g. a card's spendable
	// balance.
	KindToken AssetKind = 't'
)

// String returns the single-character tag used on the wire.
func (k AssetKind) String() string {
	return string(rune(k))
}

// valid returns true if the kind is one of the known tags.
func (k AssetKind) valid() bool {
	return k == KindNFT || k == KindToken
}

// identitySize is the size of the identity component of an app id in bytes.
const identitySize = 32

// AppID is a typed application identifier. It consists of a one-byte kind
// tag and a 32-byte identity derived from the originating UTXO of the mint,
// rendered as "t/<64-hex>".
//
// NOTE: An AppID alone does not uniquely identify an asset instance.
// Distinct mints can derive the same identity from a reused originating
// UTXO, so instance identity must be established through the commit or
// spell transaction ids instead. See wallet.Ledger.
type AppID struct {
	// Kind is the asset class tag.
	Kind AssetKind

	// Identity is the 32-byte identifier of the application.
	Identity [identitySize]byte
}

// ParseAppID parses an app identifier of the form "t/<64-hex>".
func ParseAppID(s string) (AppID, error) {
	var id AppID

	tag, idHex, found := strings.Cut(s, "/")
	if !found || len(tag) != 1 {
		return id, fmt.Errorf("%w: %q", ErrInvalidAppID, s)
	}

	id.Kind = AssetKind(tag[0])
	if !id.Kind.valid() {
		return id, fmt.Errorf("%w: unknown kind %q", ErrInvalidAppID,
			tag)
	}

	raw, err := hex.DecodeString(idHex)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidAppID, err)
	}

	if len(raw) != identitySize {
		return id, fmt.Errorf("%w: identity must be %d bytes, got %d",
			ErrInvalidAppID, identitySize, len(raw))
	}

	copy(id.Identity[:], raw)

	return id, nil
}

// String returns the canonical "t/<64-hex>" rendering.
func (a AppID) String() string {
	return fmt.Sprintf("%s/%x", a.Kind, a.Identity[:])
}

// MarshalText renders the id in its canonical form, which is also the JSON
// wire form used in spells.
func (a AppID) MarshalText() ([]byte, error) {
	if !a.Kind.valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidAppID,
			a.Kind)
	}

	return []byte(a.String()), nil
}

// UnmarshalText parses the canonical form.
func (a *AppID) UnmarshalText(text []byte) error {
	id, err := ParseAppID(string(text))
	if err != nil {
		return err
	}

	*a = id
	return nil
}
