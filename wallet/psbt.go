// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/gathogajanice/charmcards/charms"
)

// TxFetcher fetches a raw parent transaction by txid. Both chain sources
// satisfy it.
type TxFetcher interface {
	// GetRawTransaction returns the full serialized transaction, hex
	// encoded.
	GetRawTransaction(ctx context.Context, txid string) (string, error)
}

// PsbtCodec converts raw transaction bytes plus UTXO context into a
// portable partially-signed packet and back. It is the bridge between the
// prover's raw hex output and the wallet providers' sign_psbt surface.
type PsbtCodec struct {
	fetcher TxFetcher
}

// NewPsbtCodec creates a codec that resolves unknown previous outputs
// through the given fetcher. The fetcher may be nil, in which case inputs
// without caller-supplied context are left as witness stubs for the signing
// wallet to complete.
func NewPsbtCodec(fetcher TxFetcher) *PsbtCodec {
	return &PsbtCodec{fetcher: fetcher}
}

// NewPacketFromHex converts a raw transaction into a PSBT packet.
//
// Signature data already present on the transaction (the spell's primary
// input frequently arrives with a pre-populated witness supplied by the
// proving service) is lifted into the packet's finalized fields so it
// survives the round trip untouched.
//
// Each remaining input's previous output is resolved by priority:
//
//  1. Caller-supplied context (prevOuts), as a witness utxo.
//  2. The fetched full parent transaction, preferred since it enables
//     strict non-witness validation by the signer.
//  3. A minimal witness-only stub left for the signing wallet to complete.
func (c *PsbtCodec) NewPacketFromHex(ctx context.Context, rawHex string,
	prevOuts map[wire.OutPoint]*wire.TxOut) (*psbt.Packet, error) {

	tx, err := decodeTxHex(rawHex)
	if err != nil {
		return nil, err
	}

	// Remember per-input signature material, then strip it: the psbt
	// package refuses transactions that are not fully unsigned.
	witnesses := make([]wire.TxWitness, len(tx.TxIn))
	sigScripts := make([][]byte, len(tx.TxIn))

	for i, txIn := range tx.TxIn {
		witnesses[i] = txIn.Witness
		sigScripts[i] = txIn.SignatureScript

		txIn.Witness = nil
		txIn.SignatureScript = nil
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("unable to create psbt: %w", err)
	}

	for i := range packet.Inputs {
		pInput := &packet.Inputs[i]

		// Preserve pre-populated signature material as finalized
		// data.
		if len(witnesses[i]) > 0 {
			serialized, err := serializeWitness(witnesses[i])
			if err != nil {
				return nil, err
			}

			pInput.FinalScriptWitness = serialized
		}
		if len(sigScripts[i]) > 0 {
			pInput.FinalScriptSig = sigScripts[i]
		}

		c.resolveInput(
			ctx, pInput, tx.TxIn[i].PreviousOutPoint, prevOuts,
		)
	}

	return packet, nil
}

// resolveInput attaches previous-output information to a PSBT input
// following the codec's priority order. Resolution failures degrade to the
// witness stub; they never fail packet construction.
func (c *PsbtCodec) resolveInput(ctx context.Context, pInput *psbt.PInput,
	op wire.OutPoint, prevOuts map[wire.OutPoint]*wire.TxOut) {

	// Priority 1: caller-supplied context.
	if out, ok := prevOuts[op]; ok {
		pInput.WitnessUtxo = &wire.TxOut{
			Value:    out.Value,
			PkScript: out.PkScript,
		}

		return
	}

	// Priority 2: full parent transaction.
	if c.fetcher != nil {
		rawHex, err := c.fetcher.GetRawTransaction(
			ctx, op.Hash.String(),
		)
		if err == nil {
			parent, err := decodeTxHex(rawHex)
			if err == nil && op.Index < uint32(len(parent.TxOut)) {
				pInput.NonWitnessUtxo = parent
				return
			}
		}

		log.Debugf("Unable to fetch parent %v, leaving witness stub",
			op.Hash)
	}

	// Priority 3: minimal stub. The signing wallet knows its own
	// outputs and completes the information itself.
	pInput.WitnessUtxo = &wire.TxOut{}
}

// FinalizeToHex finalizes every input and serializes the network-ready
// transaction. It fails with ErrMalformedWitness if any input lacks a valid
// signature after finalization.
func (c *PsbtCodec) FinalizeToHex(packet *psbt.Packet) (string, error) {
	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedWitness, err)
	}

	tx, err := psbt.Extract(packet)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedWitness, err)
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf.Bytes()), nil
}

// EncodePacket renders a packet in the base64 form wallet providers accept.
func EncodePacket(packet *psbt.Packet) (string, error) {
	return packet.B64Encode()
}

// DecodePacket parses a provider's base64 response back into a packet.
func DecodePacket(psbtB64 string) (*psbt.Packet, error) {
	packet, err := psbt.NewFromRawBytes(strings.NewReader(psbtB64), true)
	if err != nil {
		return nil, fmt.Errorf("unable to decode signed psbt: %w", err)
	}

	return packet, nil
}

// VerifyPairLinkage parses a commit/spell pair and checks the defining
// invariant: one of the spell's inputs must spend an output of the commit
// transaction. On success the pair's txids are returned.
func VerifyPairLinkage(commitHex, spellHex string) (*charms.TxIDPair,
	error) {

	commitTx, err := decodeTxHex(commitHex)
	if err != nil {
		return nil, err
	}

	spellTx, err := decodeTxHex(spellHex)
	if err != nil {
		return nil, err
	}

	commitTxID := commitTx.TxHash()

	linked := false
	for _, txIn := range spellTx.TxIn {
		if txIn.PreviousOutPoint.Hash == commitTxID {
			linked = true
			break
		}
	}

	if !linked {
		return nil, fmt.Errorf("%w: spell does not spend commit "+
			"output", ErrMalformedTransaction)
	}

	return &charms.TxIDPair{
		CommitTxID: commitTxID,
		SpellTxID:  spellTx.TxHash(),
	}, nil
}

// decodeTxHex parses a hex-encoded transaction.
func decodeTxHex(rawHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(rawHex))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}

	return tx, nil
}

// serializeWitness encodes a witness stack in the form the psbt package
// stores in FinalScriptWitness.
func serializeWitness(witness wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer

	err := wire.WriteVarInt(&buf, 0, uint64(len(witness)))
	if err != nil {
		return nil, err
	}

	for _, item := range witness {
		if err := wire.WriteVarBytes(&buf, 0, item); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// errNoSignerPayload marks a spell transaction for which no portable
// signing payload could be produced. The orchestrator treats it as the
// designed degraded-success path.
var errNoSignerPayload = errors.New("no portable signing payload")
