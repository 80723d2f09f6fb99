// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"
	"github.com/davecgh/go-spew/spew"
)

// SignState is the state of a signing pipeline invocation.
type SignState uint32

const (
	// SignStateIdle is the initial state.
	SignStateIdle SignState = iota

	// SignStateSigningCommit means the commit transaction is at the
	// wallet awaiting a signature.
	SignStateSigningCommit

	// SignStateSigningSpell means the spell transaction is at the wallet
	// awaiting a signature.
	SignStateSigningSpell

	// SignStateDone means both transactions cleared signing.
	SignStateDone

	// SignStateRejected absorbs every fatal abort. The original cause is
	// preserved on the returned error.
	SignStateRejected

	// SignStateAlreadySigned absorbs invocations whose pair arrived
	// fully signed, e.g. when the proving service signed and broadcast
	// on the caller's behalf.
	SignStateAlreadySigned
)

// String returns the string representation of a SignState.
func (s SignState) String() string {
	switch s {
	case SignStateIdle:
		return "idle"

	case SignStateSigningCommit:
		return "signing_commit"

	case SignStateSigningSpell:
		return "signing_spell"

	case SignStateDone:
		return "done"

	case SignStateRejected:
		return "rejected"

	case SignStateAlreadySigned:
		return "already_signed"

	default:
		return "unknown sign state"
	}
}

// SignContext bundles the per-invocation inputs of SignPair.
type SignContext struct {
	// PrevOuts is the caller-supplied previous-output context handed to
	// the PSBT codec.
	PrevOuts map[wire.OutPoint]*wire.TxOut

	// FundingValue is the value of the selected funding UTXO.
	FundingValue btcutil.Amount

	// RequiredFee is the fee requirement declared by the proving
	// service for the pair.
	RequiredFee btcutil.Amount

	// AlreadySigned indicates the pair arrived fully signed and no
	// wallet interaction is needed.
	AlreadySigned bool
}

// SignedPair is the output of a successful SignPair invocation.
type SignedPair struct {
	// CommitHex is the fully signed commit transaction.
	CommitHex string

	// SpellHex is the spell transaction, signed where possible. On the
	// degraded-success path it is the input spell unmodified.
	SpellHex string
}

var (
	// ErrPipelineBusy is returned when SignPair is invoked on an
	// orchestrator that already ran. One orchestrator drives exactly one
	// invocation start to finish.
	ErrPipelineBusy = errors.New("signing pipeline already used")
)

// Orchestrator drives commit-then-spell signing against the pluggable
// wallet-provider interface. Commit signing is mandatory; spell signing is
// intentionally permissive, since the spell's primary input frequently
// arrives with a pre-populated witness from the proving service.
//
// The orchestrator is single-shot: create one per pipeline invocation.
// Serializing concurrent invocations for the same address is the caller's
// responsibility.
type Orchestrator struct {
	providers []Provider
	codec     *PsbtCodec

	state atomic.Uint32
}

// NewOrchestrator creates an orchestrator over the injected, ordered
// provider list.
func NewOrchestrator(providers []Provider, codec *PsbtCodec) *Orchestrator {
	return &Orchestrator{
		providers: providers,
		codec:     codec,
	}
}

// State returns the current pipeline state.
func (o *Orchestrator) State() SignState {
	return SignState(o.state.Load())
}

// toState records a state transition.
func (o *Orchestrator) toState(s SignState) {
	log.Debugf("Signing pipeline: %v -> %v", o.State(), s)
	o.state.Store(uint32(s))
}

// abort moves the pipeline into the absorbing rejected state and returns
// the causing error unchanged.
func (o *Orchestrator) abort(err error) (*SignedPair, error) {
	o.toState(SignStateRejected)
	return nil, err
}

// SignPair signs the commit transaction and then, best-effort, the spell
// transaction. The wallet prompt may block indefinitely; cancellation is
// the caller's context (e.g. page navigation), never an internal timeout.
// At most one signature prompt is issued per transaction per attempt.
func (o *Orchestrator) SignPair(ctx context.Context, commitHex,
	spellHex string, signCtx *SignContext) (*SignedPair, error) {

	if signCtx == nil {
		signCtx = &SignContext{}
	}

	if !o.state.CompareAndSwap(
		uint32(SignStateIdle), uint32(SignStateSigningCommit),
	) {
		return nil, fmt.Errorf("%w: state %v", ErrPipelineBusy,
			o.State())
	}

	// The pair invariant and the declared fee requirement are checked
	// before any prompt is shown: a certain on-chain rejection must
	// never cost the user a signature.
	if _, err := VerifyPairLinkage(commitHex, spellHex); err != nil {
		return o.abort(err)
	}

	if signCtx.RequiredFee > 0 &&
		signCtx.FundingValue < signCtx.RequiredFee {

		return o.abort(fmt.Errorf("%w: funding %v < required %v",
			ErrInsufficientFunds, signCtx.FundingValue,
			signCtx.RequiredFee))
	}

	if signCtx.AlreadySigned {
		o.toState(SignStateAlreadySigned)
		return &SignedPair{
			CommitHex: commitHex,
			SpellHex:  spellHex,
		}, nil
	}

	signer, err := FirstSigner(o.providers)
	if err != nil {
		return o.abort(err)
	}

	// Commit signing is mandatory: any failure aborts the whole
	// pipeline, preserving the original cause.
	commitSigned, err := o.signOne(ctx, signer, commitHex, signCtx)
	if err != nil {
		if isUserRejection(err) {
			return o.abort(fmt.Errorf("%w: %s", ErrUserRejected,
				err))
		}

		return o.abort(fmt.Errorf("commit signing failed: %w", err))
	}

	o.toState(SignStateSigningSpell)

	spellSigned, err := o.signOne(ctx, signer, spellHex, signCtx)
	switch {
	// An explicit rejection always aborts, even on the permissive spell
	// path.
	case isUserRejection(err):
		return o.abort(fmt.Errorf("%w: %s", ErrUserRejected, err))

	// Anything else on the spell path is the designed degraded-success
	// path: the spell's witness is expected to arrive pre-populated by
	// the proving service, so the unmodified transaction proceeds.
	case err != nil:
		log.Infof("Spell signing unavailable (%v), proceeding with "+
			"prover-signed spell", err)

		spellSigned = spellHex
	}

	o.toState(SignStateDone)

	return &SignedPair{
		CommitHex: commitSigned,
		SpellHex:  spellSigned,
	}, nil
}

// signOne runs one transaction through the codec, the provider and back.
func (o *Orchestrator) signOne(ctx context.Context, signer PsbtSigner,
	rawHex string, signCtx *SignContext) (string, error) {

	packet, err := o.codec.NewPacketFromHex(ctx, rawHex, signCtx.PrevOuts)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errNoSignerPayload, err)
	}

	psbtB64, err := EncodePacket(packet)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errNoSignerPayload, err)
	}

	signedB64, err := signer.SignPsbt(ctx, psbtB64, &SignOptions{
		AutoFinalize: false,
	})
	if err != nil {
		return "", err
	}

	signedPacket, err := DecodePacket(signedB64)
	if err != nil {
		return "", err
	}

	// Sdump is expensive, so gate it on the level.
	if log.Level() <= btclog.LevelTrace {
		log.Tracef("Provider %s returned packet: %v", signer.Name(),
			spew.Sdump(signedPacket))
	}

	return o.codec.FinalizeToHex(signedPacket)
}
