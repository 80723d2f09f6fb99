// Copyright (c) 2025 The CharmCards developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// historyBucket is the bbolt bucket holding the append-only entry log.
var historyBucket = []byte("history")

// HistoryKind distinguishes mint from transfer entries.
type HistoryKind string

const (
	// HistoryMint records the creation of a new asset instance.
	HistoryMint HistoryKind = "mint"

	// HistoryTransfer records the movement of an asset instance to a new
	// UTXO.
	HistoryTransfer HistoryKind = "transfer"
)

// HistoryEntry is one locally recorded mint/transfer operation. The log is
// strictly a display aid: it is merged against on-chain UTXOs by the ledger
// view and is never authoritative over on-chain state.
type HistoryEntry struct {
	// AppID is the canonical "t/<64-hex>" app identifier.
	AppID string `json:"app_id"`

	// Kind is mint or transfer.
	Kind HistoryKind `json:"kind"`

	// CommitTxID and SpellTxID identify the transaction pair that
	// produced this entry. Instance identity is established through
	// these ids, never through the AppID alone.
	CommitTxID string `json:"commit_txid"`
	SpellTxID  string `json:"spell_txid"`

	// OutPoint is the "txid:vout" id of the asset-bound output.
	OutPoint string `json:"outpoint"`

	// Amount is the asset balance bound to the output, in card units.
	Amount uint64 `json:"amount"`

	// Address is the owning address the entry was recorded for.
	Address string `json:"address"`

	// Brand is the brand name captured at mint time, if known.
	Brand string `json:"brand,omitempty"`

	// CreatedAt is the local wall-clock time the entry was appended.
	CreatedAt time.Time `json:"created_at"`
}

// HistoryStore is the append-only local log of mint/transfer operations,
// backed by a single bbolt file.
type HistoryStore struct {
	db *bolt.DB
}

// OpenHistory opens (creating if needed) the history database at the given
// path.
func OpenHistory(path string) (*HistoryStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open history db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(historyBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to init history db: %w", err)
	}

	return &HistoryStore{db: db}, nil
}

// Close releases the underlying database file.
func (h *HistoryStore) Close() error {
	return h.db.Close()
}

// Append records a new entry at the tail of the log. Entries are never
// updated or deleted.
func (h *HistoryStore) Append(entry *HistoryEntry) error {
	if entry.CommitTxID == "" && entry.SpellTxID == "" {
		return errors.New("history entry needs at least one txid")
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return h.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(historyBucket)

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}

		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)

		return bucket.Put(key[:], value)
	})
}

// Entries returns the log entries recorded for an address, oldest first.
func (h *HistoryStore) Entries(address string) ([]HistoryEntry, error) {
	var entries []HistoryEntry

	err := h.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(historyBucket)

		return bucket.ForEach(func(_, value []byte) error {
			var entry HistoryEntry
			if err := json.Unmarshal(value, &entry); err != nil {
				// A corrupt entry is skipped, not fatal: the
				// log is a display aid only.
				log.Warnf("Skipping corrupt history entry: %v",
					err)

				return nil
			}

			if entry.Address == address {
				entries = append(entries, entry)
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}
