// store.go - durable storage for identity, contacts, threads, pending keys
// and the outbox.
// Copyright (C) 2026  OSM Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package storage implements C2: atomic, crash-safe persistence of the OSM
// data model on top of a single embedded bbolt file. One bucket per logical
// object (identity, contacts, messages, pending_keys, outbox). Each Store
// method commits in one bbolt transaction, so the methods that touch two
// buckets (PutContactAndMessage, DeleteContactAndThread) are all-or-nothing.
// Operations that call several Store methods are not combined into one
// transaction: COMPLETE's contact update and its outbox enqueue, for
// example, commit separately.
package storage

import (
	"encoding/binary"
	"encoding/json"

	"github.com/coreos/bbolt"
	"github.com/pkg/errors"

	"github.com/osm-project/osm-core/constants"
)

var (
	bucketIdentity    = []byte("identity")
	bucketContacts    = []byte("contacts")
	bucketMessages    = []byte("messages")
	bucketPendingKeys = []byte("pending_keys")
	bucketOutbox      = []byte("outbox")

	identityKey = []byte("identity")

	// ErrNotFound is returned when a lookup by id or name finds nothing.
	ErrNotFound = errors.New("storage: not found")
)

// ContactStatus mirrors the C6 KEX lifecycle (spec 3 and 4.6).
type ContactStatus int

const (
	StatusPendingSent ContactStatus = iota
	StatusPendingReceived
	StatusEstablished
)

// Identity is the durable image of the device's long-term keypair.
type Identity struct {
	Public []byte
	Secret []byte
}

// Contact is the durable image of one contact-book entry.
type Contact struct {
	ID         uint32
	Name       string
	Status     ContactStatus
	PeerPubkey []byte // nil until status != PENDING_SENT
	Unread     uint32
}

// Direction of a stored message.
type Direction int

const (
	DirOut Direction = iota
	DirIn
)

// Message is one entry in a contact's thread, in insertion order.
type Message struct {
	ID        uint64
	ContactID uint32
	Direction Direction
	Timestamp int64 // unix nanoseconds, from clock.Clock
	Plaintext string
}

// PendingKey is a peer public key received but not yet bound to a contact.
type PendingKey struct {
	Pubkey     []byte
	ReceivedAt int64
}

// OutboxEntry is one undelivered link payload.
type OutboxEntry struct {
	MsgID      []byte // constants.MsgIDLength bytes
	Payload    []byte
	EnqueuedAt int64
	RetryCount uint32
}

// Store is the bbolt-backed persistence layer.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the database at path and ensures every
// bucket exists. A corrupt or unreadable file is the caller's concern to
// detect (bolt.Open itself returns an error); startup recovery here means
// the buckets always exist after a successful Open, even against a
// freshly-created empty file.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: constants.DatabaseConnectTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "storage: open")
	}
	s := &Store{db: db}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketIdentity, bucketContacts, bucketMessages, bucketPendingKeys, bucketOutbox} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "storage: init buckets")
	}
	return s, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- identity ---------------------------------------------------------

// GetIdentity returns the stored identity, or ErrNotFound if none has been
// generated yet.
func (s *Store) GetIdentity() (*Identity, error) {
	var id *Identity
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketIdentity).Get(identityKey)
		if v == nil {
			return ErrNotFound
		}
		id = &Identity{}
		return json.Unmarshal(v, id)
	})
	if err != nil {
		return nil, err
	}
	return id, nil
}

// PutIdentity persists the identity, overwriting any prior value.
func (s *Store) PutIdentity(id *Identity) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdentity).Put(identityKey, raw)
	})
}

// --- contacts -----------------------------------------------------------

func contactKey(id uint32) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, id)
	return k
}

// PutContact assigns a monotonic id (if c.ID is zero) and persists c.
func (s *Store) PutContact(c *Contact) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContacts)
		if c.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			c.ID = uint32(seq)
		}
		raw, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return b.Put(contactKey(c.ID), raw)
	})
}

// GetContact returns the contact with the given id.
func (s *Store) GetContact(id uint32) (*Contact, error) {
	var c *Contact
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketContacts).Get(contactKey(id))
		if v == nil {
			return ErrNotFound
		}
		c = &Contact{}
		return json.Unmarshal(v, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListContacts returns every contact in id order.
func (s *Store) ListContacts() ([]*Contact, error) {
	contacts := []*Contact{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketContacts).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			contact := &Contact{}
			if err := json.Unmarshal(v, contact); err != nil {
				return err
			}
			contacts = append(contacts, contact)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return contacts, nil
}

// DeleteContactAndThread removes a contact and every message addressed to
// it, atomically.
func (s *Store) DeleteContactAndThread(id uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		cb := tx.Bucket(bucketContacts)
		if cb.Get(contactKey(id)) == nil {
			return ErrNotFound
		}
		if err := cb.Delete(contactKey(id)); err != nil {
			return err
		}
		mb := tx.Bucket(bucketMessages)
		cur := mb.Cursor()
		toDelete := [][]byte{}
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			m := &Message{}
			if err := json.Unmarshal(v, m); err != nil {
				return err
			}
			if m.ContactID == id {
				dup := make([]byte, len(k))
				copy(dup, k)
				toDelete = append(toDelete, dup)
			}
		}
		for _, k := range toDelete {
			if err := mb.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- messages -------------------------------------------------------------

func messageKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

// PutMessage assigns a monotonic id and appends m to its contact's thread.
func (s *Store) PutMessage(m *Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		m.ID = seq
		raw, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return b.Put(messageKey(m.ID), raw)
	})
}

// PutContactAndMessage persists a contact mutation and a new message in one
// transaction — used by append_incoming, which bumps the contact's unread
// count and appends to the thread together.
func (s *Store) PutContactAndMessage(c *Contact, m *Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		cb := tx.Bucket(bucketContacts)
		craw, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if err := cb.Put(contactKey(c.ID), craw); err != nil {
			return err
		}
		mb := tx.Bucket(bucketMessages)
		seq, err := mb.NextSequence()
		if err != nil {
			return err
		}
		m.ID = seq
		mraw, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return mb.Put(messageKey(m.ID), mraw)
	})
}

// ListThread returns a contact's messages in insertion order.
func (s *Store) ListThread(contactID uint32) ([]*Message, error) {
	msgs := []*Message{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			m := &Message{}
			if err := json.Unmarshal(v, m); err != nil {
				return err
			}
			if m.ContactID == contactID {
				msgs = append(msgs, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// DeleteMessage removes a single message by id.
func (s *Store) DeleteMessage(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).Delete(messageKey(id))
	})
}

// --- pending keys -----------------------------------------------------

// AddPendingKey appends a pubkey to the pending queue. Callers (C6) are
// responsible for the dedup check before calling this.
func (s *Store) AddPendingKey(pk *PendingKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPendingKeys)
		raw, err := json.Marshal(pk)
		if err != nil {
			return err
		}
		return b.Put(pk.Pubkey, raw)
	})
}

// HasPendingKey reports whether pk is already queued.
func (s *Store) HasPendingKey(pk []byte) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketPendingKeys).Get(pk) != nil
		return nil
	})
	return found, err
}

// ListPendingKeys returns all pending keys, in the bucket's key order
// (pubkey byte order), not receipt order.
func (s *Store) ListPendingKeys() ([]*PendingKey, error) {
	keys := []*PendingKey{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPendingKeys).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			pk := &PendingKey{}
			if err := json.Unmarshal(v, pk); err != nil {
				return err
			}
			keys = append(keys, pk)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// RemovePendingKey removes pk from the pending queue.
func (s *Store) RemovePendingKey(pk []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPendingKeys).Delete(pk)
	})
}

// --- outbox ---------------------------------------------------------------

// PutOutboxEntry inserts or overwrites an entry keyed by msg_id.
func (s *Store) PutOutboxEntry(e *OutboxEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).Put(e.MsgID, raw)
	})
}

// RemoveOutboxEntry deletes the entry with the given msg_id, if any.
func (s *Store) RemoveOutboxEntry(msgID []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).Delete(msgID)
	})
}

// ListOutbox returns every outbox entry. bbolt iterates keys in byte-sorted
// order, not insertion order, so callers needing FIFO order must sort by
// EnqueuedAt — see outbox.Outbox which keeps its own in-memory ordering and
// uses this only to rebuild state at startup.
func (s *Store) ListOutbox() ([]*OutboxEntry, error) {
	entries := []*OutboxEntry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOutbox).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			e := &OutboxEntry{}
			if err := json.Unmarshal(v, e); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
