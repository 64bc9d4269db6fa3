// kex.go - per-contact key-exchange state machine.
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

// Package kex implements C6: the per-contact KEX lifecycle
// (none -> PENDING_SENT/PENDING_RECEIVED -> ESTABLISHED), the pending-key
// queue, and assignment. An incoming key is never auto-attached to a
// contact — see the design note in spec 9 on why the pending queue
// replaces auto-create: it keeps "I know this pubkey exists" separate from
// "I trust this name binding", which only the operator can decide.
package kex

import (
	"time"

	"github.com/pkg/errors"
	"gopkg.in/op/go-logging.v1"

	"github.com/osm-project/osm-core/contacts"
	"github.com/osm-project/osm-core/constants"
	"github.com/osm-project/osm-core/crypto/envelope"
	"github.com/osm-project/osm-core/storage"
)

var log = logging.MustGetLogger("osm/kex")

var (
	ErrDuplicatePending  = errors.New("already pending")
	ErrNoPendingKey      = errors.New("no pending key")
	ErrAmbiguousPending  = errors.New("multiple pending keys")
	ErrWrongState        = errors.New("contact not in required state")
	ErrPendingIsContact  = errors.New("pubkey already belongs to a contact")
)

// Outbox is the subset of outbox.Outbox that kex needs to enqueue an
// outbound KEX envelope. Declared here (rather than importing package
// outbox directly) to keep the dependency one-directional: outbox does not
// need to know about kex.
type Outbox interface {
	Enqueue(payload []byte) error
}

// Manager drives the KEX state machine described in spec 4.6.
type Manager struct {
	store    *storage.Store
	contacts *contacts.Book
	outbox   Outbox
	identity *envelope.Identity
	now      func() time.Time
}

// New constructs a Manager. identity must already be generated (see
// cmd/osm's loadOrGenerateIdentity, which runs before kex is constructed).
func New(store *storage.Store, book *contacts.Book, ob Outbox, identity *envelope.Identity, now func() time.Time) *Manager {
	return &Manager{store: store, contacts: book, outbox: ob, identity: identity, now: now}
}

func (m *Manager) myKeyEnvelope() []byte {
	body := envelope.EncodeBase64(m.identity.Public[:])
	return []byte(constants.EnvelopeKeyPrefix + body)
}

// Add creates a new PENDING_SENT contact and enqueues our public key to
// it, the initiator side of spec 4.6's ADD transition.
func (m *Manager) Add(name string) (*storage.Contact, error) {
	c, err := m.contacts.AddContact(name, nil)
	if err != nil {
		return nil, err
	}
	if err := m.outbox.Enqueue(m.myKeyEnvelope()); err != nil {
		return nil, err
	}
	return c, nil
}

// SubmitPendingKey appends pk to the pending-key queue unless it is
// already pending or already bound to a contact, in which case it is
// rejected per the DUPLICATE_PENDING policy (spec 7): no side effects, and
// the caller (router) logs "already pending".
func (m *Manager) SubmitPendingKey(pk *envelope.PublicKey) error {
	has, err := m.store.HasPendingKey(pk[:])
	if err != nil {
		return err
	}
	if has {
		return ErrDuplicatePending
	}
	all, err := m.contacts.List()
	if err != nil {
		return err
	}
	for _, c := range all {
		if bytesEqual(c.PeerPubkey, pk[:]) {
			return ErrPendingIsContact
		}
	}
	if err := m.store.AddPendingKey(&storage.PendingKey{Pubkey: pk[:], ReceivedAt: m.now().UnixNano()}); err != nil {
		return err
	}
	log.Info("KEX queued for assignment")
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// solePending returns the only queued pending key, or an error if there are
// zero or more than one. Spec 9 leaves ">1 pending" ambiguous for ASSIGN;
// OSM requires exactly one, documented as the Open Question resolution in
// the design notes.
func (m *Manager) solePending() (*storage.PendingKey, error) {
	keys, err := m.store.ListPendingKeys()
	if err != nil {
		return nil, err
	}
	switch len(keys) {
	case 0:
		return nil, ErrNoPendingKey
	case 1:
		return keys[0], nil
	default:
		return nil, ErrAmbiguousPending
	}
}

// Create promotes the sole pending key into a brand-new PENDING_RECEIVED
// contact, the responder side of spec 4.6.
func (m *Manager) Create(name string) (*storage.Contact, error) {
	pk, err := m.solePending()
	if err != nil {
		return nil, err
	}
	c, err := m.contacts.AddPendingReceived(name, pk.Pubkey)
	if err != nil {
		return nil, err
	}
	if err := m.store.RemovePendingKey(pk.Pubkey); err != nil {
		return nil, err
	}
	return c, nil
}

// Complete transitions a PENDING_RECEIVED contact to ESTABLISHED and
// enqueues our public key back to it.
func (m *Manager) Complete(name string) (*storage.Contact, error) {
	c, err := m.contacts.ByName(name)
	if err != nil {
		return nil, err
	}
	if c.Status != storage.StatusPendingReceived {
		return nil, ErrWrongState
	}
	c.Status = storage.StatusEstablished
	if err := m.contacts.UpdateStatus(c); err != nil {
		return nil, err
	}
	if err := m.outbox.Enqueue(m.myKeyEnvelope()); err != nil {
		return nil, err
	}
	return c, nil
}

// Assign binds the sole pending key to an existing PENDING_SENT contact,
// completing the initiator side without an additional outbound KEX (we
// already sent ours when the contact was ADDed).
func (m *Manager) Assign(name string) (*storage.Contact, error) {
	c, err := m.contacts.ByName(name)
	if err != nil {
		return nil, err
	}
	if c.Status != storage.StatusPendingSent {
		return nil, ErrWrongState
	}
	pk, err := m.solePending()
	if err != nil {
		return nil, err
	}
	c.PeerPubkey = pk.Pubkey
	c.Status = storage.StatusEstablished
	if err := m.contacts.UpdateStatus(c); err != nil {
		return nil, err
	}
	return c, m.store.RemovePendingKey(pk.Pubkey)
}
