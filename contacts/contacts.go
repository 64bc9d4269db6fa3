// contacts.go - contact book and per-contact message thread.
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

// Package contacts implements C8: the contact book (name -> pubkey,
// status, unread count) and each contact's ordered message thread. Every
// mutation commits through storage.Store before returning, per spec 4.8.
package contacts

import (
	"unicode/utf8"

	"github.com/pkg/errors"
	"gopkg.in/op/go-logging.v1"

	"github.com/osm-project/osm-core/clock"
	"github.com/osm-project/osm-core/constants"
	"github.com/osm-project/osm-core/storage"
)

var log = logging.MustGetLogger("osm/contacts")

var (
	ErrNameConflict    = errors.New("name taken")
	ErrContactNotFound = errors.New("contact not found")
	ErrNameTooLong     = errors.New("name too long")
	ErrPlaintextTooLong = errors.New("plaintext too long")
	ErrMessageNotFound = errors.New("message not found")
)

// Book is the store-backed contact book; every lookup reads through to the
// store, with no in-memory copy.
type Book struct {
	store *storage.Store
	clock *clock.Clock
}

// New wraps a Store with C8's contact-book operations.
func New(store *storage.Store, c *clock.Clock) *Book {
	return &Book{store: store, clock: c}
}

func validateName(name string) error {
	if len(name) == 0 || len(name) > constants.MaxContactName || !utf8.ValidString(name) {
		return ErrNameTooLong
	}
	return nil
}

// byName scans the contact list for a unique name match. Contact counts
// stay small enough (a handful to a few hundred) that a linear scan per
// command is simpler and cheap enough compared to maintaining a secondary
// name index in the store.
func (b *Book) byName(name string) (*storage.Contact, error) {
	all, err := b.store.ListContacts()
	if err != nil {
		return nil, err
	}
	for _, c := range all {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, ErrContactNotFound
}

func (b *Book) nameTaken(name string) (bool, error) {
	_, err := b.byName(name)
	if err == nil {
		return true, nil
	}
	if err == ErrContactNotFound {
		return false, nil
	}
	return false, err
}

// AddContact creates a contact. If peerPK is nil the contact starts
// PENDING_SENT (awaiting the peer's key); otherwise it is created directly
// ESTABLISHED, matching CMD:ADD_CONTACT's testing shortcut.
func (b *Book) AddContact(name string, peerPK []byte) (*storage.Contact, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	taken, err := b.nameTaken(name)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrNameConflict
	}
	c := &storage.Contact{Name: name}
	if peerPK != nil {
		c.Status = storage.StatusEstablished
		c.PeerPubkey = peerPK
	} else {
		c.Status = storage.StatusPendingSent
	}
	if err := b.store.PutContact(c); err != nil {
		return nil, err
	}
	return c, nil
}

// AddPendingReceived creates a new PENDING_RECEIVED contact bound to
// peerPK, used by C6's CREATE transition.
func (b *Book) AddPendingReceived(name string, peerPK []byte) (*storage.Contact, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	taken, err := b.nameTaken(name)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrNameConflict
	}
	c := &storage.Contact{Name: name, Status: storage.StatusPendingReceived, PeerPubkey: peerPK}
	if err := b.store.PutContact(c); err != nil {
		return nil, err
	}
	return c, nil
}

// RenameContact renames an existing contact, preserving its thread.
func (b *Book) RenameContact(oldName, newName string) error {
	if err := validateName(newName); err != nil {
		return err
	}
	c, err := b.byName(oldName)
	if err != nil {
		return err
	}
	taken, err := b.nameTaken(newName)
	if err != nil {
		return err
	}
	if taken {
		return ErrNameConflict
	}
	c.Name = newName
	return b.store.PutContact(c)
}

// DeleteContact removes a contact and cascades its thread. Pending keys
// are unaffected (spec 4.8).
func (b *Book) DeleteContact(name string) error {
	c, err := b.byName(name)
	if err != nil {
		return err
	}
	return b.store.DeleteContactAndThread(c.ID)
}

// ByName returns the named contact.
func (b *Book) ByName(name string) (*storage.Contact, error) {
	return b.byName(name)
}

// List returns every contact in id order.
func (b *Book) List() ([]*storage.Contact, error) {
	return b.store.ListContacts()
}

// AppendIncoming records a decrypted inbound message and increments
// unread.
func (b *Book) AppendIncoming(contactID uint32, plaintext string) error {
	if len(plaintext) > constants.MaxPlaintext {
		return ErrPlaintextTooLong
	}
	c, err := b.store.GetContact(contactID)
	if err != nil {
		return err
	}
	c.Unread++
	m := &storage.Message{
		ContactID: contactID,
		Direction: storage.DirIn,
		Timestamp: b.clock.Now().UnixNano(),
		Plaintext: plaintext,
	}
	return b.store.PutContactAndMessage(c, m)
}

// AppendOutgoing records a sent message without touching unread.
func (b *Book) AppendOutgoing(contactID uint32, plaintext string) error {
	if len(plaintext) > constants.MaxPlaintext {
		return ErrPlaintextTooLong
	}
	m := &storage.Message{
		ContactID: contactID,
		Direction: storage.DirOut,
		Timestamp: b.clock.Now().UnixNano(),
		Plaintext: plaintext,
	}
	return b.store.PutMessage(m)
}

// Thread returns a contact's messages in insertion order.
func (b *Book) Thread(contactID uint32) ([]*storage.Message, error) {
	return b.store.ListThread(contactID)
}

// DeleteMessageByText deletes the single message in contactID's thread
// whose plaintext exactly equals text.
func (b *Book) DeleteMessageByText(contactID uint32, text string) error {
	thread, err := b.store.ListThread(contactID)
	if err != nil {
		return err
	}
	for _, m := range thread {
		if m.Plaintext == text {
			return b.store.DeleteMessage(m.ID)
		}
	}
	return ErrMessageNotFound
}

// RecvCount returns the number of IN messages in a contact's thread.
func (b *Book) RecvCount(contactID uint32) (int, error) {
	thread, err := b.store.ListThread(contactID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range thread {
		if m.Direction == storage.DirIn {
			n++
		}
	}
	return n, nil
}

// UpdateStatus persists a contact's status/pubkey transition (used by C6).
func (b *Book) UpdateStatus(c *storage.Contact) error {
	log.Debugf("contact %q -> status %d", c.Name, c.Status)
	return b.store.PutContact(c)
}
