// contacts_test.go - tests for the contact book and message thread.
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

package contacts

import (
	"io/ioutil"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/osm-project/osm-core/clock"
	"github.com/osm-project/osm-core/constants"
	"github.com/osm-project/osm-core/storage"
)

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Unix(1700000000, 0) }

func newTestBook(t *testing.T) (*Book, *storage.Store) {
	t.Helper()
	f, err := ioutil.TempFile("", "osm_contacts_test")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	t.Cleanup(func() { os.Remove(f.Name()) })

	store, err := storage.Open(f.Name())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(store, clock.New(fakeClock{})), store
}

func TestAddContactPendingSentHasNoPeerKey(t *testing.T) {
	require := require.New(t)
	book, _ := newTestBook(t)

	c, err := book.AddContact("bob", nil)
	require.NoError(err)
	require.Equal(storage.StatusPendingSent, c.Status)
	require.Nil(c.PeerPubkey)
}

func TestAddContactWithPeerKeyIsEstablished(t *testing.T) {
	require := require.New(t)
	book, _ := newTestBook(t)

	pk := make([]byte, constants.KeyLength)
	pk[0] = 0x42
	c, err := book.AddContact("bob", pk)
	require.NoError(err)
	require.Equal(storage.StatusEstablished, c.Status)
	require.Equal(pk, c.PeerPubkey)
}

func TestAddContactRejectsDuplicateName(t *testing.T) {
	require := require.New(t)
	book, _ := newTestBook(t)

	_, err := book.AddContact("bob", nil)
	require.NoError(err)

	_, err = book.AddContact("bob", nil)
	require.Equal(ErrNameConflict, err)
}

func TestAddContactRejectsOversizedName(t *testing.T) {
	require := require.New(t)
	book, _ := newTestBook(t)

	_, err := book.AddContact(strings.Repeat("x", constants.MaxContactName+1), nil)
	require.Equal(ErrNameTooLong, err)
}

func TestAddContactRejectsEmptyName(t *testing.T) {
	require := require.New(t)
	book, _ := newTestBook(t)

	_, err := book.AddContact("", nil)
	require.Equal(ErrNameTooLong, err)
}

func TestAddPendingReceivedCreatesPendingReceivedContact(t *testing.T) {
	require := require.New(t)
	book, _ := newTestBook(t)

	pk := make([]byte, constants.KeyLength)
	pk[0] = 0x99
	c, err := book.AddPendingReceived("carol", pk)
	require.NoError(err)
	require.Equal(storage.StatusPendingReceived, c.Status)
	require.Equal(pk, c.PeerPubkey)
}

func TestRenameContactPreservesThreadAndRejectsConflict(t *testing.T) {
	require := require.New(t)
	book, _ := newTestBook(t)

	c, err := book.AddContact("bob", nil)
	require.NoError(err)
	require.NoError(book.AppendOutgoing(c.ID, "hi bob"))

	_, err = book.AddContact("carol", nil)
	require.NoError(err)

	require.NoError(book.RenameContact("bob", "robert"))
	renamed, err := book.ByName("robert")
	require.NoError(err)
	require.Equal(c.ID, renamed.ID)

	thread, err := book.Thread(renamed.ID)
	require.NoError(err)
	require.Len(thread, 1)
	require.Equal("hi bob", thread[0].Plaintext)

	require.Equal(ErrNameConflict, book.RenameContact("robert", "carol"))
	require.Equal(ErrContactNotFound, book.RenameContact("nobody", "whatever"))
}

func TestDeleteContactCascadesThread(t *testing.T) {
	require := require.New(t)
	book, store := newTestBook(t)

	c, err := book.AddContact("bob", nil)
	require.NoError(err)
	require.NoError(book.AppendOutgoing(c.ID, "bye"))

	require.NoError(book.DeleteContact("bob"))
	_, err = book.ByName("bob")
	require.Equal(ErrContactNotFound, err)

	_, err = store.GetContact(c.ID)
	require.Error(err)
}

func TestListReturnsAllContacts(t *testing.T) {
	require := require.New(t)
	book, _ := newTestBook(t)

	_, err := book.AddContact("bob", nil)
	require.NoError(err)
	_, err = book.AddContact("carol", nil)
	require.NoError(err)

	all, err := book.List()
	require.NoError(err)
	require.Len(all, 2)
}

func TestAppendIncomingIncrementsUnreadAndStampsTime(t *testing.T) {
	require := require.New(t)
	book, _ := newTestBook(t)

	c, err := book.AddContact("bob", nil)
	require.NoError(err)
	require.Zero(c.Unread)

	require.NoError(book.AppendIncoming(c.ID, "hello"))
	require.NoError(book.AppendIncoming(c.ID, "again"))

	updated, err := book.ByName("bob")
	require.NoError(err)
	require.EqualValues(2, updated.Unread)

	thread, err := book.Thread(c.ID)
	require.NoError(err)
	require.Len(thread, 2)
	require.Equal(storage.DirIn, thread[0].Direction)
	require.Equal(fakeClock{}.Now().UnixNano(), thread[0].Timestamp)
}

func TestAppendOutgoingDoesNotTouchUnread(t *testing.T) {
	require := require.New(t)
	book, _ := newTestBook(t)

	c, err := book.AddContact("bob", nil)
	require.NoError(err)
	require.NoError(book.AppendOutgoing(c.ID, "hi"))

	updated, err := book.ByName("bob")
	require.NoError(err)
	require.Zero(updated.Unread)

	thread, err := book.Thread(c.ID)
	require.NoError(err)
	require.Len(thread, 1)
	require.Equal(storage.DirOut, thread[0].Direction)
}

func TestAppendRejectsOversizedPlaintext(t *testing.T) {
	require := require.New(t)
	book, _ := newTestBook(t)

	c, err := book.AddContact("bob", nil)
	require.NoError(err)

	long := strings.Repeat("a", constants.MaxPlaintext+1)
	require.Equal(ErrPlaintextTooLong, book.AppendIncoming(c.ID, long))
	require.Equal(ErrPlaintextTooLong, book.AppendOutgoing(c.ID, long))
}

func TestDeleteMessageByTextRemovesOnlyMatch(t *testing.T) {
	require := require.New(t)
	book, _ := newTestBook(t)

	c, err := book.AddContact("bob", nil)
	require.NoError(err)
	require.NoError(book.AppendOutgoing(c.ID, "one"))
	require.NoError(book.AppendOutgoing(c.ID, "two"))

	require.NoError(book.DeleteMessageByText(c.ID, "one"))

	thread, err := book.Thread(c.ID)
	require.NoError(err)
	require.Len(thread, 1)
	require.Equal("two", thread[0].Plaintext)

	require.Equal(ErrMessageNotFound, book.DeleteMessageByText(c.ID, "one"))
}

func TestRecvCountCountsOnlyInboundMessages(t *testing.T) {
	require := require.New(t)
	book, _ := newTestBook(t)

	c, err := book.AddContact("bob", nil)
	require.NoError(err)
	require.NoError(book.AppendOutgoing(c.ID, "out1"))
	require.NoError(book.AppendIncoming(c.ID, "in1"))
	require.NoError(book.AppendIncoming(c.ID, "in2"))

	n, err := book.RecvCount(c.ID)
	require.NoError(err)
	require.Equal(2, n)
}

func TestUpdateStatusPersists(t *testing.T) {
	require := require.New(t)
	book, _ := newTestBook(t)

	c, err := book.AddContact("bob", nil)
	require.NoError(err)

	c.Status = storage.StatusEstablished
	c.PeerPubkey = make([]byte, constants.KeyLength)
	require.NoError(book.UpdateStatus(c))

	updated, err := book.ByName("bob")
	require.NoError(err)
	require.Equal(storage.StatusEstablished, updated.Status)
}
