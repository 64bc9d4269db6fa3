// dispatcher.go - line-oriented command surface (C9).
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

// Package command implements C9: the line-oriented `CMD:<verb>[:<arg>...]`
// control surface for the UI/automation. cmd/osm builds one Dispatcher and
// every command Session hands its lines to it through the core loop, so
// the open-conversation state is shared by all sessions. The per-connection
// loop (see Session) has the same shape as pop3.session wrapping a
// connection in a textproto.Reader/Writer and looping read/dispatch/write
// until EOF — except here verbs act on local state rather than a mailbox,
// so there is no authorization phase to model.
package command

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/op/go-logging.v1"

	"github.com/osm-project/osm-core/constants"
	"github.com/osm-project/osm-core/contacts"
	"github.com/osm-project/osm-core/crypto/envelope"
	"github.com/osm-project/osm-core/kex"
	"github.com/osm-project/osm-core/storage"
)

var log = logging.MustGetLogger("osm/command")

// Outbox is the subset of outbox.Outbox the dispatcher needs to enqueue an
// outbound message envelope.
type Outbox interface {
	Enqueue(payload []byte) error
}

// Kex is the subset of kex.Manager the dispatcher drives.
type Kex interface {
	Add(name string) (*storage.Contact, error)
	Create(name string) (*storage.Contact, error)
	Complete(name string) (*storage.Contact, error)
	Assign(name string) (*storage.Contact, error)
}

// Dispatcher holds everything one CMD: verb needs to run to completion and
// persist before replying, per spec 4.9's "every mutating verb persists
// before responding".
type Dispatcher struct {
	store       *storage.Store
	contacts    *contacts.Book
	kex         Kex
	outbox      Outbox
	identity    *envelope.Identity
	deviceName  string
	openContact string
}

// New constructs a Dispatcher. identity is shared with C6/C7 — SET_IDENTITY
// mutates it in place so every holder of the pointer observes the change
// without re-wiring.
func New(store *storage.Store, book *contacts.Book, kx Kex, ob Outbox, identity *envelope.Identity, deviceName string) *Dispatcher {
	return &Dispatcher{store: store, contacts: book, kex: kx, outbox: ob, identity: identity, deviceName: deviceName}
}

type handlerFunc func(*Dispatcher, []string) []string

var handlers = map[string]handlerFunc{
	"KEYGEN":       (*Dispatcher).cmdKeygen,
	"IDENTITY":     (*Dispatcher).cmdIdentity,
	"PRIVKEY":      (*Dispatcher).cmdPrivkey,
	"SET_IDENTITY": (*Dispatcher).cmdSetIdentity,
	"ADD":          (*Dispatcher).cmdAdd,
	"ADD_CONTACT":  (*Dispatcher).cmdAddContact,
	"CREATE":       (*Dispatcher).cmdCreate,
	"COMPLETE":     (*Dispatcher).cmdComplete,
	"ASSIGN":       (*Dispatcher).cmdAssign,
	"DELETE":       (*Dispatcher).cmdDelete,
	"RENAME":       (*Dispatcher).cmdRename,
	"SEND":         (*Dispatcher).cmdSend,
	"UI_COMPOSE":   (*Dispatcher).cmdSend,
	"UI_REPLY":     (*Dispatcher).cmdReply,
	"RECV_COUNT":   (*Dispatcher).cmdRecvCount,
	"STATE":        (*Dispatcher).cmdState,
	"DELETE_MSG":   (*Dispatcher).cmdDeleteMsg,
	"DEVICE_NAME":  (*Dispatcher).cmdDeviceName,
}

// Dispatch parses one `CMD:<verb>[:<arg>...]` line and returns the response
// line(s) to write back, in order. A malformed or unrecognized line yields
// a single CMD:ERR line; the dispatcher never panics on bad input.
func (d *Dispatcher) Dispatch(line string) []string {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "CMD:") {
		return []string{"CMD:ERR:bad_command"}
	}
	parts := strings.Split(strings.TrimPrefix(line, "CMD:"), ":")
	verb := parts[0]
	args := parts[1:]

	h, ok := handlers[verb]
	if !ok {
		return []string{"CMD:ERR:unknown_verb"}
	}
	return h(d, args)
}

func errKind(err error) string {
	switch errors.Cause(err) {
	case contacts.ErrContactNotFound:
		return "contact_not_found"
	case contacts.ErrNameConflict:
		return "name_taken"
	case contacts.ErrNameTooLong:
		return "name_too_long"
	case contacts.ErrPlaintextTooLong:
		return "plaintext_too_long"
	case contacts.ErrMessageNotFound:
		return "message_not_found"
	case kex.ErrDuplicatePending, kex.ErrPendingIsContact:
		return "already_pending"
	case kex.ErrNoPendingKey:
		return "no_pending_key"
	case kex.ErrAmbiguousPending:
		return "ambiguous_pending"
	case kex.ErrWrongState:
		return "wrong_state"
	case envelope.ErrBadBase64, envelope.ErrBadLength:
		return "bad_key"
	default:
		return "internal"
	}
}

func errLine(err error) []string {
	return []string{"CMD:ERR:" + errKind(err)}
}

func (d *Dispatcher) cmdKeygen(args []string) []string {
	var zero envelope.PublicKey
	if d.identity.Public == zero {
		id, err := envelope.GenerateIdentity()
		if err != nil {
			return []string{"CMD:ERR:internal"}
		}
		*d.identity = *id
		if err := d.store.PutIdentity(&storage.Identity{Public: id.Public[:], Secret: id.Secret[:]}); err != nil {
			return []string{"CMD:ERR:internal"}
		}
	}
	return []string{"CMD:OK:keygen"}
}

func (d *Dispatcher) cmdIdentity(args []string) []string {
	return []string{"CMD:IDENTITY:" + envelope.EncodeBase64(d.identity.Public[:])}
}

// cmdPrivkey is the spec 6.4/9 testing backdoor exposing the secret key.
// Production builds SHOULD gate this verb out at build time.
func (d *Dispatcher) cmdPrivkey(args []string) []string {
	return []string{"CMD:PRIVKEY:" + envelope.EncodeBase64(d.identity.Secret[:])}
}

func (d *Dispatcher) cmdSetIdentity(args []string) []string {
	if len(args) != 2 {
		return []string{"CMD:ERR:bad_args"}
	}
	pk, err := envelope.DecodePublicKey(args[0])
	if err != nil {
		return errLine(err)
	}
	skRaw, err := envelope.DecodeBase64(args[1])
	if err != nil || len(skRaw) != constants.KeyLength {
		return []string{"CMD:ERR:bad_key"}
	}
	d.identity.Public = *pk
	copy(d.identity.Secret[:], skRaw)
	if err := d.store.PutIdentity(&storage.Identity{Public: d.identity.Public[:], Secret: d.identity.Secret[:]}); err != nil {
		return []string{"CMD:ERR:internal"}
	}
	return []string{"CMD:OK:set_identity"}
}

func (d *Dispatcher) cmdAdd(args []string) []string {
	if len(args) != 1 {
		return []string{"CMD:ERR:bad_args"}
	}
	if _, err := d.kex.Add(args[0]); err != nil {
		return errLine(err)
	}
	return []string{"CMD:OK:add"}
}

// cmdAddContact implements the CMD:ADD_CONTACT:<name>:2:<pk_b64> testing
// shortcut that creates a contact directly ESTABLISHED, bypassing KEX.
func (d *Dispatcher) cmdAddContact(args []string) []string {
	if len(args) != 3 || args[1] != "2" {
		return []string{"CMD:ERR:bad_args"}
	}
	pk, err := envelope.DecodePublicKey(args[2])
	if err != nil {
		return errLine(err)
	}
	if _, err := d.contacts.AddContact(args[0], pk[:]); err != nil {
		return errLine(err)
	}
	return []string{"CMD:OK:add_contact"}
}

func (d *Dispatcher) cmdCreate(args []string) []string {
	if len(args) != 1 {
		return []string{"CMD:ERR:bad_args"}
	}
	if _, err := d.kex.Create(args[0]); err != nil {
		return errLine(err)
	}
	return []string{"CMD:OK:create"}
}

func (d *Dispatcher) cmdComplete(args []string) []string {
	if len(args) != 1 {
		return []string{"CMD:ERR:bad_args"}
	}
	if _, err := d.kex.Complete(args[0]); err != nil {
		return errLine(err)
	}
	return []string{"CMD:OK:complete"}
}

func (d *Dispatcher) cmdAssign(args []string) []string {
	if len(args) != 1 {
		return []string{"CMD:ERR:bad_args"}
	}
	if _, err := d.kex.Assign(args[0]); err != nil {
		return errLine(err)
	}
	return []string{"CMD:OK:assign"}
}

func (d *Dispatcher) cmdDelete(args []string) []string {
	if len(args) != 1 {
		return []string{"CMD:ERR:bad_args"}
	}
	if err := d.contacts.DeleteContact(args[0]); err != nil {
		return errLine(err)
	}
	if d.openContact == args[0] {
		d.openContact = ""
	}
	return []string{"CMD:OK:delete"}
}

func (d *Dispatcher) cmdRename(args []string) []string {
	if len(args) != 2 {
		return []string{"CMD:ERR:bad_args"}
	}
	if err := d.contacts.RenameContact(args[0], args[1]); err != nil {
		return errLine(err)
	}
	if d.openContact == args[0] {
		d.openContact = args[1]
	}
	return []string{"CMD:OK:rename"}
}

// cmdSend implements both CMD:SEND and CMD:UI_COMPOSE: encrypt the text for
// name's peer key, enqueue the wire envelope, and record it in the thread.
func (d *Dispatcher) cmdSend(args []string) []string {
	if len(args) < 2 {
		return []string{"CMD:ERR:bad_args"}
	}
	name := args[0]
	text := strings.Join(args[1:], ":")
	if err := d.sendTo(name, text); err != nil {
		return errLine(err)
	}
	d.openContact = name
	return []string{"CMD:OK:send"}
}

// cmdReply implements CMD:UI_REPLY:<text>, sending on the currently open
// conversation (spec 6.4).
func (d *Dispatcher) cmdReply(args []string) []string {
	if len(args) < 1 {
		return []string{"CMD:ERR:bad_args"}
	}
	if d.openContact == "" {
		return []string{"CMD:ERR:no_open_conversation"}
	}
	text := strings.Join(args, ":")
	if err := d.sendTo(d.openContact, text); err != nil {
		return errLine(err)
	}
	return []string{"CMD:OK:reply"}
}

func (d *Dispatcher) sendTo(name, text string) error {
	c, err := d.contacts.ByName(name)
	if err != nil {
		return err
	}
	if c.Status != storage.StatusEstablished {
		return kex.ErrWrongState
	}
	var peerPK envelope.PublicKey
	copy(peerPK[:], c.PeerPubkey)
	sealed, err := envelope.Seal([]byte(text), &peerPK, &d.identity.Secret)
	if err != nil {
		return err
	}
	envl := []byte(constants.EnvelopeMsgPrefix + envelope.EncodeBase64(sealed))
	if err := d.outbox.Enqueue(envl); err != nil {
		return err
	}
	return d.contacts.AppendOutgoing(c.ID, text)
}

func (d *Dispatcher) cmdRecvCount(args []string) []string {
	if len(args) != 1 {
		return []string{"CMD:ERR:bad_args"}
	}
	c, err := d.contacts.ByName(args[0])
	if err != nil {
		return errLine(err)
	}
	n, err := d.contacts.RecvCount(c.ID)
	if err != nil {
		return []string{"CMD:ERR:internal"}
	}
	return []string{"CMD:RECV_COUNT:" + strconv.Itoa(n)}
}

func (d *Dispatcher) cmdDeleteMsg(args []string) []string {
	if len(args) < 1 {
		return []string{"CMD:ERR:bad_args"}
	}
	text := strings.Join(args, ":")
	if d.openContact == "" {
		return []string{"CMD:ERR:no_open_conversation"}
	}
	c, err := d.contacts.ByName(d.openContact)
	if err != nil {
		return errLine(err)
	}
	if err := d.contacts.DeleteMessageByText(c.ID, text); err != nil {
		return errLine(err)
	}
	return []string{"CMD:OK:delete_msg"}
}

// cmdDeviceName answers the BLE INFO characteristic's analogue (see
// SPEC_FULL.md's supplemental-features section).
func (d *Dispatcher) cmdDeviceName(args []string) []string {
	return []string{"CMD:DEVICE_NAME:" + d.deviceName}
}

func statusName(s storage.ContactStatus) string {
	switch s {
	case storage.StatusPendingSent:
		return "PENDING_SENT"
	case storage.StatusPendingReceived:
		return "PENDING_RECEIVED"
	case storage.StatusEstablished:
		return "ESTABLISHED"
	default:
		return "UNKNOWN"
	}
}

func directionName(dir storage.Direction) string {
	if dir == storage.DirIn {
		return "IN"
	}
	return "OUT"
}

// cmdState produces the multiline dump of spec 6.4: identity, contacts,
// pending count, outbox count, active screen, and every thread, terminated
// by CMD:STATE:END.
func (d *Dispatcher) cmdState(args []string) []string {
	lines := []string{"CMD:STATE:IDENTITY:" + envelope.EncodeBase64(d.identity.Public[:])}

	all, err := d.contacts.List()
	if err != nil {
		return []string{"CMD:ERR:internal"}
	}
	for _, c := range all {
		lines = append(lines, "CMD:STATE:CONTACT:"+strconv.Itoa(int(c.ID))+":"+c.Name+":"+statusName(c.Status)+":"+strconv.Itoa(int(c.Unread)))
	}

	pending, err := d.store.ListPendingKeys()
	if err != nil {
		return []string{"CMD:ERR:internal"}
	}
	lines = append(lines, "CMD:STATE:PENDING:"+strconv.Itoa(len(pending)))

	outboxEntries, err := d.store.ListOutbox()
	if err != nil {
		return []string{"CMD:ERR:internal"}
	}
	lines = append(lines, "CMD:STATE:OUTBOX:"+strconv.Itoa(len(outboxEntries)))

	screen := d.openContact
	if screen == "" {
		screen = "NONE"
	}
	lines = append(lines, "CMD:STATE:SCREEN:"+screen)

	for _, c := range all {
		thread, err := d.contacts.Thread(c.ID)
		if err != nil {
			return []string{"CMD:ERR:internal"}
		}
		for _, m := range thread {
			lines = append(lines, "CMD:STATE:MSG:"+c.Name+":"+directionName(m.Direction)+":"+m.Plaintext)
		}
	}

	lines = append(lines, "CMD:STATE:END")
	return lines
}
