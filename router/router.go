// router.go - envelope parser and router.
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

// Package router implements C7: parsing a fully reassembled payload into
// an OSM:KEY: or OSM:MSG: textual envelope and routing it to C6 or the
// speculative-decrypt path over C8's established contacts. Speculative
// decryption replaces a sender-tagged envelope by design — the wire
// payload never carries the sender's identity, so it cannot leak that
// metadata to the CA; ambiguity is ruled out by the box's own
// authentication (spec 4.7/9).
package router

import (
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/op/go-logging.v1"

	"github.com/osm-project/osm-core/constants"
	"github.com/osm-project/osm-core/contacts"
	"github.com/osm-project/osm-core/crypto/envelope"
	"github.com/osm-project/osm-core/kex"
	"github.com/osm-project/osm-core/storage"
)

var log = logging.MustGetLogger("osm/router")

// KeySubmitter is the subset of kex.Manager the router needs.
type KeySubmitter interface {
	SubmitPendingKey(pk *envelope.PublicKey) error
}

// Router parses and dispatches reassembled payloads.
type Router struct {
	kex      KeySubmitter
	contacts *contacts.Book
	identity *envelope.Identity
}

// New constructs a Router.
func New(kex KeySubmitter, book *contacts.Book, identity *envelope.Identity) *Router {
	return &Router{kex: kex, contacts: book, identity: identity}
}

// trim removes trailing ASCII whitespace the wire format must tolerate
// (spec 6.2/8 property "whitespace tolerance").
func trim(s string) string {
	return strings.TrimRight(s, "\r\n \t")
}

// Dispatch routes a reassembled textual envelope. It never returns an
// error that should kill the link — every failure is logged and dropped,
// per the error handling policy in spec 7.
func (r *Router) Dispatch(payload []byte) {
	line := trim(string(payload))

	switch {
	case strings.HasPrefix(line, constants.EnvelopeKeyPrefix):
		r.dispatchKey(strings.TrimPrefix(line, constants.EnvelopeKeyPrefix))
	case strings.HasPrefix(line, constants.EnvelopeMsgPrefix):
		r.dispatchMsg(strings.TrimPrefix(line, constants.EnvelopeMsgPrefix))
	default:
		log.Warningf("router: dropping unrecognized envelope")
	}
}

func (r *Router) dispatchKey(body string) {
	pk, err := envelope.DecodePublicKey(body)
	if err != nil {
		log.Warningf("bad pubkey")
		return
	}
	if err := r.kex.SubmitPendingKey(pk); err != nil {
		switch {
		case errors.Is(err, kex.ErrDuplicatePending):
			// Expected, non-exceptional: the responder may safely receive
			// the same KEX more than once (spec 4.6's failure model).
			log.Infof("already pending")
		case errors.Is(err, kex.ErrPendingIsContact):
			log.Infof("router: received key already bound to a contact")
		default:
			log.Errorf("router: submit pending key: %v", err)
		}
		return
	}
}

func (r *Router) dispatchMsg(body string) {
	sealed, err := envelope.DecodeBase64(body)
	if err != nil {
		log.Warningf("router: bad base64 in OSM:MSG:")
		return
	}

	all, err := r.contacts.List()
	if err != nil {
		log.Errorf("router: list contacts: %v", err)
		return
	}
	for _, c := range all {
		if c.Status != storage.StatusEstablished {
			continue
		}
		var peerPK envelope.PublicKey
		copy(peerPK[:], c.PeerPubkey)
		plaintext, err := envelope.Open(sealed, &peerPK, &r.identity.Secret)
		if err != nil {
			continue
		}
		if err := r.contacts.AppendIncoming(c.ID, string(plaintext)); err != nil {
			log.Errorf("router: append incoming: %v", err)
		}
		return
	}
	log.Warningf("router: no contact authenticated this message, dropping")
}
