// ack.go - message identity and ACK fragment construction.
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

// Package ack implements C5: content-addressed message ids and the ACK
// fragment that acknowledges receipt of a fully reassembled payload.
// Outbox identity being a content hash (rather than a negotiated sequence
// number) makes enqueue idempotent and lets ACKs be processed out of FIFO
// order.
package ack

import (
	"crypto/sha512"

	"github.com/osm-project/osm-core/constants"
)

// MsgID returns the first 8 bytes of SHA-512(payload).
func MsgID(payload []byte) [constants.MsgIDLength]byte {
	sum := sha512.Sum512(payload)
	var id [constants.MsgIDLength]byte
	copy(id[:], sum[:constants.MsgIDLength])
	return id
}

// BuildFragment constructs the wire bytes of an ACK fragment:
// flags=ACK, seq=0, payload=msg_id. ACK fragments are never themselves
// ACKed and never occupy the outbox.
func BuildFragment(msgID [constants.MsgIDLength]byte) []byte {
	frag := make([]byte, 0, 3+constants.MsgIDLength)
	frag = append(frag, constants.FlagAck, 0x00, 0x00)
	frag = append(frag, msgID[:]...)
	return frag
}

// ParseFragment extracts the acknowledged msg_id from an ACK fragment's
// payload (as produced by fragment.ParseHeader for a header with the ACK
// bit set). Returns false if the payload is too short to contain a msg_id.
func ParseFragment(payload []byte) ([constants.MsgIDLength]byte, bool) {
	var id [constants.MsgIDLength]byte
	if len(payload) < constants.MsgIDLength {
		return id, false
	}
	copy(id[:], payload[:constants.MsgIDLength])
	return id, true
}
