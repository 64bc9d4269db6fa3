// constants.go - OSM core constants.
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

// Package constants contains the sizing and timing constants shared by
// every OSM core component.
package constants

import "time"

const (
	// MTU is the small-link maximum transmission unit, including the
	// 3-or-5-byte fragment header.
	MTU = 200

	// MaxMessageSize is the largest logical payload (envelope, already
	// base64-encoded where applicable) the fragmentation codec will
	// reassemble.
	MaxMessageSize = 4096

	// MaxOutbox is the bound on the number of undelivered outbox entries.
	// Overflow evicts the oldest entry first.
	MaxOutbox = 32

	// MaxContactName is the largest allowed contact name, in bytes.
	MaxContactName = 63

	// MaxPlaintext is the largest allowed message body, in bytes.
	MaxPlaintext = 1024

	// MsgIDLength is the length in bytes of an outbox/ACK message id
	// (the truncated SHA-512 digest of the payload).
	MsgIDLength = 8

	// KeyLength is the length in bytes of an X25519 public or secret key
	// half.
	KeyLength = 32

	// NonceLength is the length in bytes of the random nonce prepended to
	// every sealed envelope.
	NonceLength = 24

	// DatabaseConnectTimeout bounds how long Open waits to acquire the
	// bbolt file lock.
	DatabaseConnectTimeout = 3 * time.Second

	// TickInterval is the core event loop's periodic tick, driving outbox
	// flush attempts. ~10 Hz per the concurrency model.
	TickInterval = 100 * time.Millisecond

	// Fragment flag bits. ACK is exclusive of START/END.
	FlagStart = 0x01
	FlagEnd   = 0x02
	FlagAck   = 0x04

	// CharUUIDToCA is the outer TCP frame's logical channel selector for
	// OSM -> CA traffic.
	CharUUIDToCA = 0xFE02

	// CharUUIDFromCA is the outer TCP frame's logical channel selector for
	// CA -> OSM traffic.
	CharUUIDFromCA = 0xFE03

	// CharUUIDService is the BLE GATT service UUID grouping the TX/RX/INFO
	// characteristics. Not addressed over the TCP host-simulator transport,
	// kept here so a BLE transport has a single source of truth.
	CharUUIDService = 0xFE00

	// CharUUIDInfo is the read-only characteristic exposing the device's
	// human-readable name, mirrored by the CMD:DEVICE_NAME command.
	CharUUIDInfo = 0xFE05

	// EnvelopeKeyPrefix and EnvelopeMsgPrefix are the textual envelope
	// prefixes dispatched by the router.
	EnvelopeKeyPrefix = "OSM:KEY:"
	EnvelopeMsgPrefix = "OSM:MSG:"
)
