// fragment.go - fragmentation and reassembly over a small-MTU link.
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

// Package fragment implements C3: splitting a logical payload into
// MTU-sized fragments and reassembling them on the other side. Unlike the
// teacher's block-based scheme (a fixed MessageID/TotalBlocks/BlockID
// header reassembled by sorting), OSM fragments are strictly in-order: a
// gap or reordering aborts reassembly rather than being sorted around,
// since the underlying link (BLE GATT notifications / a single TCP stream)
// is already ordered per direction.
package fragment

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/osm-project/osm-core/constants"
)

var (
	ErrTruncatedFragment = errors.New("fragment: truncated")
	ErrOversizedMessage  = errors.New("fragment: oversized message")
	ErrUnknownSeq        = errors.New("fragment: unknown seq")
	ErrMissingStart      = errors.New("fragment: missing start")
)

// headerLen is the fixed 3-byte flags+seq header common to every fragment.
const headerLen = 3

// maxPayload is the largest payload chunk that fits a non-START fragment.
func maxPayload() int {
	return constants.MTU - headerLen
}

// maxStartPayload is the largest payload chunk that fits a START fragment,
// which carries two extra bytes of total_len.
func maxStartPayload() int {
	return constants.MTU - headerLen - 2
}

// Split breaks payload into a sequence of on-wire fragments. payload must
// be no larger than constants.MaxMessageSize.
func Split(payload []byte) ([][]byte, error) {
	if len(payload) > constants.MaxMessageSize {
		return nil, ErrOversizedMessage
	}

	if len(payload) <= maxStartPayload() {
		frag := make([]byte, 0, headerLen+2+len(payload))
		frag = append(frag, constants.FlagStart|constants.FlagEnd)
		frag = appendUint16(frag, 0)
		frag = appendUint16(frag, uint16(len(payload)))
		frag = append(frag, payload...)
		return [][]byte{frag}, nil
	}

	fragments := [][]byte{}
	offset := 0
	seq := uint16(0)
	for offset < len(payload) {
		isFirst := offset == 0
		chunkMax := maxPayload()
		if isFirst {
			chunkMax = maxStartPayload()
		}
		end := offset + chunkMax
		isLast := end >= len(payload)
		if isLast {
			end = len(payload)
		}

		flags := byte(0)
		if isFirst {
			flags |= constants.FlagStart
		}
		if isLast {
			flags |= constants.FlagEnd
		}

		frag := make([]byte, 0, constants.MTU)
		frag = append(frag, flags)
		frag = appendUint16(frag, seq)
		if isFirst {
			frag = appendUint16(frag, uint16(len(payload)))
		}
		frag = append(frag, payload[offset:end]...)
		fragments = append(fragments, frag)

		offset = end
		seq++
	}
	return fragments, nil
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

// Header is a parsed fragment header.
type Header struct {
	Flags    byte
	Seq      uint16
	TotalLen uint16 // only meaningful when Flags&FlagStart != 0
	Payload  []byte
}

// ParseHeader decodes a fragment's header and payload without regard to
// reassembly state. Fragments shorter than 3 bytes, a START fragment
// missing its total_len field, or a declared total_len exceeding
// MaxMessageSize, are reported as errors for the caller to drop.
func ParseHeader(frag []byte) (*Header, error) {
	if len(frag) < headerLen {
		return nil, ErrTruncatedFragment
	}
	h := &Header{
		Flags: frag[0],
		Seq:   binary.LittleEndian.Uint16(frag[1:3]),
	}
	rest := frag[3:]
	if h.Flags&constants.FlagStart != 0 {
		if len(rest) < 2 {
			return nil, ErrTruncatedFragment
		}
		h.TotalLen = binary.LittleEndian.Uint16(rest[:2])
		if int(h.TotalLen) > constants.MaxMessageSize {
			return nil, ErrOversizedMessage
		}
		rest = rest[2:]
	}
	h.Payload = rest
	return h, nil
}

// IsACK reports whether flags carries the ACK bit.
func (h *Header) IsACK() bool {
	return h.Flags&constants.FlagAck != 0
}

// Reassembler holds the in-progress reassembly state for one receive
// direction of one transport session. Reassembly only proceeds while a
// session is active: a new START discards any in-progress buffer, and an
// out-of-order seq aborts reassembly until the next START (spec 4.3).
type Reassembler struct {
	active  bool
	nextSeq uint16
	total   uint16
	buf     []byte
}

// NewReassembler returns a Reassembler with no in-progress message.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed consumes one fragment. It returns (payload, true, nil) when the
// fragment completes a message, (nil, false, nil) when more fragments are
// expected, and a non-nil error for a malformed or out-of-sequence
// fragment — in every case the caller drops the fragment per spec 4.3/7 and
// keeps the link open; an error other than starting fresh also aborts any
// in-progress reassembly.
func (r *Reassembler) Feed(h *Header) ([]byte, bool, error) {
	if h.IsACK() {
		return nil, false, nil
	}

	if h.Flags&constants.FlagStart != 0 {
		r.active = true
		r.nextSeq = 0
		r.total = h.TotalLen
		r.buf = make([]byte, 0, h.TotalLen)
	} else if !r.active {
		return nil, false, ErrMissingStart
	}

	if h.Seq != r.nextSeq {
		r.active = false
		r.buf = nil
		return nil, false, ErrUnknownSeq
	}

	r.buf = append(r.buf, h.Payload...)
	r.nextSeq++

	if h.Flags&constants.FlagEnd != 0 {
		out := r.buf
		r.active = false
		r.buf = nil
		if len(out) != int(r.total) {
			// total_len mismatch against the delivered bytes: treat as a
			// truncated/oversized delivery rather than returning a short
			// message silently.
			return nil, false, ErrTruncatedFragment
		}
		return out, true, nil
	}
	return nil, false, nil
}
