// tcp.go - host-simulator link transport (spec 6.1).
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

// Package tcp implements the host-simulator transport of spec 6.1: a single
// TCP connection carrying outer frames of len(4 BE) ‖ char_uuid(2 BE) ‖
// fragment-bytes in both directions. The accept loop is grounded on the
// teacher's listener.go: one goroutine accepting connections and handing
// each off to its own read loop, with a connection-accepted callback rather
// than a fixed handler type.
package tcp

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/op/go-logging.v1"

	"github.com/osm-project/osm-core/constants"
)

var log = logging.MustGetLogger("osm/transport/tcp")

const (
	headerLen          = 4 + 2
	keepAliveInterval  = 3 * time.Minute
	maxFrameBodyLength = 1 << 20
)

// ErrUnknownChannel is returned when a frame's char_uuid is neither the
// OSM->CA nor the CA->OSM channel selector.
var ErrUnknownChannel = errors.New("tcp: unknown char_uuid")

// Session is one accepted CA connection, satisfying core.Transport: Recv
// yields de-framed CA->OSM fragment bytes, Send frames and writes an
// OSM->CA fragment.
type Session struct {
	conn net.Conn
	rx   chan []byte

	mu     sync.Mutex
	closed bool
}

func newSession(conn net.Conn) *Session {
	s := &Session{conn: conn, rx: make(chan []byte, 64)}
	go s.readLoop()
	return s
}

// Recv returns the channel of reassembled-at-the-frame-level (not yet
// fragment-reassembled) CA->OSM fragment bytes. Closed when the connection
// drops.
func (s *Session) Recv() <-chan []byte {
	return s.rx
}

// Send frames payload as an OSM->CA fragment and writes it to the
// connection. Non-blocking with respect to the core loop is the caller's
// responsibility (spec 5) — Send itself still performs a synchronous
// socket write, matching pop3.session's writeLine/writeOk style of doing
// I/O directly from the handler.
func (s *Session) Send(payload []byte) error {
	frame := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)+2))
	binary.BigEndian.PutUint16(frame[4:6], constants.CharUUIDToCA)
	copy(frame[headerLen:], payload)
	_, err := s.conn.Write(frame)
	return errors.Wrap(err, "tcp: send")
}

// Close tears down the underlying connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.rx)
	return s.conn.Close()
}

func (s *Session) readLoop() {
	defer s.Close()
	var lenBuf [4]byte
	var uuidBuf [2]byte
	for {
		if _, err := io.ReadFull(s.conn, lenBuf[:]); err != nil {
			log.Debugf("tcp: read length: %v", err)
			return
		}
		bodyLen := binary.BigEndian.Uint32(lenBuf[:])
		if bodyLen < 2 || bodyLen > maxFrameBodyLength {
			log.Warningf("tcp: rejecting frame with bad length %d", bodyLen)
			return
		}
		if _, err := io.ReadFull(s.conn, uuidBuf[:]); err != nil {
			log.Debugf("tcp: read char_uuid: %v", err)
			return
		}
		fragLen := bodyLen - 2
		frag := make([]byte, fragLen)
		if fragLen > 0 {
			if _, err := io.ReadFull(s.conn, frag); err != nil {
				log.Debugf("tcp: read fragment: %v", err)
				return
			}
		}
		charUUID := binary.BigEndian.Uint16(uuidBuf[:])
		if charUUID != constants.CharUUIDFromCA {
			log.Warningf("tcp: dropping frame on unexpected channel 0x%04x", charUUID)
			continue
		}

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		s.rx <- frag
	}
}

// Listener accepts CA connections, one Session at a time (the host
// simulator models a single physical link — a new connection replaces the
// previous one rather than multiplexing several).
type Listener struct {
	ln net.Listener

	mu      sync.Mutex
	onConn  func(*Session)
	current *Session
}

// Listen starts accepting connections on addr. onConn is invoked with each
// newly accepted Session, after the Listener has closed the previous one;
// cmd/osm passes Link.Adopt.
func Listen(addr string, onConn func(*Session)) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "tcp: listen")
	}
	l := &Listener{ln: ln, onConn: onConn}
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	log.Noticef("tcp: listening on %v", l.ln.Addr())
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				continue
			}
			log.Noticef("tcp: accept loop returning: %v", err)
			return
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(keepAliveInterval)
		}

		sess := newSession(conn)
		l.mu.Lock()
		if l.current != nil {
			l.current.Close()
		}
		l.current = sess
		l.mu.Unlock()

		l.onConn(sess)
	}
}

// Close stops accepting new connections and tears down the current session.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.current != nil {
		l.current.Close()
	}
	l.mu.Unlock()
	return l.ln.Close()
}
