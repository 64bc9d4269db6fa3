// link.go - a core.Transport that survives CA reconnects.
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

package tcp

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrNoSession is returned by Link.Send when no CA connection is active.
var ErrNoSession = errors.New("tcp: no active session")

// Link is a core.Transport whose underlying Session is swapped out across
// reconnects by a Listener, rather than tying core.Core's lifetime to any
// one TCP connection. core.Core is constructed once at startup against a
// Link; Listen's onConn callback calls Adopt on every new connection.
type Link struct {
	rx chan []byte

	mu      sync.Mutex
	current *Session
}

// NewLink constructs an empty Link with no active session.
func NewLink() *Link {
	return &Link{rx: make(chan []byte, 64)}
}

// Adopt makes sess the active session, forwarding its fragments onto the
// Link's single Recv channel until sess itself closes.
func (l *Link) Adopt(sess *Session) {
	l.mu.Lock()
	l.current = sess
	l.mu.Unlock()

	go func() {
		for frag := range sess.Recv() {
			l.rx <- frag
		}
	}()
}

// Recv returns the Link's fragment channel, stable across reconnects.
func (l *Link) Recv() <-chan []byte {
	return l.rx
}

// Send writes to the currently active session, or fails with ErrNoSession
// if the CA has never connected or has disconnected.
func (l *Link) Send(fragment []byte) error {
	l.mu.Lock()
	sess := l.current
	l.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}
	return sess.Send(fragment)
}
