// session.go - one command session per connection (C9).
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

package command

import (
	"bufio"
	"io"
	"net"
	"net/textproto"

	"gopkg.in/op/go-logging.v1"
)

var sessionLog = logging.MustGetLogger("osm/command")

// maxLineLength bounds one CMD: line, generous enough for a PRIVKEY or
// SET_IDENTITY line carrying two base64-encoded 32-byte keys.
const maxLineLength = 512

// Handler runs one already-parsed CMD: line to completion and returns its
// response lines. *Dispatcher.Dispatch satisfies this directly; a caller
// wiring through core.Core instead passes core.Core.SubmitCommand, so a
// Session never has to know whether a loop sits between it and the
// dispatcher.
type Handler func(line string) []string

// Session reads CMD: lines off one connection and writes back responses,
// one line at a time, the way pop3.session wraps a net.Conn in a
// textproto.Reader/Writer and loops ReadLine/dispatch/PrintfLine until EOF.
type Session struct {
	conn    net.Conn
	limRd   *io.LimitedReader
	rd      *textproto.Reader
	wr      *textproto.Writer
	handler Handler
}

// NewSession wraps conn. Call Serve to run the read/dispatch/write loop;
// it returns when the connection is closed by the peer.
func NewSession(conn net.Conn, handler Handler) *Session {
	limRd := &io.LimitedReader{R: conn, N: maxLineLength}
	return &Session{
		conn:    conn,
		limRd:   limRd,
		rd:      textproto.NewReader(bufio.NewReader(limRd)),
		wr:      textproto.NewWriter(bufio.NewWriter(conn)),
		handler: handler,
	}
}

// Serve loops reading one CMD: line, running it through handler, and
// writing each response line back, until the connection errors or closes.
func (s *Session) Serve() {
	defer s.conn.Close()
	for {
		line, err := s.rd.ReadLine()
		if err != nil {
			if err != io.EOF {
				sessionLog.Debugf("command: session read: %v", err)
			}
			return
		}
		s.limRd.N = maxLineLength

		for _, resp := range s.handler(line) {
			if err := s.wr.PrintfLine("%s", resp); err != nil {
				sessionLog.Warningf("command: session write: %v", err)
				return
			}
		}
	}
}
