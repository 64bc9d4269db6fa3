// tcp_test.go - tests for the host-simulator link transport.
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
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/osm-project/osm-core/constants"
)

func TestSendFramesOutboundFragment(t *testing.T) {
	require := require.New(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sess := &Session{conn: server, rx: make(chan []byte, 1)}

	done := make(chan error, 1)
	go func() { done <- sess.Send([]byte("hello")) }()

	var lenBuf [4]byte
	var uuidBuf [2]byte
	_, err := client.Read(lenBuf[:])
	require.NoError(err)
	_, err = client.Read(uuidBuf[:])
	require.NoError(err)
	body := make([]byte, binary.BigEndian.Uint32(lenBuf[:])-2)
	_, err = client.Read(body)
	require.NoError(err)

	require.NoError(<-done)
	require.Equal(uint16(constants.CharUUIDToCA), binary.BigEndian.Uint16(uuidBuf[:]))
	require.Equal("hello", string(body))
}

func TestReadLoopDeliversFromCAFrame(t *testing.T) {
	require := require.New(t)
	client, server := net.Pipe()
	defer client.Close()

	sess := newSession(server)

	frame := make([]byte, 6+3)
	binary.BigEndian.PutUint32(frame[0:4], 2+3)
	binary.BigEndian.PutUint16(frame[4:6], constants.CharUUIDFromCA)
	copy(frame[6:], "abc")

	go func() { client.Write(frame) }()

	select {
	case frag := <-sess.Recv():
		require.Equal("abc", string(frag))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fragment")
	}
}

func TestReadLoopDropsUnknownChannel(t *testing.T) {
	require := require.New(t)
	client, server := net.Pipe()
	defer client.Close()

	sess := newSession(server)

	bad := make([]byte, 6+1)
	binary.BigEndian.PutUint32(bad[0:4], 2+1)
	binary.BigEndian.PutUint16(bad[4:6], 0x9999)
	bad[6] = 'x'

	good := make([]byte, 6+1)
	binary.BigEndian.PutUint32(good[0:4], 2+1)
	binary.BigEndian.PutUint16(good[4:6], constants.CharUUIDFromCA)
	good[6] = 'y'

	go func() {
		client.Write(bad)
		client.Write(good)
	}()

	select {
	case frag := <-sess.Recv():
		require.Equal("y", string(frag))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fragment")
	}
}

func TestListenAndSessionRoundTrip(t *testing.T) {
	require := require.New(t)
	accepted := make(chan *Session, 1)
	l, err := Listen("127.0.0.1:0", func(s *Session) { accepted <- s })
	require.NoError(err)
	defer l.Close()

	conn, err := net.Dial("tcp", l.ln.Addr().String())
	require.NoError(err)
	defer conn.Close()

	var sess *Session
	select {
	case sess = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accept")
	}

	frame := make([]byte, 6+2)
	binary.BigEndian.PutUint32(frame[0:4], 2+2)
	binary.BigEndian.PutUint16(frame[4:6], constants.CharUUIDFromCA)
	copy(frame[6:], "hi")
	_, err = conn.Write(frame)
	require.NoError(err)

	select {
	case frag := <-sess.Recv():
		require.Equal("hi", string(frag))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fragment")
	}
}
