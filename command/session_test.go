// session_test.go - tests for the per-connection command session.
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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionEchoesDispatcherResponses(t *testing.T) {
	require := require.New(t)
	client, server := net.Pipe()
	defer client.Close()

	handler := func(line string) []string {
		if line == "CMD:STATE" {
			return []string{"CMD:STATE:IDENTITY:none", "CMD:STATE:END"}
		}
		return []string{"CMD:ERR:unknown_verb"}
	}
	sess := NewSession(server, handler)
	go sess.Serve()

	_, err := client.Write([]byte("CMD:STATE\r\n"))
	require.NoError(err)

	r := bufio.NewReader(client)
	line1, err := r.ReadString('\n')
	require.NoError(err)
	require.Contains(line1, "CMD:STATE:IDENTITY:none")

	line2, err := r.ReadString('\n')
	require.NoError(err)
	require.Contains(line2, "CMD:STATE:END")
}

func TestSessionClosesConnectionOnEOF(t *testing.T) {
	require := require.New(t)
	client, server := net.Pipe()

	done := make(chan struct{})
	sess := NewSession(server, func(line string) []string { return nil })
	go func() {
		sess.Serve()
		close(done)
	}()

	client.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not return after client closed")
	}
}

func TestSessionDispatchesMultipleLines(t *testing.T) {
	require := require.New(t)
	client, server := net.Pipe()
	defer client.Close()

	var seen []string
	handler := func(line string) []string {
		seen = append(seen, line)
		return []string{"CMD:OK:noop"}
	}
	sess := NewSession(server, handler)
	go sess.Serve()

	r := bufio.NewReader(client)

	_, err := client.Write([]byte("CMD:KEYGEN\r\n"))
	require.NoError(err)
	_, err = r.ReadString('\n')
	require.NoError(err)

	_, err = client.Write([]byte("CMD:IDENTITY\r\n"))
	require.NoError(err)
	_, err = r.ReadString('\n')
	require.NoError(err)

	require.Equal([]string{"CMD:KEYGEN", "CMD:IDENTITY"}, seen)
}
