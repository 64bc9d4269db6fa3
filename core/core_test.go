// core_test.go - tests for the event loop.
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

package core

import (
	"io/ioutil"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/osm-project/osm-core/ack"
	"github.com/osm-project/osm-core/clock"
	"github.com/osm-project/osm-core/constants"
	"github.com/osm-project/osm-core/contacts"
	"github.com/osm-project/osm-core/crypto/envelope"
	"github.com/osm-project/osm-core/fragment"
	"github.com/osm-project/osm-core/router"
	"github.com/osm-project/osm-core/storage"
)

type fakeTransport struct {
	mu   sync.Mutex
	rx   chan []byte
	sent [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{rx: make(chan []byte, 16)}
}

func (f *fakeTransport) Recv() <-chan []byte { return f.rx }

func (f *fakeTransport) Send(frag []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dup := make([]byte, len(frag))
	copy(dup, frag)
	f.sent = append(f.sent, dup)
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeFlusher struct {
	mu      sync.Mutex
	payload []byte
	acked   [][constants.MsgIDLength]byte
}

func (f *fakeFlusher) Head() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payload == nil {
		return nil, false
	}
	return f.payload, true
}

func (f *fakeFlusher) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payload == nil {
		return 0
	}
	return 1
}

func (f *fakeFlusher) Ack(msgID [constants.MsgIDLength]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, msgID)
	f.payload = nil
	return nil
}

func newTestRouter(t *testing.T) (*router.Router, *envelope.Identity) {
	t.Helper()
	f, err := ioutil.TempFile("", "osm_core_test")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	t.Cleanup(func() { os.Remove(f.Name()) })

	store, err := storage.Open(f.Name())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	book := contacts.New(store, clock.New(clockwork.NewRealClock()))
	id, err := envelope.GenerateIdentity()
	require.NoError(t, err)
	r := router.New(noopKex{}, book, id)
	return r, id
}

type noopKex struct{}

func (noopKex) SubmitPendingKey(pk *envelope.PublicKey) error { return nil }

func TestTickFlushesOutboxHead(t *testing.T) {
	require := require.New(t)
	r, _ := newTestRouter(t)
	transport := newFakeTransport()
	flusher := &fakeFlusher{payload: []byte("hello")}
	fc := clockwork.NewFakeClock()

	c := New(transport, r, flusher, fc)
	c.Start(func(line string) []string { return nil })
	defer c.Stop()

	fc.BlockUntil(1)
	fc.Advance(constants.TickInterval)

	waitUntil(t, func() bool { return transport.sentCount() > 0 })
}

// waitUntil polls cond for up to a second, avoiding a dependency on
// testify's Eventually (not available in the pinned testify release).
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond())
}

func TestFragmentFeedRoutesAndAcksSender(t *testing.T) {
	require := require.New(t)
	r, id := newTestRouter(t)
	transport := newFakeTransport()
	flusher := &fakeFlusher{}
	fc := clockwork.NewFakeClock()

	c := New(transport, r, flusher, fc)
	c.Start(func(line string) []string { return nil })
	defer c.Stop()

	peer, err := envelope.GenerateIdentity()
	require.NoError(err)
	sealed, err := envelope.Seal([]byte("hi"), &id.Public, &peer.Secret)
	require.NoError(err)
	envl := []byte(constants.EnvelopeMsgPrefix + envelope.EncodeBase64(sealed))
	frags, err := fragment.Split(envl)
	require.NoError(err)

	for _, f := range frags {
		transport.rx <- f
	}

	waitUntil(t, func() bool { return transport.sentCount() > 0 })

	last := transport.sent[len(transport.sent)-1]
	hdr, err := fragment.ParseHeader(last)
	require.NoError(err)
	require.True(hdr.IsACK())
	gotID, ok := ack.ParseFragment(hdr.Payload)
	require.True(ok)
	require.Equal(ack.MsgID(envl), gotID)
}

func TestSubmitCommandIsServedByLoop(t *testing.T) {
	require := require.New(t)
	r, _ := newTestRouter(t)
	transport := newFakeTransport()
	flusher := &fakeFlusher{}
	fc := clockwork.NewFakeClock()

	c := New(transport, r, flusher, fc)
	c.Start(func(line string) []string { return []string{"CMD:OK:" + line} })
	defer c.Stop()

	resp := c.SubmitCommand("echo")
	require.Equal([]string{"CMD:OK:echo"}, resp)
}
