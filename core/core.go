// core.go - the single-threaded cooperative event loop (C10).
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

// Package core implements C10, the single-threaded cooperative loop spec 5
// describes: one goroutine, driven by a transport read-ready event, a
// command-dispatcher event, and a periodic tick, with every handler running
// to completion before the next select iteration — the same worker()
// shape session.ARQ uses (a select over a halt channel and a timer), built
// here on a tomb.Tomb rather than an ad hoc halt channel since C10 needs a
// goroutine lifecycle the rest of the core can wait on and propagate errors
// from.
package core

import (
	"gopkg.in/op/go-logging.v1"
	"gopkg.in/tomb.v1"

	"github.com/jonboulle/clockwork"

	"github.com/osm-project/osm-core/ack"
	"github.com/osm-project/osm-core/constants"
	"github.com/osm-project/osm-core/fragment"
	"github.com/osm-project/osm-core/router"
)

var log = logging.MustGetLogger("osm/core")

// Transport is the subset of the active link transport the loop drives: a
// channel of raw inbound bytes (already de-framed by the transport) and a
// Send method for handing the outbox's head payload to the link.
type Transport interface {
	Recv() <-chan []byte
	Send(fragment []byte) error
}

// Flusher is the subset of outbox.Outbox the tick and ACK handlers need.
type Flusher interface {
	Head() ([]byte, bool)
	Len() int
	Ack(msgID [constants.MsgIDLength]byte) error
}

// Core owns the reassembler, router, outbox flush, and command dispatch
// that together implement the whole of spec 4-5. It has no knowledge of
// what's inside a command line or an envelope; it only schedules.
type Core struct {
	t tomb.Tomb

	transport Transport
	reasm     *fragment.Reassembler
	router    *router.Router
	outbox    Flusher
	cmdCh     chan cmdRequest
	clock     clockwork.Clock
}

type cmdRequest struct {
	line  string
	reply chan []string
}

// New constructs a Core. Call Start to begin the loop.
func New(transport Transport, r *router.Router, outbox Flusher, clock clockwork.Clock) *Core {
	return &Core{
		transport: transport,
		reasm:     fragment.NewReassembler(),
		router:    r,
		outbox:    outbox,
		cmdCh:     make(chan cmdRequest),
		clock:     clock,
	}
}

// CommandHandler runs one CMD: line to completion against core state and
// returns its response lines. Start's caller supplies this (typically
// command.Dispatcher.Dispatch) so package core never imports package
// command, keeping the dependency one-directional.
type CommandHandler func(line string) []string

// Start launches the loop goroutine.
func (c *Core) Start(handleCmd CommandHandler) {
	c.t.Go(func() error {
		return c.run(handleCmd)
	})
}

// Stop requests the loop terminate and waits for it to do so.
func (c *Core) Stop() error {
	c.t.Kill(nil)
	return c.t.Wait()
}

// Dying returns a channel closed when Stop has been called.
func (c *Core) Dying() <-chan struct{} {
	return c.t.Dying()
}

// SubmitCommand hands a CMD: line to the loop and blocks for its response.
// Safe to call from any goroutine (e.g. a command-dispatcher session).
func (c *Core) SubmitCommand(line string) []string {
	reply := make(chan []string, 1)
	select {
	case c.cmdCh <- cmdRequest{line: line, reply: reply}:
	case <-c.t.Dying():
		return []string{"CMD:ERR:shutting_down"}
	}
	select {
	case resp := <-reply:
		return resp
	case <-c.t.Dying():
		return []string{"CMD:ERR:shutting_down"}
	}
}

func (c *Core) run(handleCmd CommandHandler) error {
	ticker := c.clock.NewTicker(constants.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.t.Dying():
			log.Info("core: event loop terminating")
			return nil

		case raw, ok := <-c.transport.Recv():
			if !ok {
				continue
			}
			c.onFragment(raw)

		case req := <-c.cmdCh:
			req.reply <- handleCmd(req.line)

		case <-ticker.Chan():
			c.onTick()
		}
	}
}

// onFragment feeds one wire fragment through C3's reassembler and, once a
// full payload is available, hands it to C7's router. Every failure here
// is logged and dropped per spec 7 — the link is never killed by a bad
// fragment.
func (c *Core) onFragment(raw []byte) {
	hdr, err := fragment.ParseHeader(raw)
	if err != nil {
		log.Warningf("core: %v", err)
		return
	}
	if hdr.IsACK() {
		msgID, ok := ack.ParseFragment(hdr.Payload)
		if !ok {
			log.Warningf("core: truncated ack fragment")
			return
		}
		if err := c.outbox.Ack(msgID); err != nil {
			log.Errorf("core: ack: %v", err)
		}
		return
	}
	payload, done, err := c.reasm.Feed(hdr)
	if err != nil {
		log.Warningf("core: reassembly: %v", err)
		return
	}
	if !done {
		return
	}
	c.router.Dispatch(payload)
	if err := c.transport.Send(ack.BuildFragment(ack.MsgID(payload))); err != nil {
		log.Warningf("core: send ack: %v", err)
	}
}

// onTick drives C4's flush rule: split the outbox head into wire fragments
// and hand each to the transport in seq order. A send failure aborts the
// flush for this tick — the entry stays at the head and retries whole on
// the next tick, satisfying the per-session in-order delivery guarantee
// (spec 5). No other timeout-driven behavior exists in OSM.
func (c *Core) onTick() {
	if c.outbox.Len() == 0 {
		return
	}
	payload, ok := c.outbox.Head()
	if !ok {
		return
	}
	frags, err := fragment.Split(payload)
	if err != nil {
		log.Errorf("core: split outbox head: %v", err)
		return
	}
	for _, f := range frags {
		if err := c.transport.Send(f); err != nil {
			return
		}
	}
}
