// outbox.go - bounded FIFO of link payloads awaiting CA acknowledgement.
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

// Package outbox implements C4: the bounded, durable FIFO of outbox
// entries awaiting a CA acknowledgement. The in-memory ordering lives in
// an eapache/queue ring buffer (the same O(1)-enqueue/dequeue structure
// the teacher reaches for on its send path); every mutation is mirrored
// into storage.Store inside the same call, matching spec 4.4's "enqueue,
// evict, and ACK-remove are each individually durable" contract.
package outbox

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/pkg/errors"
	"gopkg.in/op/go-logging.v1"

	"github.com/osm-project/osm-core/ack"
	"github.com/osm-project/osm-core/constants"
	"github.com/osm-project/osm-core/storage"
)

var log = logging.MustGetLogger("osm/outbox")

var ErrOversized = errors.New("outbox: payload exceeds MaxMessageSize")

// entry is the in-memory counterpart of storage.OutboxEntry, with MsgID
// fixed-length for cheap map lookups.
type entry struct {
	msgID   [constants.MsgIDLength]byte
	payload []byte
}

// Outbox is the bounded FIFO of undelivered envelopes.
type Outbox struct {
	mu    sync.Mutex
	store *storage.Store
	q     *queue.Queue
	index map[[constants.MsgIDLength]byte]bool
	now   func() int64
}

// New constructs an empty Outbox backed by store. Call LoadFromStore at
// startup to repopulate it from a prior run.
func New(store *storage.Store, now func() int64) *Outbox {
	return &Outbox{
		store: store,
		q:     queue.New(),
		index: make(map[[constants.MsgIDLength]byte]bool),
		now:   now,
	}
}

// LoadFromStore rebuilds the in-memory FIFO from the durable image,
// restoring insertion order by EnqueuedAt — bbolt's own key order is
// msg_id-sorted, not insertion-sorted, so this is the one place that
// re-derives FIFO order rather than trusting bucket iteration order.
func (o *Outbox) LoadFromStore() error {
	records, err := o.store.ListOutbox()
	if err != nil {
		return err
	}
	sortByEnqueuedAt(records)

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range records {
		var id [constants.MsgIDLength]byte
		copy(id[:], r.MsgID)
		o.q.Add(&entry{msgID: id, payload: r.Payload})
		o.index[id] = true
	}
	return nil
}

func sortByEnqueuedAt(records []*storage.OutboxEntry) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].EnqueuedAt < records[j-1].EnqueuedAt; j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}

// Enqueue accepts a fully built envelope. If an entry with the same
// msg_id already exists, Enqueue is a no-op (idempotent). When adding
// would exceed MaxOutbox, the oldest entry is evicted first.
func (o *Outbox) Enqueue(payload []byte) error {
	if len(payload) > constants.MaxMessageSize {
		return ErrOversized
	}
	id := ack.MsgID(payload)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.index[id] {
		return nil
	}

	if o.q.Length() >= constants.MaxOutbox {
		oldest := o.q.Remove().(*entry)
		delete(o.index, oldest.msgID)
		if err := o.store.RemoveOutboxEntry(oldest.msgID[:]); err != nil {
			return err
		}
		log.Warningf("outbox full, evicted oldest entry")
	}

	o.q.Add(&entry{msgID: id, payload: payload})
	o.index[id] = true
	return o.store.PutOutboxEntry(&storage.OutboxEntry{
		MsgID:      id[:],
		Payload:    payload,
		EnqueuedAt: o.now(),
	})
}

// Ack removes the outbox entry matching msgID, if present. An ACK for an
// unknown id is silently discarded.
func (o *Outbox) Ack(msgID [constants.MsgIDLength]byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.index[msgID] {
		return nil
	}
	delete(o.index, msgID)

	remaining := queue.New()
	for o.q.Length() > 0 {
		e := o.q.Remove().(*entry)
		if e.msgID != msgID {
			remaining.Add(e)
		}
	}
	o.q = remaining

	return o.store.RemoveOutboxEntry(msgID[:])
}

// Len returns the number of entries currently queued.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.q.Length()
}

// Head returns the payload of the oldest undelivered entry, for the flush
// loop to hand to the transport. Returns (nil, false) when empty.
func (o *Outbox) Head() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.q.Length() == 0 {
		return nil, false
	}
	e := o.q.Peek().(*entry)
	return e.payload, true
}
