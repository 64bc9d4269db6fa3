// clock.go - injectable time source for message timestamps and the tick.
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

// Package clock wraps clockwork.Clock so tests can advance a fake clock
// instead of sleeping. Spec leaves timestamp semantics implementation
// defined beyond "monotonically non-decreasing per contact"; Now satisfies
// that by construction since clockwork.Clock.Now never goes backwards.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Source is the minimal time source every timestamp-stamping component
// needs. clockwork.Clock satisfies it, as does any single-method fake a
// test cares to write; the core event loop's periodic tick needs more of
// clockwork.Clock's surface (NewTicker) and takes one directly rather than
// going through this wrapper.
type Source interface {
	Now() time.Time
}

// Clock is the time source contacts.Book uses to stamp messages. The
// outbox and kex take plain time functions instead.
type Clock struct {
	c Source
}

// New wraps the given time source. Production callers pass
// clockwork.NewRealClock(); tests pass a fake implementing Now().
func New(c Source) *Clock {
	return &Clock{c: c}
}

// Now returns the current wall-clock time.
func (c *Clock) Now() time.Time {
	return c.c.Now()
}

var _ Source = clockwork.NewRealClock()
