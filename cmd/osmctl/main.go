// main.go - osmctl, an operator/CI tool around the OSM command dispatcher.
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

// Package main provides osmctl, the operator-facing sibling of the osm
// daemon. Its only subcommand today is selftest, a build-verification
// smoke check in the spirit of the original's --test flag: it drives the
// command dispatcher in-process, with no network and a scratch database,
// and reports whether a basic identity/contact/send/receive round trip
// works.
package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/osm-project/osm-core/clock"
	"github.com/osm-project/osm-core/command"
	"github.com/osm-project/osm-core/contacts"
	"github.com/osm-project/osm-core/crypto/envelope"
	"github.com/osm-project/osm-core/kex"
	"github.com/osm-project/osm-core/outbox"
	"github.com/osm-project/osm-core/router"
	"github.com/osm-project/osm-core/storage"
)

var log = logging.MustGetLogger("osmctl")

func usage() {
	fmt.Fprintln(os.Stderr, "usage: osmctl selftest")
}

func main() {
	if len(os.Args) != 2 || os.Args[1] != "selftest" {
		usage()
		os.Exit(2)
	}

	logging.SetBackend(logging.NewLogBackend(os.Stderr, "", 0))

	if err := selftest(); err != nil {
		log.Errorf("osmctl: selftest failed: %v", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

// selftest runs a loopback round trip entirely in-process: generate an
// identity, bind a contact to our own public key, send through it, then
// hand the sealed envelope straight to the router as if it had arrived
// off the wire, and confirm the message lands in the thread.
func selftest() error {
	f, err := ioutil.TempFile("", "osmctl_selftest")
	if err != nil {
		return err
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	store, err := storage.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	identity, err := envelope.GenerateIdentity()
	if err != nil {
		return err
	}
	if err := store.PutIdentity(&storage.Identity{Public: identity.Public[:], Secret: identity.Secret[:]}); err != nil {
		return err
	}

	realClock := clock.New(wallClock{})
	book := contacts.New(store, realClock)
	ob := outbox.New(store, func() int64 { return time.Now().UnixNano() })
	kx := kex.New(store, book, ob, identity, time.Now)
	rt := router.New(kx, book, identity)
	disp := command.New(store, book, kx, ob, identity, "osmctl-selftest")

	pkB64 := envelope.EncodeBase64(identity.Public[:])
	if resp := disp.Dispatch("CMD:ADD_CONTACT:self:2:" + pkB64); !hasOK(resp) {
		return fmt.Errorf("add_contact: %v", resp)
	}

	const body = "selftest loopback"
	if resp := disp.Dispatch("CMD:SEND:self:" + body); !hasOK(resp) {
		return fmt.Errorf("send: %v", resp)
	}

	payload, ok := ob.Head()
	if !ok {
		return fmt.Errorf("outbox empty after send")
	}
	rt.Dispatch(payload)

	resp := disp.Dispatch("CMD:RECV_COUNT:self")
	if len(resp) == 0 || !strings.Contains(resp[0], "RECV_COUNT:1") {
		return fmt.Errorf("recv_count: %v", resp)
	}

	return nil
}

func hasOK(resp []string) bool {
	return len(resp) > 0 && strings.HasPrefix(resp[0], "CMD:OK:")
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
