// main.go - OSM core daemon.
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

// Package main wires the storage, contact book, KEX, outbox, router,
// command dispatcher and host-simulator transport into the C10 event
// loop and runs it until terminated.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"unsafe"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/osm-project/osm-core/clock"
	"github.com/osm-project/osm-core/command"
	"github.com/osm-project/osm-core/config"
	"github.com/osm-project/osm-core/constants"
	"github.com/osm-project/osm-core/contacts"
	"github.com/osm-project/osm-core/core"
	"github.com/osm-project/osm-core/crypto/envelope"
	"github.com/osm-project/osm-core/crypto/vault"
	"github.com/osm-project/osm-core/kex"
	"github.com/osm-project/osm-core/outbox"
	"github.com/osm-project/osm-core/router"
	"github.com/osm-project/osm-core/storage"
	"github.com/osm-project/osm-core/transport/tcp"

	"github.com/jonboulle/clockwork"
)

var log = logging.MustGetLogger("osm")

var logFormat = logging.MustStringFormatter(
	"%{level:.4s} %{id:03x} %{message}",
)
var ttyFormat = logging.MustStringFormatter(
	"%{color}%{time:15:04:05} ▶ %{level:.4s} %{id:03x}%{color:reset} %{message}",
)

const ioctlReadTermios = 0x5401

func isTerminal(fd int) bool {
	var termios syscall.Termios
	_, _, err := syscall.Syscall6(syscall.SYS_IOCTL, uintptr(fd), ioctlReadTermios, uintptr(unsafe.Pointer(&termios)), 0, 0, 0)
	return err == 0
}

func stringToLogLevel(level string) (logging.Level, error) {
	switch level {
	case "DEBUG":
		return logging.DEBUG, nil
	case "INFO":
		return logging.INFO, nil
	case "NOTICE":
		return logging.NOTICE, nil
	case "WARNING":
		return logging.WARNING, nil
	case "ERROR":
		return logging.ERROR, nil
	case "CRITICAL":
		return logging.CRITICAL, nil
	}
	return -1, fmt.Errorf("invalid logging level %s", level)
}

func setupLoggerBackend(level logging.Level) logging.LeveledBackend {
	format := logFormat
	if isTerminal(int(os.Stderr.Fd())) {
		format = ttyFormat
	}
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatter := logging.NewBackendFormatter(backend, format)
	leveler := logging.AddModuleLevel(formatter)
	leveler.SetLevel(level, "")
	return leveler
}

// loadOrGenerateIdentity returns the device's durable identity, generating
// and persisting a fresh one on first run. Every holder of this pointer
// (router, kex.Manager, command.Dispatcher) observes later CMD:SET_IDENTITY
// or CMD:KEYGEN mutations in place, since all three share it.
func loadOrGenerateIdentity(store *storage.Store) (*envelope.Identity, error) {
	stored, err := store.GetIdentity()
	if err == nil {
		return &envelope.Identity{Public: envelope.PublicKey(toKey(stored.Public)), Secret: envelope.SecretKey(toKey(stored.Secret))}, nil
	}
	if err != storage.ErrNotFound {
		return nil, err
	}
	id, err := envelope.GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := store.PutIdentity(&storage.Identity{Public: id.Public[:], Secret: id.Secret[:]}); err != nil {
		return nil, err
	}
	return id, nil
}

func toKey(b []byte) [32]byte {
	var k [32]byte
	copy(k[:], b)
	return k
}

func main() {
	var configFilePath string
	var logLevel string

	flag.StringVar(&configFilePath, "config", "", "configuration file")
	flag.StringVar(&logLevel, "log_level", "INFO", "logging level could be set to: DEBUG, INFO, NOTICE, WARNING, ERROR, CRITICAL")
	flag.Parse()

	if configFilePath == "" {
		fmt.Fprintln(os.Stderr, "you must specify a configuration file")
		flag.Usage()
		os.Exit(1)
	}

	level, err := stringToLogLevel(logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid logging level specified")
		os.Exit(1)
	}
	log.SetBackend(setupLoggerBackend(level))

	cfg, err := config.FromFile(configFilePath)
	if err != nil {
		log.Criticalf("osm: %v", err)
		os.Exit(1)
	}

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		log.Criticalf("osm: open store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	identity, err := loadOrGenerateIdentity(store)
	if err != nil {
		log.Criticalf("osm: identity: %v", err)
		os.Exit(1)
	}

	vaultPassphrase := os.Getenv("OSM_VAULT_PASSPHRASE")
	vaultPath := cfg.DataDir + ".vault"
	if vaultPassphrase != "" {
		if err := unsealIdentity(vaultPath, vaultPassphrase, store, identity); err != nil {
			log.Criticalf("osm: vault: %v", err)
			os.Exit(1)
		}
	}

	realClock := clockwork.NewRealClock()
	book := contacts.New(store, clock.New(realClock))

	ob := outbox.New(store, func() int64 { return realClock.Now().UnixNano() })
	if err := ob.LoadFromStore(); err != nil {
		log.Criticalf("osm: load outbox: %v", err)
		os.Exit(1)
	}

	kx := kex.New(store, book, ob, identity, realClock.Now)
	rt := router.New(kx, book, identity)
	disp := command.New(store, book, kx, ob, identity, cfg.DeviceName)

	link := tcp.NewLink()
	c := core.New(link, rt, ob, realClock)
	c.Start(disp.Dispatch)

	ln, err := tcp.Listen(cfg.Transport.Listen, link.Adopt)
	if err != nil {
		log.Criticalf("osm: listen: %v", err)
		os.Exit(1)
	}
	defer ln.Close()
	log.Noticef("osm: device %q listening on %s", cfg.DeviceName, cfg.Transport.Listen)

	var controlLn net.Listener
	if cfg.Transport.ControlListen != "" {
		controlLn, err = net.Listen("tcp", cfg.Transport.ControlListen)
		if err != nil {
			log.Criticalf("osm: control listen: %v", err)
			os.Exit(1)
		}
		defer controlLn.Close()
		log.Noticef("osm: command control surface listening on %s", cfg.Transport.ControlListen)
		go serveControl(controlLn, c)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Notice("osm: shutting down")
	if err := c.Stop(); err != nil {
		log.Warningf("osm: core stop: %v", err)
	}

	if vaultPassphrase != "" {
		if err := sealIdentity(vaultPath, vaultPassphrase, identity); err != nil {
			log.Warningf("osm: vault: %v", err)
		}
	}
}

// unsealIdentity replaces the plaintext-at-rest identity secret with the
// one vaulted at vaultPath, if a vault file already exists there from a
// prior run. A missing vault file is not an error — the first run with a
// passphrase set seals whatever identity loadOrGenerateIdentity produced
// on shutdown instead.
func unsealIdentity(vaultPath, passphrase string, store *storage.Store, identity *envelope.Identity) error {
	if _, err := os.Stat(vaultPath); os.IsNotExist(err) {
		return nil
	}
	v, err := vault.New("OSM IDENTITY SECRET", passphrase, vaultPath, "identity-secret", nil)
	if err != nil {
		return err
	}
	secret, err := v.Open()
	if err != nil {
		return err
	}
	if len(secret) != constants.KeyLength {
		return fmt.Errorf("vault: unexpected secret length %d", len(secret))
	}
	copy(identity.Secret[:], secret)
	return store.PutIdentity(&storage.Identity{Public: identity.Public[:], Secret: identity.Secret[:]})
}

// sealIdentity writes the current identity secret to vaultPath, sealed
// under passphrase, so the next startup's unsealIdentity can recover it.
func sealIdentity(vaultPath, passphrase string, identity *envelope.Identity) error {
	v, err := vault.New("OSM IDENTITY SECRET", passphrase, vaultPath, "identity-secret", nil)
	if err != nil {
		return err
	}
	return v.Seal(identity.Secret[:])
}

// serveControl accepts CMD: control connections and serves each with its
// own command.Session, handing every line to the single core loop via
// SubmitCommand so commands never race the transport/tick handlers.
func serveControl(ln net.Listener, c *core.Core) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Noticef("osm: control accept loop returning: %v", err)
			return
		}
		sess := command.NewSession(conn, c.SubmitCommand)
		go sess.Serve()
	}
}
