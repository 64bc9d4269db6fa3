// envelope.go - crypto envelope for peer-authenticated messages.
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

// Package envelope implements C1: sealing and opening plaintexts under a
// long-term X25519 keypair via NaCl box (authenticated public-key
// encryption). No forward secrecy is provided by design — see the OSM
// non-goals.
package envelope

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/box"

	"github.com/osm-project/osm-core/constants"
)

// Failure kinds signalled to C7, which reacts to them per the error
// handling policy.
var (
	ErrBadBase64 = errors.New("bad base64")
	ErrBadLength = errors.New("bad length")
	ErrAuthFail  = errors.New("auth fail")
)

// PublicKey and SecretKey are the two 32-byte halves of an X25519 identity.
type PublicKey [constants.KeyLength]byte
type SecretKey [constants.KeyLength]byte

// Identity is a long-term keypair. Created on first startup on demand and
// persisted by C2; the secret half is never exported except via the
// CMD:PRIVKEY testing backdoor (see command.Dispatcher).
type Identity struct {
	Public PublicKey
	Secret SecretKey
}

// GenerateIdentity creates a new random X25519 keypair.
func GenerateIdentity() (*Identity, error) {
	pub, sec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: generate identity")
	}
	id := &Identity{}
	copy(id.Public[:], pub[:])
	copy(id.Secret[:], sec[:])
	return id, nil
}

// Seal encrypts plaintext for peerPK under mySK, returning
// nonce(24) || box, ready for base64 encoding into an OSM:MSG: envelope.
func Seal(plaintext []byte, peerPK *PublicKey, mySK *SecretKey) ([]byte, error) {
	var nonce [constants.NonceLength]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, errors.Wrap(err, "envelope: generate nonce")
	}
	pk := [constants.KeyLength]byte(*peerPK)
	sk := [constants.KeyLength]byte(*mySK)
	out := make([]byte, 0, constants.NonceLength+len(plaintext)+box.Overhead)
	out = append(out, nonce[:]...)
	out = box.Seal(out, plaintext, &nonce, &pk, &sk)
	return out, nil
}

// Open decrypts a nonce||box payload produced by Seal. Returns ErrBadLength
// if the payload is too short to contain a nonce, ErrAuthFail if the box
// does not authenticate under peerPK/mySK.
func Open(sealed []byte, peerPK *PublicKey, mySK *SecretKey) ([]byte, error) {
	if len(sealed) < constants.NonceLength {
		return nil, ErrBadLength
	}
	var nonce [constants.NonceLength]byte
	copy(nonce[:], sealed[:constants.NonceLength])
	pk := [constants.KeyLength]byte(*peerPK)
	sk := [constants.KeyLength]byte(*mySK)
	plaintext, ok := box.Open(nil, sealed[constants.NonceLength:], &nonce, &pk, &sk)
	if !ok {
		return nil, ErrAuthFail
	}
	return plaintext, nil
}

// EncodeBase64 and DecodeBase64 wrap the envelope's standard base64
// transport encoding in one place so C7/C9 never call encoding/base64
// directly.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrBadBase64
	}
	return b, nil
}

// DecodePublicKey parses and length-checks a base64-encoded 32-byte public
// key, as carried by an OSM:KEY: envelope.
func DecodePublicKey(b64 string) (*PublicKey, error) {
	raw, err := DecodeBase64(b64)
	if err != nil {
		return nil, err
	}
	if len(raw) != constants.KeyLength {
		return nil, ErrBadLength
	}
	var pk PublicKey
	copy(pk[:], raw)
	return &pk, nil
}
