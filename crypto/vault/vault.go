// vault.go - passphrase-sealed local storage for the identity secret key.
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

// Package vault seals a copy of the identity secret key into its own file
// under an operator passphrase. cmd/osm uses it only when a passphrase is
// set, and it is off by default — the data model has no passphrase concept
// of its own. The persistent store's identity record keeps the secret in
// plaintext whether or not a vault is in use.
package vault

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"io"
	"io/ioutil"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// argon2SaltSize is the salt size in bytes for use with argon2.
	argon2SaltSize = 16

	// passphraseMinSize is the minimum allowed passphrase size in bytes.
	passphraseMinSize = 12

	// secretboxNonceSize is the nonce size in bytes for NaCl SecretBox.
	secretboxNonceSize = 24
)

// Vault seals sensitive data to disk using argon2 for key stretching and
// NaCl SecretBox for encryption. Type and Label only annotate the PEM
// block; they are not authenticated.
type Vault struct {
	Type       string
	Passphrase string
	Path       string
	Label      string
	rng        io.Reader
}

// New creates a Vault. rng is the randomness source for salts and nonces;
// a nil rng defaults to crypto/rand.Reader, letting tests inject a
// deterministic reader.
func New(vaultType, passphrase, path, label string, rng io.Reader) (*Vault, error) {
	if len(passphrase) < passphraseMinSize {
		return nil, errors.New("vault: passphrase too short")
	}
	if rng == nil {
		rng = rand.Reader
	}
	return &Vault{
		Type:       vaultType,
		Passphrase: passphrase,
		Path:       path,
		Label:      label,
		rng:        rng,
	}, nil
}

// stretch derives a 32-byte SecretBox key from the passphrase and salt via
// argon2id.
func (v *Vault) stretch(salt []byte) []byte {
	return argon2.IDKey([]byte(v.Passphrase), salt, 3, 64*1024, 2, 32)
}

// Open returns the decrypted contents of the vault.
func (v *Vault) Open() ([]byte, error) {
	pemPayload, err := ioutil.ReadFile(v.Path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemPayload)
	if block == nil {
		return nil, errors.New("vault: failed to decode pem file")
	}
	saltB64, ok := block.Headers["salt"]
	if !ok {
		return nil, errors.New("vault: missing salt header")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, errors.New("vault: malformed salt header")
	}

	var nonce [secretboxNonceSize]byte
	copy(nonce[:], block.Bytes[:secretboxNonceSize])

	var key [32]byte
	copy(key[:], v.stretch(salt))

	ciphertext := block.Bytes[secretboxNonceSize:]
	plaintext, ok := secretbox.Open(nil, ciphertext, &nonce, &key)
	if !ok {
		return nil, errors.New("vault: secretbox authentication failed")
	}
	return plaintext, nil
}

// Seal encrypts plaintext and writes it to the vault's path.
func (v *Vault) Seal(plaintext []byte) error {
	salt := make([]byte, argon2SaltSize)
	if _, err := io.ReadFull(v.rng, salt); err != nil {
		return err
	}
	var key [32]byte
	copy(key[:], v.stretch(salt))

	var nonce [secretboxNonceSize]byte
	if _, err := io.ReadFull(v.rng, nonce[:]); err != nil {
		return err
	}

	ciphertext := secretbox.Seal(nil, plaintext, &nonce, &key)
	payload := make([]byte, 0, secretboxNonceSize+len(ciphertext))
	payload = append(payload, nonce[:]...)
	payload = append(payload, ciphertext...)

	block := pem.Block{
		Type: v.Type,
		Headers: map[string]string{
			"label": v.Label,
			"salt":  base64.StdEncoding.EncodeToString(salt),
		},
		Bytes: payload,
	}
	buf := new(bytes.Buffer)
	if err := pem.Encode(buf, &block); err != nil {
		return err
	}
	return ioutil.WriteFile(v.Path, buf.Bytes(), os.FileMode(0600))
}
