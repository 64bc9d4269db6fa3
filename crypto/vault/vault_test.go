// vault_test.go - tests for the identity vault.
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

package vault

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVaultOpenSeal(t *testing.T) {
	require := require.New(t)

	tmpfile, err := ioutil.TempFile("", "osm-vault")
	require.NoError(err)
	defer os.Remove(tmpfile.Name())

	v, err := New("osm identity", "correct horse battery staple", tmpfile.Name(), "device-1", nil)
	require.NoError(err)

	plaintext := []byte("super secret identity key bytes")
	require.NoError(v.Seal(plaintext))

	out, err := v.Open()
	require.NoError(err)
	require.Equal(plaintext, out)
}

func TestVaultRejectsShortPassphrase(t *testing.T) {
	require := require.New(t)
	_, err := New("osm identity", "short", "/tmp/unused", "device-1", nil)
	require.Error(err)
}

func TestVaultOpenWrongPassphraseFails(t *testing.T) {
	require := require.New(t)

	tmpfile, err := ioutil.TempFile("", "osm-vault")
	require.NoError(err)
	defer os.Remove(tmpfile.Name())

	v, err := New("osm identity", "correct horse battery staple", tmpfile.Name(), "device-1", nil)
	require.NoError(err)
	require.NoError(v.Seal([]byte("secret")))

	wrong, err := New("osm identity", "incorrect horse battery staple", tmpfile.Name(), "device-1", nil)
	require.NoError(err)
	_, err = wrong.Open()
	require.Error(err)
}
