package envelope

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	require := require.New(t)

	alice, err := GenerateIdentity()
	require.NoError(err)
	bob, err := GenerateIdentity()
	require.NoError(err)

	plaintext := []byte("the hollow men")
	sealed, err := Seal(plaintext, &bob.Public, &alice.Secret)
	require.NoError(err)

	opened, err := Open(sealed, &alice.Public, &bob.Secret)
	require.NoError(err)
	require.Equal(plaintext, opened)
}

func TestOpenAuthFailOnTamper(t *testing.T) {
	require := require.New(t)

	alice, err := GenerateIdentity()
	require.NoError(err)
	bob, err := GenerateIdentity()
	require.NoError(err)

	sealed, err := Seal([]byte("hello"), &bob.Public, &alice.Secret)
	require.NoError(err)

	sealed[len(sealed)-1] ^= 0xFF
	_, err = Open(sealed, &alice.Public, &bob.Secret)
	require.True(errors.Is(err, ErrAuthFail))
}

func TestOpenWrongKeyFails(t *testing.T) {
	require := require.New(t)

	alice, err := GenerateIdentity()
	require.NoError(err)
	bob, err := GenerateIdentity()
	require.NoError(err)
	mallory, err := GenerateIdentity()
	require.NoError(err)

	sealed, err := Seal([]byte("for bob's eyes only"), &bob.Public, &alice.Secret)
	require.NoError(err)

	_, err = Open(sealed, &mallory.Public, &bob.Secret)
	require.True(errors.Is(err, ErrAuthFail))
}

func TestOpenBadLength(t *testing.T) {
	require := require.New(t)
	alice, err := GenerateIdentity()
	require.NoError(err)
	bob, err := GenerateIdentity()
	require.NoError(err)

	_, err = Open([]byte("short"), &alice.Public, &bob.Secret)
	require.True(errors.Is(err, ErrBadLength))
}

func TestDecodePublicKeyBadBase64(t *testing.T) {
	require := require.New(t)
	_, err := DecodePublicKey("not-valid-base64!!")
	require.True(errors.Is(err, ErrBadBase64))
}

func TestDecodePublicKeyBadLength(t *testing.T) {
	require := require.New(t)
	_, err := DecodePublicKey(EncodeBase64([]byte("too short")))
	require.True(errors.Is(err, ErrBadLength))
}
