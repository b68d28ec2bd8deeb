package byostorage

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomOwnerKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, OwnerKeyLength)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestDeriveDirectory_Deterministic(t *testing.T) {
	key := randomOwnerKey(t)

	dir1, err := deriveDirectory("my-channel", key)
	require.NoError(t, err)
	dir2, err := deriveDirectory("my-channel", key)
	require.NoError(t, err)

	assert.Equal(t, dir1, dir2)
	assert.NotEmpty(t, dir1)

	// Directory names must be path-safe.
	_, err = base64.RawURLEncoding.DecodeString(dir1)
	assert.NoError(t, err)
}

func TestDeriveDirectory_DistinctInputs(t *testing.T) {
	key1 := randomOwnerKey(t)
	key2 := randomOwnerKey(t)

	dirA1, err := deriveDirectory("channel-a", key1)
	require.NoError(t, err)
	dirB1, err := deriveDirectory("channel-b", key1)
	require.NoError(t, err)
	dirA2, err := deriveDirectory("channel-a", key2)
	require.NoError(t, err)

	assert.NotEqual(t, dirA1, dirB1, "different channels must derive different directories")
	assert.NotEqual(t, dirA1, dirA2, "different owner keys must derive different directories")
}

func TestDeriveDirectory_InvalidKeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		_, err := deriveDirectory("channel", make([]byte, n))
		assert.ErrorIs(t, err, ErrInvalidKeyLength, "key of %d bytes", n)
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0xff}, 100_000),
	}
	for _, payload := range payloads {
		ciphertext, err := encrypt("some channel", payload)
		require.NoError(t, err)
		assert.NotEqual(t, payload, ciphertext)

		plaintext, err := decrypt("some channel", ciphertext)
		require.NoError(t, err)
		assert.Equal(t, len(payload), len(plaintext))
		assert.True(t, bytes.Equal(payload, plaintext))
	}
}

func TestEncrypt_FreshNonce(t *testing.T) {
	ct1, err := encrypt("channel", []byte("data"))
	require.NoError(t, err)
	ct2, err := encrypt("channel", []byte("data"))
	require.NoError(t, err)
	assert.NotEqual(t, ct1, ct2, "same plaintext must never produce the same ciphertext")
}

func TestDecrypt_WrongChannel(t *testing.T) {
	ciphertext, err := encrypt("channel-a", []byte("secret"))
	require.NoError(t, err)

	_, err = decrypt("channel-b", ciphertext)
	assert.ErrorIs(t, err, ErrWrongChannelKey)
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	ciphertext, err := encrypt("channel", []byte("secret"))
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0x01
	_, err = decrypt("channel", ciphertext)
	assert.ErrorIs(t, err, ErrWrongChannelKey)
}

func TestDecrypt_TooShort(t *testing.T) {
	_, err := decrypt("channel", []byte("short"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrWrongChannelKey, "truncation before the nonce is not a key mismatch")
}

func TestRecordName_RoundTrip(t *testing.T) {
	id := uuid.New()
	name := recordName(id)
	assert.Len(t, name, 22)

	parsed, err := parseRecordName(name)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestRecordName_SignatureNameNeverParses(t *testing.T) {
	// The reserved envelope name must live outside the record name space.
	_, err := parseRecordName(SignatureName)
	assert.Error(t, err)
}

func TestParseRecordName_WrongLength(t *testing.T) {
	name := base64.RawURLEncoding.EncodeToString([]byte("not sixteen!"))
	_, err := parseRecordName(name)
	assert.Error(t, err)
}
