package byostorage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// OwnerKeyLength is the required byte length of an owner public key.
	OwnerKeyLength = 32

	// RecordIDLength is the required byte length of a record id.
	RecordIDLength = 16

	// SignatureName is the reserved file name of the signature envelope.
	// Record names are unpadded base64url of a 16-byte id, and '~' is
	// outside that alphabet, so the envelope can never shadow a record.
	SignatureName = "~signature"

	nonceLength = 24
)

// deriveDirectory computes the backend directory for (channel, ownerKey):
// a one-way hash of a path-like string combining both, base64url-encoded so
// the result is safe to use as a path segment. The backend cannot recover
// either input from it.
func deriveDirectory(channel string, ownerKey []byte) (string, error) {
	if len(ownerKey) != OwnerKeyLength {
		return "", fmt.Errorf("got %d bytes: %w", len(ownerKey), ErrInvalidKeyLength)
	}
	path := base64.RawURLEncoding.EncodeToString(ownerKey) + "/" + channel
	sum := sha256.Sum256([]byte(path))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// channelKey derives the symmetric key every payload in a channel is
// encrypted under. Knowing the channel string is knowing the key.
func channelKey(channel string) *[32]byte {
	sum := sha256.Sum256([]byte(channel))
	return &sum
}

// encrypt seals plaintext under the channel key with a fresh random nonce.
// The wire form is nonce || box; nonce freshness is the only defense against
// reuse, so the random source must be sound.
func encrypt(channel string, plaintext []byte) ([]byte, error) {
	var nonce [nonceLength]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, nonceLength, nonceLength+len(plaintext)+secretbox.Overhead)
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, &nonce, channelKey(channel)), nil
}

// decrypt opens nonce || box produced by encrypt. Authentication failure is
// reported as ErrWrongChannelKey: the overwhelmingly common cause is a
// subscriber holding a different channel string than the writer.
func decrypt(channel string, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceLength {
		return nil, fmt.Errorf("ciphertext shorter than nonce (%d bytes)", len(ciphertext))
	}
	var nonce [nonceLength]byte
	copy(nonce[:], ciphertext[:nonceLength])
	plaintext, ok := secretbox.Open(nil, ciphertext[nonceLength:], &nonce, channelKey(channel))
	if !ok {
		return nil, ErrWrongChannelKey
	}
	return plaintext, nil
}

// recordName is the backend file name for a record id.
func recordName(id uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// parseRecordName reverses recordName. Names that do not decode to exactly
// 16 bytes (foreign files, the signature envelope) are rejected.
func parseRecordName(name string) (uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("decode record name %q: %w", name, err)
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("decode record name %q: %w", name, err)
	}
	return id, nil
}
