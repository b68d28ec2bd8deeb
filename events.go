package byostorage

import (
	"crypto/ed25519"

	"github.com/google/uuid"
)

// EventKind enumerates what a subscription can report.
type EventKind int

const (
	// EventUpdate carries the current payload of a record.
	EventUpdate EventKind = iota
	// EventDelete reports a removed record.
	EventDelete
	// EventBacklogComplete marks the point where historical entries end and
	// live changes begin. Delivered once per subscription.
	EventBacklogComplete
)

func (k EventKind) String() string {
	switch k {
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	case EventBacklogComplete:
		return "backlog-complete"
	default:
		return "unknown"
	}
}

// Event is one element of a subscription stream. The same record id may be
// delivered more than once and speculative and confirmed deliveries may
// interleave in any order; consumers should treat the last value per id as
// current.
type Event struct {
	Kind EventKind
	ID   uuid.UUID
	Data []byte
}

// SignFunc signs a message on behalf of a directory owner. The engine is
// signature-scheme agnostic; callers supply the capability.
type SignFunc func(message []byte) ([]byte, error)

// VerifyFunc checks a signature over message against a 32-byte owner public
// key.
type VerifyFunc func(signature, message, ownerKey []byte) bool

// Ed25519Sign adapts an Ed25519 private key to a SignFunc. Ed25519 public
// keys are 32 bytes, matching the owner key length the engine requires.
func Ed25519Sign(priv ed25519.PrivateKey) SignFunc {
	return func(message []byte) ([]byte, error) {
		return ed25519.Sign(priv, message), nil
	}
}

// Ed25519Verify is a VerifyFunc for Ed25519 signatures.
func Ed25519Verify(signature, message, ownerKey []byte) bool {
	if len(ownerKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(ownerKey), message, signature)
}
