// Package credential holds the long-term Ed25519 signing identity used to
// bind the E2EE handshake to a stable peer identity.
package credential

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
)

// ErrInvalidPublicKeyLength is returned by NewIdentity when the supplied
// key is not a 32-byte Ed25519 public key.
var ErrInvalidPublicKeyLength = errors.New("credential: invalid public key length")

// Identity is the wire-visible descriptor for a Credential: its public key
// and the lowercase-hex id derived from it.
//
// Id is carried on the wire but MUST NOT be trusted on its own; verifiers
// recompute it from PublicKey (see Identity.Verify).
type Identity struct {
	ID        string `json:"id"`
	PublicKey []byte `json:"public_key"`
}

// NewIdentity builds an Identity from a 32-byte Ed25519 public key,
// deriving Id as the lowercase hex encoding of the key.
func NewIdentity(publicKey []byte) (Identity, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return Identity{}, ErrInvalidPublicKeyLength
	}
	return Identity{ID: hex.EncodeToString(publicKey), PublicKey: publicKey}, nil
}

// Verify reports whether id.ID is the hex encoding of id.PublicKey.
// Callers MUST call this before trusting an Identity decoded off the wire.
func (id Identity) Verify() bool {
	if len(id.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	return id.ID == hex.EncodeToString(id.PublicKey)
}

// Credential is a long-term Ed25519 signing identity. It is immutable once
// created and safe for concurrent use; keys are never logged or serialized
// by this type.
type Credential struct {
	signing  ed25519.PrivateKey
	identity Identity
}

// New generates a fresh Credential from the OS cryptographic RNG.
//
// RNG failure here is treated as fatal by callers: there is no degraded
// mode for an identity keypair.
func New() (*Credential, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	identity, err := NewIdentity(pub)
	if err != nil {
		return nil, err
	}
	return &Credential{signing: priv, identity: identity}, nil
}

// Sign produces a 64-byte Ed25519 detached signature over data.
func (c *Credential) Sign(data []byte) []byte {
	return ed25519.Sign(c.signing, data)
}

// Identity returns the stable identity descriptor for this credential.
func (c *Credential) Identity() Identity {
	return c.identity
}

// PublicKey returns the raw 32-byte Ed25519 public key.
func (c *Credential) PublicKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), c.signing.Public().(ed25519.PublicKey)...)
}
