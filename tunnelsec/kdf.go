package tunnelsec

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// generateEphemeralKeypair produces a fresh X25519 key pair for one handshake.
func generateEphemeralKeypair() (*ecdh.PrivateKey, error) {
	return ecdh.X25519().GenerateKey(rand.Reader)
}

// parsePublicKey parses a wire-format X25519 public key.
func parsePublicKey(raw []byte) (*ecdh.PublicKey, error) {
	return ecdh.X25519().NewPublicKey(raw)
}

// deriveKey implements HKDF-SHA256 Extract(salt, secret) then Expand(info,
// keySize): salt and info are both attacker-influenced-but-public
// transcript material, never secret themselves.
func deriveKey(secret, salt, info []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// directionalKeys derives the client->server and server->client record keys
// from the shared ECDH secret and the two handshake nonces. Salts are
// clientNonce||serverNonce for the client-to-server direction and the
// reverse concatenation for server-to-client.
func directionalKeys(sharedSecret, clientNonce, serverNonce []byte) (c2s, s2c []byte, err error) {
	c2sSalt := append(append([]byte(nil), clientNonce...), serverNonce...)
	s2cSalt := append(append([]byte(nil), serverNonce...), clientNonce...)
	c2s, err = deriveKey(sharedSecret, c2sSalt, clientKeyInfo)
	if err != nil {
		return nil, nil, err
	}
	s2c, err = deriveKey(sharedSecret, s2cSalt, serverKeyInfo)
	if err != nil {
		return nil, nil, err
	}
	return c2s, s2c, nil
}

// incrementNonce advances a 12-byte counter in place, carrying from the
// last byte (index len-1) toward the first (index 0), i.e. a big-endian
// increment. Returns ErrNonceExhausted if every byte was already 0xFF; the
// counter is then left at all-0xFF, so every later call fails the same way
// instead of wrapping back to all-zero.
func incrementNonce(nonce []byte) error {
	for i := len(nonce) - 1; i >= 0; i-- {
		nonce[i]++
		if nonce[i] != 0 {
			return nil
		}
	}
	for i := range nonce {
		nonce[i] = 0xFF
	}
	return ErrNonceExhausted
}
