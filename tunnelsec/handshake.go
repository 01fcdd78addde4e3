// Package tunnelsec implements the mutually-authenticated, forward-secret
// handshake and the AEAD secure channel built on top of it. The handshake
// binds a long-term Ed25519 identity to a fresh X25519 key exchange; the
// channel derived from it speaks ChaCha20-Poly1305 records with a strict
// per-direction nonce counter.
package tunnelsec

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/floegence/rdsec/credential"
	"github.com/floegence/rdsec/wire"
)

// initPayload is the signed handshake body exchanged by both sides. The
// same shape serves both directions; Identity and SessionPublicKey are
// always the sender's own.
type initPayload struct {
	Version          int                 `json:"version"`
	Nonce            []byte              `json:"nonce"`
	Timestamp        int64               `json:"timestamp"`
	Identity         credential.Identity `json:"identity"`
	ALPN             string              `json:"alpn"`
	SessionPublicKey []byte              `json:"session_public_key"`
}

// signedPayload pairs an initPayload with the signature over its canonical
// JSON encoding, produced by the sender's long-term credential.
type signedPayload struct {
	Payload   json.RawMessage `json:"payload"`
	Signature []byte          `json:"signature"`
}

func sign(cred *credential.Credential, p initPayload) (signedPayload, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return signedPayload{}, err
	}
	return signedPayload{Payload: raw, Signature: cred.Sign(raw)}, nil
}

// verify decodes and strictly verifies a signedPayload against the
// identity embedded in its own payload. The caller is responsible for
// additionally checking that identity against any expected peer identity.
func verify(sp signedPayload) (initPayload, error) {
	var p initPayload
	if err := json.Unmarshal(sp.Payload, &p); err != nil {
		return initPayload{}, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if !p.Identity.Verify() {
		return initPayload{}, ErrBadIdentity
	}
	if len(sp.Signature) != ed25519.SignatureSize {
		return initPayload{}, ErrBadSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(p.Identity.PublicKey), sp.Payload, sp.Signature) {
		return initPayload{}, ErrBadSignature
	}
	return p, nil
}

func writeSigned(w io.Writer, sp signedPayload) error {
	data, err := json.Marshal(sp)
	if err != nil {
		return err
	}
	return wire.WriteFrame(w, data)
}

func readSigned(r io.Reader) (signedPayload, error) {
	data, err := wire.ReadFrame(r)
	if err != nil {
		if err == wire.ErrFrameTooLarge {
			return signedPayload{}, ErrFrameTooLarge
		}
		return signedPayload{}, err
	}
	var sp signedPayload
	if err := json.Unmarshal(data, &sp); err != nil {
		return signedPayload{}, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return sp, nil
}

func randomNonce() ([]byte, error) {
	n := make([]byte, nonceSize)
	if _, err := rand.Read(n); err != nil {
		return nil, err
	}
	return n, nil
}

// RemoteIdentity is what a completed handshake learned about the peer.
type RemoteIdentity = credential.Identity

// ClientHandshake performs the client side of the handshake over rw and,
// on success, returns a SecureChannel ready to exchange application
// records. alpn is carried in the client's init payload but not otherwise
// enforced by this package; callers that need ALPN negotiation must check
// the peer's advertised protocol themselves.
func ClientHandshake(rw io.ReadWriter, cred *credential.Credential, alpn string) (*SecureChannel, RemoteIdentity, error) {
	priv, err := generateEphemeralKeypair()
	if err != nil {
		return nil, RemoteIdentity{}, err
	}
	clientNonce, err := randomNonce()
	if err != nil {
		return nil, RemoteIdentity{}, err
	}

	clientPayload := initPayload{
		Version:          ProtocolVersion,
		Nonce:            clientNonce,
		Timestamp:        time.Now().Unix(),
		Identity:         cred.Identity(),
		ALPN:             alpn,
		SessionPublicKey: priv.PublicKey().Bytes(),
	}
	clientSigned, err := sign(cred, clientPayload)
	if err != nil {
		return nil, RemoteIdentity{}, err
	}
	if err := writeSigned(rw, clientSigned); err != nil {
		return nil, RemoteIdentity{}, err
	}

	serverSigned, err := readSigned(rw)
	if err != nil {
		return nil, RemoteIdentity{}, err
	}
	serverPayload, err := verify(serverSigned)
	if err != nil {
		return nil, RemoteIdentity{}, err
	}
	if serverPayload.Version != ProtocolVersion {
		return nil, RemoteIdentity{}, ErrVersionMismatch
	}
	if len(serverPayload.Nonce) != nonceSize {
		return nil, RemoteIdentity{}, ErrInvalidLength
	}

	serverPub, err := parsePublicKey(serverPayload.SessionPublicKey)
	if err != nil {
		return nil, RemoteIdentity{}, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	shared, err := priv.ECDH(serverPub)
	if err != nil {
		return nil, RemoteIdentity{}, err
	}

	encryptKey, decryptKey, err := directionalKeys(shared, clientNonce, serverPayload.Nonce)
	if err != nil {
		return nil, RemoteIdentity{}, err
	}
	channel, err := newSecureChannel(rw, encryptKey, decryptKey, clientNonce, serverPayload.Nonce)
	if err != nil {
		return nil, RemoteIdentity{}, err
	}
	return channel, serverPayload.Identity, nil
}

// ServerHandshake performs the server side of the handshake over rw and,
// on success, returns a SecureChannel ready to exchange application
// records, along with the client's verified identity.
func ServerHandshake(rw io.ReadWriter, cred *credential.Credential) (*SecureChannel, RemoteIdentity, error) {
	clientSigned, err := readSigned(rw)
	if err != nil {
		return nil, RemoteIdentity{}, err
	}
	clientPayload, err := verify(clientSigned)
	if err != nil {
		return nil, RemoteIdentity{}, err
	}
	if clientPayload.Version != ProtocolVersion {
		return nil, RemoteIdentity{}, ErrVersionMismatch
	}
	if len(clientPayload.Nonce) != nonceSize {
		return nil, RemoteIdentity{}, ErrInvalidLength
	}

	clientPub, err := parsePublicKey(clientPayload.SessionPublicKey)
	if err != nil {
		return nil, RemoteIdentity{}, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	priv, err := generateEphemeralKeypair()
	if err != nil {
		return nil, RemoteIdentity{}, err
	}
	serverNonce, err := randomNonce()
	if err != nil {
		return nil, RemoteIdentity{}, err
	}
	serverPayload := initPayload{
		Version:          ProtocolVersion,
		Nonce:            serverNonce,
		Timestamp:        time.Now().Unix(),
		Identity:         cred.Identity(),
		ALPN:             clientPayload.ALPN,
		SessionPublicKey: priv.PublicKey().Bytes(),
	}
	serverSigned, err := sign(cred, serverPayload)
	if err != nil {
		return nil, RemoteIdentity{}, err
	}
	if err := writeSigned(rw, serverSigned); err != nil {
		return nil, RemoteIdentity{}, err
	}

	shared, err := priv.ECDH(clientPub)
	if err != nil {
		return nil, RemoteIdentity{}, err
	}
	decryptKey, encryptKey, err := directionalKeys(shared, clientPayload.Nonce, serverNonce)
	if err != nil {
		return nil, RemoteIdentity{}, err
	}
	channel, err := newSecureChannel(rw, encryptKey, decryptKey, serverNonce, clientPayload.Nonce)
	if err != nil {
		return nil, RemoteIdentity{}, err
	}
	return channel, clientPayload.Identity, nil
}
