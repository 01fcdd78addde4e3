package tunnelsec

import (
	"bytes"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/floegence/rdsec/observability"
	"github.com/floegence/rdsec/wire"
)

// SecureChannel is an authenticated, encrypted, ordered message-oriented
// channel over an underlying io.ReadWriter (typically a streamadapter
// over a WebSocket). Each Read/Write call maps to exactly one AEAD record
// framed with wire.WriteFrame/ReadFrame.
//
// Write and Read each hold their own nonce counter and their own mutex;
// concurrent writers (or concurrent readers) serialize against each other,
// but a reader never blocks a writer or vice versa.
type SecureChannel struct {
	rw io.ReadWriter

	encryptAEAD chaCha
	decryptAEAD chaCha
	writeNonce  []byte
	readNonce   []byte
	writeMu     sync.Mutex
	readMu      sync.Mutex

	observer observability.TunnelObserver
}

// SetObserver attaches a metrics observer; nil restores the no-op observer.
func (c *SecureChannel) SetObserver(obs observability.TunnelObserver) {
	if obs == nil {
		obs = observability.NoopTunnelObserver
	}
	c.observer = obs
}

// chaCha is the subset of cipher.AEAD this package depends on, named to
// keep the field type readable at the call site.
type chaCha interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// newSecureChannel builds a channel whose write counter starts at
// initialWriteNonce and whose read counter starts at initialReadNonce — the
// two handshake nonces, assigned per direction by the caller (ClientHandshake
// passes its own nonce as the write seed and the peer's as the read seed;
// ServerHandshake does the reverse). Both counters are incremented before
// their first use, so the first write carries initialWriteNonce+1, and the
// first accepted read expects that same incremented value on the wire —
// the peer's write and this side's read counter advance in lockstep.
func newSecureChannel(rw io.ReadWriter, encryptKey, decryptKey, initialWriteNonce, initialReadNonce []byte) (*SecureChannel, error) {
	enc, err := chacha20poly1305.New(encryptKey)
	if err != nil {
		return nil, err
	}
	dec, err := chacha20poly1305.New(decryptKey)
	if err != nil {
		return nil, err
	}
	return &SecureChannel{
		rw:          rw,
		encryptAEAD: enc,
		decryptAEAD: dec,
		writeNonce:  append([]byte(nil), initialWriteNonce...),
		readNonce:   append([]byte(nil), initialReadNonce...),
		observer:    observability.NoopTunnelObserver,
	}, nil
}

// WriteRecord encrypts and frames a single application record. The nonce
// counter is incremented before sealing and only ever moves forward, so a
// failed underlying write still consumes its nonce and a later call never
// reuses it. A failed write does not mark the channel closed: further
// WriteRecord calls are not refused, even if the failed frame was partially
// written.
func (c *SecureChannel) WriteRecord(plaintext []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := incrementNonce(c.writeNonce); err != nil {
		return err
	}
	ciphertext := c.encryptAEAD.Seal(nil, c.writeNonce, plaintext, nil)
	frame := make([]byte, 0, nonceSize+len(ciphertext))
	frame = append(frame, c.writeNonce...)
	frame = append(frame, ciphertext...)
	if err := wire.WriteFrame(c.rw, frame); err != nil {
		if err == wire.ErrFrameTooLarge {
			return ErrFrameTooLarge
		}
		return err
	}
	c.observer.RecordEncrypted()
	return nil
}

// ReadRecord reads, authenticates and decrypts a single application record.
// The frame's embedded nonce must exactly equal the local expected counter;
// any mismatch (replay, reorder, drop, corruption) is a hard failure and
// the channel must be discarded by the caller.
func (c *SecureChannel) ReadRecord() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	frame, err := wire.ReadFrame(c.rw)
	if err != nil {
		if err == wire.ErrFrameTooLarge {
			return nil, ErrFrameTooLarge
		}
		return nil, err
	}
	if len(frame) < nonceSize+tagSize {
		return nil, ErrInvalidLength
	}
	gotNonce := frame[:nonceSize]
	ciphertext := frame[nonceSize:]

	if err := incrementNonce(c.readNonce); err != nil {
		return nil, err
	}
	if !bytes.Equal(gotNonce, c.readNonce) {
		return nil, ErrNonceMismatch
	}
	plaintext, err := c.decryptAEAD.Open(nil, c.readNonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	c.observer.RecordDecrypted()
	return plaintext, nil
}

// Read implements io.Reader over the record stream: each call reads exactly
// one decrypted record from the transport and copies as much of it as fits
// into p. The channel is message-oriented, not byte-stream-oriented — if p
// is smaller than the record, the excess plaintext is discarded and is not
// returned on a subsequent call. Callers that need the whole message must
// size p conservatively (see ReadRecord for a size-preserving alternative).
func (c *SecureChannel) Read(p []byte) (int, error) {
	record, err := c.ReadRecord()
	if err != nil {
		return 0, err
	}
	return copy(p, record), nil
}

// Write implements io.Writer by sealing the entire buffer as one record.
// Callers that need smaller records should call WriteRecord directly.
func (c *SecureChannel) Write(p []byte) (int, error) {
	if err := c.WriteRecord(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
