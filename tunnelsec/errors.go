package tunnelsec

import "errors"

// Sentinel errors for the handshake and secure channel. These are the
// values fserrors.Classify* switch on with errors.Is.
var (
	// ErrVersionMismatch is returned when a peer's handshake version is not ProtocolVersion.
	ErrVersionMismatch = errors.New("tunnelsec: protocol version mismatch")
	// ErrBadIdentity is returned when an identity is missing or its key has the wrong length.
	ErrBadIdentity = errors.New("tunnelsec: bad identity")
	// ErrBadSignature is returned when a handshake signature fails strict verification.
	ErrBadSignature = errors.New("tunnelsec: bad signature")
	// ErrInvalidLength is returned when a length-sensitive field (nonce, key) has the wrong size.
	ErrInvalidLength = errors.New("tunnelsec: invalid length")
	// ErrDecodeFailed is returned when a handshake payload fails to decode.
	ErrDecodeFailed = errors.New("tunnelsec: decode failed")
	// ErrDecryptFailed is returned when AEAD decryption (tag check) fails.
	ErrDecryptFailed = errors.New("tunnelsec: decrypt failed")
	// ErrNonceMismatch is returned when an incoming frame's nonce does not equal
	// the local decrypt counter; the channel is no longer trustworthy.
	ErrNonceMismatch = errors.New("tunnelsec: nonce mismatch")
	// ErrNonceExhausted is returned instead of silently wrapping the nonce
	// counter back to zero once every byte has reached 0xFF.
	ErrNonceExhausted = errors.New("tunnelsec: nonce counter exhausted")
	// ErrFrameTooLarge is returned when a frame's length exceeds the codec bound.
	ErrFrameTooLarge = errors.New("tunnelsec: frame too large")
)
