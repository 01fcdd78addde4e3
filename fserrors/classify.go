package fserrors

import (
	"context"
	"errors"

	"github.com/floegence/rdsec/streamadapter"
	"github.com/floegence/rdsec/tunnelsec"
	"github.com/floegence/rdsec/wire"
)

// ClassifyHandshake maps a tunnelsec handshake error to a structured
// fserrors.Error, preserving the original error as its cause.
func ClassifyHandshake(err error) error {
	if err == nil {
		return nil
	}
	return Wrap(PathHandshake, StageHandshake, classifyCode(err), err)
}

// ClassifyChannel maps a tunnelsec SecureChannel read/write error to a
// structured fserrors.Error.
func ClassifyChannel(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return Wrap(PathChannel, stage, classifyCode(err), err)
}

// classifyCode inspects err against every sentinel this module defines
// and returns the matching Code, or CodeUnknown if none match.
func classifyCode(err error) Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, tunnelsec.ErrVersionMismatch):
		return CodeVersionMismatch
	case errors.Is(err, tunnelsec.ErrBadIdentity):
		return CodeBadIdentity
	case errors.Is(err, tunnelsec.ErrBadSignature):
		return CodeBadSignature
	case errors.Is(err, tunnelsec.ErrInvalidLength):
		return CodeInvalidLength
	case errors.Is(err, tunnelsec.ErrDecodeFailed):
		return CodeDecodeFailed
	case errors.Is(err, tunnelsec.ErrDecryptFailed):
		return CodeDecryptFailed
	case errors.Is(err, tunnelsec.ErrNonceMismatch):
		return CodeNonceMismatch
	case errors.Is(err, tunnelsec.ErrNonceExhausted):
		return CodeNonceExhausted
	case errors.Is(err, tunnelsec.ErrFrameTooLarge), errors.Is(err, wire.ErrFrameTooLarge):
		return CodeFrameTooLarge
	case errors.Is(err, streamadapter.ErrClosed):
		return CodeClosed
	default:
		return CodeUnknown
	}
}
