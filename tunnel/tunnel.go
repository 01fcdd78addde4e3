// Package tunnel implements the client-side tunnel abstraction: a single
// secure channel carrying one outstanding request/response proxy
// exchange at a time, plus a Manager that owns a set of concurrently
// open tunnels keyed by an opaque identifier.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/floegence/rdsec/credential"
	"github.com/floegence/rdsec/fserrors"
	"github.com/floegence/rdsec/proxycodec"
	"github.com/floegence/rdsec/tunnelsec"
)

// maxResponseBytes bounds a single proxy response record, matching the
// 64 KiB buffer the reference tunnel reader used.
const maxResponseBytes = 64 * 1024

// ErrNotResponse is returned by ReceiveResponse when the peer's packet
// carries a request-only payload tag.
var ErrNotResponse = errors.New("tunnel: packet payload is not a response")

// Tunnel is one end-to-end encrypted proxy session. SendRequest and
// ReceiveResponse together form one logical round trip. Each call holds
// the tunnel's mutex for its whole duration, so concurrent callers queue
// rather than interleaving records on the wire; the mutex is not held
// across a SendRequest/ReceiveResponse pair, so another caller's call can
// run between the two.
type Tunnel struct {
	ID       string
	Protocol proxycodec.ProtocolType

	credential *credential.Credential
	peer       credential.Identity
	channel    *tunnelsec.SecureChannel
	transport  TunnelTransport

	mu        sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newTunnel(id string, protocol proxycodec.ProtocolType, cred *credential.Credential, peer credential.Identity, channel *tunnelsec.SecureChannel, transport TunnelTransport) *Tunnel {
	return &Tunnel{
		ID:         id,
		Protocol:   protocol,
		credential: cred,
		peer:       peer,
		channel:    channel,
		transport:  transport,
		closed:     make(chan struct{}),
	}
}

// PeerIdentity returns the identity the tunnel's peer proved during the
// handshake.
func (t *Tunnel) PeerIdentity() credential.Identity { return t.peer }

// SendRequest encodes req as a proxycodec Packet tagged with kind and
// writes it as one secure record.
func (t *Tunnel) SendRequest(kind proxycodec.Kind, req any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	packet, err := proxycodec.NewRequest(t.ID, kind, req)
	if err != nil {
		return fmt.Errorf("tunnel: encode request: %w", err)
	}
	data, err := proxycodec.Encode(packet)
	if err != nil {
		return fmt.Errorf("tunnel: encode packet: %w", err)
	}
	if err := t.channel.WriteRecord(data); err != nil {
		return fserrors.ClassifyChannel(fserrors.StageEncrypt, err)
	}
	return nil
}

// ReceiveResponse reads one secure record and decodes it as a proxycodec
// Packet, rejecting packets whose payload tag is not a response. Callers
// inspect the returned Kind and call proxycodec.DecodePayload for the
// concrete shape they expect.
func (t *Tunnel) ReceiveResponse() (proxycodec.Packet, proxycodec.Kind, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := t.channel.ReadRecord()
	if err != nil {
		return proxycodec.Packet{}, "", fserrors.ClassifyChannel(fserrors.StageDecrypt, err)
	}
	if len(record) > maxResponseBytes {
		return proxycodec.Packet{}, "", fmt.Errorf("tunnel: response exceeds %d bytes", maxResponseBytes)
	}
	packet, err := proxycodec.Decode(record)
	if err != nil {
		return proxycodec.Packet{}, "", err
	}
	kind, err := packet.Kind()
	if err != nil {
		return proxycodec.Packet{}, "", err
	}
	if !proxycodec.IsResponseKind(kind) {
		return proxycodec.Packet{}, "", fmt.Errorf("%w: %s", ErrNotResponse, kind)
	}
	return packet, kind, nil
}

// Close closes the tunnel's transport and marks it closed. Safe to call
// more than once.
func (t *Tunnel) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.transport.Close()
		close(t.closed)
	})
	return err
}

// Done reports when the tunnel has been closed.
func (t *Tunnel) Done() <-chan struct{} { return t.closed }

// Dialer opens a fresh transport for one tunnel. A concrete
// implementation typically wraps wstransport.Dial against a relay URL.
type Dialer interface {
	Dial(ctx context.Context) (TunnelTransport, error)
}

// TunnelTransport is the minimal surface a Manager needs from a freshly
// dialed connection: the read/write stream the handshake and secure
// channel run over, plus a way to close it.
type TunnelTransport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}
