package tunnel

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/floegence/rdsec/credential"
	"github.com/floegence/rdsec/fserrors"
	"github.com/floegence/rdsec/internal/contextutil"
	"github.com/floegence/rdsec/observability"
	"github.com/floegence/rdsec/proxycodec"
	"github.com/floegence/rdsec/tunnelsec"
)

// tunnelIDBytes is the number of random bytes hex-encoded into a tunnel
// ID, yielding a 32-character opaque identifier.
const tunnelIDBytes = 16

// defaultDialTimeout bounds Create's dial unless the caller's context
// carries an earlier deadline of its own.
const defaultDialTimeout = 15 * time.Second

// alpnForProtocol maps a proxycodec.ProtocolType to the ALPN string
// carried in the handshake's init payload.
func alpnForProtocol(p proxycodec.ProtocolType) string {
	switch p {
	case proxycodec.ProtocolHTTP:
		return "http"
	case proxycodec.ProtocolWebSocket:
		return "websocket"
	case proxycodec.ProtocolTCP:
		return "tcp"
	default:
		return string(p)
	}
}

// Manager owns a set of concurrently open tunnels, each dialed fresh
// against Dialer and handshaked independently. Tunnels are keyed by an
// opaque, randomly generated ID.
type Manager struct {
	dialer      Dialer
	credential  *credential.Credential
	observer    observability.TunnelObserver
	dialTimeout time.Duration

	mu      sync.Mutex
	tunnels map[string]*Tunnel
}

// NewManager creates a Manager that dials new tunnel transports via
// dialer and authenticates them with cred. obs may be nil, in which case
// metric events are discarded. Dial calls are bounded by
// defaultDialTimeout unless overridden with SetDialTimeout.
func NewManager(dialer Dialer, cred *credential.Credential, obs observability.TunnelObserver) *Manager {
	if obs == nil {
		obs = observability.NoopTunnelObserver
	}
	return &Manager{
		dialer:      dialer,
		credential:  cred,
		observer:    obs,
		dialTimeout: defaultDialTimeout,
		tunnels:     make(map[string]*Tunnel),
	}
}

// SetDialTimeout overrides the duration Create allows Dialer.Dial to run
// before giving up, if the caller-supplied context has no earlier
// deadline of its own. A non-positive d disables this bound entirely,
// leaving the caller's context as the only limit.
func (m *Manager) SetDialTimeout(d time.Duration) {
	m.dialTimeout = d
}

// Create dials a fresh transport, performs the client handshake over it,
// and registers the resulting Tunnel under a newly generated ID.
func (m *Manager) Create(ctx context.Context, protocol proxycodec.ProtocolType) (*Tunnel, error) {
	start := time.Now()

	dialCtx, cancel := contextutil.WithTimeout(ctx, m.dialTimeout)
	defer cancel()

	transport, err := m.dialer.Dial(dialCtx)
	if err != nil {
		m.observer.Handshake(observability.HandshakeTransportError, time.Since(start))
		return nil, fserrors.Wrap(fserrors.PathTransport, fserrors.StageDial, fserrors.CodeDialFailed, err)
	}

	channel, peer, err := tunnelsec.ClientHandshake(transport, m.credential, alpnForProtocol(protocol))
	if err != nil {
		_ = transport.Close()
		m.observer.Handshake(classifyHandshakeResult(err), time.Since(start))
		return nil, fserrors.ClassifyHandshake(err)
	}
	m.observer.Handshake(observability.HandshakeOK, time.Since(start))
	channel.SetObserver(m.observer)

	id, err := generateTunnelID()
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("tunnel: generate id: %w", err)
	}

	t := newTunnel(id, protocol, m.credential, peer, channel, transport)

	m.mu.Lock()
	m.tunnels[id] = t
	count := len(m.tunnels)
	m.mu.Unlock()
	m.observer.TunnelCount(count)

	return t, nil
}

func classifyHandshakeResult(err error) observability.HandshakeResult {
	switch {
	case errors.Is(err, tunnelsec.ErrVersionMismatch):
		return observability.HandshakeVersionMismatch
	case errors.Is(err, tunnelsec.ErrBadIdentity):
		return observability.HandshakeBadIdentity
	case errors.Is(err, tunnelsec.ErrBadSignature):
		return observability.HandshakeBadSignature
	case errors.Is(err, tunnelsec.ErrDecodeFailed):
		return observability.HandshakeDecodeFailed
	default:
		return observability.HandshakeTransportError
	}
}

// Get returns the tunnel registered under id, if any.
func (m *Manager) Get(id string) (*Tunnel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tunnels[id]
	return t, ok
}

// Remove unregisters the tunnel with id without closing it. Callers that
// want the transport closed too should call Tunnel.Close themselves, or
// use CloseAll/CloseOne.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.tunnels, id)
	count := len(m.tunnels)
	m.mu.Unlock()
	m.observer.TunnelCount(count)
}

// CloseOne closes and unregisters the tunnel with id.
func (m *Manager) CloseOne(id string) error {
	m.mu.Lock()
	t, ok := m.tunnels[id]
	delete(m.tunnels, id)
	count := len(m.tunnels)
	m.mu.Unlock()
	m.observer.TunnelCount(count)
	if !ok {
		return nil
	}
	m.observer.Close(observability.CloseReasonLocal)
	return t.Close()
}

// ActiveIDs returns the IDs of all currently registered tunnels.
func (m *Manager) ActiveIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.tunnels))
	for id := range m.tunnels {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll closes every registered tunnel and empties the registry.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	tunnels := m.tunnels
	m.tunnels = make(map[string]*Tunnel)
	m.mu.Unlock()
	m.observer.TunnelCount(0)

	for _, t := range tunnels {
		m.observer.Close(observability.CloseReasonLocal)
		_ = t.Close()
	}
}

func generateTunnelID() (string, error) {
	b := make([]byte, tunnelIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
