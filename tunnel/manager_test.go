package tunnel

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/floegence/rdsec/credential"
	"github.com/floegence/rdsec/proxycodec"
	"github.com/floegence/rdsec/tunnelsec"
)

// pipeDialer hands out one side of a net.Pipe per Dial call and drives a
// server handshake plus a canned response on the other side, standing in
// for a real relay connection in tests.
type pipeDialer struct {
	serverCred *credential.Credential
	onServer   func(serverConn net.Conn, channel *tunnelsec.SecureChannel)
}

func (d *pipeDialer) Dial(ctx context.Context) (TunnelTransport, error) {
	clientConn, serverConn := net.Pipe()
	go func() {
		channel, _, err := tunnelsec.ServerHandshake(serverConn, d.serverCred)
		if err != nil {
			serverConn.Close()
			return
		}
		if d.onServer != nil {
			d.onServer(serverConn, channel)
		}
	}()
	return clientConn, nil
}

func TestManagerCreateRegistersTunnel(t *testing.T) {
	serverCred, _ := credential.New()
	clientCred, _ := credential.New()
	dialer := &pipeDialer{serverCred: serverCred}
	m := NewManager(dialer, clientCred, nil)

	tun, err := m.Create(context.Background(), proxycodec.ProtocolHTTP)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(tun.ID) != 32 {
		t.Fatalf("tunnel id length = %d, want 32", len(tun.ID))
	}
	if tun.PeerIdentity().ID != serverCred.Identity().ID {
		t.Fatalf("tunnel learned wrong peer identity")
	}
	got, ok := m.Get(tun.ID)
	if !ok || got != tun {
		t.Fatalf("Get did not return the created tunnel")
	}
	ids := m.ActiveIDs()
	if len(ids) != 1 || ids[0] != tun.ID {
		t.Fatalf("ActiveIDs = %v", ids)
	}
}

func TestManagerTwoTunnelsHaveDistinctIDs(t *testing.T) {
	serverCred, _ := credential.New()
	clientCred, _ := credential.New()
	dialer := &pipeDialer{serverCred: serverCred}
	m := NewManager(dialer, clientCred, nil)

	a, err := m.Create(context.Background(), proxycodec.ProtocolHTTP)
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	b, err := m.Create(context.Background(), proxycodec.ProtocolTCP)
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("expected distinct tunnel ids")
	}
	if len(m.ActiveIDs()) != 2 {
		t.Fatalf("expected 2 active tunnels, got %d", len(m.ActiveIDs()))
	}
}

func TestManagerCloseOneRemovesAndCloses(t *testing.T) {
	serverCred, _ := credential.New()
	clientCred, _ := credential.New()
	dialer := &pipeDialer{serverCred: serverCred}
	m := NewManager(dialer, clientCred, nil)

	tun, err := m.Create(context.Background(), proxycodec.ProtocolHTTP)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.CloseOne(tun.ID); err != nil {
		t.Fatalf("CloseOne: %v", err)
	}
	if _, ok := m.Get(tun.ID); ok {
		t.Fatalf("tunnel still registered after CloseOne")
	}
	select {
	case <-tun.Done():
	default:
		t.Fatalf("tunnel not marked done after CloseOne")
	}
}

func TestManagerCloseAll(t *testing.T) {
	serverCred, _ := credential.New()
	clientCred, _ := credential.New()
	dialer := &pipeDialer{serverCred: serverCred}
	m := NewManager(dialer, clientCred, nil)

	for i := 0; i < 3; i++ {
		if _, err := m.Create(context.Background(), proxycodec.ProtocolHTTP); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	m.CloseAll()
	if len(m.ActiveIDs()) != 0 {
		t.Fatalf("expected no active tunnels after CloseAll")
	}
}

func TestTunnelSendRequestReceiveResponse(t *testing.T) {
	serverCred, _ := credential.New()
	clientCred, _ := credential.New()

	responded := make(chan struct{})
	dialer := &pipeDialer{
		serverCred: serverCred,
		onServer: func(serverConn net.Conn, channel *tunnelsec.SecureChannel) {
			record, err := channel.ReadRecord()
			if err != nil {
				return
			}
			packet, err := proxycodec.Decode(record)
			if err != nil {
				return
			}
			var req proxycodec.HTTPRequest
			if err := proxycodec.DecodePayload(packet, &req); err != nil {
				return
			}
			resp := proxycodec.HTTPResponse{Status: 200, StatusText: "OK", Headers: map[string]string{}, Body: []byte("ok")}
			respPacket, err := proxycodec.NewResponse(packet.ID, proxycodec.KindHTTP, resp)
			if err != nil {
				return
			}
			data, err := proxycodec.Encode(respPacket)
			if err != nil {
				return
			}
			channel.WriteRecord(data)
			close(responded)
		},
	}
	m := NewManager(dialer, clientCred, nil)

	tun, err := m.Create(context.Background(), proxycodec.ProtocolHTTP)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := proxycodec.HTTPRequest{Method: "GET", URL: "https://example.com", Headers: map[string]string{}}
	if err := tun.SendRequest(proxycodec.KindHTTP, req); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	packet, kind, err := tun.ReceiveResponse()
	if err != nil {
		t.Fatalf("ReceiveResponse: %v", err)
	}
	<-responded

	if kind != proxycodec.KindHTTP {
		t.Fatalf("kind = %q, want %q", kind, proxycodec.KindHTTP)
	}
	var resp proxycodec.HTTPResponse
	if err := proxycodec.DecodePayload(packet, &resp); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if resp.Status != 200 || string(resp.Body) != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestTunnelRejectsRequestKindFromPeer(t *testing.T) {
	serverCred, _ := credential.New()
	clientCred, _ := credential.New()

	dialer := &pipeDialer{
		serverCred: serverCred,
		onServer: func(serverConn net.Conn, channel *tunnelsec.SecureChannel) {
			packet, err := proxycodec.NewRequest("bogus", proxycodec.KindWSOpen, proxycodec.WSOpen{URL: "wss://example.com"})
			if err != nil {
				return
			}
			data, err := proxycodec.Encode(packet)
			if err != nil {
				return
			}
			channel.WriteRecord(data)
		},
	}
	m := NewManager(dialer, clientCred, nil)

	tun, err := m.Create(context.Background(), proxycodec.ProtocolWebSocket)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, _, err = tun.ReceiveResponse()
	if !errors.Is(err, ErrNotResponse) {
		t.Fatalf("err = %v, want ErrNotResponse", err)
	}
}
