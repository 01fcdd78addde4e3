// Command rdsec-tunnel opens a single end-to-end encrypted tunnel against
// a relay, exchanges one proxied HTTP request, and prints the response.
// It exists as a minimal, CLI-driven exercise of the full stack: dial,
// handshake, tunnel creation, and one request/response round trip.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/floegence/rdsec/credential"
	"github.com/floegence/rdsec/observability"
	"github.com/floegence/rdsec/observability/prom"
	"github.com/floegence/rdsec/proxycodec"
	"github.com/floegence/rdsec/tunnel"
	"github.com/floegence/rdsec/wstransport"
)

// wsDialer adapts wstransport.Dial to tunnel.Dialer for a single,
// fixed relay URL.
type wsDialer struct {
	url string
}

func (d wsDialer) Dial(ctx context.Context) (tunnel.TunnelTransport, error) {
	return wstransport.Dial(ctx, websocket.DefaultDialer, d.url, nil)
}

func main() {
	var relayURL string
	var method string
	var targetURL string
	var metricsAddr string
	var timeout time.Duration
	flag.StringVar(&relayURL, "relay-url", "ws://127.0.0.1:9001/ws", "relay websocket URL")
	flag.StringVar(&method, "method", "GET", "HTTP method to proxy")
	flag.StringVar(&targetURL, "target-url", "https://example.com", "URL the relay should fetch")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "overall request timeout")
	flag.Parse()

	cred, err := credential.New()
	if err != nil {
		log.Fatalf("generate credential: %v", err)
	}

	observer := observability.NewAtomicTunnelObserver()
	if metricsAddr != "" {
		reg := prom.NewRegistry()
		observer.Set(prom.NewTunnelObserver(reg))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", prom.Handler(reg))
			log.Printf("metrics listening on %s", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	manager := tunnel.NewManager(wsDialer{url: relayURL}, cred, observer)
	defer manager.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	tun, err := manager.Create(ctx, proxycodec.ProtocolHTTP)
	if err != nil {
		log.Fatalf("create tunnel: %v", err)
	}
	defer tun.Close()
	log.Printf("tunnel %s established with peer %s", tun.ID, tun.PeerIdentity().ID)

	req := proxycodec.HTTPRequest{Method: method, URL: targetURL, Headers: map[string]string{}}
	if err := tun.SendRequest(proxycodec.KindHTTP, req); err != nil {
		log.Fatalf("send request: %v", err)
	}

	packet, kind, err := tun.ReceiveResponse()
	if err != nil {
		log.Fatalf("receive response: %v", err)
	}
	if kind == proxycodec.KindError {
		var errPayload proxycodec.ErrorPayload
		if err := proxycodec.DecodePayload(packet, &errPayload); err != nil {
			log.Fatalf("decode error payload: %v", err)
		}
		log.Fatalf("relay reported error: %s", errPayload.Error)
	}

	var resp proxycodec.HTTPResponse
	if err := proxycodec.DecodePayload(packet, &resp); err != nil {
		log.Fatalf("decode response: %v", err)
	}
	log.Printf("status=%d %s body_len=%d", resp.Status, resp.StatusText, len(resp.Body))
}
