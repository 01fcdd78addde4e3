// Package wstransport drives a streamadapter.Adapter off a real
// gorilla/websocket connection: a background goroutine pumps inbound
// binary frames into the adapter, and outbound frames are sent directly
// through the connection. Cancellation is handled by the adapter, whose
// Read/Write block on the caller's context rather than on the socket.
package wstransport

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/floegence/rdsec/streamadapter"
)

// ErrUnexpectedTextMessage is returned when the peer sends a text frame;
// this transport only carries binary tunnel records.
var ErrUnexpectedTextMessage = errors.New("wstransport: unexpected text message")

// Conn is an io.ReadWriteCloser backed by a websocket connection, suitable
// as the rw passed to tunnelsec.ClientHandshake/ServerHandshake and to a
// SecureChannel afterward.
type Conn struct {
	ws      *websocket.Conn
	adapter *streamadapter.Adapter
	pumpErr chan error
}

// sender adapts *websocket.Conn to streamadapter.MessageSender. gorilla's
// Conn has no notion of a pending send queue, so BufferedAmount always
// reports zero: WriteMessage itself blocks until the frame is on the
// wire, which already provides the backpressure the adapter's watermark
// exists to approximate for callback-style transports.
type sender struct{ ws *websocket.Conn }

func (s sender) Send(data []byte) error {
	return s.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (s sender) BufferedAmount() int { return 0 }

// Dial connects to url and wraps the resulting connection. ctx bounds the
// dial only; the returned Conn's Read/Write are driven by ctx you pass to
// those calls.
func Dial(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header) (*Conn, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return newConn(ws), nil
}

// Upgrade wraps an already-upgraded server-side websocket connection.
func Upgrade(ws *websocket.Conn) *Conn {
	return newConn(ws)
}

func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:      ws,
		adapter: streamadapter.New(sender{ws: ws}, streamadapter.DefaultWriteBackpressureBytes),
		pumpErr: make(chan error, 1),
	}
	go c.pump()
	return c
}

// pump is the single goroutine allowed to call ws.ReadMessage; it is the
// adapter's event source, exactly mirroring the onmessage/onerror/onclose
// callbacks a browser transport would deliver.
func (c *Conn) pump() {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.adapter.OnClose()
			} else {
				c.adapter.OnError(err)
			}
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			c.adapter.OnMessage(data)
		case websocket.TextMessage:
			c.adapter.OnError(ErrUnexpectedTextMessage)
			return
		}
	}
}

// ReadContext blocks until at least one byte is available, ctx is done, or
// the connection closes.
func (c *Conn) ReadContext(ctx context.Context, p []byte) (int, error) {
	return c.adapter.Read(ctx, p)
}

// WriteContext sends p as one binary message, respecting ctx for
// cancellation while blocked on backpressure.
func (c *Conn) WriteContext(ctx context.Context, p []byte) (int, error) {
	return c.adapter.Write(ctx, p)
}

// Read implements io.Reader using a background context; prefer
// ReadContext where a deadline matters.
func (c *Conn) Read(p []byte) (int, error) { return c.ReadContext(context.Background(), p) }

// Write implements io.Writer using a background context; prefer
// WriteContext where a deadline matters.
func (c *Conn) Write(p []byte) (int, error) { return c.WriteContext(context.Background(), p) }

// Close closes the underlying websocket connection and the adapter.
func (c *Conn) Close() error {
	_ = c.adapter.Close()
	return c.ws.Close()
}

var _ io.ReadWriteCloser = (*Conn)(nil)
