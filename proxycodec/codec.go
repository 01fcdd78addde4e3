// Package proxycodec implements the application-level envelope carried
// over a tunnelsec.SecureChannel once a tunnel is established: a small
// JSON request/response protocol for proxying HTTP, WebSocket and TCP
// traffic through the tunnel. It has no knowledge of encryption or
// framing — it only encodes and decodes the bytes a Tunnel hands it.
package proxycodec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/floegence/rdsec/internal/base64url"
)

// ProtocolVersion is the only proxy envelope version this package speaks.
const ProtocolVersion = 1

// ProtocolType names the kind of traffic a tunnel carries.
type ProtocolType string

const (
	ProtocolHTTP      ProtocolType = "http"
	ProtocolWebSocket ProtocolType = "websocket"
	ProtocolTCP       ProtocolType = "tcp"
)

// Kind discriminates the payload variants, carried as the payload
// object's "type" field on the wire. Requests and responses share one
// tag namespace: "http", "ws_message" and "tcp_data" appear in both
// directions and are disambiguated by which side sent the packet.
type Kind string

const (
	KindHTTP       Kind = "http"
	KindWSOpen     Kind = "ws_open"
	KindWSMessage  Kind = "ws_message"
	KindWSClose    Kind = "ws_close"
	KindTCPConnect Kind = "tcp_connect"
	KindTCPData    Kind = "tcp_data"
	KindTCPClose   Kind = "tcp_close"

	KindWSOpened     Kind = "ws_opened"
	KindWSClosed     Kind = "ws_closed"
	KindTCPConnected Kind = "tcp_connected"
	KindTCPClosed    Kind = "tcp_closed"
	KindError        Kind = "error"
)

// IsResponseKind reports whether k is a tag the relay may send back to
// the client. The shared tags ("http", "ws_message", "tcp_data") count
// as responses here, since on the receiving side of a tunnel they can
// only be the relay's half of the exchange.
func IsResponseKind(k Kind) bool {
	switch k {
	case KindHTTP, KindWSOpened, KindWSMessage, KindWSClosed,
		KindTCPConnected, KindTCPData, KindTCPClosed, KindError:
		return true
	}
	return false
}

// WSData is a WebSocket frame payload, carrying either text or binary
// content; exactly one of Text/Binary is meaningful, selected by DataType.
// It marshals to {"data_type":"text","content":"..."} or
// {"data_type":"binary","content":"<base64url>"}, never both content
// shapes in the same object. Binary content uses unpadded base64url
// rather than encoding/json's default padded base64, so a packet can be
// embedded in a URL or header without re-encoding.
type WSData struct {
	DataType string
	Text     string
	Binary   []byte
}

func TextData(s string) WSData   { return WSData{DataType: "text", Text: s} }
func BinaryData(b []byte) WSData { return WSData{DataType: "binary", Binary: b} }

func (d WSData) MarshalJSON() ([]byte, error) {
	switch d.DataType {
	case "text":
		return json.Marshal(struct {
			DataType string `json:"data_type"`
			Content  string `json:"content"`
		}{"text", d.Text})
	case "binary":
		return json.Marshal(struct {
			DataType string `json:"data_type"`
			Content  string `json:"content"`
		}{"binary", base64url.Encode(d.Binary)})
	default:
		return nil, fmt.Errorf("proxycodec: unknown ws data_type %q", d.DataType)
	}
}

func (d *WSData) UnmarshalJSON(data []byte) error {
	var probe struct {
		DataType string `json:"data_type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	switch probe.DataType {
	case "text":
		var v struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*d = WSData{DataType: "text", Text: v.Content}
	case "binary":
		var v struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		raw, err := base64url.Decode(v.Content)
		if err != nil {
			return fmt.Errorf("proxycodec: decode binary ws content: %w", err)
		}
		*d = WSData{DataType: "binary", Binary: raw}
	default:
		return fmt.Errorf("proxycodec: unknown ws data_type %q", probe.DataType)
	}
	return nil
}

// HTTPRequest is the request-direction KindHTTP payload.
type HTTPRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body,omitempty"`
}

// WSOpen is the KindWSOpen payload.
type WSOpen struct {
	URL       string   `json:"url"`
	Protocols []string `json:"protocols,omitempty"`
}

// WSMessage is the KindWSMessage payload, shared by request and response.
type WSMessage struct {
	TunnelID string `json:"tunnel_id"`
	Data     WSData `json:"data"`
}

// WSClose is the KindWSClose / KindWSClosed payload.
type WSClose struct {
	TunnelID string `json:"tunnel_id"`
	Code     uint16 `json:"code"`
	Reason   string `json:"reason"`
}

// TCPConnect is the KindTCPConnect payload.
type TCPConnect struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// TCPData is the KindTCPData payload, shared by request and response.
type TCPData struct {
	TunnelID string `json:"tunnel_id"`
	Data     []byte `json:"data"`
}

// TCPClose is the KindTCPClose / KindTCPClosed payload.
type TCPClose struct {
	TunnelID string `json:"tunnel_id"`
}

// HTTPResponse is the response-direction KindHTTP payload.
type HTTPResponse struct {
	Status     uint16            `json:"status"`
	StatusText string            `json:"status_text"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
}

// WSOpened is the KindWSOpened payload.
type WSOpened struct {
	TunnelID string  `json:"tunnel_id"`
	Protocol *string `json:"protocol,omitempty"`
}

// TCPConnected is the KindTCPConnected payload.
type TCPConnected struct {
	TunnelID string `json:"tunnel_id"`
}

// ErrorPayload is the KindError payload.
type ErrorPayload struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

// Packet is the wire envelope: an id correlating request and response, a
// protocol version, and a payload object whose "type" field selects the
// concrete variant.
type Packet struct {
	ID      string          `json:"id"`
	Version int             `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

// ErrNoPayloadTag is returned by Packet.Kind when the payload object
// carries no "type" field.
var ErrNoPayloadTag = errors.New("proxycodec: payload has no type tag")

// Kind extracts the payload's "type" tag without decoding the rest of
// the payload.
func (p Packet) Kind() (Kind, error) {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(p.Payload, &probe); err != nil {
		return "", fmt.Errorf("proxycodec: probe payload type: %w", err)
	}
	if probe.Type == "" {
		return "", ErrNoPayloadTag
	}
	return probe.Type, nil
}

// marshalTagged serializes body and injects the "type" tag into the
// resulting object, the way an internally tagged union lays out on the
// wire. body must marshal to a JSON object.
func marshalTagged(kind Kind, body any) (json.RawMessage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("proxycodec: payload for %s is not a JSON object: %w", kind, err)
	}
	tag, err := json.Marshal(kind)
	if err != nil {
		return nil, err
	}
	fields["type"] = tag
	return json.Marshal(fields)
}

// NewRequest builds a Packet whose payload is the JSON encoding of body
// tagged with kind.
func NewRequest(id string, kind Kind, body any) (Packet, error) {
	payload, err := marshalTagged(kind, body)
	if err != nil {
		return Packet{}, err
	}
	return Packet{ID: id, Version: ProtocolVersion, Payload: payload}, nil
}

// NewResponse builds a response Packet; it has the same shape as a
// request, distinguished only by which Kind values the caller uses.
func NewResponse(id string, kind Kind, body any) (Packet, error) {
	return NewRequest(id, kind, body)
}

// Encode serializes a Packet to its wire JSON form.
func Encode(p Packet) ([]byte, error) {
	return json.Marshal(p)
}

// Decode parses a wire JSON Packet without interpreting its payload; call
// Packet.Kind and DecodePayload to get at the concrete variant.
func Decode(data []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return Packet{}, fmt.Errorf("proxycodec: decode packet: %w", err)
	}
	return p, nil
}

// DecodePayload unmarshals p.Payload into out, which must be a pointer to
// the struct type associated with the payload's tag (e.g. *HTTPRequest
// or *HTTPResponse for KindHTTP, depending on direction). The "type"
// field itself is skipped, since none of the payload structs carry it.
func DecodePayload(p Packet, out any) error {
	if err := json.Unmarshal(p.Payload, out); err != nil {
		return fmt.Errorf("proxycodec: decode payload: %w", err)
	}
	return nil
}
