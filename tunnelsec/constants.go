package tunnelsec

// ProtocolVersion is the only handshake version this implementation speaks.
const ProtocolVersion = 1

const (
	nonceSize = 12
	keySize   = 32
	tagSize   = 16
)

// HKDF info strings bound into directional key derivation. These are
// literal ASCII, 16 bytes each, per the wire contract.
var (
	clientKeyInfo = []byte("RDSEC_KEY_CLIENT")
	serverKeyInfo = []byte("RDSEC_KEY_SERVER")
)
