package protocol

// Path is the websocket endpoint the driver connects to.
const Path = "/v1/ws"

// DebugPort is the well-known port used when an operator attaches the driver by hand.
const DebugPort = 5555

// Message kinds, in the order they appear on a session:
//
//	driver -> host  HANDSHAKE      TimeOptions (once)
//	host -> driver  HANDSHAKE_ACK  HandshakeAck (once)
//	driver -> host  STATE          State (every step)
//	host -> driver  OBS            Observation (every advanced step)
//
// Every message is a single msgpack array with a fixed field order (see codec.go).
const (
	TypeHandshake    = "HANDSHAKE"
	TypeHandshakeAck = "HANDSHAKE_ACK"
	TypeState        = "STATE"
	TypeObs          = "OBS"
)
