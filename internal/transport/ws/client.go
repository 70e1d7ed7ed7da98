package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"simuser.ai/internal/protocol"
)

// Client is the driver end of the bridge.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration
}

// Dial connects to a host channel. timeout bounds each reply the client
// waits for; zero means no bound.
func Dial(ctx context.Context, url string, timeout time.Duration) (*Client, error) {
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, protocol.NewError(protocol.ErrCodeConnection, "dial "+url, err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Handshake sends the time options and returns the host's acknowledgement.
func (c *Client) Handshake(opts protocol.TimeOptions) (protocol.HandshakeAck, error) {
	b, err := protocol.EncodeHandshake(opts)
	if err != nil {
		return protocol.HandshakeAck{}, err
	}
	reply, err := c.roundTrip("handshake", b, protocol.ErrCodeHandshakeTimeout)
	if err != nil {
		return protocol.HandshakeAck{}, err
	}
	ack, err := protocol.DecodeHandshakeAck(reply)
	if err != nil {
		return protocol.HandshakeAck{}, err
	}
	if !ack.Accepted {
		return ack, protocol.Errorf(protocol.ErrCodeProtocol, "handshake", "host rejected time options %s", opts)
	}
	return ack, nil
}

// Step sends one state and waits for the matching observation.
func (c *Client) Step(s protocol.State) (protocol.Observation, error) {
	b, err := protocol.EncodeState(s)
	if err != nil {
		return protocol.Observation{}, err
	}
	reply, err := c.roundTrip("step", b, protocol.ErrCodeStepTimeout)
	if err != nil {
		return protocol.Observation{}, err
	}
	return protocol.DecodeObservation(reply)
}

func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *Client) roundTrip(op string, b []byte, timeoutCode string) ([]byte, error) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return nil, protocol.NewError(protocol.ErrCodeSend, op, err)
	}
	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	_ = c.conn.SetReadDeadline(deadline)
	typ, msg, err := c.conn.ReadMessage()
	if err != nil {
		return nil, classifyRead(err, timeoutCode, op)
	}
	if typ != websocket.BinaryMessage {
		return nil, classifyRead(errNotBinary, timeoutCode, op)
	}
	return msg, nil
}

// IsClosed reports whether err means the host went away.
func IsClosed(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) || errors.Is(err, protocol.ErrConnection)
}
