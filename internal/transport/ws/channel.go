// Package ws carries the host/driver protocol over a single WebSocket
// connection. The host side is Channel; the driver side is Client.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"simuser.ai/internal/protocol"
)

const writeTimeout = 5 * time.Second

// TimeoutsForPort returns the step and handshake timeouts for a listen port.
// The debug port gets long timeouts so a developer can step through the driver.
func TimeoutsForPort(port int) (step, handshake time.Duration) {
	if port == protocol.DebugPort {
		return 600 * time.Second, 600 * time.Second
	}
	return 60 * time.Second, 300 * time.Second
}

type Options struct {
	Host string
	Port int
	// Zero timeouts are filled in from TimeoutsForPort.
	StepTimeout      time.Duration
	HandshakeTimeout time.Duration
}

func (o Options) withDefaults() Options {
	step, hs := TimeoutsForPort(o.Port)
	if o.StepTimeout <= 0 {
		o.StepTimeout = step
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = hs
	}
	return o
}

// Channel is the host end of the bridge. Exactly one driver connection is
// served; Receive and Send must alternate, starting with Receive.
type Channel struct {
	opts Options
	log  *log.Logger

	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader
	accepted chan *websocket.Conn
	taken    atomic.Bool
	stop     func() bool
	done     chan struct{}

	mu          sync.Mutex // guards conn against Close
	conn        *websocket.Conn
	outstanding bool

	closeOnce sync.Once
	closeErr  error
}

// Open binds the listener and starts accepting the driver connection in the
// background. Cancelling ctx closes the channel.
func Open(ctx context.Context, opts Options, logger *log.Logger) (*Channel, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, protocol.NewError(protocol.ErrCodeConnection, "listen "+addr, err)
	}

	c := &Channel{
		opts: opts,
		log:  logger,
		ln:   ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		accepted: make(chan *websocket.Conn, 1),
		done:     make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(protocol.Path, c.handle)
	c.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := c.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("serve: %v", err)
		}
	}()
	c.stop = context.AfterFunc(ctx, func() { _ = c.Close() })

	logger.Printf("listening on ws://%s%s (step timeout %s, handshake timeout %s)",
		ln.Addr(), protocol.Path, opts.StepTimeout, opts.HandshakeTimeout)
	return c, nil
}

// Addr is the bound listen address.
func (c *Channel) Addr() net.Addr { return c.ln.Addr() }

// URL is the address a driver dials.
func (c *Channel) URL() string { return "ws://" + c.ln.Addr().String() + protocol.Path }

func (c *Channel) Options() Options { return c.opts }

func (c *Channel) handle(rw http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	if !c.taken.CompareAndSwap(false, true) {
		c.log.Printf("rejecting extra driver connection from %s", r.RemoteAddr)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "driver already connected"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	c.log.Printf("driver connected from %s", r.RemoteAddr)
	c.accepted <- conn
}

// WaitForHandshake blocks until the driver has connected and sent its time
// options, then acknowledges them. Both waits share the handshake timeout.
func (c *Channel) WaitForHandshake() (protocol.TimeOptions, error) {
	const op = "handshake"
	if c.conn != nil {
		return protocol.TimeOptions{}, protocol.Errorf(protocol.ErrCodeProtocol, op, "handshake already completed")
	}
	deadline := time.Now().Add(c.opts.HandshakeTimeout)
	timer := time.NewTimer(c.opts.HandshakeTimeout)
	defer timer.Stop()

	select {
	case conn := <-c.accepted:
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
	case <-c.done:
		return protocol.TimeOptions{}, protocol.Errorf(protocol.ErrCodeConnection, op, "channel closed")
	case <-timer.C:
		return protocol.TimeOptions{}, protocol.Errorf(protocol.ErrCodeHandshakeTimeout, op,
			"no driver connected within %s", c.opts.HandshakeTimeout)
	}

	_ = c.conn.SetReadDeadline(deadline)
	msg, err := c.read()
	if err != nil {
		return protocol.TimeOptions{}, classifyRead(err, protocol.ErrCodeHandshakeTimeout, op)
	}
	opts, err := protocol.DecodeHandshake(msg)
	if err != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HANDSHAKE"),
			time.Now().Add(time.Second))
		return protocol.TimeOptions{}, err
	}

	ack, err := protocol.EncodeHandshakeAck(protocol.HandshakeAck{
		Accepted:        true,
		EffectiveDelta:  opts.EffectiveDelta(),
		TargetFrameRate: opts.TargetFrameRate(),
	})
	if err != nil {
		return protocol.TimeOptions{}, err
	}
	if err := c.write(ack); err != nil {
		return protocol.TimeOptions{}, protocol.NewError(protocol.ErrCodeSend, op, err)
	}
	c.log.Printf("handshake: %s", opts)
	return opts, nil
}

// Receive blocks for the next state request, bounded by the step timeout.
func (c *Channel) Receive() (protocol.State, error) {
	const op = "receive"
	if c.conn == nil {
		return protocol.State{}, protocol.Errorf(protocol.ErrCodeProtocol, op, "receive before handshake")
	}
	if c.outstanding {
		return protocol.State{}, protocol.Errorf(protocol.ErrCodeProtocol, op, "previous request has not been answered")
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.StepTimeout))
	msg, err := c.read()
	if err != nil {
		return protocol.State{}, classifyRead(err, protocol.ErrCodeStepTimeout, op)
	}
	s, err := protocol.DecodeState(msg)
	if err != nil {
		return protocol.State{}, err
	}
	c.outstanding = true
	return s, nil
}

// Send answers the outstanding request with one encoded observation.
func (c *Channel) Send(b []byte) error {
	const op = "send"
	if !c.outstanding {
		return protocol.Errorf(protocol.ErrCodeProtocol, op, "no outstanding request")
	}
	if err := c.write(b); err != nil {
		return protocol.NewError(protocol.ErrCodeSend, op, err)
	}
	c.outstanding = false
	return nil
}

// Close releases the connection and the listener. It is safe to call more
// than once and from any goroutine.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		if c.stop != nil {
			c.stop()
		}
		c.taken.Store(true)
		close(c.done)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		c.closeErr = c.srv.Shutdown(ctx)
		select {
		case conn := <-c.accepted:
			_ = conn.Close()
		default:
		}
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "host closing"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}
	})
	return c.closeErr
}

func (c *Channel) read() ([]byte, error) {
	typ, msg, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if typ != websocket.BinaryMessage {
		return nil, errNotBinary
	}
	return msg, nil
}

func (c *Channel) write(b []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

var errNotBinary = errors.New("expected a binary message")

// classifyRead maps a websocket read failure onto the protocol error kinds.
func classifyRead(err error, timeoutCode, op string) error {
	if errors.Is(err, errNotBinary) {
		return protocol.NewError(protocol.ErrCodeProtocol, op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return protocol.NewError(timeoutCode, op, err)
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return protocol.NewError(protocol.ErrCodeConnection, op, fmt.Errorf("driver disconnected: %w", err))
	}
	return protocol.NewError(protocol.ErrCodeConnection, op, err)
}
