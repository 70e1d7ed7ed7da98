package ws

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"simuser.ai/internal/mathx"
	"simuser.ai/internal/protocol"
)

func openTest(t *testing.T, step, handshake time.Duration) *Channel {
	t.Helper()
	ch, err := Open(context.Background(), Options{
		Host:             "127.0.0.1",
		Port:             0,
		StepTimeout:      step,
		HandshakeTimeout: handshake,
	}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func testState(next float64) protocol.State {
	return protocol.State{
		NextTimestep:            next,
		HeadsetPosition:         mathx.XYZ(0, 1.6, 0),
		HeadsetRotation:         mathx.QuatIdent(),
		LeftControllerRotation:  mathx.QuatIdent(),
		RightControllerRotation: mathx.QuatIdent(),
	}
}

func TestTimeoutsForPort(t *testing.T) {
	step, hs := TimeoutsForPort(protocol.DebugPort)
	if step != 600*time.Second || hs != 600*time.Second {
		t.Fatalf("debug port: step=%s handshake=%s", step, hs)
	}
	step, _ = TimeoutsForPort(8765)
	if step != 60*time.Second {
		t.Fatalf("default port: step=%s", step)
	}
}

func TestChannelHandshakeAndStep(t *testing.T) {
	ch := openTest(t, 5*time.Second, 5*time.Second)

	type result struct {
		ack protocol.HandshakeAck
		obs protocol.Observation
		err error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		defer func() { done <- r }()
		c, err := Dial(context.Background(), ch.URL(), 5*time.Second)
		if err != nil {
			r.err = err
			return
		}
		defer c.Close()
		if r.ack, r.err = c.Handshake(protocol.TimeOptions{TimeScale: 2, SampleFrequency: 30, Timestep: 0.01}); r.err != nil {
			return
		}
		r.obs, r.err = c.Step(testState(0.02))
	}()

	opts, err := ch.WaitForHandshake()
	if err != nil {
		t.Fatalf("WaitForHandshake: %v", err)
	}
	if opts.TargetFrameRate() != 60 || opts.EffectiveDelta() != 0.01 {
		t.Fatalf("options: %s", opts)
	}
	s, err := ch.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if s.NextTimestep != 0.02 {
		t.Fatalf("state: %+v", s)
	}
	obs, err := protocol.EncodeObservation(protocol.Observation{Reward: 1, Frame: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := ch.Send(obs); err != nil {
		t.Fatalf("Send: %v", err)
	}

	r := <-done
	if r.err != nil {
		t.Fatalf("driver: %v", r.err)
	}
	if !r.ack.Accepted || r.ack.TargetFrameRate != 60 || r.ack.EffectiveDelta != 0.01 {
		t.Fatalf("ack: %+v", r.ack)
	}
	if r.obs.Reward != 1 || len(r.obs.Frame) != 3 {
		t.Fatalf("obs: %+v", r.obs)
	}
}

func TestChannelHandshakeTimeout(t *testing.T) {
	ch := openTest(t, time.Second, 100*time.Millisecond)
	_, err := ch.WaitForHandshake()
	if !errors.Is(err, protocol.ErrHandshakeTimeout) {
		t.Fatalf("got %v want handshake timeout", err)
	}
}

func TestChannelStepTimeout(t *testing.T) {
	ch := openTest(t, 100*time.Millisecond, 5*time.Second)
	hs := make(chan error, 1)
	go func() {
		c, err := Dial(context.Background(), ch.URL(), 5*time.Second)
		if err != nil {
			hs <- err
			return
		}
		_, err = c.Handshake(protocol.TimeOptions{TimeScale: 1, SampleFrequency: 10, Timestep: 0.1})
		hs <- err
		// keep the connection open and silent until the host gives up
		time.Sleep(500 * time.Millisecond)
		_ = c.Close()
	}()
	if _, err := ch.WaitForHandshake(); err != nil {
		t.Fatalf("WaitForHandshake: %v", err)
	}
	if err := <-hs; err != nil {
		t.Fatalf("driver handshake: %v", err)
	}
	_, err := ch.Receive()
	if !errors.Is(err, protocol.ErrStepTimeout) {
		t.Fatalf("got %v want step timeout", err)
	}
}

func TestChannelRequestDiscipline(t *testing.T) {
	ch := openTest(t, time.Second, time.Second)
	if err := ch.Send([]byte{1}); !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("send without request: %v", err)
	}
	if _, err := ch.Receive(); !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("receive before handshake: %v", err)
	}
}

func TestChannelMalformedHandshake(t *testing.T) {
	ch := openTest(t, time.Second, 5*time.Second)
	go func() {
		conn, _, err := websocket.DefaultDialer.Dial(ch.URL(), nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0xc1})
		_, _, _ = conn.ReadMessage()
	}()
	_, err := ch.WaitForHandshake()
	if !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("got %v want protocol error", err)
	}
}

func TestChannelRejectsSecondDriver(t *testing.T) {
	ch := openTest(t, 5*time.Second, 5*time.Second)
	first := make(chan error, 1)
	go func() {
		c, err := Dial(context.Background(), ch.URL(), 5*time.Second)
		if err != nil {
			first <- err
			return
		}
		_, err = c.Handshake(protocol.TimeOptions{TimeScale: 1, SampleFrequency: 10, Timestep: 0.1})
		first <- err
	}()
	if _, err := ch.WaitForHandshake(); err != nil {
		t.Fatalf("WaitForHandshake: %v", err)
	}
	if err := <-first; err != nil {
		t.Fatalf("first driver: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(ch.URL(), nil)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("second driver: got %v want policy violation close", err)
	}
}

func TestChannelDriverDisconnect(t *testing.T) {
	ch := openTest(t, 5*time.Second, 5*time.Second)
	go func() {
		c, err := Dial(context.Background(), ch.URL(), 5*time.Second)
		if err != nil {
			return
		}
		if _, err := c.Handshake(protocol.TimeOptions{TimeScale: 1, SampleFrequency: 10, Timestep: 0.1}); err != nil {
			return
		}
		_ = c.Close()
	}()
	if _, err := ch.WaitForHandshake(); err != nil {
		t.Fatalf("WaitForHandshake: %v", err)
	}
	_, err := ch.Receive()
	if !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("got %v want connection error", err)
	}
}

func TestChannelCloseIdempotentAndCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := Open(ctx, Options{Host: "127.0.0.1", HandshakeTimeout: 5 * time.Second}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cancel()
	if _, err := ch.WaitForHandshake(); !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("after cancel: got %v want connection error", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestOpenBindFailure(t *testing.T) {
	ch := openTest(t, time.Second, time.Second)
	port := ch.Addr().(*net.TCPAddr).Port
	_, err := Open(context.Background(), Options{Host: "127.0.0.1", Port: port}, log.New(io.Discard, "", 0))
	if !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("got %v want connection error", err)
	}
}
