package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"simuser.ai/internal/mathx"
)

// Field counts of the fixed-order arrays.
//
//	HANDSHAKE     [time_scale, sample_frequency, timestep, fixed_delta_time|nil]
//	HANDSHAKE_ACK [accepted, effective_delta, target_frame_rate]
//	STATE         [next_timestep, headset_pos, headset_rot, left_pos, left_rot,
//	               right_pos, right_rot, reset, quit_application, is_finished]
//	OBS           [is_finished, reward(f32), frame(bin), time_feature(f32), log_dict]
//
// Positions are [x,y,z] and rotations [x,y,z,w], float32.
const (
	handshakeFields    = 4
	handshakeAckFields = 3
	stateFields        = 10
	obsFields          = 5
)

// EncodeHandshake encodes the driver's time options.
func EncodeHandshake(o TimeOptions) ([]byte, error) { return marshal(TypeHandshake, o) }

// DecodeHandshake decodes and validates time options. A zero or negative
// fixed_delta_time is treated as unset.
func DecodeHandshake(b []byte) (TimeOptions, error) {
	var o TimeOptions
	if err := unmarshal(TypeHandshake, b, &o); err != nil {
		return TimeOptions{}, err
	}
	if err := o.Validate(); err != nil {
		return TimeOptions{}, err
	}
	return o, nil
}

func EncodeHandshakeAck(a HandshakeAck) ([]byte, error) { return marshal(TypeHandshakeAck, a) }

func DecodeHandshakeAck(b []byte) (HandshakeAck, error) {
	var a HandshakeAck
	err := unmarshal(TypeHandshakeAck, b, &a)
	return a, err
}

func EncodeState(s State) ([]byte, error) { return marshal(TypeState, s) }

// DecodeState decodes and validates a state request.
func DecodeState(b []byte) (State, error) {
	var s State
	if err := unmarshal(TypeState, b, &s); err != nil {
		return State{}, err
	}
	if err := s.Validate(); err != nil {
		return State{}, err
	}
	return s, nil
}

func EncodeObservation(o Observation) ([]byte, error) { return marshal(TypeObs, o) }

// DecodeObservation decodes an observation. Log dict integers come back as
// int64 and floats as float64.
func DecodeObservation(b []byte) (Observation, error) {
	var o Observation
	err := unmarshal(TypeObs, b, &o)
	return o, err
}

func marshal(kind string, v msgpack.CustomEncoder) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := v.EncodeMsgpack(enc); err != nil {
		return nil, Errorf(ErrCodeProtocol, "encode "+kind, "%v", err)
	}
	return buf.Bytes(), nil
}

func unmarshal(kind string, b []byte, v msgpack.CustomDecoder) error {
	if len(b) == 0 {
		return Errorf(ErrCodeProtocol, "decode "+kind, "empty message")
	}
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	if err := v.DecodeMsgpack(dec); err != nil {
		return Errorf(ErrCodeProtocol, "decode "+kind, "%v", err)
	}
	if _, err := dec.PeekCode(); !errors.Is(err, io.EOF) {
		return Errorf(ErrCodeProtocol, "decode "+kind, "trailing data after message")
	}
	return nil
}

// arrayWriter keeps the first encode error so field lists read top to bottom.
type arrayWriter struct {
	enc *msgpack.Encoder
	err error
}

func (w *arrayWriter) header(n int) {
	if w.err == nil {
		w.err = w.enc.EncodeArrayLen(n)
	}
}

func (w *arrayWriter) int(v int) {
	if w.err == nil {
		w.err = w.enc.EncodeInt(int64(v))
	}
}

func (w *arrayWriter) float64(v float64) {
	if w.err == nil {
		w.err = w.enc.EncodeFloat64(v)
	}
}

func (w *arrayWriter) float32(v float32) {
	if w.err == nil {
		w.err = w.enc.EncodeFloat32(v)
	}
}

func (w *arrayWriter) bool(v bool) {
	if w.err == nil {
		w.err = w.enc.EncodeBool(v)
	}
}

func (w *arrayWriter) bytes(v []byte) {
	if w.err == nil {
		w.err = w.enc.EncodeBytes(v)
	}
}

func (w *arrayWriter) null() {
	if w.err == nil {
		w.err = w.enc.EncodeNil()
	}
}

func (w *arrayWriter) vec3(v mathx.Vec3) {
	w.header(3)
	for _, c := range v {
		w.float32(c)
	}
}

func (w *arrayWriter) quat(q mathx.Quat) {
	w.header(4)
	for _, c := range q.XYZW() {
		w.float32(c)
	}
}

func (w *arrayWriter) dict(m map[string]any) {
	if w.err != nil {
		return
	}
	if m == nil {
		w.err = w.enc.EncodeMapLen(0)
		return
	}
	w.err = w.enc.Encode(m)
}

// arrayReader mirrors arrayWriter for decoding.
type arrayReader struct {
	dec *msgpack.Decoder
	err error
}

func (r *arrayReader) header(what string, n int) {
	if r.err != nil {
		return
	}
	got, err := r.dec.DecodeArrayLen()
	if err != nil {
		r.err = fmt.Errorf("%s: %w", what, err)
		return
	}
	if got != n {
		r.err = fmt.Errorf("%s: expected %d fields, got %d", what, n, got)
	}
}

func (r *arrayReader) int(what string) int {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.DecodeInt()
	if err != nil {
		r.err = fmt.Errorf("%s: %w", what, err)
	}
	return v
}

func (r *arrayReader) float64(what string) float64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.DecodeFloat64()
	if err != nil {
		r.err = fmt.Errorf("%s: %w", what, err)
	}
	return v
}

func (r *arrayReader) float32(what string) float32 {
	return float32(r.float64(what))
}

func (r *arrayReader) bool(what string) bool {
	if r.err != nil {
		return false
	}
	v, err := r.dec.DecodeBool()
	if err != nil {
		r.err = fmt.Errorf("%s: %w", what, err)
	}
	return v
}

func (r *arrayReader) bytes(what string) []byte {
	if r.err != nil {
		return nil
	}
	v, err := r.dec.DecodeBytes()
	if err != nil {
		r.err = fmt.Errorf("%s: %w", what, err)
	}
	return v
}

// optFloat64 decodes nil or a number; non-positive numbers read as unset.
func (r *arrayReader) optFloat64(what string) *float64 {
	if r.err != nil {
		return nil
	}
	raw, err := r.dec.DecodeInterfaceLoose()
	if err != nil {
		r.err = fmt.Errorf("%s: %w", what, err)
		return nil
	}
	var f float64
	switch v := raw.(type) {
	case nil:
		return nil
	case float64:
		f = v
	case int64:
		f = float64(v)
	case uint64:
		f = float64(v)
	default:
		r.err = fmt.Errorf("%s: expected number or nil, got %T", what, raw)
		return nil
	}
	if f <= 0 {
		return nil
	}
	return &f
}

func (r *arrayReader) vec3(what string) mathx.Vec3 {
	r.header(what, 3)
	var v mathx.Vec3
	for i := range v {
		v[i] = r.float32(what)
	}
	return v
}

func (r *arrayReader) quat(what string) mathx.Quat {
	r.header(what, 4)
	x, y, z, w := r.float32(what), r.float32(what), r.float32(what), r.float32(what)
	return mathx.QuatXYZW(x, y, z, w)
}

func (r *arrayReader) dict(what string) map[string]any {
	if r.err != nil {
		return nil
	}
	m, err := r.dec.DecodeMap()
	if err != nil {
		r.err = fmt.Errorf("%s: %w", what, err)
		return nil
	}
	if m == nil {
		m = map[string]any{}
	}
	return m
}

func (o TimeOptions) EncodeMsgpack(enc *msgpack.Encoder) error {
	w := arrayWriter{enc: enc}
	w.header(handshakeFields)
	w.int(o.TimeScale)
	w.int(o.SampleFrequency)
	w.float64(o.Timestep)
	if o.FixedDeltaTime != nil {
		w.float64(*o.FixedDeltaTime)
	} else {
		w.null()
	}
	return w.err
}

func (o *TimeOptions) DecodeMsgpack(dec *msgpack.Decoder) error {
	r := arrayReader{dec: dec}
	r.header("handshake", handshakeFields)
	o.TimeScale = r.int("time_scale")
	o.SampleFrequency = r.int("sample_frequency")
	o.Timestep = r.float64("timestep")
	o.FixedDeltaTime = r.optFloat64("fixed_delta_time")
	return r.err
}

func (a HandshakeAck) EncodeMsgpack(enc *msgpack.Encoder) error {
	w := arrayWriter{enc: enc}
	w.header(handshakeAckFields)
	w.bool(a.Accepted)
	w.float64(a.EffectiveDelta)
	w.int(a.TargetFrameRate)
	return w.err
}

func (a *HandshakeAck) DecodeMsgpack(dec *msgpack.Decoder) error {
	r := arrayReader{dec: dec}
	r.header("handshake_ack", handshakeAckFields)
	a.Accepted = r.bool("accepted")
	a.EffectiveDelta = r.float64("effective_delta")
	a.TargetFrameRate = r.int("target_frame_rate")
	return r.err
}

func (s State) EncodeMsgpack(enc *msgpack.Encoder) error {
	w := arrayWriter{enc: enc}
	w.header(stateFields)
	w.float64(s.NextTimestep)
	w.vec3(s.HeadsetPosition)
	w.quat(s.HeadsetRotation)
	w.vec3(s.LeftControllerPosition)
	w.quat(s.LeftControllerRotation)
	w.vec3(s.RightControllerPosition)
	w.quat(s.RightControllerRotation)
	w.bool(s.Reset)
	w.bool(s.QuitApplication)
	w.bool(s.IsFinished)
	return w.err
}

func (s *State) DecodeMsgpack(dec *msgpack.Decoder) error {
	r := arrayReader{dec: dec}
	r.header("state", stateFields)
	s.NextTimestep = r.float64("next_timestep")
	s.HeadsetPosition = r.vec3("headset_position")
	s.HeadsetRotation = r.quat("headset_rotation")
	s.LeftControllerPosition = r.vec3("left_controller_position")
	s.LeftControllerRotation = r.quat("left_controller_rotation")
	s.RightControllerPosition = r.vec3("right_controller_position")
	s.RightControllerRotation = r.quat("right_controller_rotation")
	s.Reset = r.bool("reset")
	s.QuitApplication = r.bool("quit_application")
	s.IsFinished = r.bool("is_finished")
	return r.err
}

func (o Observation) EncodeMsgpack(enc *msgpack.Encoder) error {
	w := arrayWriter{enc: enc}
	w.header(obsFields)
	w.bool(o.IsFinished)
	w.float32(o.Reward)
	w.bytes(o.Frame)
	w.float32(o.TimeFeature)
	w.dict(o.LogDict)
	return w.err
}

func (o *Observation) DecodeMsgpack(dec *msgpack.Decoder) error {
	r := arrayReader{dec: dec}
	r.header("obs", obsFields)
	o.IsFinished = r.bool("is_finished")
	o.Reward = r.float32("reward")
	o.Frame = r.bytes("frame")
	o.TimeFeature = r.float32("time_feature")
	o.LogDict = r.dict("log_dict")
	return r.err
}
