package protocol

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"simuser.ai/internal/mathx"
)

func sampleState() State {
	return State{
		NextTimestep:            1.25,
		HeadsetPosition:         mathx.XYZ(0.1, 1.6, -0.2),
		HeadsetRotation:         mathx.QuatXYZW(0, 0.3826834, 0, 0.9238795),
		LeftControllerPosition:  mathx.XYZ(-0.25, 1.1, 0.3),
		LeftControllerRotation:  mathx.QuatXYZW(0.1, 0.2, 0.3, 0.9273618),
		RightControllerPosition: mathx.XYZ(0.25, 1.05, 0.35),
		RightControllerRotation: mathx.QuatIdent(),
		Reset:                   true,
		QuitApplication:         false,
		IsFinished:              true,
	}
}

func TestState_RoundTrip(t *testing.T) {
	in := sampleState()
	b, err := EncodeState(in)
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}
	out, err := DecodeState(b)
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if out != in {
		t.Fatalf("state mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestObservation_RoundTrip(t *testing.T) {
	in := Observation{
		IsFinished:  true,
		Reward:      -0.375,
		Frame:       []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 255},
		TimeFeature: 0.125,
		LogDict: map[string]any{
			"points":  int64(7),
			"elapsed": 3.5,
			"label":   "round_2",
			"hit":     true,
		},
	}
	b, err := EncodeObservation(in)
	if err != nil {
		t.Fatalf("EncodeObservation: %v", err)
	}
	out, err := DecodeObservation(b)
	if err != nil {
		t.Fatalf("DecodeObservation: %v", err)
	}
	if out.IsFinished != in.IsFinished || out.Reward != in.Reward || out.TimeFeature != in.TimeFeature {
		t.Fatalf("scalar mismatch: got %+v", out)
	}
	if !bytes.Equal(out.Frame, in.Frame) {
		t.Fatalf("frame mismatch: got %v want %v", out.Frame, in.Frame)
	}
	if !reflect.DeepEqual(out.LogDict, in.LogDict) {
		t.Fatalf("log dict mismatch: got %#v want %#v", out.LogDict, in.LogDict)
	}
}

func TestObservation_EncodingIgnoresMapOrder(t *testing.T) {
	a := Observation{Frame: []byte{1}, LogDict: map[string]any{}}
	b := Observation{Frame: []byte{1}, LogDict: map[string]any{}}
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for i, k := range keys {
		a.LogDict[k] = int64(i)
	}
	for i := len(keys) - 1; i >= 0; i-- {
		b.LogDict[keys[i]] = int64(i)
	}
	ea, err := EncodeObservation(a)
	if err != nil {
		t.Fatalf("encode a: %v", err)
	}
	eb, err := EncodeObservation(b)
	if err != nil {
		t.Fatalf("encode b: %v", err)
	}
	if !bytes.Equal(ea, eb) {
		t.Fatalf("expected identical encodings for equal log dicts")
	}
}

func TestObservation_NilLogDictDecodesEmpty(t *testing.T) {
	b, err := EncodeObservation(Observation{Frame: []byte{1}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeObservation(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.LogDict == nil || len(out.LogDict) != 0 {
		t.Fatalf("expected empty log dict, got %#v", out.LogDict)
	}
}

func TestHandshake_Derivation(t *testing.T) {
	b, err := EncodeHandshake(TimeOptions{TimeScale: 2, SampleFrequency: 30, Timestep: 0.01})
	if err != nil {
		t.Fatalf("EncodeHandshake: %v", err)
	}
	opts, err := DecodeHandshake(b)
	if err != nil {
		t.Fatalf("DecodeHandshake: %v", err)
	}
	if opts.FixedDeltaTime != nil {
		t.Fatalf("fixed delta should be unset, got %v", *opts.FixedDeltaTime)
	}
	if got := opts.EffectiveDelta(); got != 0.01 {
		t.Fatalf("effective delta: got %v want 0.01", got)
	}
	if got := opts.TargetFrameRate(); got != 60 {
		t.Fatalf("target frame rate: got %d want 60", got)
	}
	if got := opts.MaximumDeltaTime(); math.Abs(got-1.0/60) > 1e-12 {
		t.Fatalf("maximum delta: got %v", got)
	}
}

func TestHandshake_FixedDeltaOverridesTimestep(t *testing.T) {
	fdt := 0.002
	b, err := EncodeHandshake(TimeOptions{TimeScale: 1, SampleFrequency: 20, Timestep: 0.01, FixedDeltaTime: &fdt})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	opts, err := DecodeHandshake(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if opts.FixedDeltaTime == nil || *opts.FixedDeltaTime != fdt {
		t.Fatalf("fixed delta: got %v", opts.FixedDeltaTime)
	}
	if got := opts.EffectiveDelta(); got != fdt {
		t.Fatalf("effective delta: got %v want %v", got, fdt)
	}
}

func TestHandshake_ZeroFixedDeltaIsUnset(t *testing.T) {
	raw, err := msgpack.Marshal([]any{1, 20, 0.05, 0.0})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	opts, err := DecodeHandshake(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if opts.FixedDeltaTime != nil {
		t.Fatalf("zero fixed delta should read as unset")
	}
	if opts.EffectiveDelta() != 0.05 {
		t.Fatalf("effective delta: got %v", opts.EffectiveDelta())
	}
}

func TestDecode_MalformedIsProtocolError(t *testing.T) {
	good, err := EncodeState(sampleState())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	short, _ := msgpack.Marshal([]any{1.0, true})
	wrongType, _ := msgpack.Marshal([]any{"soon", []float32{0, 0, 0}, []float32{0, 0, 0, 1}, []float32{0, 0, 0}, []float32{0, 0, 0, 1}, []float32{0, 0, 0}, []float32{0, 0, 0, 1}, false, false, false})
	nan := sampleState()
	nan.NextTimestep = math.NaN()
	nanBytes, _ := EncodeState(nan)

	cases := map[string][]byte{
		"empty":      nil,
		"garbage":    []byte{0xc1, 0x00},
		"short":      short,
		"wrong_type": wrongType,
		"trailing":   append(append([]byte{}, good...), 0x01),
		"nan":        nanBytes,
	}
	for name, b := range cases {
		if _, err := DecodeState(b); !errors.Is(err, ErrProtocol) {
			t.Fatalf("%s: expected protocol error, got %v", name, err)
		}
	}
}

func TestHandshake_InvalidOptionsRejected(t *testing.T) {
	cases := []TimeOptions{
		{TimeScale: 0, SampleFrequency: 30, Timestep: 0.01},
		{TimeScale: 1, SampleFrequency: 0, Timestep: 0.01},
		{TimeScale: 1, SampleFrequency: 30, Timestep: 0},
	}
	for _, c := range cases {
		b, err := EncodeHandshake(c)
		if err != nil {
			t.Fatalf("encode %v: %v", c, err)
		}
		if _, err := DecodeHandshake(b); !errors.Is(err, ErrProtocol) {
			t.Fatalf("%v: expected protocol error, got %v", c, err)
		}
	}
}

func TestHandshakeAck_RoundTrip(t *testing.T) {
	in := HandshakeAck{Accepted: true, EffectiveDelta: 0.01, TargetFrameRate: 60}
	b, err := EncodeHandshakeAck(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeHandshakeAck(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("ack mismatch: got %+v want %+v", out, in)
	}
}
