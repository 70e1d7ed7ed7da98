package bridge

import (
	"maps"
	"math"

	"simuser.ai/internal/mathx"
	"simuser.ai/internal/protocol"
)

// Encoder packages one observation. It never returns a partial message.
type Encoder struct{}

func (Encoder) Encode(finished bool, reward float64, frame []byte, timeFeature float64, logDict map[string]any) ([]byte, error) {
	if len(frame) == 0 {
		return nil, protocol.Errorf(protocol.ErrCodeCapture, "encode observation", "empty frame")
	}
	r, err := finiteFloat32("reward", reward)
	if err != nil {
		return nil, err
	}
	tf, err := finiteFloat32("time_feature", timeFeature)
	if err != nil {
		return nil, err
	}
	return protocol.EncodeObservation(protocol.Observation{
		IsFinished:  finished,
		Reward:      r,
		Frame:       frame,
		TimeFeature: tf,
		LogDict:     maps.Clone(logDict),
	})
}

func finiteFloat32(name string, v float64) (float32, error) {
	f := float32(v)
	if !mathx.IsFinite(v) || math.IsInf(float64(f), 0) {
		return 0, protocol.Errorf(protocol.ErrCodeProtocol, "encode observation", "%s is not a finite float32: %v", name, v)
	}
	return f, nil
}
