package bridge

import "simuser.ai/internal/scene"

// StepRecord describes one completed exchange. It is what the step log and
// the index persist; frames are kept only as size and digest.
type StepRecord struct {
	SessionID    string  `json:"session_id"`
	Step         uint64  `json:"step"`
	Episode      int     `json:"episode"`
	HostClock    float64 `json:"host_clock"`
	NextTimestep float64 `json:"next_timestep"`

	Reset          bool `json:"reset"`
	Quit           bool `json:"quit"`
	LocalFinished  bool `json:"local_finished"`
	RemoteFinished bool `json:"remote_finished"`
	Finished       bool `json:"finished"`

	Reward      float64        `json:"reward"`
	TimeFeature float64        `json:"time_feature"`
	FrameBytes  int            `json:"frame_bytes"`
	FrameDigest string         `json:"frame_digest"`
	LogDict     map[string]any `json:"log_dict"`

	Headset   Pose `json:"headset"`
	LeftHand  Pose `json:"left_hand"`
	RightHand Pose `json:"right_hand"`

	StepMS float64 `json:"step_ms"`
}

type Pose struct {
	Position [3]float32 `json:"position"`
	Rotation [4]float32 `json:"rotation"`
}

func poseOf(t scene.Transform) Pose {
	return Pose{Position: t.Position, Rotation: t.Rotation.XYZW()}
}
