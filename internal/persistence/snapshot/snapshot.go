// Package snapshot writes the host state at halt for operator inspection.
// A file is one JSON header line followed by a gob body, zstd-compressed.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	Step      uint64 `json:"step"`
	Reason    string `json:"reason"`
}

type HaltSnapshotV1 struct {
	Header Header `json:"header"`

	CreatedAt time.Time `json:"created_at"`
	ExitCode  int       `json:"exit_code"`
	Error     string    `json:"error,omitempty"`

	Game      string  `json:"game"`
	Episode   int     `json:"episode"`
	Phase     string  `json:"phase"`
	HostClock float64 `json:"host_clock"`
	FrameTime float64 `json:"frame_time"`

	TimeScale       int     `json:"time_scale"`
	SampleFrequency int     `json:"sample_frequency"`
	EffectiveDelta  float64 `json:"effective_delta"`

	Advanced uint64 `json:"advanced"`
	Skipped  uint64 `json:"skipped"`

	Reward      float64        `json:"reward"`
	Finished    bool           `json:"finished"`
	TimeFeature float64        `json:"time_feature"`
	LogDict     map[string]any `json:"log_dict"`

	Headset   PoseV1 `json:"headset"`
	LeftHand  PoseV1 `json:"left_hand"`
	RightHand PoseV1 `json:"right_hand"`

	// LastState is nil when no state was received.
	LastState *StateV1 `json:"last_state,omitempty"`
}

type PoseV1 struct {
	Position [3]float32 `json:"position"`
	Rotation [4]float32 `json:"rotation"`
}

type StateV1 struct {
	NextTimestep    float64 `json:"next_timestep"`
	Headset         PoseV1  `json:"headset"`
	LeftHand        PoseV1  `json:"left_hand"`
	RightHand       PoseV1  `json:"right_hand"`
	Reset           bool    `json:"reset"`
	QuitApplication bool    `json:"quit_application"`
	IsFinished      bool    `json:"is_finished"`
}

// PathFor is where the halt snapshot of a session lives.
func PathFor(dir, sessionID string) string {
	return filepath.Join(dir, "snapshots", sessionID+".halt.zst")
}

func WriteSnapshot(path string, snap HaltSnapshotV1) (err error) {
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (HaltSnapshotV1, error) {
	var snap HaltSnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
