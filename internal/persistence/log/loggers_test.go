package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"simuser.ai/internal/bridge"
)

func sampleRecord(step uint64) bridge.StepRecord {
	return bridge.StepRecord{
		SessionID:    "s1",
		Step:         step,
		HostClock:    float64(step) * 0.1,
		NextTimestep: float64(step+1) * 0.1,
		Reward:       1.5,
		FrameBytes:   10,
		FrameDigest:  "ab",
		LogDict:      map[string]any{"points": 3},
	}
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "steps")
	now := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	if err := w.Write(sampleRecord(0)); err != nil {
		t.Fatalf("write: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Write(sampleRecord(1)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(dir, "steps")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files: %v", files)
	}
	if filepath.Base(files[0]) != "steps-2024-05-01-10.jsonl.zst" {
		t.Fatalf("first file: %s", files[0])
	}
}

func TestStepLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewStepLogger(dir)
	for i := uint64(0); i < 3; i++ {
		if err := l.RecordStep(sampleRecord(i)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// reopening appends a second zstd frame to the same hour
	l = NewStepLogger(dir)
	if err := l.RecordStep(sampleRecord(3)); err != nil {
		t.Fatalf("record: %v", err)
	}
	_ = l.Close()

	files, err := ListFiles(filepath.Join(dir, "steps"), "steps")
	if err != nil || len(files) == 0 {
		t.Fatalf("list: %v %v", files, err)
	}
	var got []bridge.StepRecord
	for _, f := range files {
		if err := ReadSteps(f, func(r bridge.StepRecord) error {
			got = append(got, r)
			return nil
		}); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if len(got) != 4 {
		t.Fatalf("records: got %d want 4", len(got))
	}
	for i, r := range got {
		if r.Step != uint64(i) {
			t.Fatalf("record %d has step %d", i, r.Step)
		}
	}
	if got[0].LogDict["points"] != float64(3) {
		t.Fatalf("log dict: %+v", got[0].LogDict)
	}
}

func TestReadSteps_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steps-x.jsonl.zst")
	if err := os.WriteFile(path, []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ReadSteps(path, func(bridge.StepRecord) error { return nil }); err == nil {
		t.Fatalf("expected error")
	}
}
