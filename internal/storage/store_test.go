package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func testMeta() RunMetadata {
	return RunMetadata{
		ManagerID:    "01J0000000000000000000TEST",
		Backend:      "device/emulator (2 workers)",
		ExecMode:     "device",
		NumWorlds:    4,
		RenderWidth:  64,
		RenderHeight: 64,
		Ticks:        4,
	}
}

func TestStoreSaveLoad(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runID, err := st.Save(testMeta(), []float64{0.5, 0.25, 0.25})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if len(runID) != 26 {
		t.Errorf("expected ulid run id, got %q", runID)
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if meta.ID != runID {
		t.Errorf("expected id %s, got %s", runID, meta.ID)
	}
	if meta.NumWorlds != 4 || meta.ExecMode != "device" {
		t.Errorf("metadata mismatch: %+v", meta)
	}
	if meta.Steps != 3 {
		t.Errorf("expected 3 steps, got %d", meta.Steps)
	}
	if math.Abs(meta.TotalSeconds-1.0) > 1e-9 {
		t.Errorf("expected 1s total, got %f", meta.TotalSeconds)
	}
	if math.Abs(meta.StepsPerSec-3.0) > 1e-9 {
		t.Errorf("expected 3 steps/s, got %f", meta.StepsPerSec)
	}
	if math.Abs(meta.WorldSteps-12.0) > 1e-9 {
		t.Errorf("expected 12 world steps/s, got %f", meta.WorldSteps)
	}

	latencies, err := st.LoadSteps(runID)
	if err != nil {
		t.Fatalf("load steps failed: %v", err)
	}
	if len(latencies) != 3 || latencies[0] != 0.5 {
		t.Errorf("unexpected latencies %v", latencies)
	}
}

func TestStoreSaveEmptyRun(t *testing.T) {
	st := New(t.TempDir())

	runID, err := st.Save(testMeta(), nil)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Steps != 0 || meta.StepsPerSec != 0 {
		t.Errorf("expected empty summary, got %+v", meta)
	}

	latencies, err := st.LoadSteps(runID)
	if err != nil {
		t.Fatalf("load steps failed: %v", err)
	}
	if len(latencies) != 0 {
		t.Errorf("expected no latencies, got %v", latencies)
	}
}

func TestStoreList(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}

	first, err := st.Save(testMeta(), []float64{0.1})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	second, err := st.Save(testMeta(), []float64{0.2})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := os.Mkdir(filepath.Join(tmpDir, "stray"), 0755); err != nil {
		t.Fatal(err)
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != first || runs[1].ID != second {
		t.Errorf("expected runs in creation order, got %s %s", runs[0].ID, runs[1].ID)
	}
}

func TestStoreListMissingDir(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "missing"))
	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}
}

func TestStoreFileStructure(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	runID, err := st.Save(testMeta(), []float64{0.1})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	for _, name := range []string{metadataFile, stepsFile} {
		if _, err := os.Stat(filepath.Join(tmpDir, runID, name)); os.IsNotExist(err) {
			t.Errorf("%s not created", name)
		}
	}
}

func TestStoreMissingRun(t *testing.T) {
	st := New(t.TempDir())

	if _, err := st.Load("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := st.LoadSteps("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestStoreRejectsEscapingIDs(t *testing.T) {
	root := t.TempDir()
	st := New(filepath.Join(root, "runs"))
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, metadataFile), []byte(`{"id":"outside"}`), 0644); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"..", ".", "", "../runs", "a/b"} {
		if _, err := st.Load(id); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("Load(%q): expected ErrRunNotFound, got %v", id, err)
		}
		if _, err := st.LoadSteps(id); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("LoadSteps(%q): expected ErrRunNotFound, got %v", id, err)
		}
	}

	meta := testMeta()
	meta.ID = "../escape"
	if _, err := st.Save(meta, nil); err == nil {
		t.Error("expected save with escaping id to fail")
	}
}

func TestExportJSON(t *testing.T) {
	st := New(t.TempDir())
	runID, err := st.Save(testMeta(), []float64{0.1, 0.3})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	var buf bytes.Buffer
	if err := st.ExportJSON(&buf, runID); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	var got ExportData
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("export is not valid json: %v", err)
	}
	if got.ID != runID || got.Steps != 2 || len(got.Latencies) != 2 {
		t.Errorf("unexpected export %+v", got)
	}
}
