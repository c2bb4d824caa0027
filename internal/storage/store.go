package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
)

var ErrRunNotFound = errors.New("storage: run not found")

const (
	metadataFile = "metadata.json"
	stepsFile    = "steps.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID           string    `json:"id"`
	ManagerID    string    `json:"manager_id"`
	Timestamp    time.Time `json:"timestamp"`
	Backend      string    `json:"backend"`
	ExecMode     string    `json:"exec_mode"`
	DeviceID     int       `json:"device_id"`
	NumWorlds    int       `json:"num_worlds"`
	RenderWidth  int       `json:"render_width"`
	RenderHeight int       `json:"render_height"`
	Steps        int       `json:"steps"`
	Ticks        uint64    `json:"ticks"`
	TotalSeconds float64   `json:"total_seconds"`
	StepsPerSec  float64   `json:"steps_per_sec"`
	WorldSteps   float64   `json:"world_steps_per_sec"`
}

// Save writes meta and the per-step latencies (seconds) under a new run
// directory. Step counts and throughput are derived from latencies.
func (s *Store) Save(meta RunMetadata, latencies []float64) (string, error) {
	if meta.ID == "" {
		meta.ID = ulid.Make().String()
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	summarize(&meta, latencies)

	runDir, err := s.runDir(meta.ID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(runDir, metadataFile))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, stepsFile))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	if err := w.Write([]string{"step", "seconds"}); err != nil {
		return "", err
	}
	for i, sec := range latencies {
		row := []string{strconv.Itoa(i + 1), strconv.FormatFloat(sec, 'f', 9, 64)}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	return meta.ID, nil
}

func summarize(meta *RunMetadata, latencies []float64) {
	meta.Steps = len(latencies)
	meta.TotalSeconds = 0
	for _, sec := range latencies {
		meta.TotalSeconds += sec
	}
	meta.StepsPerSec, meta.WorldSteps = 0, 0
	if meta.TotalSeconds > 0 {
		meta.StepsPerSec = float64(meta.Steps) / meta.TotalSeconds
		meta.WorldSteps = meta.StepsPerSec * float64(meta.NumWorlds)
	}
}

// List returns stored runs oldest first. Directories without readable
// metadata are skipped.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name(), metadataFile))
		if err != nil {
			continue
		}

		var meta RunMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}

		runs = append(runs, meta)
	}

	return runs, nil
}

// runDir resolves a run ID to its directory. IDs must be a single path
// element so a caller-supplied ID cannot escape the base directory.
func (s *Store) runDir(runID string) (string, error) {
	if runID == "" || runID == "." || runID == ".." || runID != filepath.Base(runID) {
		return "", fmt.Errorf("%w: %q", ErrRunNotFound, runID)
	}
	return filepath.Join(s.baseDir, runID), nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// LoadSteps returns the recorded step latencies in seconds.
func (s *Store) LoadSteps(runID string) ([]float64, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(dir, stepsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}

	if len(records) < 2 {
		return []float64{}, nil
	}

	latencies := make([]float64, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) < 2 {
			continue
		}
		sec, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			continue
		}
		latencies = append(latencies, sec)
	}

	return latencies, nil
}
