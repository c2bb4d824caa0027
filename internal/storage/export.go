package storage

import (
	"encoding/json"
	"io"
)

type ExportData struct {
	RunMetadata
	Latencies []float64 `json:"latencies"`
}

// ExportJSON writes a stored run, metadata and latencies, as one JSON
// document.
func (s *Store) ExportJSON(w io.Writer, runID string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	latencies, err := s.LoadSteps(runID)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(ExportData{RunMetadata: *meta, Latencies: latencies})
}
