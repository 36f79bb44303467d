package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DocumentResult is one processed document's outcome inside the run
// summary.
type DocumentResult struct {
	LoanID      string         `json:"loan_id"`
	Filename    string         `json:"filename"`
	ProcessedAt time.Time      `json:"processing_time"`
	TextLength  int            `json:"text_length,omitempty"`
	Success     bool           `json:"extraction_successful"`
	Data        map[string]any `json:"extracted_data,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Summary aggregates one run. It is created once, finalized once and
// never mutated afterwards.
type Summary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"pipeline_start_time"`
	FinishedAt time.Time `json:"pipeline_end_time"`
	Elapsed    string    `json:"total_processing_time"`

	Discovered int `json:"documents_discovered"`
	Processed  int `json:"documents_processed"`
	Succeeded  int `json:"successful_extractions"`
	Failed     int `json:"failed_extractions"`

	SuccessRate string           `json:"success_rate"`
	Results     []DocumentResult `json:"detailed_results"`
}

func newSummary(start time.Time) *Summary {
	return &Summary{
		RunID:     uuid.NewString(),
		StartedAt: start,
	}
}

func (s *Summary) finalize(end time.Time) {
	s.FinishedAt = end
	s.Elapsed = end.Sub(s.StartedAt).String()

	processed := s.Processed
	if processed == 0 {
		processed = 1
	}
	s.SuccessRate = fmt.Sprintf("%.1f%%", float64(s.Succeeded)/float64(processed)*100)
}

// saveLocal writes the summary next to the process and returns the file
// name used for the remote copy.
func (s *Summary) saveLocal(dir string) (filename, path string, err error) {
	filename = fmt.Sprintf("appraisal_processing_summary_%s.json", s.FinishedAt.Format("20060102_150405"))
	path = filepath.Join(dir, filename)

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", "", fmt.Errorf("write summary: %w", err)
	}
	return filename, path, nil
}
