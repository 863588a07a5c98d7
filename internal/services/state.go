package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trobanga/sisyphus/internal/models"
)

const (
	JournalFileName = "journal.json"
)

// RunJournal is the on-disk record of one run: who ran what and how each step went
type RunJournal struct {
	RunID      string              `json:"run_id"`
	Analysis   string              `json:"analysis"`
	JiraTicket string              `json:"jira_ticket"`
	StartedAt  time.Time           `json:"started_at"`
	SealedAt   *time.Time          `json:"sealed_at,omitempty"`
	Outcome    string              `json:"outcome,omitempty"`
	Steps      []models.StepRecord `json:"steps"`
}

// Journal persists step records of a run under the pipeline directory.
// Every write replaces the file atomically
type Journal struct {
	mu   sync.Mutex
	dir  string
	data RunJournal
}

// GetJournalPath returns the journal file inside a pipeline directory
func GetJournalPath(pipelineDir string) string {
	return filepath.Join(pipelineDir, JournalFileName)
}

// NewJournal starts a journal for a run and writes it immediately
func NewJournal(pipelineDir string, runID string, analysis string, jiraTicket string) (*Journal, error) {
	j := &Journal{
		dir: pipelineDir,
		data: RunJournal{
			RunID:      runID,
			Analysis:   analysis,
			JiraTicket: jiraTicket,
			StartedAt:  time.Now(),
			Steps:      []models.StepRecord{},
		},
	}
	if err := j.save(); err != nil {
		return nil, err
	}
	return j, nil
}

// LoadJournal reads a journal from a pipeline directory
func LoadJournal(pipelineDir string) (*RunJournal, error) {
	data, err := os.ReadFile(GetJournalPath(pipelineDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no run journal in %s", pipelineDir)
		}
		return nil, fmt.Errorf("failed to read run journal: %w", err)
	}

	var journal RunJournal
	if err := json.Unmarshal(data, &journal); err != nil {
		return nil, fmt.Errorf("failed to parse run journal: %w", err)
	}
	return &journal, nil
}

// Record stores a step record, replacing the open record of the same step if any
func (j *Journal) Record(step models.StepRecord) error {
	if err := step.Validate(); err != nil {
		return fmt.Errorf("cannot record invalid step: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.data.Steps = models.ReplaceStep(j.data.Steps, step)
	return j.save()
}

// Seal marks the journal finished with the run's outcome
func (j *Journal) Seal(outcome models.AnalysisStatus) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.data.SealedAt = &now
	j.data.Outcome = string(outcome)
	return j.save()
}

// Steps returns a copy of the recorded steps
func (j *Journal) Steps() []models.StepRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.StepRecord(nil), j.data.Steps...)
}

// save writes with temp file + rename so a crash never leaves a torn journal
func (j *Journal) save() error {
	if err := os.MkdirAll(j.dir, 0755); err != nil {
		return fmt.Errorf("failed to create pipeline directory: %w", err)
	}

	data, err := json.MarshalIndent(j.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run journal: %w", err)
	}

	tempFile := filepath.Join(j.dir, fmt.Sprintf(".journal.tmp.%s", uuid.New().String()))
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp journal file: %w", err)
	}

	if err := os.Rename(tempFile, GetJournalPath(j.dir)); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to save run journal: %w", err)
	}
	return nil
}
