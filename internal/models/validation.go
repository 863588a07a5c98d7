package models

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"

	"github.com/google/uuid"
)

// JiraIDPattern matches analysis tickets such as SC-1234
var JiraIDPattern = regexp.MustCompile(`^SC-\d+$`)

// IsValidJiraTicket checks if the ticket id is well-formed
func IsValidJiraTicket(ticket string) bool {
	return JiraIDPattern.MatchString(ticket)
}

// Validate checks if an AnalysisRecord has valid fields
func (a *AnalysisRecord) Validate() error {
	if a.Name == "" {
		return errors.New("name is required")
	}

	if !IsValidAnalysisType(a.Type) {
		return fmt.Errorf("invalid analysis_type: %s", a.Type)
	}

	if !IsValidAnalysisStatus(a.Status) {
		return fmt.Errorf("invalid status: %s", a.Status)
	}

	if a.JiraTicket != "" && !IsValidJiraTicket(a.JiraTicket) {
		return fmt.Errorf("invalid jira_ticket: %s", a.JiraTicket)
	}

	if a.LibraryID == "" {
		return errors.New("library_id is required")
	}

	// Finished analyses must record when they finished
	if a.Status == AnalysisStatusComplete && a.FinishedAt == nil {
		return errors.New("finished_at must be set when analysis is complete")
	}

	if a.Duration < 0 {
		return errors.New("duration cannot be negative")
	}

	return nil
}

// Validate checks if a StepRecord has valid fields
func (s *StepRecord) Validate() error {
	if s.Name == "" {
		return errors.New("step name is required")
	}

	if !IsValidStepOutcome(s.Outcome) {
		return fmt.Errorf("invalid step outcome: %s", s.Outcome)
	}

	if s.StartedAt.IsZero() {
		return errors.New("started_at is required")
	}

	// Sealed steps carry an end time, running steps do not
	if s.Outcome == StepOutcomeRunning && s.EndedAt != nil {
		return errors.New("ended_at must not be set while step is running")
	}
	if s.Outcome != StepOutcomeRunning && s.EndedAt == nil {
		return errors.New("ended_at must be set when step has ended")
	}

	if s.Outcome == StepOutcomeFailure && s.Error == "" {
		return errors.New("error must be set when step failed")
	}

	return nil
}

// Validate checks if a Storage definition is usable for its kind
func (s *Storage) Validate() error {
	if s.Name == "" {
		return errors.New("storage name is required")
	}

	switch s.Kind {
	case StorageKindServer:
		if s.Directory == "" {
			return fmt.Errorf("storage %s: storage_directory is required for server storages", s.Name)
		}
	case StorageKindBlob:
		if s.Bucket == "" {
			return fmt.Errorf("storage %s: bucket is required for blob storages", s.Name)
		}
		if s.Endpoint != "" {
			if _, err := url.Parse(s.Endpoint); err != nil {
				return fmt.Errorf("storage %s: invalid endpoint: %w", s.Name, err)
			}
		}
	default:
		return fmt.Errorf("storage %s: invalid storage_type: %s", s.Name, s.Kind)
	}

	return nil
}

// Validate checks if a Library carries what the readiness gate needs
func (l *Library) Validate() error {
	if l.ID == "" {
		return errors.New("pool_id is required")
	}

	for _, s := range l.Sequencings {
		if s.LanesRequested < 0 {
			return fmt.Errorf("sequencing %d: number_of_lanes_requested cannot be negative", s.ID)
		}
	}

	return nil
}

// Validate checks if a ProjectConfig has valid fields
func (c *ProjectConfig) Validate() error {
	// Validate catalog driver
	switch c.Catalog.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unrecognized catalog driver: %q (want sqlite or postgres)", c.Catalog.Driver)
	}
	if c.Catalog.DSN == "" {
		return errors.New("catalog dsn is required")
	}

	// Validate storage tiers resolve to definitions
	for _, s := range c.Storages.Definitions {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	for role, name := range map[string]string{
		"local_results":  c.Storages.LocalResults,
		"working_inputs": c.Storages.WorkingInputs,
		"remote_inputs":  c.Storages.RemoteInputs,
	} {
		if name == "" {
			return fmt.Errorf("storages.%s is required", role)
		}
		if _, ok := c.Storages.Lookup(name); !ok {
			return fmt.Errorf("storages.%s refers to undefined storage %q", role, name)
		}
	}

	// The local results storage hosts the pipeline directory
	if local, _ := c.Storages.Lookup(c.Storages.LocalResults); local.Kind != StorageKindServer {
		return fmt.Errorf("storages.local_results must be a server storage, got %s", local.Kind)
	}

	// Validate Jira URL is well-formed (if provided)
	if c.Jira.URL != "" {
		if _, err := url.Parse(c.Jira.URL); err != nil {
			return fmt.Errorf("invalid jira url: %w", err)
		}
	}

	// Validate retry configuration
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		return errors.New("max_attempts must be between 1 and 10")
	}
	if c.Retry.InitialBackoffMs <= 0 {
		return errors.New("initial_backoff_ms must be positive")
	}
	if c.Retry.MaxBackoffMs <= 0 {
		return errors.New("max_backoff_ms must be positive")
	}
	if c.Retry.InitialBackoffMs >= c.Retry.MaxBackoffMs {
		return errors.New("initial_backoff_ms must be less than max_backoff_ms")
	}

	if w := c.Analysis.FingerprintWidth; w < 8 || w > 32 {
		return fmt.Errorf("analysis.fingerprint_width must be between 8 and 32, got %d", w)
	}

	if c.LocksDir == "" {
		return errors.New("locks_dir is required")
	}

	return nil
}

// ValidateLocksDir checks if the locks directory exists and is writable
// Creates the directory automatically if it doesn't exist
func ValidateLocksDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return fmt.Errorf("failed to create locks directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("cannot access locks directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("locks_dir is not a directory: %s", path)
	}

	// Check write permission by attempting to create a temp file
	testFile := fmt.Sprintf("%s/.write_test_%s", path, uuid.New().String())
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("locks directory is not writable: %w", err)
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	return nil
}
