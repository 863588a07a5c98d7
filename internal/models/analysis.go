package models

import (
	"fmt"
	"strings"
	"time"
)

// AnalysisRecord is one logical run of a pipeline variant over a fixed input set,
// as persisted in the catalog
type AnalysisRecord struct {
	ID           int64          `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`                                   // sc_{type}_{aligner}_{ref}_{library}_{fingerprint}
	Type         AnalysisType   `json:"analysis_type" yaml:"analysis_type"`                 // "align" | "hmmcopy" | "pseudobulk"
	Status       AnalysisStatus `json:"status" yaml:"status"`
	JiraTicket   string         `json:"jira_ticket" yaml:"jira_ticket"`
	LibraryID    string         `json:"library_id" yaml:"library_id"`
	Version      string         `json:"version,omitempty" yaml:"version,omitempty"`
	InputLanes   []string       `json:"input_lanes,omitempty" yaml:"input_lanes,omitempty"` // Sorted fingerprint input
	InputIDs     []int64        `json:"input_ids,omitempty" yaml:"input_ids,omitempty"`     // Linked dataset/result ids, in order
	LogFile      string         `json:"logfile,omitempty" yaml:"logfile,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" yaml:"updated_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Duration     time.Duration  `json:"duration,omitempty" yaml:"duration,omitempty"`
	Extra        map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`             // Unknown catalog fields, passed through untouched
}

// AnalysisUpdate carries the fields a status transition writes alongside the status.
// Nil fields are left unchanged
type AnalysisUpdate struct {
	ErrorMessage *string
	LogFile      *string
	InputIDs     []int64
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Duration     *time.Duration
	Version      *string
}

// AnalysisFilter narrows ListAnalyses queries. Zero values match everything
type AnalysisFilter struct {
	Type      AnalysisType
	Status    AnalysisStatus
	LibraryID string
}

// AnalysisType names the pipeline variant family
type AnalysisType string

const (
	AnalysisTypeAlign      AnalysisType = "align"
	AnalysisTypeHmmcopy    AnalysisType = "hmmcopy"
	AnalysisTypePseudobulk AnalysisType = "pseudobulk"
)

// AnalysisStatus defines the lifecycle state of an analysis
type AnalysisStatus string

const (
	AnalysisStatusIdle     AnalysisStatus = "idle"
	AnalysisStatusRunning  AnalysisStatus = "running"
	AnalysisStatusComplete AnalysisStatus = "complete"
	AnalysisStatusError    AnalysisStatus = "error"
)

// IsValidAnalysisType checks if the analysis type is recognized
func IsValidAnalysisType(t AnalysisType) bool {
	switch t {
	case AnalysisTypeAlign, AnalysisTypeHmmcopy, AnalysisTypePseudobulk:
		return true
	default:
		return false
	}
}

// IsValidAnalysisStatus checks if the status is recognized
func IsValidAnalysisStatus(s AnalysisStatus) bool {
	switch s {
	case AnalysisStatusIdle, AnalysisStatusRunning, AnalysisStatusComplete, AnalysisStatusError:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if state transition is valid
// Valid transitions:
//
//	idle -> running
//	running -> complete | error
//	error -> idle (operator reset)
func (s AnalysisStatus) CanTransitionTo(next AnalysisStatus) bool {
	switch s {
	case AnalysisStatusIdle:
		return next == AnalysisStatusRunning
	case AnalysisStatusRunning:
		return next == AnalysisStatusComplete || next == AnalysisStatusError
	case AnalysisStatusError:
		return next == AnalysisStatusIdle
	case AnalysisStatusComplete:
		return false // Terminal state
	default:
		return false
	}
}

// Aligner codes accepted on the command line
var alignerCodes = map[string]string{
	"A": "BWA_ALN_0_5_7",
	"M": "BWA_MEM_0_7_6A",
}

// Reference genomes keyed by NCBI taxonomy id
var referenceGenomes = map[string]string{
	"9606":  "HG19",
	"10090": "MM10",
}

// Reference genome names used by the lab catalog
var labReferenceGenomes = map[string]string{
	"9606":  "grch37",
	"10090": "mm10",
}

// ResolveAligner maps an aligner code ("A", "M") or a full aligner name to the full name
func ResolveAligner(code string) (string, bool) {
	if name, ok := alignerCodes[strings.ToUpper(code)]; ok {
		return name, true
	}
	for _, name := range alignerCodes {
		if name == code {
			return name, true
		}
	}
	return "", false
}

// ReferenceGenomeForTaxonomy resolves the analysis reference genome for a taxonomy id
func ReferenceGenomeForTaxonomy(taxonomyID string) (string, bool) {
	ref, ok := referenceGenomes[taxonomyID]
	return ref, ok
}

// LabReferenceGenomeForTaxonomy resolves the lab catalog reference genome for a taxonomy id
func LabReferenceGenomeForTaxonomy(taxonomyID string) (string, bool) {
	ref, ok := labReferenceGenomes[taxonomyID]
	return ref, ok
}

// AnalysisName composes the unique analysis name for a pipeline configuration and input set
func AnalysisName(analysisType AnalysisType, aligner, referenceGenome, libraryID, fingerprint string) string {
	return fmt.Sprintf("sc_%s_%s_%s_%s_%s", analysisType, aligner, referenceGenome, libraryID, fingerprint)
}

// SameInputs reports whether the record was created for exactly the given sorted lanes
func (a *AnalysisRecord) SameInputs(sortedLanes []string) bool {
	if len(a.InputLanes) == 0 {
		// Records created before lanes were stored cannot be compared
		return true
	}
	if len(a.InputLanes) != len(sortedLanes) {
		return false
	}
	for i := range sortedLanes {
		if a.InputLanes[i] != sortedLanes[i] {
			return false
		}
	}
	return true
}
