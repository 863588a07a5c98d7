package lib

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for matching with errors.Is across wrapped SisyphusErrors
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrCancelled     = errors.New("cancelled")
	ErrConfiguration = errors.New("configuration error")
)

// SisyphusError represents a user-friendly error with context and guidance
type SisyphusError struct {
	Category    ErrorCategory
	Message     string   // Short description of what went wrong
	Cause       error    // Underlying error
	Guidance    []string // What the operator can do to fix it
	HTTPStatus  int      // HTTP status code if applicable
	IsRetryable bool     // Can this error be automatically retried?
}

// ErrorCategory classifies errors for handling and display
type ErrorCategory string

const (
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryStep          ErrorCategory = "step"
	CategoryTransfer      ErrorCategory = "transfer"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryNetwork       ErrorCategory = "network"
	CategoryService       ErrorCategory = "service"
	CategoryState         ErrorCategory = "state"
	CategoryCancelled     ErrorCategory = "cancelled"
)

// Error implements the error interface
func (e *SisyphusError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] ", strings.ToUpper(string(e.Category))))
	sb.WriteString(e.Message)

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if e.HTTPStatus > 0 {
		sb.WriteString(fmt.Sprintf(" (HTTP %d)", e.HTTPStatus))
	}

	return sb.String()
}

// UserMessage returns a formatted message suitable for displaying to operators
func (e *SisyphusError) UserMessage() string {
	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n\n")

	if len(e.Guidance) > 0 {
		sb.WriteString("How to fix:\n")
		for i, guide := range e.Guidance {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, guide))
		}
	}

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("\nTechnical details: %v\n", e.Cause))
	}

	return sb.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility
func (e *SisyphusError) Unwrap() error {
	return e.Cause
}

// Is matches the category sentinels
func (e *SisyphusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Category == CategoryNotFound
	case ErrConflict:
		return e.Category == CategoryConflict
	case ErrCancelled:
		return e.Category == CategoryCancelled
	case ErrConfiguration:
		return e.Category == CategoryConfiguration
	}
	return false
}

// StepError annotates a failure with the label of the checkpointed step it came from
type StepError struct {
	Label string
	RunID string
	Cause error
}

// Error implements the error interface
func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Label, e.Cause)
}

// Unwrap returns the original failure
func (e *StepError) Unwrap() error {
	return e.Cause
}

// FailedStep returns the label of the innermost checkpointed step in err's chain
func FailedStep(err error) (string, bool) {
	label := ""
	for err != nil {
		var stepErr *StepError
		if !errors.As(err, &stepErr) {
			break
		}
		label = stepErr.Label
		err = stepErr.Cause
	}
	return label, label != ""
}

// Catalog Errors

// ErrAnalysisNotFound creates an error for a missing analysis record
func ErrAnalysisNotFound(name string) *SisyphusError {
	return &SisyphusError{
		Category: CategoryNotFound,
		Message:  fmt.Sprintf("Analysis '%s' not found", name),
		Guidance: []string{
			"Check the analysis name is correct",
			"Use 'sisyphus analysis list' to see known analyses",
			"Run 'sisyphus analysis discover' to create analyses for ready libraries",
		},
	}
}

// ErrRecordNotFound creates an error for any other missing catalog record
func ErrRecordNotFound(kind string, key string) *SisyphusError {
	return &SisyphusError{
		Category: CategoryNotFound,
		Message:  fmt.Sprintf("%s '%s' not found", kind, key),
		Guidance: []string{
			fmt.Sprintf("Check that the %s exists in the catalog", kind),
			"Use 'sisyphus catalog load' to import missing records",
		},
	}
}

// ErrDuplicateRecord creates an error for a uniqueness violation in the catalog
func ErrDuplicateRecord(kind string, key string, cause error) *SisyphusError {
	return &SisyphusError{
		Category: CategoryConflict,
		Message:  fmt.Sprintf("%s '%s' already exists", kind, key),
		Cause:    cause,
		Guidance: []string{
			"Another process created the same record concurrently",
			"Fetch the existing record instead of creating a new one",
		},
	}
}

// ErrStaleTransition creates an error when the stored status differs from the expected one
func ErrStaleTransition(name string, from string, to string, actual string) *SisyphusError {
	return &SisyphusError{
		Category: CategoryConflict,
		Message:  fmt.Sprintf("Cannot move analysis '%s' from %s to %s: stored status is %s", name, from, to, actual),
		Guidance: []string{
			"Another process may be running this analysis",
			"Use 'sisyphus analysis list' to check its status",
			"If a previous run failed, reset it with 'sisyphus analysis reset'",
		},
	}
}

// ErrInvalidTransition creates an error for a transition the state table forbids
func ErrInvalidTransition(name string, from string, to string) *SisyphusError {
	return &SisyphusError{
		Category: CategoryState,
		Message:  fmt.Sprintf("Analysis '%s' cannot move from %s to %s", name, from, to),
		Guidance: []string{
			"Valid transitions are idle -> running -> complete | error, and error -> idle by operator reset",
		},
	}
}

// ErrRunLocked creates an error when another process on this host drives the analysis
func ErrRunLocked(name string) *SisyphusError {
	return &SisyphusError{
		Category: CategoryConflict,
		Message:  fmt.Sprintf("Analysis '%s' is currently being run by another process", name),
		Guidance: []string{
			"Wait for the other run to complete",
			"Check for another sisyphus process for this analysis",
		},
		IsRetryable: true,
	}
}

// ErrRunCancelled creates an error for a run stopped by an external signal
func ErrRunCancelled(name string, cause error) *SisyphusError {
	return &SisyphusError{
		Category: CategoryCancelled,
		Message:  fmt.Sprintf("Run of analysis '%s' was cancelled", name),
		Cause:    cause,
		Guidance: []string{
			"The analysis was marked error; reset it to idle before retrying",
		},
	}
}

// Transfer Errors

// ErrTransferFailed creates an error for a failed copy of a tagged batch
func ErrTransferFailed(tag string, from string, to string, cause error) *SisyphusError {
	return &SisyphusError{
		Category: CategoryTransfer,
		Message:  fmt.Sprintf("Transfer of tag '%s' from %s to %s failed", tag, from, to),
		Cause:    cause,
		Guidance: []string{
			fmt.Sprintf("The tag '%s' was left in place for inspection", tag),
			fmt.Sprintf("Retry with 'sisyphus transfer %s --from %s --to %s'", tag, from, to),
		},
	}
}

// Configuration Errors

// ErrInvalidJiraTicket creates an error for a malformed ticket id
func ErrInvalidJiraTicket(ticket string) *SisyphusError {
	return &SisyphusError{
		Category: CategoryConfiguration,
		Message:  fmt.Sprintf("Invalid SC ID: %q", ticket),
		Guidance: []string{
			"Ticket ids look like SC-1234",
		},
	}
}

// ErrUnknownAligner creates an error for an unrecognized pipeline variant
func ErrUnknownAligner(code string) *SisyphusError {
	return &SisyphusError{
		Category: CategoryConfiguration,
		Message:  fmt.Sprintf("Invalid aligner %q; choose A or M", code),
		Guidance: []string{
			"A selects BWA_ALN_0_5_7, M selects BWA_MEM_0_7_6A",
		},
	}
}

// ErrUnknownAnalysisType creates an error for an unrecognized analysis type
func ErrUnknownAnalysisType(analysisType string) *SisyphusError {
	return &SisyphusError{
		Category: CategoryConfiguration,
		Message:  fmt.Sprintf("Unknown analysis type %q", analysisType),
		Guidance: []string{
			"Supported types are align, hmmcopy and pseudobulk",
		},
	}
}

// ErrUnknownTaxonomy creates an error for a library whose reference genome cannot be resolved
func ErrUnknownTaxonomy(libraryID string, taxonomyID string) *SisyphusError {
	return &SisyphusError{
		Category: CategoryConfiguration,
		Message:  fmt.Sprintf("No reference genome for taxonomy %q of library %s", taxonomyID, libraryID),
		Guidance: []string{
			"Supported taxonomy ids are 9606 (HG19) and 10090 (MM10)",
			"Fix the sample taxonomy in the lab catalog",
		},
	}
}

// ErrUnknownStorage creates an error for a storage name with no definition
func ErrUnknownStorage(name string) *SisyphusError {
	return &SisyphusError{
		Category: CategoryConfiguration,
		Message:  fmt.Sprintf("Storage %q is not defined", name),
		Guidance: []string{
			"Add the storage under storages.definitions in sisyphus.yaml",
		},
	}
}

// ErrInvalidConfig creates an error for configuration validation failures
func ErrInvalidConfig(field string, reason string) *SisyphusError {
	return &SisyphusError{
		Category: CategoryConfiguration,
		Message:  fmt.Sprintf("Invalid configuration: %s", reason),
		Guidance: []string{
			fmt.Sprintf("Check the '%s' field in your config file", field),
			"Ensure all required fields are populated",
		},
	}
}

// Service Errors

// ErrNetworkUnreachable creates an error for network connectivity issues
func ErrNetworkUnreachable(url string, cause error) *SisyphusError {
	return &SisyphusError{
		Category: CategoryNetwork,
		Message:  fmt.Sprintf("Cannot reach service at %s", url),
		Cause:    cause,
		Guidance: []string{
			"Check that the service is running",
			fmt.Sprintf("Verify the URL is correct: %s", url),
			"Check your network connection",
		},
		IsRetryable: true,
	}
}

// ErrServiceUnavailable creates an error for 5xx service errors
func ErrServiceUnavailable(serviceName string, statusCode int, cause error) *SisyphusError {
	return &SisyphusError{
		Category:   CategoryService,
		Message:    fmt.Sprintf("%s service is temporarily unavailable", serviceName),
		Cause:      cause,
		HTTPStatus: statusCode,
		Guidance: []string{
			"The service may be experiencing issues",
			fmt.Sprintf("Check %s service health", serviceName),
		},
		IsRetryable: true,
	}
}

// ErrServiceBadRequest creates an error for 4xx client errors
func ErrServiceBadRequest(serviceName string, statusCode int, message string) *SisyphusError {
	return &SisyphusError{
		Category:   CategoryService,
		Message:    fmt.Sprintf("%s rejected the request: %s", serviceName, message),
		HTTPStatus: statusCode,
		Guidance: []string{
			"The request sent to the service was invalid or unauthorized",
			"Check credentials and ticket ids",
		},
	}
}

// Helper Functions

// WrapError wraps a standard error with SisyphusError context
func WrapError(category ErrorCategory, message string, cause error, guidance ...string) *SisyphusError {
	return &SisyphusError{
		Category:    category,
		Message:     message,
		Cause:       cause,
		Guidance:    guidance,
		IsRetryable: IsNetworkError(cause),
	}
}

// ClassifyError examines an error and returns appropriate operator guidance
func ClassifyError(err error) *SisyphusError {
	if err == nil {
		return nil
	}

	var sErr *SisyphusError
	if errors.As(err, &sErr) {
		if label, ok := FailedStep(err); ok && sErr.Category != CategoryStep {
			return &SisyphusError{
				Category: sErr.Category,
				Message:  fmt.Sprintf("%s (step: %s)", sErr.Message, label),
				Cause:    sErr.Cause,
				Guidance: sErr.Guidance,
			}
		}
		return sErr
	}

	if label, ok := FailedStep(err); ok {
		return &SisyphusError{
			Category: CategoryStep,
			Message:  fmt.Sprintf("Step '%s' failed", label),
			Cause:    errors.Unwrap(err),
			Guidance: []string{"Check the run log for the step's full error", "The analysis was marked error"},
		}
	}

	if IsNetworkError(err) {
		return &SisyphusError{
			Category:    CategoryNetwork,
			Message:     "Network connectivity issue",
			Cause:       err,
			Guidance:    []string{"Check network connection", "Verify service is running"},
			IsRetryable: true,
		}
	}

	return &SisyphusError{
		Category: CategoryStep,
		Message:  "An error occurred",
		Cause:    err,
		Guidance: []string{"Check the technical details below", "See logs for more information"},
	}
}
