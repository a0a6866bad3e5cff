package types

import "errors"

// Sentinel errors shared across orchestrator packages. Using sentinels
// instead of ad-hoc fmt.Errorf allows callers to match with errors.Is.
var (
	// ErrValidation is the base sentinel for malformed input: bad RunId,
	// empty/oversize briefing, NUL bytes, out-of-range config, unknown
	// agent/model enum. Wrap with fmt.Errorf("...: %w", ErrValidation).
	ErrValidation = errors.New("validation error")

	// ErrPathTraversal is returned when a computed path would escape its
	// configured root directory.
	ErrPathTraversal = errors.New("path traversal rejected")

	// ErrStateNotFound is returned when no state.json exists for a run.
	ErrStateNotFound = errors.New("run state not found")

	// ErrRunNotFound is returned when a run directory does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunBusy is returned by Orchestrator.start_run when another run is
	// already active in the workspace.
	ErrRunBusy = errors.New("a run is already active in this workspace")

	// ErrRunNotDeletable is returned when delete_run is called on a run
	// whose phase is not completed or failed.
	ErrRunNotDeletable = errors.New("run is still active; cannot delete")

	// ErrCRPNotFound is returned when a CRP id cannot be located.
	ErrCRPNotFound = errors.New("crp not found")

	// ErrVCRRequiredAnswerMissing is returned at VCR intake when a
	// multi-question CRP's required question has no answer.
	ErrVCRRequiredAnswerMissing = errors.New("vcr missing answer for required question")

	// ErrNotWaitingHuman is returned by resume_run when phase != waiting_human.
	ErrNotWaitingHuman = errors.New("run is not waiting on a human response")

	// ErrUnrecoverable marks a worker error classified as non-recoverable
	// by RetryPolicy/RecoveryStrategies.
	ErrUnrecoverable = errors.New("unrecoverable worker error")
)
