package fault

import (
	"errors"
	"fmt"
)

type (
	// Kind enumerates the failure taxonomy used across every Cadenza
	// service. Each failure surfaced to the workflow carries exactly
	// one of these.
	Kind int

	// Stage identifies which part of the pipeline a failure originated
	// from, so callers can display stage-specific guidance.
	Stage int

	// Classified is a structured error carrying a taxonomy kind, the
	// originating stage, and whether retrying the operation is a
	// sensible course of action for the caller.
	Classified struct {
		error
		kind      Kind
		stage     Stage
		retryable bool
	}
)

const (
	InputValidation Kind = iota
	RemoteUnreachable
	RemoteElementMissing
	RemoteAutomationUnavailable
	DownloadTimeout
	FileSystemAccess
	TagValidationFailed
	BackupFailed
	MutationFailed
	// RestoreFailed is critical: the original file's integrity is
	// uncertain. It must never be coalesced with MutationFailed.
	RestoreFailed
	WorkflowAlreadyRunning
)

const (
	StageSubmit Stage = iota
	StageTriggering
	StageAwaitingFile
	StageMutating
)

// retryableKinds holds the kinds for which a caller-driven retry can
// plausibly succeed. Validation and mutation failures are never
// retried; remote/network conditions may clear up.
var retryableKinds = map[Kind]bool{
	RemoteUnreachable:    true,
	RemoteElementMissing: true,
	DownloadTimeout:      true,
}

func (k Kind) String() string {
	switch k {
	case InputValidation:
		return "INPUT_VALIDATION"
	case RemoteUnreachable:
		return "REMOTE_UNREACHABLE"
	case RemoteElementMissing:
		return "REMOTE_ELEMENT_MISSING"
	case RemoteAutomationUnavailable:
		return "REMOTE_AUTOMATION_UNAVAILABLE"
	case DownloadTimeout:
		return "DOWNLOAD_TIMEOUT"
	case FileSystemAccess:
		return "FILE_SYSTEM_ACCESS"
	case TagValidationFailed:
		return "TAG_VALIDATION_FAILED"
	case BackupFailed:
		return "BACKUP_FAILED"
	case MutationFailed:
		return "MUTATION_FAILED"
	case RestoreFailed:
		return "RESTORE_FAILED"
	case WorkflowAlreadyRunning:
		return "WORKFLOW_ALREADY_RUNNING"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", k)
	}
}

func (s Stage) String() string {
	switch s {
	case StageSubmit:
		return "submit"
	case StageTriggering:
		return "triggering"
	case StageAwaitingFile:
		return "awaiting_file"
	case StageMutating:
		return "mutating"
	default:
		return fmt.Sprintf("unknown[%d]", s)
	}
}

// New constructs a Classified from a formatted message.
func New(kind Kind, stage Stage, format string, interpolations ...interface{}) *Classified {
	return &Classified{
		error:     fmt.Errorf(format, interpolations...),
		kind:      kind,
		stage:     stage,
		retryable: retryableKinds[kind],
	}
}

// Wrap classifies an existing error, preserving it for errors.Is/As
// chains. A nil err yields a nil result.
func Wrap(kind Kind, stage Stage, err error) *Classified {
	if err == nil {
		return nil
	}

	return &Classified{
		error:     err,
		kind:      kind,
		stage:     stage,
		retryable: retryableKinds[kind],
	}
}

func (c *Classified) Kind() Kind      { return c.kind }
func (c *Classified) Stage() Stage    { return c.stage }
func (c *Classified) Retryable() bool { return c.retryable }

// Critical reports whether this failure implies possible data loss.
func (c *Classified) Critical() bool { return c.kind == RestoreFailed }

func (c *Classified) Error() string {
	return fmt.Sprintf("%s (%s): %s", c.kind, c.stage, c.error.Error())
}

func (c *Classified) Unwrap() error { return c.error }

// WithStage returns a copy of this error re-attributed to the stage
// provided. Used by the workflow when propagating a service failure
// that was constructed without stage context.
func (c *Classified) WithStage(stage Stage) *Classified {
	return &Classified{error: c.error, kind: c.kind, stage: stage, retryable: c.retryable}
}

// KindOf extracts the taxonomy kind from an error chain. The boolean
// is false when no Classified is present in the chain.
func KindOf(err error) (Kind, bool) {
	var classified *Classified
	if errors.As(err, &classified) {
		return classified.kind, true
	}

	return 0, false
}

// IsKind reports whether the error chain contains a Classified of the
// kind provided.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
