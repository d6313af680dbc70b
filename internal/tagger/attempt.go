package tagger

import "fmt"

type attemptState int

// One mutation attempt moves strictly forward through these states.
// No path reaches written without passing backedUp first.
const (
	unstarted attemptState = iota
	validated
	backedUp
	written
	verified
	rolledBack
	restoreFailed
)

// attempt tracks a single ApplyFields call. It lives only for the
// duration of that call and is never shared.
type attempt struct {
	path         string
	backupPath   string
	originalSize int64
	state        attemptState
}

func (s attemptState) String() string {
	switch s {
	case unstarted:
		return "UNSTARTED"
	case validated:
		return "VALIDATED"
	case backedUp:
		return "BACKED_UP"
	case written:
		return "WRITTEN"
	case verified:
		return "VERIFIED"
	case rolledBack:
		return "ROLLED_BACK"
	case restoreFailed:
		return "RESTORE_FAILED"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}
