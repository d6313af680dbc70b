package workflow

import "github.com/mmcpherson/cadenza/pkg/logger"

// ProgressSink receives (message, percent) milestones over the course
// of one workflow run. Percent values are monotonically non-decreasing
// within a run.
type ProgressSink interface {
	Report(message string, percent int)
}

// Milestone percentages, in run order.
const (
	progressStart     = 0
	progressTriggered = 25
	progressAwaiting  = 30
	progressFileFound = 60
	progressMutating  = 70
	progressDone      = 100
)

// LogSink is the default ProgressSink; it forwards milestones to the
// workflow logger.
type LogSink struct{}

func (LogSink) Report(message string, percent int) {
	log.Emit(logger.INFO, "[%3d%%] %s\n", percent, message)
}
