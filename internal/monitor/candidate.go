package monitor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/mmcpherson/cadenza/internal/fault"
	"github.com/mmcpherson/cadenza/internal/media"
)

// pollInterval is the cadence of stabilization checks. One poll per
// second means the fastest possible stabilization is three seconds
// after a file stops growing.
const pollInterval = time.Second

// requiredStablePolls is the number of consecutive unchanged-size
// observations needed before the header check runs.
const requiredStablePolls = 3

// candidate tracks one detected file through the stabilization
// heuristic. All fields are guarded by the owning service's mutex.
type candidate struct {
	path      string
	firstSeen time.Time

	lastSize  int64
	stableFor int
	polls     int
	ioErrors  int

	stable bool
	failed bool
}

func newCandidate(path string) *candidate {
	return &candidate{path: path, firstSeen: time.Now(), lastSize: -1}
}

// poll performs a single stabilization observation:
//   - the file's size is compared against the previous poll; three
//     consecutive unchanged observations of a non-empty file make it
//     size-stable
//   - a size-stable file must then present a known MP3 signature in
//     its leading bytes; a miss resets the counter, since trailing
//     metadata may still be appended
//   - the whole loop is bounded by ceilingSeconds polls; exceeding it
//     marks the candidate failed rather than silently giving up
//
// A file that vanishes mid-poll is a definitive failure. Transient
// open errors (the file momentarily locked) are tolerated until the
// final permitted poll.
func (c *candidate) poll(ceilingSeconds int) (bool, error) {
	c.polls++
	finalAttempt := c.polls >= ceilingSeconds

	info, err := os.Stat(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.failed = true
			return false, fault.Wrap(fault.FileSystemAccess, fault.StageAwaitingFile,
				fmt.Errorf("candidate %s was removed mid-poll: %w", c.path, err))
		}

		return false, c.tolerate(err, finalAttempt)
	}

	size := info.Size()
	if size == c.lastSize && size > 0 {
		c.stableFor++
	} else {
		c.stableFor = 0
		c.lastSize = size
	}

	if c.stableFor >= requiredStablePolls {
		header, err := media.ReadHeader(c.path)
		if err != nil {
			return false, c.tolerate(err, finalAttempt)
		}

		if media.SniffMP3(header) {
			c.stable = true
			return true, nil
		}

		// Valid-looking size but no recognizable signature yet; the
		// file may still be receiving trailing data.
		c.stableFor = 0
	}

	if finalAttempt {
		c.failed = true
		return false, fault.New(fault.DownloadTimeout, fault.StageAwaitingFile,
			"file %s did not stabilize within %d seconds", c.path, ceilingSeconds)
	}

	return false, nil
}

// tolerate absorbs a transient I/O error unless this was the final
// permitted attempt, in which case the candidate fails with it.
func (c *candidate) tolerate(err error, finalAttempt bool) error {
	c.ioErrors++
	if !finalAttempt {
		return nil
	}

	c.failed = true
	return fault.Wrap(fault.FileSystemAccess, fault.StageAwaitingFile,
		fmt.Errorf("persistent error polling %s after %d attempts: %w", c.path, c.polls, err))
}
