package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcpherson/cadenza/internal/fault"
	"github.com/mmcpherson/cadenza/pkg/logger"
	"github.com/rjeczalik/notify"
)

var log = logger.Get("Monitor")

// probeFileName is the marker file created (then removed) to confirm
// the watch directory is actually writable, rather than trusting a
// bare stat call.
const probeFileName = ".cadenza_probe"

// recentWriteWindow guards against write events for long-lived files;
// a file first observed via a write event is only tracked when it was
// modified within this window.
const recentWriteWindow = 5 * time.Minute

type (
	// WatchTarget describes a single monitoring session: the directory
	// being observed and the file extension being matched. Immutable
	// for the lifetime of the session.
	WatchTarget struct {
		Directory string
		Extension string
	}

	// Service watches a directory for newly-downloaded files and
	// decides, per candidate, when a file is fully written. The OS
	// watcher pushes paths into the candidate set from its own
	// goroutine; the stabilization loop in AwaitNewFile consumes them,
	// so every access to the set goes through the mutex.
	Service struct {
		mu           sync.Mutex
		target       WatchTarget
		config       Config
		candidates   map[string]*candidate
		events       chan notify.EventInfo
		observerDone chan struct{}
		watching     bool
	}
)

// New constructs a monitor service for the directory and extension
// carried by the config. No filesystem resources are acquired until
// StartWatching is called.
func New(config Config) *Service {
	return &Service{
		target:     WatchTarget{Directory: config.WatchDirectory, Extension: config.TargetExtension},
		config:     config,
		candidates: make(map[string]*candidate),
	}
}

func (service *Service) Target() WatchTarget { return service.target }

// StartWatching begins observing the target directory for file
// creation and write events. The directory must exist and pass a
// write-probe (create then delete a marker file) before the watch is
// established. Calling StartWatching while already active is a no-op.
func (service *Service) StartWatching() error {
	service.mu.Lock()
	defer service.mu.Unlock()

	if service.watching {
		return nil
	}

	dir := service.target.Directory
	if info, err := os.Stat(dir); err != nil {
		return fault.Wrap(fault.FileSystemAccess, fault.StageAwaitingFile,
			fmt.Errorf("watch directory %s is not accessible: %w", dir, err))
	} else if !info.IsDir() {
		return fault.New(fault.FileSystemAccess, fault.StageAwaitingFile,
			"watch path %s is not a directory", dir)
	}

	if err := service.writeProbe(dir); err != nil {
		return fault.Wrap(fault.FileSystemAccess, fault.StageAwaitingFile,
			fmt.Errorf("watch directory %s failed write probe: %w", dir, err))
	}

	events := make(chan notify.EventInfo, 32)
	if err := notify.Watch(dir, events, notify.Create, notify.Write); err != nil {
		return fault.Wrap(fault.FileSystemAccess, fault.StageAwaitingFile,
			fmt.Errorf("unable to watch directory %s: %w", dir, err))
	}

	service.events = events
	service.observerDone = make(chan struct{})
	service.watching = true

	go service.observe(events, service.observerDone)

	log.Emit(logger.NEW, "Watching %s for new '%s' files\n", dir, service.target.Extension)
	return nil
}

// StopWatching halts directory observation and releases the underlying
// watch. Safe to call multiple times, including before StartWatching.
func (service *Service) StopWatching() {
	service.mu.Lock()
	defer service.mu.Unlock()

	if !service.watching {
		return
	}

	notify.Stop(service.events)
	close(service.observerDone)
	service.watching = false
	service.events = nil
	service.observerDone = nil

	log.Emit(logger.STOP, "Stopped watching %s\n", service.target.Directory)
}

// Watching reports whether a watch is currently active.
func (service *Service) Watching() bool {
	service.mu.Lock()
	defer service.mu.Unlock()

	return service.watching
}

// Reset drops all candidate bookkeeping. Intended for callers reusing
// one service across workflow runs.
func (service *Service) Reset() {
	service.mu.Lock()
	defer service.mu.Unlock()

	service.candidates = make(map[string]*candidate)
}

// AwaitNewFile blocks until a matching file has been detected and
// judged stable, the timeout elapses, or ctx is cancelled. A timeout
// is not an error: the second return value is false and callers are
// expected to fall back to RecentFiles. A definitive candidate failure
// observed during the wait (file vanished mid-poll, stabilization
// ceiling exceeded, persistent I/O errors) is surfaced as a classified
// error only if no other candidate stabilizes before the deadline.
func (service *Service) AwaitNewFile(ctx context.Context, timeout time.Duration) (string, bool, error) {
	if !service.Watching() {
		return "", false, fault.New(fault.FileSystemAccess, fault.StageAwaitingFile,
			"monitoring is not active; call StartWatching first")
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastFailure error
	for {
		if path, err := service.pollCandidates(); path != "" {
			return path, true, nil
		} else if err != nil {
			lastFailure = err
		}

		// Every tracked candidate has been resolved and at least one
		// failed definitively; waiting out the rest of the timeout
		// cannot change the outcome.
		if lastFailure != nil && service.unresolvedCandidates() == 0 {
			return "", false, lastFailure
		}

		if time.Now().After(deadline) {
			if lastFailure != nil {
				return "", false, lastFailure
			}

			log.Emit(logger.WARNING, "No stable file observed within %s\n", timeout)
			return "", false, nil
		}

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CollectStable drains every candidate currently being tracked,
// polling until each one either stabilizes or definitively fails, and
// returns the paths of all stable files. Used by callers expecting
// multiple simultaneous downloads to complete.
func (service *Service) CollectStable(ctx context.Context) []string {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for service.unresolvedCandidates() > 0 {
		service.pollCandidates()

		select {
		case <-ctx.Done():
			return service.stablePaths()
		case <-ticker.C:
		}
	}

	return service.stablePaths()
}

// RecentFiles scans the watched directory (non-recursively) for
// matching files modified within the lookback window, newest first.
// This is the fallback path for when no filesystem event arrived; note
// it can select a file unrelated to the current request if another
// download landed within the window.
func (service *Service) RecentFiles(lookback time.Duration) []string {
	entries, err := os.ReadDir(service.target.Directory)
	if err != nil {
		log.Emit(logger.ERROR, "Fallback scan of %s failed: %s\n", service.target.Directory, err.Error())
		return nil
	}

	cutoff := time.Now().Add(-lookback)

	type recent struct {
		path    string
		modTime time.Time
	}
	found := make([]recent, 0)
	for _, entry := range entries {
		if entry.IsDir() || !service.matchesExtension(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().After(cutoff) {
			found = append(found, recent{
				path:    filepath.Join(service.target.Directory, entry.Name()),
				modTime: info.ModTime(),
			})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].modTime.After(found[j].modTime) })

	paths := make([]string, len(found))
	for i, f := range found {
		paths[i] = f.path
	}

	return paths
}

// observe consumes OS watch events and records matching paths as
// candidates. Runs on its own goroutine until the watch is stopped.
func (service *Service) observe(events chan notify.EventInfo, done chan struct{}) {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			service.handleEvent(event)
		case <-done:
			return
		}
	}
}

func (service *Service) handleEvent(event notify.EventInfo) {
	path := event.Path()
	if !service.matchesExtension(path) {
		return
	}

	// Write events fire for any modification; only treat them as a
	// new-download signal when the file itself is recent.
	if event.Event() == notify.Write {
		info, err := os.Stat(path)
		if err != nil || time.Since(info.ModTime()) > recentWriteWindow {
			return
		}
	}

	service.recordCandidate(path)
}

// recordCandidate inserts a path into the candidate set. Insertion is
// idempotent: a path already being tracked is never duplicated.
func (service *Service) recordCandidate(path string) {
	service.mu.Lock()
	defer service.mu.Unlock()

	if _, exists := service.candidates[path]; exists {
		return
	}

	log.Emit(logger.NEW, "Candidate file detected: %s\n", path)
	service.candidates[path] = newCandidate(path)
}

// pollCandidates runs one stabilization pass over every unresolved
// candidate. It returns the path of the first candidate to stabilize,
// or the most recent definitive failure encountered this pass.
func (service *Service) pollCandidates() (string, error) {
	service.mu.Lock()
	defer service.mu.Unlock()

	var failure error
	for _, cand := range service.candidates {
		if cand.stable || cand.failed {
			continue
		}

		stable, err := cand.poll(service.config.StabilizeCeilingSeconds)
		if err != nil {
			log.Emit(logger.ERROR, "Candidate %s failed: %s\n", cand.path, err.Error())
			failure = err
			continue
		}

		if stable {
			log.Emit(logger.SUCCESS, "Candidate %s is stable\n", cand.path)
			return cand.path, nil
		}
	}

	return "", failure
}

func (service *Service) unresolvedCandidates() int {
	service.mu.Lock()
	defer service.mu.Unlock()

	count := 0
	for _, cand := range service.candidates {
		if !cand.stable && !cand.failed {
			count++
		}
	}

	return count
}

func (service *Service) stablePaths() []string {
	service.mu.Lock()
	defer service.mu.Unlock()

	paths := make([]string, 0)
	for _, cand := range service.candidates {
		if cand.stable {
			paths = append(paths, cand.path)
		}
	}

	sort.Strings(paths)
	return paths
}

func (service *Service) matchesExtension(path string) bool {
	return strings.EqualFold(filepath.Ext(path), service.target.Extension)
}

func (service *Service) writeProbe(dir string) error {
	probe := filepath.Join(dir, probeFileName)
	f, err := os.Create(probe)
	if err != nil {
		return err
	}

	if _, err := f.WriteString("probe"); err != nil {
		f.Close()
		os.Remove(probe)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(probe)
		return err
	}

	return os.Remove(probe)
}
