// Package workflow sequences one download-and-tag run: trigger the
// remote conversion, await the completed file, mutate its tags, and
// report the outcome. The stage sequence runs on a dedicated goroutine
// so the caller is never blocked, with single-flight enforcement and
// guaranteed cleanup on every exit path.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mmcpherson/cadenza/internal/fault"
	"github.com/mmcpherson/cadenza/internal/tagger"
	"github.com/mmcpherson/cadenza/internal/trigger"
	"github.com/mmcpherson/cadenza/pkg/logger"
)

var log = logger.Get("Workflow")

// MaxRetryAttempts is the advisory cap on caller-driven retries of a
// failed workflow. The orchestrator itself never re-invokes a stage.
const MaxRetryAttempts = 3

type (
	// detector is the slice of the monitor service the workflow needs.
	detector interface {
		Reset()
		StartWatching() error
		AwaitNewFile(ctx context.Context, timeout time.Duration) (string, bool, error)
		RecentFiles(lookback time.Duration) []string
		StopWatching()
	}

	// mutator is the slice of the tagger the workflow needs.
	mutator interface {
		ApplyFields(path string, fields tagger.Fields) error
	}

	// Request describes one workflow invocation: the source media URL
	// and the metadata to stamp onto the downloaded file.
	Request struct {
		SourceURL string        `validate:"required,url"`
		Fields    tagger.Fields `validate:"required"`
	}

	Config struct {
		DownloadTimeoutSeconds  int `yaml:"download_timeout_seconds" env:"CADENZA_DOWNLOAD_TIMEOUT" env-default:"300"`
		FallbackLookbackMinutes int `yaml:"fallback_lookback_minutes" env:"CADENZA_FALLBACK_LOOKBACK" env-default:"10"`
	}

	// Service owns the workflow state machine. All state transitions
	// go through the mutex; the stage sequence itself runs on the
	// worker goroutine spawned by Submit.
	Service struct {
		mu        sync.Mutex
		state     State
		runID     uuid.UUID
		runCancel context.CancelFunc
		runDone   chan struct{}
		lastErr   *fault.Classified
		cleanupOK bool

		config   Config
		trigger  trigger.Trigger
		detector detector
		mutator  mutator
		sink     ProgressSink
		validate *validator.Validate

		// resultPath is the mutated file's path after a successful run.
		resultPath string
	}
)

func New(config Config, trig trigger.Trigger, det detector, mut mutator, sink ProgressSink) *Service {
	if sink == nil {
		sink = LogSink{}
	}

	return &Service{
		state:    Idle,
		config:   config,
		trigger:  trig,
		detector: det,
		mutator:  mut,
		sink:     sink,
		validate: validator.New(),
	}
}

// Submit validates the request and, if no workflow is in flight,
// begins asynchronous execution. A request arriving while a run is
// active is rejected immediately with no side effects.
func (service *Service) Submit(request Request) error {
	service.mu.Lock()
	defer service.mu.Unlock()

	if !service.state.terminal() {
		return fault.New(fault.WorkflowAlreadyRunning, fault.StageSubmit,
			"a workflow is already in flight (state %s)", service.state)
	}

	if err := service.validate.Struct(request); err != nil {
		return fault.Wrap(fault.InputValidation, fault.StageSubmit,
			fmt.Errorf("invalid workflow request: %w", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	service.state = Triggering
	service.runID = uuid.New()
	service.runCancel = cancel
	service.runDone = done
	service.lastErr = nil
	service.resultPath = ""

	log.Emit(logger.NEW, "Workflow %s submitted for %s\n", service.runID, request.SourceURL)
	go service.run(ctx, request, done)

	return nil
}

// Retry re-submits a request after a failed run. Retrying is a caller
// decision; this is a thin entry point over Submit that exists to make
// that contract explicit.
func (service *Service) Retry(request Request) error {
	log.Emit(logger.INFO, "Retrying workflow for %s\n", request.SourceURL)
	return service.Submit(request)
}

// Cancel aborts an in-flight workflow, waits for its worker to finish
// the shared cleanup path, and reports whether cleanup succeeded.
// Cancelling when nothing is in flight is a successful no-op.
func (service *Service) Cancel() bool {
	service.mu.Lock()
	if service.state.terminal() {
		service.mu.Unlock()
		return true
	}

	cancel := service.runCancel
	done := service.runDone
	service.mu.Unlock()

	cancel()
	<-done

	service.mu.Lock()
	defer service.mu.Unlock()
	return service.cleanupOK
}

// Wait blocks until the in-flight workflow (if any) reaches a terminal
// state, returning the run's classified error, or nil on success.
func (service *Service) Wait() *fault.Classified {
	service.mu.Lock()
	done := service.runDone
	service.mu.Unlock()

	if done != nil {
		<-done
	}

	service.mu.Lock()
	defer service.mu.Unlock()
	return service.lastErr
}

func (service *Service) State() State {
	service.mu.Lock()
	defer service.mu.Unlock()
	return service.state
}

// LastError returns the classified error of the most recent run, nil
// if it succeeded or no run has happened.
func (service *Service) LastError() *fault.Classified {
	service.mu.Lock()
	defer service.mu.Unlock()
	return service.lastErr
}

// ResultPath returns the path of the mutated file after a successful
// run, empty otherwise.
func (service *Service) ResultPath() string {
	service.mu.Lock()
	defer service.mu.Unlock()
	return service.resultPath
}

// run executes the stage sequence. The deferred cleanup stops the
// detector and closes the trigger session exactly once, regardless of
// which stage failed; both operations are idempotent. done belongs to
// this run alone: cleanup publishes a terminal state before the worker
// exits, so a new submission may already have replaced runDone by the
// time the close fires.
func (service *Service) run(ctx context.Context, request Request, done chan struct{}) {
	var failure *fault.Classified

	defer func() {
		service.cleanup(failure)
		close(done)
	}()

	service.sink.Report("Starting workflow", progressStart)

	if failure = service.stageTrigger(ctx, request.SourceURL); failure != nil {
		return
	}
	service.sink.Report("Remote conversion triggered", progressTriggered)

	service.setState(AwaitingFile)
	service.sink.Report("Awaiting completed download", progressAwaiting)

	path, failure := service.stageAwaitFile(ctx)
	if failure != nil {
		return
	}
	service.sink.Report(fmt.Sprintf("Download complete: %s", path), progressFileFound)

	service.setState(Mutating)
	service.sink.Report("Applying metadata", progressMutating)

	if failure = service.stageMutate(path, request.Fields); failure != nil {
		return
	}

	service.mu.Lock()
	service.resultPath = path
	service.mu.Unlock()

	service.sink.Report("Done", progressDone)
}

func (service *Service) stageTrigger(ctx context.Context, sourceURL string) *fault.Classified {
	if err := service.trigger.Open(ctx); err != nil {
		return service.classify(err, fault.RemoteAutomationUnavailable, fault.StageTriggering)
	}

	if err := service.trigger.PerformRemoteConversion(ctx, sourceURL); err != nil {
		return service.classify(err, fault.RemoteUnreachable, fault.StageTriggering)
	}

	return nil
}

func (service *Service) stageAwaitFile(ctx context.Context) (string, *fault.Classified) {
	// Drop candidate bookkeeping left over from a previous run before
	// the watch goes live.
	service.detector.Reset()

	if err := service.detector.StartWatching(); err != nil {
		return "", service.classify(err, fault.FileSystemAccess, fault.StageAwaitingFile)
	}

	timeout := time.Duration(service.config.DownloadTimeoutSeconds) * time.Second
	path, found, err := service.detector.AwaitNewFile(ctx, timeout)
	if err != nil {
		return "", service.classify(err, fault.FileSystemAccess, fault.StageAwaitingFile)
	}

	if found {
		return path, nil
	}

	// No event-based detection before the deadline; fall back to a
	// scan of recently-created files and take the newest. This can
	// pick up an unrelated file if another download landed in the
	// same window.
	lookback := time.Duration(service.config.FallbackLookbackMinutes) * time.Minute
	if recent := service.detector.RecentFiles(lookback); len(recent) > 0 {
		log.Emit(logger.WARNING, "Falling back to most recent file: %s\n", recent[0])
		return recent[0], nil
	}

	return "", fault.New(fault.DownloadTimeout, fault.StageAwaitingFile,
		"no download detected within %s", timeout)
}

func (service *Service) stageMutate(path string, fields tagger.Fields) *fault.Classified {
	if err := service.mutator.ApplyFields(path, fields); err != nil {
		return service.classify(err, fault.MutationFailed, fault.StageMutating)
	}

	return nil
}

// classify normalizes a stage error into a Classified attributed to
// the stage it arose in. Errors that are already classified keep their
// kind; raw errors (including context cancellation) adopt the stage's
// default kind.
func (service *Service) classify(err error, defaultKind fault.Kind, stage fault.Stage) *fault.Classified {
	var classified *fault.Classified
	if errors.As(err, &classified) {
		return classified.WithStage(stage)
	}

	return fault.Wrap(defaultKind, stage, err)
}

// cleanup is the single exit path for every run: release held
// resources, then settle the terminal state and report it.
func (service *Service) cleanup(failure *fault.Classified) {
	service.detector.StopWatching()
	closeErr := service.trigger.Close()
	if closeErr != nil {
		log.Emit(logger.ERROR, "Trigger session close failed: %s\n", closeErr.Error())
	}

	service.mu.Lock()
	service.cleanupOK = closeErr == nil
	service.lastErr = failure
	if failure == nil {
		service.state = Succeeded
	} else {
		service.state = Failed
	}
	state := service.state
	runID := service.runID
	service.mu.Unlock()

	if failure != nil {
		service.sink.Report(fmt.Sprintf("Workflow failed: %s", failure.Error()), progressDone)
		log.Emit(logger.ERROR, "Workflow %s finished in state %s: %s\n", runID, state, failure.Error())
		return
	}

	log.Emit(logger.SUCCESS, "Workflow %s finished in state %s\n", runID, state)
}

func (service *Service) setState(state State) {
	service.mu.Lock()
	defer service.mu.Unlock()
	service.state = state
}
