// Package internal wires the Cadenza services together: the monitor
// watching for the completed download, the tagger mutating its
// metadata, the remote trigger driving the converter, and the workflow
// orchestrating the three.
package internal

import (
	"context"

	"github.com/mmcpherson/cadenza/internal/fault"
	"github.com/mmcpherson/cadenza/internal/monitor"
	"github.com/mmcpherson/cadenza/internal/tagger"
	"github.com/mmcpherson/cadenza/internal/trigger"
	"github.com/mmcpherson/cadenza/internal/workflow"
	"github.com/mmcpherson/cadenza/pkg/logger"
)

var log = logger.Get("Cadenza")

type Cadenza struct {
	config   CadenzaConfig
	monitor  *monitor.Service
	tagger   *tagger.Service
	workflow *workflow.Service
}

// New composes the application from its configuration. The progress
// sink may be nil, in which case milestones go to the logger.
func New(config CadenzaConfig, sink workflow.ProgressSink) *Cadenza {
	mon := monitor.New(config.Monitor)
	tag := tagger.New()
	trig := trigger.New(config.Trigger)

	return &Cadenza{
		config:   config,
		monitor:  mon,
		tagger:   tag,
		workflow: workflow.New(config.Workflow, trig, mon, tag, sink),
	}
}

func (cadenza *Cadenza) Workflow() *workflow.Service { return cadenza.workflow }
func (cadenza *Cadenza) Tagger() *tagger.Service     { return cadenza.tagger }

// RunOnce submits a single workflow and blocks until it reaches a
// terminal state or ctx is cancelled. On cancellation the in-flight
// workflow is cancelled and its cleanup awaited before returning.
func (cadenza *Cadenza) RunOnce(ctx context.Context, request workflow.Request) *fault.Classified {
	if err := cadenza.workflow.Submit(request); err != nil {
		if classified, ok := err.(*fault.Classified); ok {
			return classified
		}
		return fault.Wrap(fault.InputValidation, fault.StageSubmit, err)
	}

	finished := make(chan *fault.Classified, 1)
	go func() { finished <- cadenza.workflow.Wait() }()

	select {
	case result := <-finished:
		return result
	case <-ctx.Done():
		log.Emit(logger.STOP, "Interrupt received; cancelling in-flight workflow\n")
		cadenza.workflow.Cancel()
		return <-finished
	}
}
