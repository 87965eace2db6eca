package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/oshokin/shake-guard/internal/config"
	"github.com/oshokin/shake-guard/internal/domain/shake"
	"github.com/oshokin/shake-guard/internal/logger"
)

// Resolver supplies the location for a request.
type Resolver interface {
	Resolve(ctx context.Context, strategy config.LocationStrategy) shake.Fix
}

// Sender performs a single alert attempt.
type Sender interface {
	Permitted() bool
	Dispatch(ctx context.Context, req shake.AlertRequest) shake.Outcome
}

// Reporter receives exactly one report per submitted request, including
// requests dropped before they could be dispatched.
type Reporter func(ctx context.Context, report shake.Report)

const (
	// ReasonReplaced marks a pending request superseded by a newer shake.
	ReasonReplaced = "replaced by a newer shake"
	// ReasonClosed marks a pending request dropped by Close.
	ReasonClosed = "service stopped"
)

// droppedRequest is a request that left the slot without being dispatched.
type droppedRequest struct {
	// req is the dropped request.
	req shake.AlertRequest
	// reason explains the drop.
	reason string
}

// Pipeline turns alert requests into dispatches with at most one in flight.
// A request submitted while another is in flight becomes the single pending
// follow-up, replacing any earlier pending request.
type Pipeline struct {
	// resolver enriches requests with a location.
	resolver Resolver
	// sender performs the dispatch.
	sender Sender
	// strategy is the location strategy used for every request.
	strategy config.LocationStrategy
	// report receives outcomes.
	report Reporter
	// onReplace is called when a pending request is replaced.
	onReplace func()

	// mu guards the dispatch slot below.
	mu sync.Mutex
	// inFlight is set while a worker goroutine owns the slot.
	inFlight bool
	// pending is the follow-up request, if any.
	pending *shake.AlertRequest
	// dropped holds requests awaiting a discard report from the worker.
	dropped []droppedRequest
	// closed rejects new submissions.
	closed bool
	// wg tracks the worker goroutine.
	wg sync.WaitGroup
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithReporter sets the outcome receiver.
func WithReporter(report Reporter) PipelineOption {
	return func(p *Pipeline) {
		if report != nil {
			p.report = report
		}
	}
}

// WithReplaceHook sets a callback for replaced pending requests.
func WithReplaceHook(hook func()) PipelineOption {
	return func(p *Pipeline) {
		if hook != nil {
			p.onReplace = hook
		}
	}
}

// NewPipeline creates a pipeline resolving locations with strategy.
func NewPipeline(
	resolver Resolver,
	sender Sender,
	strategy config.LocationStrategy,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		resolver:  resolver,
		sender:    sender,
		strategy:  strategy,
		report:    func(context.Context, shake.Report) {},
		onReplace: func() {},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Submit hands a request to the pipeline without blocking.
// ctx scopes the whole lifetime of the request: once it is canceled, the
// request is discarded instead of dispatched. It returns false after Close.
func (p *Pipeline) Submit(ctx context.Context, req shake.AlertRequest) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	if p.inFlight {
		if p.pending != nil {
			logger.InfoKV(ctx, "Replacing pending alert", "replaced_id", p.pending.ID, "request_id", req.ID)
			p.onReplace()

			p.dropped = append(p.dropped, droppedRequest{req: *p.pending, reason: ReasonReplaced})
		}

		p.pending = &req

		return true
	}

	p.inFlight = true
	p.wg.Add(1)

	go p.drain(ctx, req)

	return true
}

// busy reports whether a dispatch is in flight.
func (p *Pipeline) busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.inFlight
}

// Close rejects further submissions and drops the pending request, which
// the worker reports as discarded. A dispatch already in flight finishes;
// use Wait to block on it.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	if p.pending != nil {
		p.dropped = append(p.dropped, droppedRequest{req: *p.pending, reason: ReasonClosed})
		p.pending = nil
	}
}

// Wait blocks until the worker goroutine exits.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// drain processes req and then every pending follow-up until the slot is empty.
func (p *Pipeline) drain(ctx context.Context, req shake.AlertRequest) {
	defer p.wg.Done()

	for {
		p.report(ctx, p.process(ctx, req))

		p.mu.Lock()

		discarded := p.dropped
		p.dropped = nil

		last := p.pending == nil || p.closed
		if last {
			p.inFlight = false
			p.pending = nil
		} else {
			req = *p.pending
			p.pending = nil
		}

		p.mu.Unlock()

		// Reporters may take their own locks, so the slot is released first.
		for _, d := range discarded {
			p.report(ctx, shake.Report{
				Request: d.req,
				Outcome: shake.Outcome{Kind: shake.OutcomeDiscarded, Reason: d.reason},
			})
		}

		if last {
			return
		}
	}
}

// process resolves the location and dispatches one request.
func (p *Pipeline) process(ctx context.Context, req shake.AlertRequest) shake.Report {
	ctx = logger.WithKV(ctx, "request_id", req.ID)
	started := time.Now()

	report := func(outcome shake.Outcome) shake.Report {
		return shake.Report{
			Request:  req,
			Outcome:  outcome,
			Duration: time.Since(started),
		}
	}

	if ctx.Err() != nil {
		return report(shake.Outcome{Kind: shake.OutcomeDiscarded, Reason: ctx.Err().Error()})
	}

	if !p.sender.Permitted() {
		return report(p.sender.Dispatch(ctx, req))
	}

	fix := p.resolver.Resolve(ctx, p.strategy)

	// The service stopped while the location was resolving.
	if ctx.Err() != nil {
		logger.Info(ctx, "Discarding alert after stop")

		return report(shake.Outcome{Kind: shake.OutcomeDiscarded, Reason: ctx.Err().Error()})
	}

	req = req.WithFix(fix)

	return report(p.sender.Dispatch(ctx, req))
}
