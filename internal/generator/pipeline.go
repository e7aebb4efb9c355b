package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"plotform-planner/internal/llm"
	"plotform-planner/internal/shared"

	"github.com/google/uuid"
)

// State is the pipeline's current position in its run lifecycle. Every
// failure before committing returns the pipeline to StateIdle; it is
// designed to be re-entered from scratch, never resumed.
type State string

const (
	StateIdle           State = "idle"
	StatePlanning       State = "planning"
	StateExpanding      State = "expanding"
	StateEnriching      State = "enriching"
	StateValidating     State = "validating"
	StateAwaitingChoice State = "awaiting_choice"
	StateCommitting     State = "committing"
)

const eventBuffer = 32

// Pipeline turns a free-text idea into committed episode records by driving
// the staged generation flow: sketch, expand, enrich, validate, commit.
// At most one run is active at a time; StartRun rejects re-entry.
type Pipeline struct {
	caller     *Caller
	committer  Committer
	categories CategoryRegistry
	recorder   MetricsRecorder

	mu        sync.Mutex
	state     State
	runID     string
	events    chan ProgressEvent
	choiceCh  chan CommitChoice
	cancelRun context.CancelFunc

	callerOpts []CallerOption
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecorder registers a per-stage metrics recorder.
func WithRecorder(r MetricsRecorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithCallerOptions forwards options to the underlying backoff caller.
func WithCallerOptions(opts ...CallerOption) Option {
	return func(p *Pipeline) {
		p.callerOpts = append(p.callerOpts, opts...)
	}
}

// New creates a Pipeline around a text generator, a workspace committer and
// a category registry.
func New(gen llm.TextGenerator, committer Committer, categories CategoryRegistry, opts ...Option) *Pipeline {
	p := &Pipeline{
		committer:  committer,
		categories: categories,
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(p)
	}

	callerOpts := append([]CallerOption{WithObserver(p.observeRetry)}, p.callerOpts...)
	p.caller = NewCaller(gen, callerOpts...)
	return p
}

// State returns the pipeline's current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// StartRun begins a generation run for an idea and returns its event stream.
// The stream is closed when the run ends, however it ends. The caller must
// drain it. A second StartRun while a run is active returns
// ErrRunInProgress.
func (p *Pipeline) StartRun(ctx context.Context, idea string) (<-chan ProgressEvent, error) {
	idea = strings.TrimSpace(idea)
	if idea == "" {
		return nil, fmt.Errorf("idea must not be empty")
	}

	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return nil, ErrRunInProgress
	}

	runCtx, cancel := context.WithCancel(ctx)
	events := make(chan ProgressEvent, eventBuffer)

	p.state = StatePlanning
	p.runID = uuid.NewString()
	p.events = events
	p.choiceCh = make(chan CommitChoice, 1)
	p.cancelRun = cancel
	p.mu.Unlock()

	go p.run(runCtx, idea)

	return events, nil
}

// ChooseCommit resolves a pending commit choice. Only valid while the run is
// awaiting one.
func (p *Pipeline) ChooseCommit(choice CommitChoice) error {
	if choice != ChoiceCurrent && choice != ChoiceSwitch {
		return fmt.Errorf("unknown commit choice %q", choice)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateAwaitingChoice {
		return ErrNoPendingChoice
	}

	p.choiceCh <- choice
	p.state = StateCommitting
	return nil
}

// Cancel abandons the active run, if any. The run discards its accumulated
// plan at the next suspension point and the pipeline returns to idle with
// nothing committed.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelRun != nil {
		p.cancelRun()
	}
}

func (p *Pipeline) run(ctx context.Context, idea string) {
	defer p.finish()

	p.emit(ProgressEvent{Type: EventStageStarted, Stage: StagePlanning})
	cats, err := p.categories.ListCategories(ctx)
	if err != nil {
		p.fail(StagePlanning, err)
		return
	}
	plan, err := p.runSketcher(ctx, idea, cats)
	if err != nil {
		p.fail(StagePlanning, err)
		return
	}

	p.setState(StateExpanding)
	p.emit(ProgressEvent{Type: EventStageStarted, Stage: StageExpanding})
	episodes, err := p.runExpander(ctx, plan, idea)
	if err != nil {
		p.fail(StageExpanding, err)
		return
	}

	p.setState(StateEnriching)
	p.emit(ProgressEvent{Type: EventStageStarted, Stage: StageEnriching})
	episodes, err = p.runEnricher(ctx, episodes)
	if err != nil {
		p.fail(StageEnriching, err)
		return
	}

	p.setState(StateValidating)
	p.emit(ProgressEvent{Type: EventStageStarted, Stage: StageValidating})
	resp, err := validatePlan(episodes, plan.SuggestedCategory)
	if err != nil {
		p.fail(StageValidating, err)
		return
	}

	active, err := p.categories.ActiveCategory(ctx)
	if err != nil {
		p.fail(StageValidating, err)
		return
	}

	if strings.EqualFold(active.Name, resp.SuggestedCategory) {
		p.setState(StateCommitting)
		p.commit(ctx, resp, active.Name)
		return
	}

	p.setState(StateAwaitingChoice)
	p.emit(ProgressEvent{Type: EventAwaitingChoice, Response: resp})

	select {
	case <-ctx.Done():
		return
	case choice := <-p.choiceCh:
		target := active.Name
		if choice == ChoiceSwitch {
			if err := p.categories.SetActiveCategory(ctx, resp.SuggestedCategory); err != nil {
				p.fail(StageCommitting, err)
				return
			}
			target = resp.SuggestedCategory
		}
		p.commit(ctx, resp, target)
	}
}

func (p *Pipeline) commit(ctx context.Context, resp *PlanResponse, category string) {
	p.emit(ProgressEvent{Type: EventStageStarted, Stage: StageCommitting})

	// Episodes are numbered within their category+season grouping,
	// continuing from the highest number already stored there.
	nextNumber := make(map[GroupKey]int)

	for i := range resp.Episodes {
		ep := resp.Episodes[i]

		key := GroupKey{Category: category}
		if ep.SeasonNumber != nil {
			key.SeasonNumber = *ep.SeasonNumber
		}

		next, ok := nextNumber[key]
		if !ok {
			existing, err := p.committer.ListEpisodeNumbers(ctx, key)
			if err != nil {
				p.fail(StageCommitting, err)
				return
			}
			next = maxOf(existing) + 1
		}

		number := next
		ep.EpisodeNumber = &number
		nextNumber[key] = next + 1

		if _, err := p.committer.CreateEpisode(ctx, key, ep); err != nil {
			p.fail(StageCommitting, err)
			return
		}
	}

	p.emit(ProgressEvent{Type: EventCommitted, CommittedCount: len(resp.Episodes)})
}

func maxOf(nums []int) int {
	max := 0
	for _, n := range nums {
		if n > max {
			max = n
		}
	}
	return max
}

// fail emits a StageFailed event for any non-cancellation error. Cancelled
// runs reset silently; the closed event stream is the caller's signal.
func (p *Pipeline) fail(stage string, err error) {
	if isCancellation(err) {
		return
	}

	ev := ProgressEvent{
		Type:      EventStageFailed,
		Stage:     stage,
		ErrorKind: KindUnknown,
		Message:   err.Error(),
	}
	var se *StageError
	if errors.As(err, &se) {
		ev.Stage = se.Stage
		ev.Part = se.Part
		ev.ErrorKind = se.Kind
		ev.Message = se.Message
	}
	p.emit(ev)
}

func (p *Pipeline) observeRetry(stage string, attempt int, delay time.Duration, reason error) {
	p.emit(ProgressEvent{
		Type:    EventRetryScheduled,
		Stage:   stage,
		Attempt: attempt,
		Delay:   delay,
		Message: reason.Error(),
	})
}

// emit delivers an event on the current run's stream. All emits happen on
// the run goroutine, before finish closes the channel.
func (p *Pipeline) emit(ev ProgressEvent) {
	p.mu.Lock()
	ch := p.events
	ev.RunID = p.runID
	p.mu.Unlock()

	if ch != nil {
		ch <- ev
	}
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Pipeline) finish() {
	p.mu.Lock()
	ch := p.events
	if p.cancelRun != nil {
		p.cancelRun()
	}
	p.state = StateIdle
	p.runID = ""
	p.events = nil
	p.choiceCh = nil
	p.cancelRun = nil
	p.mu.Unlock()

	if ch != nil {
		close(ch)
	}
}

func (p *Pipeline) record(stage string, usage shared.TokenUsage, latency time.Duration) {
	if p.recorder == nil || usage == (shared.TokenUsage{}) {
		return
	}
	p.recorder.RecordStage(shared.StageMeta{
		StageName: stage,
		Usage:     usage,
		Latency:   latency,
	})
}
