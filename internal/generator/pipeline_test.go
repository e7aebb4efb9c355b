package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"plotform-planner/internal/llm"
	"plotform-planner/internal/shared"

	"google.golang.org/api/googleapi"
)

type createdEpisode struct {
	Key GroupKey
	Ep  Episode
}

type fakeCommitter struct {
	mu       sync.Mutex
	existing map[GroupKey][]int
	created  []createdEpisode
}

func (f *fakeCommitter) ListEpisodeNumbers(ctx context.Context, key GroupKey) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[key], nil
}

func (f *fakeCommitter) CreateEpisode(ctx context.Context, key GroupKey, ep Episode) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, createdEpisode{Key: key, Ep: ep})
	return int64(len(f.created)), nil
}

func (f *fakeCommitter) committed() []createdEpisode {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]createdEpisode, len(f.created))
	copy(out, f.created)
	return out
}

type fakeRegistry struct {
	mu       sync.Mutex
	cats     []Category
	active   string
	switched []string
}

func (f *fakeRegistry) ListCategories(ctx context.Context) ([]Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cats, nil
}

func (f *fakeRegistry) ActiveCategory(ctx context.Context) (Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Category{Name: f.active}, nil
}

func (f *fakeRegistry) SetActiveCategory(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switched = append(f.switched, name)
	f.active = name
	return nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	stages []shared.StageMeta
}

func (f *fakeRecorder) RecordStage(meta shared.StageMeta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, meta)
}

// blockingGenerator parks every call until released or cancelled.
type blockingGenerator struct {
	entered chan struct{}
	release chan struct{}
}

func (g *blockingGenerator) GenerateContent(ctx context.Context, prompt string) (llm.ContentResponse, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return llm.ContentResponse{}, ctx.Err()
	case <-g.release:
		return llm.ContentResponse{}, fmt.Errorf("released without response")
	}
}

func sketchJSON(category string) string {
	return fmt.Sprintf(`{"is_multi_part": false, "suggested_category": %q}`, category)
}

// stageRouted answers each stage's prompt with a canned response, keyed on
// the prompt's agent heading.
func stageRouted(sketch, expand string) func(call int, prompt string) (llm.ContentResponse, error) {
	return func(call int, prompt string) (llm.ContentResponse, error) {
		switch {
		case strings.Contains(prompt, "# Production Planning Agent"):
			return llm.ContentResponse{Content: sketch}, nil
		case strings.Contains(prompt, "# Content Generation Agent"):
			return llm.ContentResponse{Content: expand}, nil
		case strings.Contains(prompt, "# Production Checklist Agent"):
			return llm.ContentResponse{Content: `{"checklist": ["prepare notes"]}`}, nil
		}
		return llm.ContentResponse{}, fmt.Errorf("unrecognized prompt")
	}
}

func drainEvents(t *testing.T, ch <-chan ProgressEvent) []ProgressEvent {
	t.Helper()
	var events []ProgressEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("Timed out draining the event stream")
		}
	}
}

func eventsOfType(events []ProgressEvent, typ EventType) []ProgressEvent {
	var out []ProgressEvent
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func waitForIdle(t *testing.T, p *Pipeline) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.State() == StateIdle {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Pipeline did not return to idle, state %s", p.State())
}

func TestPipelineAutoCommitsMatchingCategory(t *testing.T) {
	gen := &scriptedGenerator{
		respond: stageRouted(sketchJSON("podcast"), episodesJSON("One", "Two", "Three")),
	}
	committer := &fakeCommitter{
		existing: map[GroupKey][]int{
			{Category: "Podcast"}: {5, 7, 2},
		},
	}
	registry := &fakeRegistry{cats: []Category{{Name: "Podcast"}}, active: "Podcast"}
	p := New(gen, committer, registry, WithCallerOptions(WithSleep(noSleep)))

	ch, err := p.StartRun(context.Background(), "an idea")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	events := drainEvents(t, ch)

	if got := eventsOfType(events, EventAwaitingChoice); len(got) != 0 {
		t.Errorf("Matching categories must not request a choice, got %d events", len(got))
	}

	done := eventsOfType(events, EventCommitted)
	if len(done) != 1 || done[0].CommittedCount != 3 {
		t.Fatalf("Expected one committed event for 3 episodes, got %+v", done)
	}

	created := committer.committed()
	if len(created) != 3 {
		t.Fatalf("Expected 3 created episodes, got %d", len(created))
	}
	for i, want := range []int{8, 9, 10} {
		got := created[i].Ep.EpisodeNumber
		if got == nil || *got != want {
			t.Errorf("Episode %d: expected number %d, got %v", i, want, got)
		}
		if created[i].Key.Category != "Podcast" {
			t.Errorf("Episode %d committed into %q, expected Podcast", i, created[i].Key.Category)
		}
	}

	if len(registry.switched) != 0 {
		t.Error("Auto-commit must not touch the active category")
	}

	for _, ev := range events {
		if ev.RunID == "" || ev.RunID != events[0].RunID {
			t.Fatal("All events of a run must share its run ID")
		}
	}

	waitForIdle(t, p)

	ch2, err := p.StartRun(context.Background(), "another idea")
	if err != nil {
		t.Fatalf("Pipeline must be re-enterable after a run: %v", err)
	}
	events2 := drainEvents(t, ch2)
	if events2[0].RunID == events[0].RunID {
		t.Error("Each run must get a fresh run ID")
	}
}

func TestPipelineAwaitsChoiceOnCategoryMismatch(t *testing.T) {
	gen := &scriptedGenerator{
		respond: stageRouted(sketchJSON("Podcast"), episodesJSON("One", "Two")),
	}
	committer := &fakeCommitter{}
	registry := &fakeRegistry{active: "Course"}
	p := New(gen, committer, registry, WithCallerOptions(WithSleep(noSleep)))

	ch, err := p.StartRun(context.Background(), "an idea")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	var events []ProgressEvent
	asked := 0
	timeout := time.After(5 * time.Second)
	for {
		var ev ProgressEvent
		var ok bool
		select {
		case ev, ok = <-ch:
		case <-timeout:
			t.Fatal("Timed out waiting for events")
		}
		if !ok {
			break
		}
		events = append(events, ev)

		if ev.Type == EventAwaitingChoice {
			asked++
			if ev.Response == nil || len(ev.Response.Episodes) != 2 {
				t.Errorf("Choice event must carry the validated plan, got %+v", ev.Response)
			}
			if len(committer.committed()) != 0 {
				t.Error("Nothing may be committed before the choice resolves")
			}
			if p.State() != StateAwaitingChoice {
				t.Errorf("Expected awaiting-choice state, got %s", p.State())
			}
			if err := p.ChooseCommit(ChoiceCurrent); err != nil {
				t.Fatalf("ChooseCommit failed: %v", err)
			}
		}
	}

	if asked != 1 {
		t.Fatalf("Expected exactly one choice request, got %d", asked)
	}

	created := committer.committed()
	if len(created) != 2 {
		t.Fatalf("Expected 2 created episodes, got %d", len(created))
	}
	for _, c := range created {
		if c.Key.Category != "Course" {
			t.Errorf("Keep-current must commit into the active category, got %q", c.Key.Category)
		}
	}
	if len(registry.switched) != 0 {
		t.Error("Keep-current must not switch the active category")
	}
}

func TestPipelineSwitchAndCommit(t *testing.T) {
	gen := &scriptedGenerator{
		respond: stageRouted(sketchJSON("Podcast"), episodesJSON("One")),
	}
	committer := &fakeCommitter{}
	registry := &fakeRegistry{active: "Course"}
	p := New(gen, committer, registry, WithCallerOptions(WithSleep(noSleep)))

	ch, err := p.StartRun(context.Background(), "an idea")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	go func() {
		for ev := range ch {
			if ev.Type == EventAwaitingChoice {
				if err := p.ChooseCommit(ChoiceSwitch); err != nil {
					t.Errorf("ChooseCommit failed: %v", err)
				}
			}
		}
	}()

	waitForIdle(t, p)

	if len(registry.switched) != 1 || registry.switched[0] != "Podcast" {
		t.Fatalf("Expected a switch to Podcast, got %v", registry.switched)
	}
	created := committer.committed()
	if len(created) != 1 || created[0].Key.Category != "Podcast" {
		t.Fatalf("Expected the episode committed into Podcast, got %+v", created)
	}
}

func TestPipelineShapeFailureAbortsWithoutCommit(t *testing.T) {
	sketch := `{"is_multi_part": true, "total_parts": 2,
		"part_descriptions": ["one", "two"], "suggested_category": "Podcast"}`
	gen := &scriptedGenerator{
		respond: func(call int, prompt string) (llm.ContentResponse, error) {
			switch {
			case strings.Contains(prompt, "# Production Planning Agent"):
				return llm.ContentResponse{Content: sketch}, nil
			case strings.Contains(prompt, "part 2 of 2"):
				return llm.ContentResponse{Content: `{"comment": "lost the plot"}`}, nil
			case strings.Contains(prompt, "# Content Generation Agent"):
				return llm.ContentResponse{Content: episodesJSON("One")}, nil
			}
			return llm.ContentResponse{}, fmt.Errorf("unrecognized prompt")
		},
	}
	committer := &fakeCommitter{}
	registry := &fakeRegistry{active: "Podcast"}
	p := New(gen, committer, registry, WithCallerOptions(WithSleep(noSleep)))

	ch, err := p.StartRun(context.Background(), "an idea")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	events := drainEvents(t, ch)

	failed := eventsOfType(events, EventStageFailed)
	if len(failed) != 1 {
		t.Fatalf("Expected exactly one failure event, got %d", len(failed))
	}
	if failed[0].Stage != StageExpanding || failed[0].ErrorKind != KindShape || failed[0].Part != 2 {
		t.Errorf("Unexpected failure event: %+v", failed[0])
	}

	if len(eventsOfType(events, EventCommitted)) != 0 {
		t.Error("A failed run must not emit a committed event")
	}
	if len(committer.committed()) != 0 {
		t.Error("A failed run must not persist anything")
	}
	waitForIdle(t, p)
}

func TestPipelineEmitsRetrySchedule(t *testing.T) {
	calls := 0
	gen := &scriptedGenerator{
		respond: func(call int, prompt string) (llm.ContentResponse, error) {
			if strings.Contains(prompt, "# Production Planning Agent") {
				calls++
				if calls <= 2 {
					return llm.ContentResponse{}, &googleapi.Error{Code: 503, Message: "overloaded"}
				}
				return llm.ContentResponse{Content: sketchJSON("Podcast")}, nil
			}
			return stageRouted("", episodesJSON("One"))(call, prompt)
		},
	}
	p := New(gen, &fakeCommitter{}, &fakeRegistry{active: "Podcast"}, WithCallerOptions(WithSleep(noSleep)))

	ch, err := p.StartRun(context.Background(), "an idea")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	events := drainEvents(t, ch)

	retries := eventsOfType(events, EventRetryScheduled)
	if len(retries) != 2 {
		t.Fatalf("Expected 2 retry events, got %d", len(retries))
	}
	wantDelays := []time.Duration{1500 * time.Millisecond, 3000 * time.Millisecond}
	for i, ev := range retries {
		if ev.Stage != StagePlanning || ev.Attempt != i+1 || ev.Delay != wantDelays[i] {
			t.Errorf("Retry event %d: %+v", i, ev)
		}
	}

	if len(eventsOfType(events, EventCommitted)) != 1 {
		t.Error("Run must still succeed after transient retries")
	}
}

func TestPipelineRejectsConcurrentRuns(t *testing.T) {
	gen := &blockingGenerator{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	p := New(gen, &fakeCommitter{}, &fakeRegistry{active: "Podcast"}, WithCallerOptions(WithSleep(noSleep)))

	ch, err := p.StartRun(context.Background(), "first idea")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	<-gen.entered

	if _, err := p.StartRun(context.Background(), "second idea"); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("Expected ErrRunInProgress, got %v", err)
	}

	p.Cancel()
	drainEvents(t, ch)
	waitForIdle(t, p)
}

func TestPipelineCancelResetsSilently(t *testing.T) {
	gen := &blockingGenerator{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	committer := &fakeCommitter{}
	p := New(gen, committer, &fakeRegistry{active: "Podcast"}, WithCallerOptions(WithSleep(noSleep)))

	ch, err := p.StartRun(context.Background(), "an idea")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	<-gen.entered
	p.Cancel()

	events := drainEvents(t, ch)
	for _, ev := range events {
		switch ev.Type {
		case EventStageFailed, EventCommitted, EventAwaitingChoice:
			t.Errorf("Cancelled run must end silently, got %+v", ev)
		}
	}
	if len(committer.committed()) != 0 {
		t.Error("Cancelled run must not persist anything")
	}
	waitForIdle(t, p)
}

func TestPipelineRejectsEmptyIdea(t *testing.T) {
	p := New(&scriptedGenerator{}, &fakeCommitter{}, &fakeRegistry{})

	if _, err := p.StartRun(context.Background(), "   "); err == nil {
		t.Error("Expected an error for a blank idea")
	}
	if p.State() != StateIdle {
		t.Errorf("Rejected start must leave the pipeline idle, got %s", p.State())
	}
}

func TestChooseCommitValidation(t *testing.T) {
	p := New(&scriptedGenerator{}, &fakeCommitter{}, &fakeRegistry{})

	if err := p.ChooseCommit(ChoiceCurrent); !errors.Is(err, ErrNoPendingChoice) {
		t.Errorf("Expected ErrNoPendingChoice, got %v", err)
	}
	if err := p.ChooseCommit(CommitChoice("whatever")); err == nil {
		t.Error("Expected an error for an unknown choice")
	}
}

func TestPipelineRecordsStageMetrics(t *testing.T) {
	gen := &scriptedGenerator{
		respond: func(call int, prompt string) (llm.ContentResponse, error) {
			resp, err := stageRouted(sketchJSON("Podcast"), episodesJSON("One"))(call, prompt)
			resp.Usage = shared.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Model: "test-model"}
			return resp, err
		},
	}
	recorder := &fakeRecorder{}
	p := New(gen, &fakeCommitter{}, &fakeRegistry{active: "Podcast"},
		WithRecorder(recorder), WithCallerOptions(WithSleep(noSleep)))

	ch, err := p.StartRun(context.Background(), "an idea")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	drainEvents(t, ch)
	waitForIdle(t, p)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.stages) != 3 {
		t.Fatalf("Expected 3 recorded stages, got %d", len(recorder.stages))
	}
	wantStages := []string{StagePlanning, StageExpanding, StageEnriching}
	for i, meta := range recorder.stages {
		if meta.StageName != wantStages[i] {
			t.Errorf("Stage %d: expected %s, got %s", i, wantStages[i], meta.StageName)
		}
		if meta.Usage.TotalTokens != 15 {
			t.Errorf("Stage %d: usage not recorded, got %+v", i, meta.Usage)
		}
	}
}
