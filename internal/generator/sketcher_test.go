package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"plotform-planner/internal/llm"
)

func TestRunSketcherParsesPlan(t *testing.T) {
	gen := &scriptedGenerator{
		respond: func(call int, prompt string) (llm.ContentResponse, error) {
			return llm.ContentResponse{Content: `{
				"is_multi_part": true,
				"total_parts": 2,
				"part_descriptions": ["the setup", "the payoff"],
				"suggested_category": "Podcast",
				"season_name": "Origins",
				"season_number": 1
			}`}, nil
		},
	}
	p := testPipeline(gen)

	cats := []Category{{Name: "Podcast"}, {Name: "Book"}}
	plan, err := p.runSketcher(context.Background(), "a twelve-episode saga", cats)
	if err != nil {
		t.Fatalf("Expected sketch to succeed, got %v", err)
	}

	if !plan.IsMultiPart || plan.TotalParts != 2 {
		t.Errorf("Plan shape not parsed: %+v", plan)
	}
	if plan.SuggestedCategory != "Podcast" {
		t.Errorf("Expected suggested category Podcast, got %q", plan.SuggestedCategory)
	}
	if plan.PartCount() != 2 {
		t.Errorf("Expected 2 parts, got %d", plan.PartCount())
	}

	prompt := gen.prompt(0)
	if !strings.Contains(prompt, "a twelve-episode saga") {
		t.Error("Sketcher prompt must embed the idea")
	}
	for _, c := range cats {
		if !strings.Contains(prompt, c.Name) {
			t.Errorf("Sketcher prompt must list category %q", c.Name)
		}
	}
}

func TestCheckPlanShape(t *testing.T) {
	tests := []struct {
		name    string
		plan    GenerationPlan
		wantErr bool
	}{
		{
			name: "single part always valid",
			plan: GenerationPlan{IsMultiPart: false},
		},
		{
			name: "multi part consistent",
			plan: GenerationPlan{IsMultiPart: true, TotalParts: 2, PartDescriptions: []string{"a", "b"}},
		},
		{
			name:    "multi part without count",
			plan:    GenerationPlan{IsMultiPart: true, PartDescriptions: []string{"a"}},
			wantErr: true,
		},
		{
			name:    "multi part without descriptions",
			plan:    GenerationPlan{IsMultiPart: true, TotalParts: 3},
			wantErr: true,
		},
		{
			name:    "description count mismatch",
			plan:    GenerationPlan{IsMultiPart: true, TotalParts: 3, PartDescriptions: []string{"a", "b"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkPlanShape(tt.plan)
			if tt.wantErr && err == nil {
				t.Error("Expected a shape error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected valid plan, got %v", err)
			}
			if err != nil {
				var se *StageError
				if !errors.As(err, &se) || se.Kind != KindShape {
					t.Errorf("Plan shape failures must be shape errors, got %v", err)
				}
			}
		})
	}
}
