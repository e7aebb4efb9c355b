package generator

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"text/template"
	"time"
)

//go:embed sketcher_prompt.md
var sketcherPrompt string

type sketcherPromptData struct {
	Idea       string
	Categories []Category
}

// runSketcher turns a free-text idea into a generation plan with exactly one
// service call. A transport or credential failure aborts the run; so does a
// plan whose multi-part shape is inconsistent.
func (p *Pipeline) runSketcher(ctx context.Context, idea string, categories []Category) (GenerationPlan, error) {
	start := time.Now()
	prompt, err := buildSketcherPrompt(sketcherPromptData{
		Idea:       idea,
		Categories: categories,
	})
	if err != nil {
		return GenerationPlan{}, err
	}

	var plan GenerationPlan
	usage, err := p.caller.CallJSON(ctx, StagePlanning, prompt, &plan)
	p.record(StagePlanning, usage, time.Since(start))
	if err != nil {
		return GenerationPlan{}, err
	}

	if err := checkPlanShape(plan); err != nil {
		return GenerationPlan{}, err
	}

	return plan, nil
}

// checkPlanShape enforces the multi-part invariant: a multi-part plan must
// name how many parts it has and describe every one of them. This is a
// content-shape failure, not a transport failure, and is never retried.
func checkPlanShape(plan GenerationPlan) error {
	if !plan.IsMultiPart {
		return nil
	}
	if plan.TotalParts < 1 {
		return &StageError{
			Stage:   StagePlanning,
			Kind:    KindShape,
			Message: "multi-part plan did not state a part count",
		}
	}
	if len(plan.PartDescriptions) == 0 {
		return &StageError{
			Stage:   StagePlanning,
			Kind:    KindShape,
			Message: "multi-part plan has no part descriptions",
		}
	}
	if len(plan.PartDescriptions) != plan.TotalParts {
		return &StageError{
			Stage: StagePlanning,
			Kind:  KindShape,
			Message: fmt.Sprintf("plan describes %d parts but declares %d",
				len(plan.PartDescriptions), plan.TotalParts),
		}
	}
	return nil
}

func buildSketcherPrompt(data sketcherPromptData) (string, error) {
	tmpl, err := template.New("sketcher").Parse(sketcherPrompt)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}
