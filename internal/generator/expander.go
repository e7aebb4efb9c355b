package generator

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"text/template"
	"time"
)

//go:embed expander_prompt.md
var expanderPrompt string

type expanderPromptData struct {
	Idea            string
	PartNumber      int
	TotalParts      int
	PartDescription string
	PreviousContext string
}

type expanderResponse struct {
	Episodes []Episode `json:"episodes"`
}

// runExpander generates the full episode list, one service call per planned
// part. The loop is strictly sequential: each part's prompt embeds a
// serialization of every episode generated so far, so parts cannot be
// produced concurrently without losing continuity. Any part failure aborts
// the whole expansion; there is no resume-from-part semantics.
func (p *Pipeline) runExpander(ctx context.Context, plan GenerationPlan, idea string) ([]Episode, error) {
	var accumulated []Episode

	total := plan.PartCount()
	for part := 1; part <= total; part++ {
		previous, err := serializeEpisodes(accumulated)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		prompt, err := buildExpanderPrompt(expanderPromptData{
			Idea:            idea,
			PartNumber:      part,
			TotalParts:      total,
			PartDescription: plan.PartDescription(part),
			PreviousContext: previous,
		})
		if err != nil {
			return nil, err
		}

		var resp expanderResponse
		usage, err := p.caller.CallJSON(ctx, StageExpanding, prompt, &resp)
		p.record(StageExpanding, usage, time.Since(start))
		if err != nil {
			if se, ok := err.(*StageError); ok && se.Part == 0 {
				se.Part = part
			}
			return nil, err
		}

		if resp.Episodes == nil {
			return nil, &StageError{
				Stage:   StageExpanding,
				Part:    part,
				Kind:    KindShape,
				Message: "response contains no episode list",
			}
		}

		accumulated = append(accumulated, backfillSeason(resp.Episodes, plan)...)
	}

	return accumulated, nil
}

// backfillSeason fills each episode's season fields from the plan when the
// model did not set them per-episode.
func backfillSeason(episodes []Episode, plan GenerationPlan) []Episode {
	for i := range episodes {
		if episodes[i].SeasonName == nil {
			episodes[i].SeasonName = plan.SeasonName
		}
		if episodes[i].SeasonNumber == nil {
			episodes[i].SeasonNumber = plan.SeasonNumber
		}
	}
	return episodes
}

// serializeEpisodes renders the accumulated episodes verbatim for use as
// prior context in the next part's prompt.
func serializeEpisodes(episodes []Episode) (string, error) {
	if len(episodes) == 0 {
		return "", nil
	}
	data, err := json.MarshalIndent(episodes, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func buildExpanderPrompt(data expanderPromptData) (string, error) {
	tmpl, err := template.New("expander").Parse(expanderPrompt)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}
