package generator

import (
	"bytes"
	"context"
	_ "embed"
	"text/template"
	"time"
	"unicode/utf8"
)

//go:embed enricher_prompt.md
var enricherPrompt string

const segmentExcerptLen = 200

type enricherPromptData struct {
	Title    string
	Notes    string
	Excerpts []string
}

type enricherResponse struct {
	Checklist []string `json:"checklist"`
}

// runEnricher annotates every episode with a short production checklist, one
// service call per episode, strictly in order. This is the one stage where
// failure is recovered locally: an episode whose call fails gets an empty
// checklist and the run continues. Nothing escapes this function except
// cooperative cancellation.
func (p *Pipeline) runEnricher(ctx context.Context, episodes []Episode) ([]Episode, error) {
	enriched := make([]Episode, len(episodes))
	copy(enriched, episodes)

	for i := range enriched {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}

		checklist, err := p.enrichEpisode(ctx, enriched[i])
		if err != nil {
			if isCancellation(err) {
				return nil, err
			}
			enriched[i].Checklist = []string{}
			continue
		}
		enriched[i].Checklist = checklist
	}

	return enriched, nil
}

func (p *Pipeline) enrichEpisode(ctx context.Context, ep Episode) ([]string, error) {
	start := time.Now()

	excerpts := make([]string, 0, len(ep.Segments))
	for _, seg := range ep.Segments {
		excerpts = append(excerpts, seg.Title+": "+truncateRunes(seg.Content, segmentExcerptLen))
	}

	prompt, err := buildEnricherPrompt(enricherPromptData{
		Title:    ep.Title,
		Notes:    ep.Notes,
		Excerpts: excerpts,
	})
	if err != nil {
		return nil, err
	}

	var resp enricherResponse
	usage, err := p.caller.CallJSON(ctx, StageEnriching, prompt, &resp)
	p.record(StageEnriching, usage, time.Since(start))
	if err != nil {
		return nil, err
	}

	if resp.Checklist == nil {
		resp.Checklist = []string{}
	}
	return resp.Checklist, nil
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func buildEnricherPrompt(data enricherPromptData) (string, error) {
	tmpl, err := template.New("enricher").Parse(enricherPrompt)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}
