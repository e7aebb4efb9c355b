package telegram

import (
	"fmt"
	"strings"

	"plotform-planner/internal/generator"
)

func stageStatusText(stage string) string {
	switch stage {
	case generator.StagePlanning:
		return "🎬 *Planning...* \n(Sketching the structure of your idea)"
	case generator.StageExpanding:
		return "✍️ *Writing episodes...* \n(Generating content part by part)"
	case generator.StageEnriching:
		return "📝 *Building checklists...* \n(One production checklist per episode)"
	case generator.StageValidating:
		return "🔍 *Validating plan...*"
	case generator.StageCommitting:
		return "📦 *Committing episodes...*"
	}
	return "⏳ *Working...*"
}

func formatStageFailure(ev generator.ProgressEvent) string {
	where := ev.Stage
	if ev.Part > 0 {
		where = fmt.Sprintf("%s (part %d)", ev.Stage, ev.Part)
	}
	safeMsg := strings.ReplaceAll(ev.Message, "`", "'")
	return fmt.Sprintf("❌ *Generation failed during %s:*\n```\n%s\n```\nNothing was committed. Send your idea again to retry.", where, safeMsg)
}

func formatError(prefix string, err error) string {
	safeErr := strings.ReplaceAll(err.Error(), "`", "'")
	return fmt.Sprintf("❌ *%s:*\n```\n%v\n```", prefix, safeErr)
}

func formatPlanSummary(resp *generator.PlanResponse) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🎞 *Generated plan* (%d episodes)\n\n", len(resp.Episodes)))

	const maxListed = 10
	for i, ep := range resp.Episodes {
		if i == maxListed {
			sb.WriteString(fmt.Sprintf("… and %d more\n", len(resp.Episodes)-maxListed))
			break
		}
		sb.WriteString(fmt.Sprintf("• *%s*", ep.Title))
		if len(ep.Segments) > 0 {
			sb.WriteString(fmt.Sprintf(" (%d segments)", len(ep.Segments)))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatCategories(cats []generator.Category, active generator.Category) string {
	var sb strings.Builder
	sb.WriteString("🗂 *Content Categories*\n\n")
	for _, c := range cats {
		marker := "•"
		if c.Name == active.Name {
			marker = "▶️"
		}
		sb.WriteString(fmt.Sprintf("%s *%s*", marker, c.Name))
		if c.Description != "" {
			sb.WriteString(fmt.Sprintf(": _%s_", c.Description))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nSwitch with `/use <name>`.")
	return sb.String()
}
