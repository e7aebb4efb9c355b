package generator

// Segment is a nested content unit inside an episode (e.g. an interview block
// or a chapter section).
type Segment struct {
	Title           string `json:"title"`
	Content         string `json:"content"`
	ProductionNotes string `json:"production_notes,omitempty"`
}

// Episode is one generated unit of a content plan.
type Episode struct {
	Title         string    `json:"title" validate:"required"`
	Notes         string    `json:"notes"`
	SeasonName    *string   `json:"season_name"`
	SeasonNumber  *int      `json:"season_number"`
	EpisodeNumber *int      `json:"episode_number"`
	Segments      []Segment `json:"segments"`
	Checklist     []string  `json:"checklist,omitempty"`
}

// GenerationPlan is the lightweight plan the sketcher stage produces before
// any content is generated. It is immutable once produced; a new run starts
// from a fresh sketch.
type GenerationPlan struct {
	IsMultiPart       bool     `json:"is_multi_part"`
	TotalParts        int      `json:"total_parts"`
	PartDescriptions  []string `json:"part_descriptions"`
	SuggestedCategory string   `json:"suggested_category"`
	SeasonName        *string  `json:"season_name"`
	SeasonNumber      *int     `json:"season_number"`
}

// PartCount returns how many expansion iterations the plan requires.
func (p GenerationPlan) PartCount() int {
	if !p.IsMultiPart {
		return 1
	}
	return p.TotalParts
}

// PartDescription returns the human-readable description for a 1-indexed
// part, or an empty string for single-part plans.
func (p GenerationPlan) PartDescription(part int) string {
	if !p.IsMultiPart || part < 1 || part > len(p.PartDescriptions) {
		return ""
	}
	return p.PartDescriptions[part-1]
}

// PlanResponse is the validated result of a run. It is the only artifact
// eligible for commit.
type PlanResponse struct {
	Episodes          []Episode `json:"episodes" validate:"required,min=1,dive"`
	SuggestedCategory string    `json:"suggested_category" validate:"required"`
}

// Category is a content mode an episode plan can target (Podcast, Video
// Series, ...).
type Category struct {
	Name        string
	Description string
}

// GroupKey identifies the grouping episodes are numbered within.
type GroupKey struct {
	Category     string
	SeasonNumber int
}

// CommitChoice selects how a plan whose suggested category differs from the
// active one should be committed.
type CommitChoice string

const (
	// ChoiceCurrent commits the plan into the currently active category as-is.
	ChoiceCurrent CommitChoice = "current"
	// ChoiceSwitch switches the active category to the plan's suggestion,
	// then commits.
	ChoiceSwitch CommitChoice = "switch-and-commit"
)
