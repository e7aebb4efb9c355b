package generator

import (
	"context"

	"plotform-planner/internal/shared"
)

// Committer persists validated episodes into the workspace. Episode numbers
// are assigned by the pipeline, continuing from the highest existing number
// in the target grouping.
type Committer interface {
	// ListEpisodeNumbers returns the episode numbers already present in a
	// grouping, in no particular order.
	ListEpisodeNumbers(ctx context.Context, key GroupKey) ([]int, error)
	// CreateEpisode persists one episode and returns its record ID.
	CreateEpisode(ctx context.Context, key GroupKey, ep Episode) (int64, error)
}

// CategoryRegistry exposes the known content categories and the caller's
// active default.
type CategoryRegistry interface {
	ListCategories(ctx context.Context) ([]Category, error)
	ActiveCategory(ctx context.Context) (Category, error)
	SetActiveCategory(ctx context.Context, name string) error
}

// MetricsRecorder receives per-stage execution metadata. Recording failures
// never affect a run.
type MetricsRecorder interface {
	RecordStage(meta shared.StageMeta)
}
