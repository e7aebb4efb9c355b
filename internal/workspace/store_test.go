package workspace

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"plotform-planner/internal/database"
	"plotform-planner/internal/generator"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db.SQL
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func TestCreateAndListEpisodes(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	key := generator.GroupKey{Category: "Podcast", SeasonNumber: 1}
	episodes := []generator.Episode{
		{
			Title:         "Pilot",
			Notes:         "introduce the cast",
			SeasonName:    strPtr("Origins"),
			SeasonNumber:  intPtr(1),
			EpisodeNumber: intPtr(1),
			Segments: []generator.Segment{
				{Title: "Cold open", Content: "A storm rolls in."},
			},
			Checklist: []string{"book studio"},
		},
		{
			Title:         "The Middle",
			SeasonNumber:  intPtr(1),
			EpisodeNumber: intPtr(2),
		},
	}

	for _, ep := range episodes {
		id, err := store.CreateEpisode(ctx, key, ep)
		if err != nil {
			t.Fatalf("CreateEpisode failed: %v", err)
		}
		if id <= 0 {
			t.Errorf("Expected a positive record ID, got %d", id)
		}
	}

	records, err := store.ListEpisodes(ctx, "Podcast")
	if err != nil {
		t.Fatalf("ListEpisodes failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].Title != "Pilot" || records[1].Title != "The Middle" {
		t.Errorf("Records out of episode order: %q, %q", records[0].Title, records[1].Title)
	}
	if records[0].SeasonName != "Origins" {
		t.Errorf("Expected season name Origins, got %q", records[0].SeasonName)
	}
	if len(records[0].Episode.Segments) != 1 || records[0].Episode.Segments[0].Title != "Cold open" {
		t.Errorf("Episode payload not round-tripped: %+v", records[0].Episode)
	}
	if len(records[0].Episode.Checklist) != 1 {
		t.Errorf("Checklist not round-tripped: %v", records[0].Episode.Checklist)
	}
}

func TestCreateEpisodeRequiresNumber(t *testing.T) {
	store := NewStore(openTestDB(t))

	_, err := store.CreateEpisode(context.Background(),
		generator.GroupKey{Category: "Podcast"},
		generator.Episode{Title: "Unnumbered"})
	if err == nil {
		t.Fatal("Expected an error for an episode without a number")
	}
}

func TestListEpisodeNumbersScopedToGrouping(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	insert := func(category string, season, number int) {
		t.Helper()
		_, err := store.CreateEpisode(ctx,
			generator.GroupKey{Category: category, SeasonNumber: season},
			generator.Episode{Title: "Ep", EpisodeNumber: intPtr(number)})
		if err != nil {
			t.Fatalf("CreateEpisode failed: %v", err)
		}
	}

	insert("Podcast", 1, 1)
	insert("Podcast", 1, 2)
	insert("Podcast", 2, 7)
	insert("Book", 1, 4)

	numbers, err := store.ListEpisodeNumbers(ctx, generator.GroupKey{Category: "Podcast", SeasonNumber: 1})
	if err != nil {
		t.Fatalf("ListEpisodeNumbers failed: %v", err)
	}
	if len(numbers) != 2 {
		t.Fatalf("Expected 2 numbers in the grouping, got %v", numbers)
	}

	numbers, err = store.ListEpisodeNumbers(ctx, generator.GroupKey{Category: "Podcast", SeasonNumber: 2})
	if err != nil {
		t.Fatalf("ListEpisodeNumbers failed: %v", err)
	}
	if len(numbers) != 1 || numbers[0] != 7 {
		t.Errorf("Expected [7], got %v", numbers)
	}

	numbers, err = store.ListEpisodeNumbers(ctx, generator.GroupKey{Category: "Course", SeasonNumber: 1})
	if err != nil {
		t.Fatalf("ListEpisodeNumbers failed: %v", err)
	}
	if len(numbers) != 0 {
		t.Errorf("Expected an empty grouping, got %v", numbers)
	}
}

func TestGetAndDeleteEpisode(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	id, err := store.CreateEpisode(ctx,
		generator.GroupKey{Category: "Podcast"},
		generator.Episode{Title: "Keeper", EpisodeNumber: intPtr(1)})
	if err != nil {
		t.Fatalf("CreateEpisode failed: %v", err)
	}

	rec, err := store.GetEpisode(ctx, id)
	if err != nil {
		t.Fatalf("GetEpisode failed: %v", err)
	}
	if rec == nil || rec.Title != "Keeper" {
		t.Fatalf("Unexpected record: %+v", rec)
	}

	if err := store.DeleteEpisode(ctx, id); err != nil {
		t.Fatalf("DeleteEpisode failed: %v", err)
	}

	rec, err = store.GetEpisode(ctx, id)
	if err != nil {
		t.Fatalf("GetEpisode after delete failed: %v", err)
	}
	if rec != nil {
		t.Errorf("Expected nil for a deleted episode, got %+v", rec)
	}
}
