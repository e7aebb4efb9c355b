package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"plotform-planner/internal/clipper"
	"plotform-planner/internal/config"
	"plotform-planner/internal/database"
	"plotform-planner/internal/generator"
	"plotform-planner/internal/llm"
	"plotform-planner/internal/metrics"
	"plotform-planner/internal/workspace"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	textGen, closeGen, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize text generator: %v", err)
	}
	defer closeGen()

	db, err := database.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	store := workspace.NewStore(db.SQL)
	registry := workspace.NewRegistry(db.SQL)
	metricsStore := metrics.NewStore(db.SQL)

	pipeline := generator.New(textGen, store, registry,
		generator.WithRecorder(metricsStore))
	ideaClipper := clipper.NewClipper(textGen)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "plan":
		planCmd := flag.NewFlagSet("plan", flag.ExitOnError)
		fromURL := planCmd.String("from-url", "", "Extract the idea from a web page instead of the command line")
		planCmd.Parse(os.Args[2:])

		idea := strings.Join(planCmd.Args(), " ")
		if *fromURL != "" {
			extracted, err := ideaClipper.ExtractIdea(ctx, *fromURL)
			if err != nil {
				log.Fatalf("Idea extraction failed: %v", err)
			}
			fmt.Printf("💡 %s\n   %s\n\n", extracted.Title, extracted.Text)
			idea = extracted.Text
		}
		if idea == "" {
			log.Fatal("Usage: plotform-planner plan [--from-url <url>] \"<idea>\"")
		}

		if err := runPlan(ctx, pipeline, idea); err != nil {
			log.Fatalf("Generation failed: %v", err)
		}
	case "categories":
		if err := printCategories(ctx, registry); err != nil {
			log.Fatalf("Failed to list categories: %v", err)
		}
	case "use":
		if len(os.Args) < 3 {
			log.Fatal("Usage: plotform-planner use <category>")
		}
		name := strings.Join(os.Args[2:], " ")
		if err := registry.SetActiveCategory(ctx, name); err != nil {
			log.Fatalf("Failed to switch category: %v", err)
		}
		fmt.Printf("Active category is now %s\n", name)
	case "episodes":
		epCmd := flag.NewFlagSet("episodes", flag.ExitOnError)
		category := epCmd.String("category", "", "Category to list (defaults to the active one)")
		epCmd.Parse(os.Args[2:])

		if err := printEpisodes(ctx, store, registry, *category); err != nil {
			log.Fatalf("Failed to list episodes: %v", err)
		}
	case "metrics-cleanup":
		cleanupCmd := flag.NewFlagSet("metrics-cleanup", flag.ExitOnError)
		days := cleanupCmd.Int("days", 30, "Keep records for the last N days")
		cleanupCmd.Parse(os.Args[2:])

		affected, err := metricsStore.Cleanup(*days)
		if err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
		fmt.Printf("Successfully removed %d old metric records.\n", affected)
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// runPlan drives one generation run, streaming progress to stdout and
// prompting on a commit choice.
func runPlan(ctx context.Context, pipeline *generator.Pipeline, idea string) error {
	events, err := pipeline.StartRun(ctx, idea)
	if err != nil {
		return err
	}

	for ev := range events {
		switch ev.Type {
		case generator.EventStageStarted:
			fmt.Printf("→ %s...\n", ev.Stage)
		case generator.EventRetryScheduled:
			fmt.Printf("  service busy, retry %d in %s (%s)\n", ev.Attempt+1, ev.Delay, ev.Message)
		case generator.EventStageFailed:
			if ev.Part > 0 {
				return fmt.Errorf("%s failed at part %d: %s", ev.Stage, ev.Part, ev.Message)
			}
			return fmt.Errorf("%s failed: %s", ev.Stage, ev.Message)
		case generator.EventAwaitingChoice:
			if err := promptCommitChoice(pipeline, ev.Response); err != nil {
				return err
			}
		case generator.EventCommitted:
			fmt.Printf("✓ committed %d episode(s)\n", ev.CommittedCount)
		}
	}
	return nil
}

func promptCommitChoice(pipeline *generator.Pipeline, resp *generator.PlanResponse) error {
	fmt.Printf("\nThe plan suggests the %q category, which differs from your current default.\n", resp.SuggestedCategory)
	for _, ep := range resp.Episodes {
		fmt.Printf("  • %s\n", ep.Title)
	}
	fmt.Printf("\n[1] commit into the current category\n[2] switch to %q and commit\n> ", resp.SuggestedCategory)

	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		pipeline.Cancel()
		return fmt.Errorf("failed to read choice: %w", err)
	}

	choice := generator.ChoiceCurrent
	if strings.TrimSpace(answer) == "2" {
		choice = generator.ChoiceSwitch
	}
	return pipeline.ChooseCommit(choice)
}

func printCategories(ctx context.Context, registry *workspace.Registry) error {
	cats, err := registry.ListCategories(ctx)
	if err != nil {
		return err
	}
	active, err := registry.ActiveCategory(ctx)
	if err != nil {
		return err
	}

	for _, c := range cats {
		marker := " "
		if c.Name == active.Name {
			marker = "*"
		}
		fmt.Printf("%s %-14s %s\n", marker, c.Name, c.Description)
	}
	return nil
}

func printEpisodes(ctx context.Context, store *workspace.Store, registry *workspace.Registry, category string) error {
	if category == "" {
		active, err := registry.ActiveCategory(ctx)
		if err != nil {
			return err
		}
		category = active.Name
	}

	records, err := store.ListEpisodes(ctx, category)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("No episodes in %s yet.\n", category)
		return nil
	}

	for _, rec := range records {
		season := ""
		if rec.SeasonNumber > 0 {
			season = fmt.Sprintf("S%d", rec.SeasonNumber)
		}
		fmt.Printf("%4d  %3sE%d  %s\n", rec.ID, season, rec.EpisodeNumber, rec.Title)
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: plotform-planner <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  plan               Generate and commit an episode plan from an idea")
	fmt.Println("  categories         List content categories (active one marked *)")
	fmt.Println("  use                Switch the active content category")
	fmt.Println("  episodes           List committed episodes")
	fmt.Println("  metrics-cleanup    Remove old metric records")
}
