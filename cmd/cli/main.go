package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/NahidaBuer/programmer-trending/internal/app"
	"github.com/NahidaBuer/programmer-trending/internal/config"
	"github.com/NahidaBuer/programmer-trending/internal/models"
	"github.com/NahidaBuer/programmer-trending/internal/storage"
	"github.com/NahidaBuer/programmer-trending/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
	deps    *app.App
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "trending",
		Short: "Programmer trending pipeline CLI",
		Long: `Crawls programmer news sources, stores the items and generates
AI summaries for them. Use these commands to run a cycle by hand or inspect state.`,
		SilenceUsage:      true,
		PersistentPreRunE: initializeApp,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if deps != nil {
				_ = deps.Close()
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(summarizeCmd())
	rootCmd.AddCommand(itemsCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(sourcesCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initializeApp(cmd *cobra.Command, args []string) error {
	var err error

	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	deps, err = app.New(cmd.Context(), cfg, log)
	return err
}

// ============ CRAWL COMMANDS ============

func crawlCmd() *cobra.Command {
	var sourceID string
	var limit int

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl sources and ingest new items",
		RunE: func(cmd *cobra.Command, args []string) error {
			result := deps.Scheduler.TriggerManualCrawl(cmd.Context(), sourceID, limit)
			if !result.Success {
				return errors.New(result.Error)
			}

			fmt.Printf("\n=== Crawl Results ===\n")
			fmt.Printf("Sources Crawled: %d\n", result.SourcesCrawled)
			fmt.Printf("New Items:       %d\n", result.TotalNewItems)
			fmt.Printf("Duration:        %.1fs\n", result.DurationSeconds)

			if len(result.PerSource) > 0 {
				fmt.Printf("\nPer source:\n")
				for id, n := range result.PerSource {
					fmt.Printf("  %-20s %d\n", id, n)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceID, "source", "", "Crawl a single source only")
	cmd.Flags().IntVar(&limit, "limit", 0, "Items per source (default from config)")
	return cmd
}

// ============ SUMMARY COMMANDS ============

func summarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize",
		Short: "Run one summary generation cycle over runnable tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			result := deps.Scheduler.TriggerManualSummaryGeneration(cmd.Context())
			if !result.Success {
				return errors.New(result.Error)
			}

			stats := result.Stats
			fmt.Printf("\n=== Generation Results ===\n")
			fmt.Printf("Selected:           %d\n", stats.Selected)
			fmt.Printf("Completed:          %d\n", stats.Completed)
			fmt.Printf("Failed:             %d\n", stats.Failed)
			fmt.Printf("Permanently failed: %d\n", stats.PermanentlyFailed)
			fmt.Printf("Skipped:            %d\n", stats.Skipped)
			fmt.Printf("Deferred:           %d\n", stats.Deferred)
			fmt.Printf("Duration:           %.1fs\n", result.DurationSeconds)
			return nil
		},
	}
}

// ============ ITEM COMMANDS ============

func itemsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Browse stored items",
	}

	cmd.AddCommand(itemsListCmd())
	cmd.AddCommand(itemsShowCmd())
	return cmd
}

func itemsListCmd() *cobra.Command {
	var (
		sourceID   string
		since      time.Duration
		hasSummary string
		sortBy     string
		page       int
		pageSize   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.ItemFilter{SortBy: sortBy, Page: page, PageSize: pageSize}
			if sourceID != "" {
				filter.SourceID = &sourceID
			}
			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}
			if hasSummary != "" {
				has, err := strconv.ParseBool(hasSummary)
				if err != nil {
					return fmt.Errorf("--has-summary must be true or false")
				}
				filter.HasSummary = &has
			}

			items, total, err := deps.Repository.ListItems(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list items: %w", err)
			}

			fmt.Printf("\n=== Items (%d of %d) ===\n\n", len(items), total)
			for _, item := range items {
				score := "-"
				if item.Score != nil {
					score = strconv.Itoa(*item.Score)
				}
				fmt.Printf("[%d] %s\n", item.ID, item.Title)
				fmt.Printf("    Source: %s | Score: %s | Summary: %s\n", item.SourceID, score, summaryState(item))
				fmt.Printf("    %s\n\n", item.URL)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceID, "source", "", "Filter by source id")
	cmd.Flags().DurationVar(&since, "since", 0, "Only items created within this duration, e.g. 24h")
	cmd.Flags().StringVar(&hasSummary, "has-summary", "", "Filter by completed summary (true/false)")
	cmd.Flags().StringVar(&sortBy, "sort", storage.SortByTime, "Sort by time or score")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Items per page (max 100)")
	return cmd
}

func summaryState(item *models.Item) string {
	if item.Summary == nil {
		return "none"
	}
	return string(item.Summary.Status)
}

func itemsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show an item and its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id: %s", args[0])
			}

			item, err := deps.Repository.GetItemByID(cmd.Context(), uint(id))
			if err != nil {
				return fmt.Errorf("failed to get item: %w", err)
			}

			fmt.Printf("\n=== Item #%d ===\n", item.ID)
			fmt.Printf("Title:   %s\n", item.Title)
			fmt.Printf("URL:     %s\n", item.URL)
			fmt.Printf("Source:  %s (%s)\n", item.SourceID, item.ExternalID)
			fmt.Printf("Created: %s\n", item.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Fetched: %s\n", item.FetchedAt.Format(time.RFC3339))
			if len(item.Tags) > 0 {
				fmt.Printf("Tags:    %v\n", []string(item.Tags))
			}

			task := item.Summary
			if task == nil {
				fmt.Println("\nNo summary task.")
				return nil
			}
			fmt.Printf("\n--- Summary (%s, %d/%d retries) ---\n", task.Status, task.RetryCount, task.MaxRetries)
			if task.TranslatedTitle != nil {
				fmt.Printf("%s\n\n", *task.TranslatedTitle)
			}
			if task.Content != nil {
				fmt.Println(*task.Content)
			}
			if task.ErrorMessage != nil {
				fmt.Printf("Last error (%s): %s\n", *task.ErrorCategory, *task.ErrorMessage)
			}
			return nil
		},
	}
}

// ============ TASK COMMANDS ============

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Summary task maintenance",
	}

	cmd.AddCommand(tasksBackfillCmd())
	cmd.AddCommand(tasksStatsCmd())
	cmd.AddCommand(tasksResetStaleCmd())
	return cmd
}

func tasksBackfillCmd() *cobra.Command {
	var sourceID string

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Create pending tasks for items without one",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := deps.Ingester.Backfill(cmd.Context(), sourceID)
			if err != nil {
				return err
			}
			fmt.Printf("Created %d tasks (%d items were missing one)\n", result.Created, result.TotalMissing)
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceID, "source", "", "Limit to one source")
	return cmd
}

func tasksStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := deps.Repository.GetTaskStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get task stats: %w", err)
			}
			printTaskStats(stats)
			return nil
		},
	}
}

func printTaskStats(stats map[models.TaskStatus]int64) {
	var total int64
	for _, status := range models.AllTaskStatuses {
		fmt.Printf("%-20s %d\n", status, stats[status])
		total += stats[status]
	}
	fmt.Printf("%-20s %d\n", "total", total)
}

func tasksResetStaleCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "reset-stale",
		Short: "Return tasks stuck in_progress to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := deps.Repository.ResetStaleTasks(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return fmt.Errorf("failed to reset tasks: %w", err)
			}
			fmt.Printf("Reset %d tasks\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*time.Minute, "Only tasks started before this long ago")
	return cmd
}

// ============ SOURCE COMMANDS ============

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage crawl sources",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List known sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := deps.Repository.ListSources(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list sources: %w", err)
			}

			registered := make(map[string]bool)
			for _, id := range deps.Sources.IDs() {
				registered[id] = true
			}

			fmt.Printf("\n=== Sources (%d) ===\n\n", len(sources))
			for _, s := range sources {
				state := "enabled"
				if !s.Enabled {
					state = "disabled"
				}
				if !registered[s.ID] {
					state += ", not configured"
				}
				fmt.Printf("%-20s %-30s %s\n", s.ID, s.Name, state)
			}
			return nil
		},
	})

	cmd.AddCommand(sourceToggleCmd("enable", true))
	cmd.AddCommand(sourceToggleCmd("disable", false))
	return cmd
}

func sourceToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [source-id]",
		Short: use + " a source for scheduled crawls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deps.Repository.SetSourceEnabled(cmd.Context(), args[0], enabled); err != nil {
				return fmt.Errorf("failed to %s source: %w", use, err)
			}
			fmt.Printf("Source %s %sd\n", args[0], use)
			return nil
		},
	}
}

// ============ STATUS ============

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show item and task statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			items, err := deps.Discovery.Stats(ctx)
			if err != nil {
				return fmt.Errorf("failed to get item stats: %w", err)
			}
			tasks, err := deps.Repository.GetTaskStats(ctx)
			if err != nil {
				return fmt.Errorf("failed to get task stats: %w", err)
			}

			fmt.Printf("\n=== Items ===\n")
			fmt.Printf("Total:     %d\n", items.TotalItems)
			fmt.Printf("Last 24h:  %d\n", items.Recent)
			for id, n := range items.BySource {
				fmt.Printf("  %-20s %d\n", id, n)
			}

			fmt.Printf("\n=== Summary Tasks ===\n")
			printTaskStats(tasks)

			usage := deps.Limiter.Usage()
			if usage.Enabled {
				fmt.Printf("\n=== Rate Limit ===\n")
				fmt.Printf("Minute: %d/%d\n", usage.MinuteUsed, usage.MinuteCap)
				fmt.Printf("Day:    %d/%d\n", usage.DayUsed, usage.DayCap)
			}
			return nil
		},
	}
}
