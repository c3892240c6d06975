package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/app"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research"
)

var (
	query         string
	maxIterations int
	concurrency   int
	outputPath    string
	verbose       bool
)

func main() {
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "deep-research",
		Short: "A terminal-based deep research agent",
		Long: `deep-research plans a research strategy for a question, searches the web in parallel,
drafts a report, refines it against the gaps it finds and prints a cited final report.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelInfo
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			if !cmd.Flags().Changed("query") {
				// Interactive Mode
				fmt.Print("Enter research question: ")
				input, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				query = input
			}
			query = strings.TrimSpace(query)
			if query == "" {
				return errors.New("question cannot be empty")
			}

			if cmd.Flags().Changed("max-iterations") {
				cfg.MaxIterations = maxIterations
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.MaxConcurrentSearches = concurrency
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	rootCmd.Flags().StringVarP(&query, "query", "q", "", "The research question")
	rootCmd.Flags().IntVar(&maxIterations, "max-iterations", 3, "Maximum number of draft iterations")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 3, "Maximum concurrent searches per batch")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the final report to this file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show engine logs")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	factory, err := app.NewFactory(ctx, cfg)
	if err != nil {
		return err
	}

	printer := newPrinter(os.Stdout)
	engine := factory.Engine(app.Options(cfg))
	engine.Emit = printer.Handle

	state, err := engine.Run(ctx, query)
	if research.IsCancellation(err) {
		printer.Cancelled(len(state.Findings))
		return err
	}
	if err != nil {
		return err
	}

	report := state.FinalReport
	if outputPath == "" {
		printer.Report(report)
		return nil
	}
	if err := os.WriteFile(outputPath, []byte(renderMarkdown(report)), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	printer.Saved(outputPath, report)
	return nil
}
