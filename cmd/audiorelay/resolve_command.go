package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"audiorelay/internal/logging"
	"audiorelay/internal/pipeline"
	"audiorelay/internal/videoref"
)

type resolveOutput struct {
	Success        bool   `json:"success"`
	Title          string `json:"title"`
	Duration       string `json:"duration"`
	AudioURL       string `json:"audioUrl"`
	IsDirectStream bool   `json:"isDirectStream"`
	Strategy       string `json:"strategy,omitempty"`
	Cached         bool   `json:"cached"`
	Elapsed        string `json:"elapsed"`
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var verbose bool
	var order []string

	cmd := &cobra.Command{
		Use:   "resolve <url>",
		Short: "Resolve one video URL through the strategy pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if len(order) > 0 {
				cfg.Pipeline.Order = order
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			logger := logging.NewNop()
			if verbose {
				logger, err = logging.NewFromConfig(cfg)
				if err != nil {
					return err
				}
			}

			components, err := pipeline.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer components.Close()

			start := time.Now()
			outcome, err := components.Resolver.Resolve(cmd.Context(), args[0])
			if errors.Is(err, videoref.ErrInvalidURL) {
				return fmt.Errorf("invalid YouTube URL %q", args[0])
			}
			if err != nil {
				return err
			}

			out := resolveOutput{
				Success:        outcome.Success,
				Title:          outcome.Title,
				Duration:       outcome.Duration,
				AudioURL:       outcome.AudioURL,
				IsDirectStream: outcome.IsDirectStream,
				Strategy:       outcome.Strategy,
				Cached:         outcome.Cached,
				Elapsed:        time.Since(start).Round(time.Millisecond).String(),
			}
			if asJSON {
				return writeJSON(cmd, out)
			}

			strategy := out.Strategy
			if strategy == "" {
				strategy = "fallback"
			}
			rows := [][]string{
				{"Success", yesNo(out.Success)},
				{"Title", out.Title},
				{"Duration", out.Duration},
				{"Strategy", strategy},
				{"Cached", yesNo(out.Cached)},
				{"Direct stream", yesNo(out.IsDirectStream)},
				{"Elapsed", out.Elapsed},
				{"Audio URL", out.AudioURL},
			}
			fmt.Fprint(cmd.OutOrStdout(), renderFieldTable(rows))
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	addJSONFlag(cmd, &asJSON, "the outcome")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log strategy attempts to stderr at logging.level")
	cmd.Flags().StringSliceVar(&order, "order", nil, "Override pipeline.order for this resolution (comma separated)")
	return cmd
}
