package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Checker-Finance/checks-optimizer/internal/bootstrap"
	"github.com/Checker-Finance/checks-optimizer/internal/catalog"
	"github.com/Checker-Finance/checks-optimizer/internal/service"
	"github.com/Checker-Finance/checks-optimizer/pkg/config"
	"github.com/Checker-Finance/checks-optimizer/pkg/logger"
)

func optimizeCmd() *cobra.Command {
	var format string
	var timeout time.Duration

	c := &cobra.Command{
		Use:   "optimize",
		Short: "Fetch live listings and print the cheapest 64 sub-unit combination",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "pretty" && format != "json" {
				return fmt.Errorf("unsupported format %q (expected pretty|json)", format)
			}

			cfg := config.Load()
			if err := cfg.Validate(); err != nil {
				return err
			}
			level, _ := cmd.Flags().GetString("log-level")
			logger.Init("checksctl", cfg.Env, level)
			defer logger.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			source, err := bootstrap.ListingSource(ctx, cfg, logger.L())
			if err != nil {
				return err
			}
			cache := catalog.New(logger.Named("catalog"), source, bootstrap.CatalogOptions(cfg))
			defer cache.Wait()

			report, err := service.New(logger.Named("service"), cache, cfg.MarketplaceURL).Report(ctx, true)
			if err != nil {
				return err
			}
			return printReport(os.Stdout, report, format)
		},
	}

	c.Flags().StringVar(&format, "format", "pretty", "Output format: pretty|json")
	c.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Overall deadline for fetching listings")
	return c
}

func printReport(w io.Writer, r *service.Report, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "pretty", "":
		printPrettyReport(w, r)
		return nil
	default:
		return fmt.Errorf("unsupported format %q (expected pretty|json)", format)
	}
}

func printPrettyReport(w io.Writer, r *service.Report) {
	fmt.Fprintf(w, "Snapshot:  %s\n", r.SnapshotID)
	fmt.Fprintf(w, "Captured:  %s\n", r.CapturedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Listings:  %d\n", r.ItemCount)
	fmt.Fprintf(w, "Duration:  %dms\n", r.APIDurationMs)
	if r.Warning != "" {
		fmt.Fprintf(w, "Warning:   %s\n", r.Warning)
	}
	fmt.Fprintln(w)

	opt := r.Optimization
	if !opt.Satisfiable {
		fmt.Fprintln(w, "Optimal combination: not enough listings to reach 64 sub-units")
	} else {
		fmt.Fprintf(w, "Optimal combination: %s ETH\n", opt.TotalCost.StringFixed(4))
		for _, g := range opt.Combination {
			fmt.Fprintf(w, "- %-9s x%-3d (%2d sub-units)  cheapest %s  %s\n",
				g.Tier, g.Count, g.Units, g.Cheapest.Price.String(), g.CheapestURL)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Sweep editions: %s ETH (%d items)\n", r.Sweep.Editions.Cost.StringFixed(4), r.Sweep.Editions.Count)
	fmt.Fprintf(w, "Sweep checks:   %s ETH (%d items)\n", r.Sweep.Units.Cost.StringFixed(4), r.Sweep.Units.Count)

	if r.Cheapest != nil {
		fmt.Fprintf(w, "Cheapest single check: #%s at %s ETH  %s\n", r.Cheapest.TokenID, r.Cheapest.Price.String(), r.Cheapest.URL)
	} else {
		fmt.Fprintln(w, "Cheapest single check: none listed")
	}
}
