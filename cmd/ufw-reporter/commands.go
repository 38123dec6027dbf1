package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/adapters/output"
	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/app"
	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
)

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the report cache",
	}

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List reported IPs and when they were last reported",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			cache := app.NewReportCache(store, cfg.Interval)
			defer cache.Close()

			if err := cache.Load(cmd.Context()); err != nil {
				return err
			}
			return printCache(cmd.OutOrStdout(), cache, time.Now(), asJSON)
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")

	cacheCmd.AddCommand(listCmd)
	return cacheCmd
}

type cacheRow struct {
	IP           string    `json:"ip"`
	LastReported time.Time `json:"last_reported"`
	Recent       bool      `json:"recent"`
}

func printCache(w io.Writer, cache *app.ReportCache, now time.Time, asJSON bool) error {
	entries := cache.Entries()

	if asJSON {
		rows := make([]cacheRow, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, cacheRow{
				IP:           e.IP,
				LastReported: e.LastReported.UTC(),
				Recent:       cache.IsRecentlyReported(e.IP, now),
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IP\tLAST REPORTED\tAGO\tRECENT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n",
			e.IP,
			e.LastReported.UTC().Format(time.RFC3339),
			now.Sub(e.LastReported).Round(time.Second),
			cache.IsRecentlyReported(e.IP, now),
		)
	}
	fmt.Fprintf(tw, "\n%d entries, interval %s\n", len(entries), cache.Interval())
	return tw.Flush()
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [line]",
		Short: "Show what would happen to a log line without reporting it",
		Long: `Run a log line through parsing, filtering, the report cache and the
category table, and print the resulting decision and report comment.
Nothing is sent and the cache is not modified.

Lines are read from standard input when no argument is given.

Examples:
  ufw-reporter check "2024-01-01T00:00:00 [UFW BLOCK] SRC=203.0.113.5 PROTO=TCP DPT=22"
  tail -n 50 /var/log/ufw.log | ufw-reporter check`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			dispatcher, cache, err := buildDispatcher(ctx, cfg, output.NewDryRunReporter())
			if err != nil {
				return err
			}
			defer cache.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				printDecision(out, dispatcher.Evaluate(args[0], time.Now()))
				return nil
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), domain.MaxLineLength*2)
			for scanner.Scan() {
				line := scanner.Text()
				if strings.TrimSpace(line) == "" {
					continue
				}
				printDecision(out, dispatcher.Evaluate(line, time.Now()))
			}
			return scanner.Err()
		},
	}
}

func printDecision(w io.Writer, dec app.Decision) {
	if dec.Outcome == domain.OutcomeReported {
		fmt.Fprintln(w, "outcome: would report (nothing sent)")
	} else {
		fmt.Fprintf(w, "outcome: %s\n", dec.Outcome)
	}
	if dec.Event != nil {
		fmt.Fprintf(w, "ip: %s\n", dec.Event.IPString())
		fmt.Fprintf(w, "protocol: %s  dpt: %s\n", dec.Event.Protocol, dec.Event.DestPort)
	}
	if dec.Err != nil {
		fmt.Fprintf(w, "error: %v\n", dec.Err)
	}
	if dec.Detail != "" {
		fmt.Fprintf(w, "detail: %s\n", dec.Detail)
	}
	if dec.Outcome == domain.OutcomeReported {
		fmt.Fprintf(w, "categories: %s\n", dec.Categories)
		fmt.Fprintf(w, "comment:\n%s\n", indent(dec.Comment))
	}
	fmt.Fprintln(w)
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
