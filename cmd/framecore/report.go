package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/l1jgo/framecore/internal/config"
	"github.com/l1jgo/framecore/internal/persist"
	"github.com/spf13/cobra"
)

var (
	flagSession string
	flagLimit   int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show recorded frame statistics",
	Long: `List recorded sessions, or summarize one session's frame samples.

Examples:
  framecore report
  framecore report --limit 5
  framecore report --session <id>`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&flagSession, "session", "", "session id to summarize")
	reportCmd.Flags().IntVar(&flagLimit, "limit", 20, "number of sessions to list")
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.ResolvePath(flagConfig))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver == "" {
		return errors.New("no database configured ([database] driver)")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	db, err := persist.Open(ctx, cfg.Database, nil)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	if err := persist.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	repo := persist.NewStatsRepo(db)
	out := cmd.OutOrStdout()
	if flagSession == "" {
		rows, err := repo.Sessions(ctx, flagLimit)
		if err != nil {
			return err
		}
		printSessions(out, rows)
		return nil
	}

	sum, err := repo.Summary(ctx, flagSession)
	if err != nil {
		return err
	}
	printSummary(out, sum)
	return nil
}

func printSessions(out io.Writer, rows []persist.SessionRow) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "no sessions recorded")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTARTED\tRATE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%.0f Hz\n", r.ID, r.StartedAt.Format(time.DateTime), r.FixedRate)
	}
	tw.Flush()
}

func printSummary(out io.Writer, s *persist.StatsSummary) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "session\t%s\n", s.Session.ID)
	fmt.Fprintf(tw, "started\t%s\n", s.Session.StartedAt.Format(time.DateTime))
	fmt.Fprintf(tw, "fixed rate\t%.0f Hz\n", s.Session.FixedRate)
	fmt.Fprintf(tw, "frames\t%d\n", s.Frames)
	fmt.Fprintf(tw, "ticks\t%d\n", s.Ticks)
	fmt.Fprintf(tw, "rendered\t%d\n", s.Rendered)
	fmt.Fprintf(tw, "dropped\t%d\n", s.Dropped)
	fmt.Fprintf(tw, "stale\t%d\n", s.Stale)
	fmt.Fprintf(tw, "paused\t%d\n", s.Paused)
	fmt.Fprintf(tw, "elapsed avg\t%.2f ms\n", s.AvgElapsed*1000)
	fmt.Fprintf(tw, "elapsed max\t%.2f ms\n", s.MaxElapsed*1000)
	if s.Frames > 0 {
		fmt.Fprintf(tw, "span\t%s\n", s.Last.Sub(s.First).Round(time.Millisecond))
	}
	tw.Flush()
}
