package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/crucible/internal/app"
	"github.com/michaelbrown/crucible/internal/execution"
	"github.com/michaelbrown/crucible/internal/history"
)

var (
	modeFilter   string
	failedOnly   bool
	limitFlag    int
	exportFormat string
	exportOutput string
	forceFlag    bool
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"runs"},
	Short:   "Inspect recorded runs",
	Long: `Inspect runs recorded while storage.enabled is set.

IDs may be abbreviated to any unique prefix.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its output",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historyExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run as markdown, JSON or YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryExport,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd, historyExportCmd)

	historyListCmd.Flags().StringVar(&modeFilter, "mode", "", "Filter by mode (test, playground, rustlings-test, rustlings-check)")
	historyListCmd.Flags().BoolVar(&failedOnly, "failed", false, "Only show unsuccessful runs")
	historyListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max runs to show")

	historyExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md, json or yaml")
	historyExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	historyDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := history.ListOptions{Limit: limitFlag}
	if modeFilter != "" {
		m, err := execution.ParseMode(modeFilter)
		if err != nil {
			return err
		}
		opts.Mode = m
	}
	if failedOnly {
		ok := false
		opts.Success = &ok
	}

	runs, err := store.List(cmd.Context(), opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	fmt.Fprintf(out, "%-10s %-16s %-8s %-10s %s\n", "ID", "MODE", "STATUS", "DURATION", "CREATED")
	fmt.Fprintln(out, strings.Repeat("─", 60))

	for _, r := range runs {
		dur := (time.Duration(r.DurationMs) * time.Millisecond).Round(time.Millisecond)
		fmt.Fprintf(out, "%-10s %-16s %-8s %-10s %s\n",
			shortID(r.ID), r.Mode, r.Status(), dur, timeAgo(r.CreatedAt))
	}

	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:      %s\n", run.ID)
	fmt.Fprintf(out, "Mode:     %s\n", run.Mode)
	fmt.Fprintf(out, "Status:   %s\n", run.Status())
	fmt.Fprintf(out, "Duration: %dms\n", run.DurationMs)
	fmt.Fprintf(out, "Created:  %s\n", run.CreatedAt.Format(time.RFC3339))
	if run.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", run.Error)
	}
	fmt.Fprintln(out, strings.Repeat("─", 60))
	fmt.Fprint(out, run.Output)
	if run.Output != "" && !strings.HasSuffix(run.Output, "\n") {
		fmt.Fprintln(out)
	}
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	store, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	run, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !forceFlag {
		fmt.Fprintf(out, "Delete run %s (%s, %s)? [y/N] ", shortID(run.ID), run.Mode, run.Status())
		var confirm string
		fmt.Fscanln(cmd.InOrStdin(), &confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if err := store.Delete(ctx, run.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted run %s\n", shortID(run.ID))
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	store, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	data, err := history.Export(run, exportFormat)
	if err != nil {
		return err
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, data, 0o644)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
