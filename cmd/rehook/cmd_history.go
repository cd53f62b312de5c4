package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mbeema/rehook/pkg/journal"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded hook set transitions",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().String("set", "", "only show transitions of this set (minimal or target)")
	historyCmd.Flags().Int("limit", 20, "maximum number of entries")
	historyCmd.Flags().Bool("json", false, "print entries as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.Journal.Enabled {
		return fmt.Errorf("journal is disabled in the configuration")
	}

	j, err := journal.Open(cfg.Journal.Path, zap.NewNop())
	if err != nil {
		return err
	}
	defer j.Close()

	set, _ := cmd.Flags().GetString("set")
	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := j.List(cmd.Context(), journal.ListOptions{Set: set, Limit: limit})
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	printHistory(cmd.OutOrStdout(), entries)
	return nil
}

func printHistory(out io.Writer, entries []journal.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tOP\tSET\tFROM\tTO\tHOOKED\tPID\tPROCESS")
	for _, e := range entries {
		hooked := fmt.Sprintf("%d/%d", e.Installed, e.Declared)
		if e.Degraded() {
			hooked += " (degraded)"
		}
		pid := "-"
		if e.ActorPID > 0 {
			pid = fmt.Sprint(e.ActorPID)
		}
		proc := e.Process
		if proc == "" {
			proc = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.At.Local().Format(time.RFC3339), e.Op, e.Set, e.From, e.To, hooked, pid, proc)
	}
	w.Flush()
}
