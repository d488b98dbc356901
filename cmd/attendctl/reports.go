package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"faceattend/internal/attendance"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print attendance rows, newest first",
	Long: `History prints the attendance table filtered by exact date, service and name.

Examples:
  attendctl history --date 2024-03-04
  attendctl history --service HR --name alice --json`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var latenessCmd = &cobra.Command{
	Use:   "lateness",
	Short: "Print lateness rows with summary statistics",
	Args:  cobra.NoArgs,
	RunE:  runLateness,
}

var hoursCmd = &cobra.Command{
	Use:   "hours",
	Short: "Print the hours worked by one person on one day",
	Long: `Hours measures from the first arrival to the last departure of the day.

Examples:
  attendctl hours --name alice --service HR --date 2024-03-04`,
	Args: cobra.NoArgs,
	RunE: runHours,
}

func init() {
	rootCmd.AddCommand(historyCmd, latenessCmd, hoursCmd)

	historyCmd.Flags().String("date", "", "Exact date (YYYY-MM-DD)")
	historyCmd.Flags().String("service", "", "Exact service")
	historyCmd.Flags().String("name", "", "Exact name")
	historyCmd.Flags().Bool("json", false, "Output as JSON")

	latenessCmd.Flags().String("date", "", "Exact date (YYYY-MM-DD)")
	latenessCmd.Flags().String("type", "", "arrival or departure")
	latenessCmd.Flags().String("service", "", "Exact service")
	latenessCmd.Flags().Bool("json", false, "Output as JSON")

	hoursCmd.Flags().String("name", "", "Person name")
	hoursCmd.Flags().String("service", "", "Service (department)")
	hoursCmd.Flags().String("date", "", "Date (YYYY-MM-DD, default today)")
	_ = hoursCmd.MarkFlagRequired("name")
	_ = hoursCmd.MarkFlagRequired("service")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printAttendance(w io.Writer, rows []attendance.AttendanceEvent) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSERVICE\tDATE\tTIME\tTYPE\tSTATUS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Name, r.Service, r.Date, r.Time, r.Type, r.Status)
	}
	tw.Flush()
}

func runHistory(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.Ledger.History(cmd.Context(), attendance.HistoryFilter{
		Date:    mustGetString(cmd, "date"),
		Service: mustGetString(cmd, "service"),
		Name:    mustGetString(cmd, "name"),
	})
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return writeJSON(cmd.OutOrStdout(), rows)
	}
	printAttendance(cmd.OutOrStdout(), rows)
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d rows\n", len(rows))
	return nil
}

func runLateness(cmd *cobra.Command, _ []string) error {
	f := attendance.LatenessFilter{
		Date:    mustGetString(cmd, "date"),
		Service: mustGetString(cmd, "service"),
	}
	if t := mustGetString(cmd, "type"); t != "" {
		et, err := attendance.ParseEventType(t)
		if err != nil {
			return err
		}
		f.Type = et
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Ledger.LatenessReport(cmd.Context(), f)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if mustGetBool(cmd, "json") {
		return writeJSON(out, report)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSERVICE\tDATE\tCHECK\tOFFICIAL\tTYPE\tMINUTES")
	for _, r := range report.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n", r.Name, r.Service, r.Date, r.CheckTime, r.OfficialTime, r.Type, r.LatenessMinutes)
	}
	tw.Flush()
	fmt.Fprintf(out, "\n%d late checks, mean %.1f min, max %d min\n", report.Stats.Count, report.Stats.MeanMinutes, report.Stats.MaxMinutes)
	return nil
}

func runHours(cmd *cobra.Command, _ []string) error {
	name, service := mustGetString(cmd, "name"), mustGetString(cmd, "service")
	date := mustGetString(cmd, "date")
	if date == "" {
		date = time.Now().Format(attendance.DateLayout)
	}
	if _, err := time.Parse(attendance.DateLayout, date); err != nil {
		return fmt.Errorf("invalid date %q, want YYYY-MM-DD", date)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	worked, err := a.Ledger.WorkedHours(cmd.Context(), name, service, date)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) on %s: %s (%.2f h)\n", name, service, date, worked.Round(time.Minute), worked.Hours())
	return nil
}
