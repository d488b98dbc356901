package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"faceattend/internal/attendance"
)

var checkinCmd = &cobra.Command{
	Use:   "checkin <arrival|departure> <image>",
	Short: "Recognize a face image and record the check",
	Long: `Checkin runs recognition on an image file against the enrolled faces and,
when the face is known, records the arrival or departure with its lateness.

Examples:
  attendctl checkin arrival capture.jpg
  attendctl checkin departure capture.jpg --json`,
	Args: cobra.ExactArgs(2),
	RunE: runCheckin,
}

func init() {
	rootCmd.AddCommand(checkinCmd)
	checkinCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCheckin(cmd *cobra.Command, args []string) error {
	et, err := attendance.ParseEventType(args[0])
	if err != nil {
		return err
	}
	probe, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.Service.CheckIn(cmd.Context(), probe, et)
	out := cmd.OutOrStdout()
	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintln(out, res.Message)
	if len(res.Recent) > 0 {
		fmt.Fprintln(out, "\nRecent checks:")
		printAttendance(out, res.Recent)
	}
	if !res.OK {
		return fmt.Errorf("check-in failed: %s", res.Code)
	}
	return nil
}
