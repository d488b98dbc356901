package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"faceattend/internal/checkin"
	"faceattend/internal/gallery"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a face, or every face in a directory",
	Long: `Enroll stores a face image for a (name, service) pair, replacing any
earlier enrollment of the same pair.

Examples:
  # Enroll one person
  attendctl enroll --name alice --service HR --image alice.jpg

  # Enroll one person with their own official times
  attendctl enroll --name bob --service IT --image bob.png --arrival 09:00 --departure 18:00

  # Enroll a directory of images named <name>_<service>.<ext>
  attendctl enroll --dir ./faces`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("name", "", "Person name")
	enrollCmd.Flags().String("service", "", "Service (department)")
	enrollCmd.Flags().String("image", "", "Face image file")
	enrollCmd.Flags().String("arrival", "", "Official arrival time override (HH:MM)")
	enrollCmd.Flags().String("departure", "", "Official departure time override (HH:MM)")
	enrollCmd.Flags().String("dir", "", "Enroll every <name>_<service> image in this directory")
}

func runEnroll(cmd *cobra.Command, _ []string) error {
	dir := mustGetString(cmd, "dir")
	imagePath := mustGetString(cmd, "image")
	if dir == "" && imagePath == "" {
		return errors.New("either provide --image or use --dir")
	}
	if dir != "" && imagePath != "" {
		return errors.New("cannot specify both --image and --dir")
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if dir != "" {
		return enrollDir(cmd, a.Service, dir)
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	enr, err := a.Service.Enroll(ctx, checkin.EnrollRequest{
		Name:      mustGetString(cmd, "name"),
		Service:   mustGetString(cmd, "service"),
		Image:     data,
		Arrival:   mustGetString(cmd, "arrival"),
		Departure: mustGetString(cmd, "departure"),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Enrolled %s (%s) as %s\n", enr.Identity.Name, enr.Identity.Service, enr.Ref)
	return nil
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".tif": true, ".tiff": true}

func enrollDir(cmd *cobra.Command, svc *checkin.Service, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %s", dir)
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("Enrolling faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)

	var failed []string
	for _, name := range files {
		bar.Add(1)
		id, ok := gallery.Decode(name, nil)
		if !ok {
			failed = append(failed, name+": file name is not <name>_<service>")
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			failed = append(failed, name+": "+err.Error())
			continue
		}
		if _, err := svc.Enroll(cmd.Context(), checkin.EnrollRequest{Name: id.Name, Service: id.Service, Image: data}); err != nil {
			failed = append(failed, name+": "+err.Error())
		}
	}
	bar.Finish()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nEnrolled %d of %d faces\n", len(files)-len(failed), len(files))
	for _, f := range failed {
		fmt.Fprintf(out, "  skipped %s\n", f)
	}
	if len(failed) == len(files) {
		return errors.New("no face enrolled")
	}
	return nil
}
