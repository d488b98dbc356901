package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"faceattend/internal/app"
	"faceattend/internal/config"
	"faceattend/internal/logging"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "attendctl",
	Short: "Operate the face attendance engine from the command line",
	Long: `attendctl enrolls faces, runs check-ins from image files and prints the
attendance and lateness reports. It works directly on the configured stores,
so it can run next to the API server or without it.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (defaults to $CONFIG_FILE)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

func loadConfig() (config.App, error) {
	path := configFile
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return config.App{}, err
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

// openApp builds the engine for a single command. The in-process queue is
// forced so a command never waits on an external worker.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.QueueBackend = "memory"
	return app.New(ctx, cfg)
}
