package main

import (
	"github.com/spf13/cobra"

	"faceattend/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token <device-id>",
	Short: "Issue access and refresh tokens for a check-in device",
	Long: `Token signs a token pair with the configured JWT key, for provisioning a
device without calling the registration endpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		issuer := auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		tokens, err := issuer.Issue(args[0], auth.RoleDevice)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), tokens)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}
