package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/web/middleware"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue a bearer token for kiosks and operators",
	Long: `Issue an HS256 bearer token signed with WEB_JWT_SECRET. The token is
required on mutating API routes (upload, process-now, settings) when a secret
is configured.

Examples:
  face-attendance token kiosk-lobby --ttl 720h`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Web.JWTSecret == "" {
		return errors.New("WEB_JWT_SECRET is not set; API authentication is disabled")
	}
	token, err := middleware.IssueToken(cfg.Web.JWTSecret, args[0], mustGetDuration(cmd, "ttl"))
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}
	fmt.Println(token)
	return nil
}
