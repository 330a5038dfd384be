package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"bookreview/services/web/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "web",
	Short:         "BookReview web application",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultPath := config.ConfigPath
	if v := strings.TrimSpace(os.Getenv("BOOKREVIEW_CONFIG")); v != "" {
		defaultPath = v
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultPath, "Path to the YAML config file (env BOOKREVIEW_CONFIG)")
	rootCmd.AddCommand(serveCmd, createSuperuserCmd)
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
