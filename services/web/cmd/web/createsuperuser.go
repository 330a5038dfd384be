package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"bookreview/internal/util"
	"bookreview/services/web/internal/config"
)

var superuser struct {
	username string
	email    string
	password string
}

var createSuperuserCmd = &cobra.Command{
	Use:   "createsuperuser",
	Short: "Create a staff account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		util.InitLogger(cfg.LogLevel)

		password := superuser.password
		if password == "" {
			password = os.Getenv("BOOKREVIEW_SUPERUSER_PASSWORD")
		}
		if strings.TrimSpace(superuser.username) == "" || password == "" {
			return errors.New("--username and --password (or BOOKREVIEW_SUPERUSER_PASSWORD) are required")
		}

		d, err := build(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer d.Close()
		if d.ephemeral {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: no databaseURL configured; the account will not persist")
		}

		user, err := d.app.CreateSuperuser(cmd.Context(), superuser.username, superuser.email, password)
		if err != nil {
			return fmt.Errorf("create superuser: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Superuser %q created (id %d).\n", user.Username, user.ID)
		return nil
	},
}

func init() {
	f := createSuperuserCmd.Flags()
	f.StringVar(&superuser.username, "username", "", "Login name")
	f.StringVar(&superuser.email, "email", "", "Email address (optional)")
	f.StringVar(&superuser.password, "password", "", "Password (env BOOKREVIEW_SUPERUSER_PASSWORD)")
}
