package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"reportapp/internal/config"
	"reportapp/internal/data"
	"reportapp/internal/service"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if isRunningAsService() {
		runAsService()
		return
	}
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reportapp",
		Short: "ReportApp - reporting and data import server",
		Long: `ReportApp serves the report backend under /api and the browser UI at /.

Run without a subcommand to start the server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the server (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context())
		},
	})
	root.AddCommand(newResetPasswordCmd())
	root.AddCommand(newDriversCmd())
	root.AddCommand(serviceCommands()...)
	return root
}

// runServer serves until SIGINT or SIGTERM.
func runServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w (check .env or %sKEY)", err, config.EnvPrefix)
	}
	return serve(ctx, cfg)
}

func newResetPasswordCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:     "reset-password",
		Short:   "Reset a user's password (interactive)",
		Example: `  reportapp reset-password -u admin`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return resetPassword(cmd.Context(), username)
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "Username to reset")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

func resetPassword(ctx context.Context, username string) error {
	password, err := readPassword("New password: ")
	if err != nil {
		return err
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	db, err := data.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	defer db.Close()

	auth := service.NewAuthService(data.NewUserRepo(db), service.NewTokenService(cfg.JWTSecret, cfg.TokenTTL))
	if err := auth.ResetPassword(ctx, username, password); err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}
	fmt.Printf("Password for user '%s' has been reset successfully.\n", username)
	return nil
}

func newDriversCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List the installed ODBC drivers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			drivers := service.InstalledODBCDrivers()
			if len(drivers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No ODBC drivers found.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(drivers, "\n"))
			return nil
		},
	}
}
