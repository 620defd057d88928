// Command portal serves the patient and specialist portal auth surface.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-authstate/config"
	"github.com/goliatone/go-authstate/provider/local"
	"github.com/goliatone/go-authstate/repository"
	"github.com/spf13/cobra"
)

const appName = "portal"

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		envFiles   []string
	)

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Portal auth server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "Env files loaded before the environment overrides")

	load := func() (*config.Config, error) {
		return config.Load(configPath, envFiles...)
	}

	cmd.AddCommand(serveCmd(load), migrateCmd(load), userCmd(load))
	return cmd
}

type loader func() (*config.Config, error)

func serveCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, authstate.DefaultLogger())
		},
	}
}

func migrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the users and profiles tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			db, err := repository.Open(cfg.Persistence.Driver, cfg.Persistence.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.Migrate(cmd.Context(), db, local.Models()...); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func userCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage local accounts",
	}

	var email, password, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a local account with a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return createUser(cmd.Context(), cfg, email, password, role, cmd.OutOrStdout())
		},
	}
	create.Flags().StringVar(&email, "email", "", "Account email")
	create.Flags().StringVar(&password, "password", "", "Account password")
	create.Flags().StringVar(&role, "role", authstate.LeastPrivilegeRole, "Profile role (admin, paciente, especialista)")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}

func createUser(ctx context.Context, cfg *config.Config, email, password, role string, out io.Writer) error {
	if cfg.Auth.Provider != config.ProviderLocal {
		return fmt.Errorf("user create needs the %q auth provider, got %q", config.ProviderLocal, cfg.Auth.Provider)
	}

	db, err := repository.Open(cfg.Persistence.Driver, cfg.Persistence.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db, local.Models()...); err != nil {
		return err
	}

	user, err := local.NewProvider(db, cfg).Register(ctx, email, password, role)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created %s (%s) with role %s\n", user.Email, user.ID, authstate.CanonicalRole(role))
	return nil
}
