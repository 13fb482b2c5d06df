// bellhopctl manages staff accounts and stored requests outside the api
// server.
//
//	bellhopctl register --email sam@hotel.example --role bellman [--name Sam]
//	bellhopctl sweep [--retention 36h]
//	bellhopctl migrate
//
// Configuration comes from the same environment (and .env file) as the api
// server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"bellhop/app"
	"bellhop/auth"
	"bellhop/config"
	"bellhop/db"
	"bellhop/profile"
)

var errUsage = errors.New("usage: bellhopctl <register|sweep|migrate> [flags]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := cfg.NewLogger()

	switch args[0] {
	case "register":
		return runRegister(ctx, cfg, log, args[1:], out)
	case "sweep":
		return runSweep(ctx, cfg, log, args[1:], out)
	case "migrate":
		return runMigrate(ctx, cfg, args[1:], out)
	}
	return fmt.Errorf("unknown command %q\n%w", args[0], errUsage)
}

func runRegister(ctx context.Context, cfg *config.Config, log *logrus.Logger, args []string, out io.Writer) error {
	var email, password, name, role string
	flagSet := pflag.NewFlagSet("register", pflag.ContinueOnError)
	flagSet.StringVar(&email, "email", "", "staff email address (required)")
	flagSet.StringVar(&password, "password", "", "password; defaults to $BELLHOP_PASSWORD")
	flagSet.StringVar(&name, "name", "", "display name shown to guests")
	flagSet.StringVar(&role, "role", string(profile.RoleBellman), "bellman or admin")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if password == "" {
		password = os.Getenv("BELLHOP_PASSWORD")
	}
	if email == "" || password == "" {
		return fmt.Errorf("register: --email and a password are required")
	}
	r, err := profile.ParseRole(role)
	if err != nil {
		return err
	}
	if !r.IsStaff() {
		return fmt.Errorf("register: role must be bellman or admin, got %q", role)
	}
	if err := requireDurable(cfg); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	identity, err := a.Auth.Register(ctx, auth.RegisterRequest{Email: email, Password: password, DisplayName: name})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	p, err := a.Profiles.Provision(ctx, identity, r)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	fmt.Fprintf(out, "registered %s as %s (uid %s)\n", p.Email, p.Role, p.UID)
	return nil
}

func runSweep(ctx context.Context, cfg *config.Config, log *logrus.Logger, args []string, out io.Writer) error {
	retention := cfg.Requests.Retention
	flagSet := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
	flagSet.DurationVar(&retention, "retention", retention, "delete requests older than this")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if retention <= 0 {
		return fmt.Errorf("sweep: --retention must be positive")
	}
	if err := requireDurable(cfg); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	deleted, err := a.Requests.Sweep(ctx, time.Now(), retention)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Fprintf(out, "deleted %d request(s) older than %s\n", deleted, retention)
	return nil
}

// requireDurable rejects a memory store without DATA_DIR: anything written
// there would vanish when the command exits.
func requireDurable(cfg *config.Config) error {
	if cfg.Store.Backend == config.BackendMemory && cfg.Store.DataDir == "" {
		return fmt.Errorf("STORE_BACKEND is memory and DATA_DIR is unset; nothing would persist")
	}
	return nil
}

func runMigrate(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if cfg.Store.Backend != config.BackendPostgres {
		return fmt.Errorf("migrate: STORE_BACKEND is %q; migrations only apply to postgres", cfg.Store.Backend)
	}

	pool, err := db.NewPool(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}
	names, err := db.MigrationNames()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "applied %s\n", strings.Join(names, ", "))
	return nil
}
