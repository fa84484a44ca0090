// Command popshopctl runs one-off operational tasks against the popshop
// database and the Shopify Admin API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charlesng35/popshop/internal/app"
	"github.com/charlesng35/popshop/pkg/logger"
)

const usage = `Usage: popshopctl [-config path] <command> [args]

Commands:
  migrate                    Apply the database schema
  register-webhooks <shop>   Subscribe an installed shop to the configured webhook topics
  sync-products <shop>       Pull a shop's product catalogue from the Admin API
  maintenance                Run every maintenance job once
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("popshopctl", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usage) }

	var configPath, logLevel string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")
	fs.StringVar(&logLevel, "log-level", "warn", "Log level for command output")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := app.ConfigureLogging(logLevel, "console"); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("a command is required")
	}

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "migrate":
		return runMigrate(configPath, out)
	case "register-webhooks":
		shop, err := shopArg(cmd, cmdArgs)
		if err != nil {
			return err
		}
		return runRegisterWebhooks(ctx, configPath, shop, out)
	case "sync-products":
		shop, err := shopArg(cmd, cmdArgs)
		if err != nil {
			return err
		}
		return runSyncProducts(ctx, configPath, shop, out)
	case "maintenance":
		return runMaintenance(ctx, configPath, out)
	case "help":
		fs.Usage()
		return nil
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func shopArg(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s: expected exactly one shop domain", cmd)
	}
	return args[0], nil
}
