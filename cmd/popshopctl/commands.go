package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/charlesng35/popshop/internal/app/bootstrap"
	"github.com/charlesng35/popshop/internal/database"
	"github.com/charlesng35/popshop/internal/shopify"
)

// runMigrate only needs database settings, so Shopify credentials are not
// validated.
func runMigrate(configPath string, out io.Writer) error {
	cfg, err := bootstrap.ReadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := bootstrap.OpenDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close(db)

	fmt.Fprintln(out, "database schema is up to date")
	return nil
}

func runRegisterWebhooks(ctx context.Context, configPath, rawShop string, out io.Writer) error {
	shop, err := shopify.NormalizeShopDomain(rawShop)
	if err != nil {
		return err
	}

	return withStack(ctx, configPath, func(stack *bootstrap.Stack) error {
		results, regErr := stack.Webhooks.RegisterAll(ctx, shop)

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TOPIC\tCALLBACK\tRESULT")
		for _, res := range results {
			outcome := res.SubscriptionID
			if res.Error != "" {
				outcome = "error: " + res.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", res.Topic, res.CallbackURL, outcome)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if regErr != nil {
			return fmt.Errorf("register webhooks for %s: %w", shop, regErr)
		}
		return nil
	})
}

func runSyncProducts(ctx context.Context, configPath, rawShop string, out io.Writer) error {
	shop, err := shopify.NormalizeShopDomain(rawShop)
	if err != nil {
		return err
	}

	return withStack(ctx, configPath, func(stack *bootstrap.Stack) error {
		synced, err := stack.Products.SyncProducts(ctx, shop, stack.SyncOptions())
		if err != nil {
			return fmt.Errorf("sync products for %s: %w", shop, err)
		}
		fmt.Fprintf(out, "synced %d products for %s\n", synced, shop)
		return nil
	})
}

func runMaintenance(ctx context.Context, configPath string, out io.Writer) error {
	return withStack(ctx, configPath, func(stack *bootstrap.Stack) error {
		runErr := stack.Cleaner.RunOnce(ctx)
		for _, job := range stack.Tracker.Snapshot() {
			status := "ok"
			if job.LastError != "" {
				status = "failed: " + job.LastError
			}
			fmt.Fprintf(out, "%s: %s\n", job.Job, status)
		}
		return runErr
	})
}

func withStack(ctx context.Context, configPath string, fn func(*bootstrap.Stack) error) error {
	cfg, _, err := bootstrap.LoadConfig(configPath, false)
	if err != nil {
		return err
	}

	stack, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	return fn(stack)
}
