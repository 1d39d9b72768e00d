package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billmirror/internal/account"
	"github.com/smallbiznis/billmirror/internal/charge"
	"github.com/smallbiznis/billmirror/internal/clock"
	"github.com/smallbiznis/billmirror/internal/config"
	"github.com/smallbiznis/billmirror/internal/customer"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	"github.com/smallbiznis/billmirror/internal/event"
	eventdomain "github.com/smallbiznis/billmirror/internal/event/domain"
	"github.com/smallbiznis/billmirror/internal/invoice"
	"github.com/smallbiznis/billmirror/internal/lifecycle"
	lifecycledomain "github.com/smallbiznis/billmirror/internal/lifecycle/domain"
	"github.com/smallbiznis/billmirror/internal/notify"
	"github.com/smallbiznis/billmirror/internal/observability"
	"github.com/smallbiznis/billmirror/internal/plan"
	plandomain "github.com/smallbiznis/billmirror/internal/plan/domain"
	"github.com/smallbiznis/billmirror/internal/providers"
	"github.com/smallbiznis/billmirror/internal/ratelimit"
	"github.com/smallbiznis/billmirror/internal/subscription"
	"github.com/smallbiznis/billmirror/internal/transfer"
	"github.com/smallbiznis/billmirror/pkg/db"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
)

const usage = `usage: admin [flags] <command>

commands:
  ensure-customers   create a billing customer for every account that lacks one
  push-plans         create the configured plan catalog remotely
  resync             overwrite the local mirror from the remote service
  retry-events       re-dispatch failed webhook events
  retry-invoices     retry payment of every open invoice

flags:
`

type services struct {
	fx.In

	Customers customerdomain.Service
	Events    eventdomain.Service
	Lifecycle lifecycledomain.Service
	Plans     plandomain.Service
	Policy    *config.PolicyHolder
}

func main() {
	flags := pflag.NewFlagSet("admin", pflag.ExitOnError)
	customerRef := flags.String("customer", "", "resync a single customer (remote id or local id)")
	limit := flags.Int("limit", 100, "maximum events handled by retry-events")
	timeout := flags.Duration("timeout", 30*time.Minute, "abort the command after this long")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])
	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}
	command := flags.Arg(0)

	var svc services
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		providers.Module,
		notify.Module,
		ratelimit.Module,

		account.Module,
		customer.Module,
		subscription.Module,
		invoice.Module,
		charge.Module,
		transfer.Module,
		plan.Module,
		event.Module,
		lifecycle.Module,

		fx.Populate(&svc),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		os.Exit(1)
	}
	err := run(ctx, svc, command, *customerRef, *limit)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = app.Stop(stopCtx)

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, svc services, command, customerRef string, limit int) error {
	switch command {
	case "ensure-customers":
		return report(svc.Lifecycle.EnsureCustomers(ctx, progress))
	case "push-plans":
		return pushPlans(ctx, svc)
	case "resync":
		if strings.TrimSpace(customerRef) == "" {
			return report(svc.Lifecycle.ResyncAll(ctx, progress))
		}
		customer, err := findCustomer(ctx, svc.Customers, customerRef)
		if err != nil {
			return err
		}
		err = svc.Lifecycle.Resync(ctx, customer)
		progress(customer, err)
		return err
	case "retry-events":
		result, err := svc.Events.RetryFailed(ctx, limit)
		fmt.Printf("attempted=%d processed=%d failed=%d\n", result.Attempted, result.Processed, result.Failed)
		return err
	case "retry-invoices":
		return report(svc.Lifecycle.RetryAllUnpaidInvoices(ctx, progress))
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func pushPlans(ctx context.Context, svc services) error {
	result, err := svc.Plans.Push(ctx, svc.Policy.Get().Plans)
	for _, id := range result.Created {
		fmt.Printf("created  %s\n", id)
	}
	for _, id := range result.Imported {
		fmt.Printf("imported %s\n", id)
	}
	for _, id := range result.Skipped {
		fmt.Printf("skipped  %s\n", id)
	}
	return err
}

func findCustomer(ctx context.Context, customers customerdomain.Service, ref string) (customerdomain.Customer, error) {
	ref = strings.TrimSpace(ref)
	found, err := customers.FindByProviderID(ctx, nil, ref)
	if err != nil {
		return customerdomain.Customer{}, err
	}
	if found != nil {
		return *found, nil
	}
	id, err := snowflake.ParseString(ref)
	if err != nil {
		return customerdomain.Customer{}, fmt.Errorf("customer %q: %w", ref, customerdomain.ErrNotFound)
	}
	return customers.GetByID(ctx, id)
}

func progress(customer customerdomain.Customer, err error) {
	if err != nil {
		fmt.Printf("FAIL %s: %v\n", customer.ProviderID, err)
		return
	}
	fmt.Printf("ok   %s\n", customer.ProviderID)
}

func report(result lifecycledomain.BulkResult, err error) error {
	fmt.Printf("total=%d succeeded=%d failed=%d\n", result.Total, result.Succeeded, result.Failed)
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return errors.New("some customers failed")
	}
	return nil
}
