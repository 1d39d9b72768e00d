package main

import (
	"github.com/smallbiznis/billmirror/internal/account"
	"github.com/smallbiznis/billmirror/internal/charge"
	"github.com/smallbiznis/billmirror/internal/clock"
	"github.com/smallbiznis/billmirror/internal/config"
	"github.com/smallbiznis/billmirror/internal/customer"
	"github.com/smallbiznis/billmirror/internal/event"
	"github.com/smallbiznis/billmirror/internal/invoice"
	"github.com/smallbiznis/billmirror/internal/lifecycle"
	"github.com/smallbiznis/billmirror/internal/notify"
	"github.com/smallbiznis/billmirror/internal/observability"
	"github.com/smallbiznis/billmirror/internal/plan"
	"github.com/smallbiznis/billmirror/internal/providers"
	"github.com/smallbiznis/billmirror/internal/ratelimit"
	"github.com/smallbiznis/billmirror/internal/scheduler"
	"github.com/smallbiznis/billmirror/internal/subscription"
	"github.com/smallbiznis/billmirror/internal/transfer"
	"github.com/smallbiznis/billmirror/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		providers.Module,
		notify.Module,
		ratelimit.Module,

		// Domain services required by scheduler
		account.Module,
		customer.Module,
		subscription.Module,
		invoice.Module,
		charge.Module,
		transfer.Module,
		plan.Module,
		event.Module,
		lifecycle.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}
