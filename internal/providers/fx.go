package providers

import (
	"github.com/smallbiznis/billmirror/internal/providers/billing/stripe"
	"github.com/smallbiznis/billmirror/internal/providers/email"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	stripe.Module,
	email.Module,
)
