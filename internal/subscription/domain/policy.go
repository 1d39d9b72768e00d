package domain

import "github.com/smallbiznis/billmirror/internal/config"

// Policy carries the cancellation and proration rules for one sync or lifecycle call.
type Policy struct {
	// CancelAtPeriodEnd honours the remote at-period-end flag locally. When false a pending
	// cancellation is not mirrored and access ends with the remote status change.
	CancelAtPeriodEnd bool
	Prorate           bool
}

func PolicyFromConfig(cfg config.BillingPolicy) Policy {
	return Policy{
		CancelAtPeriodEnd: cfg.CancelAtPeriodEnd,
		Prorate:           cfg.Prorate,
	}
}
