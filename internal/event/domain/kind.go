package domain

import "strings"

// Kind is the remote event type, for example "invoice.payment_succeeded".
type Kind string

const (
	KindCustomerCreated         Kind = "customer.created"
	KindCustomerUpdated         Kind = "customer.updated"
	KindCustomerDeleted         Kind = "customer.deleted"
	KindInvoicePaymentSucceeded Kind = "invoice.payment_succeeded"
	KindInvoicePaymentFailed    Kind = "invoice.payment_failed"
	KindTransferCreated         Kind = "transfer.created"
)

// KindFamily groups kinds that share one reconciliation routine.
type KindFamily string

const (
	FamilyInvoice         KindFamily = "invoice"
	FamilyCharge          KindFamily = "charge"
	FamilyTransfer        KindFamily = "transfer"
	FamilySubscription    KindFamily = "customer.subscription"
	FamilyCustomerDeleted KindFamily = "customer.deleted"
	FamilyOther           KindFamily = "other"
)

func (k Kind) Family() KindFamily {
	s := string(k)
	switch {
	case strings.HasPrefix(s, "customer.subscription."):
		return FamilySubscription
	case k == KindCustomerDeleted:
		return FamilyCustomerDeleted
	case strings.HasPrefix(s, "invoice."):
		return FamilyInvoice
	case strings.HasPrefix(s, "charge."):
		return FamilyCharge
	case strings.HasPrefix(s, "transfer."):
		return FamilyTransfer
	default:
		return FamilyOther
	}
}

// LinksByObjectID reports whether the event object is the customer itself rather than
// an object carrying a customer reference.
func (k Kind) LinksByObjectID() bool {
	switch k {
	case KindCustomerCreated, KindCustomerUpdated, KindCustomerDeleted:
		return true
	}
	return false
}

// Resyncs reports whether an invoice kind re-fetches the invoice.
func (k Kind) Resyncs() bool {
	return k == KindInvoicePaymentSucceeded || k == KindInvoicePaymentFailed
}
