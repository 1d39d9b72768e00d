package billing

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Category is the remote error classification.
type Category string

const (
	CategoryInvalidRequest Category = "invalid_request_error"
	CategoryAPI            Category = "api_error"
	CategoryCard           Category = "card_error"
	CategoryRateLimit      Category = "rate_limit_error"
	CategoryAuthentication Category = "authentication_error"
	CategoryIdempotency    Category = "idempotency_error"
	CategoryConnection     Category = "api_connection_error"
)

// Error is returned for every non-2xx remote response.
type Error struct {
	Category Category
	Code     string
	Message  string
	Status   int
	Body     []byte
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("billing %s (%s): %s", e.Category, e.Code, e.Message)
	}
	return fmt.Sprintf("billing %s: %s", e.Category, e.Message)
}

var ErrNotConfigured = errors.New("billing_client_not_configured")

// AsError unwraps a remote error.
func AsError(err error) (*Error, bool) {
	var remoteErr *Error
	if errors.As(err, &remoteErr) && remoteErr != nil {
		return remoteErr, true
	}
	return nil, false
}

// IsInvalidRequest reports whether the remote rejected the request as invalid, which for
// lifecycle calls means the local view of the customer's payment state is stale.
func IsInvalidRequest(err error) bool {
	remoteErr, ok := AsError(err)
	return ok && remoteErr.Category == CategoryInvalidRequest
}

// IsNotFound reports a missing remote resource.
func IsNotFound(err error) bool {
	remoteErr, ok := AsError(err)
	if !ok {
		return false
	}
	return remoteErr.Status == http.StatusNotFound || remoteErr.Code == "resource_missing"
}

// IsRateLimited reports a rate-limit rejection.
func IsRateLimited(err error) bool {
	remoteErr, ok := AsError(err)
	return ok && (remoteErr.Category == CategoryRateLimit || remoteErr.Status == http.StatusTooManyRequests)
}

// IsCustomerGone matches the "No such customer" invalid request returned when deleting a
// customer that the remote no longer has.
func IsCustomerGone(err error) bool {
	remoteErr, ok := AsError(err)
	if !ok || remoteErr.Category != CategoryInvalidRequest {
		return false
	}
	return strings.HasPrefix(remoteErr.Message, "No such customer")
}

// IsAlreadyPaid matches the invalid request returned when paying a settled invoice.
func IsAlreadyPaid(err error) bool {
	remoteErr, ok := AsError(err)
	if !ok || remoteErr.Category != CategoryInvalidRequest {
		return false
	}
	return strings.TrimSpace(remoteErr.Message) == "Invoice is already paid"
}

// IsNothingToInvoice matches the invalid request returned when a customer has no pending
// invoice items.
func IsNothingToInvoice(err error) bool {
	remoteErr, ok := AsError(err)
	if !ok || remoteErr.Category != CategoryInvalidRequest {
		return false
	}
	if remoteErr.Code == "invoice_no_customer_line_items" {
		return true
	}
	return strings.HasPrefix(remoteErr.Message, "Nothing to invoice")
}
