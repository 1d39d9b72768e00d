package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/smallbiznis/billmirror/internal/providers/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))

	err := mapError(&stripe.Error{
		Type:           stripe.ErrorTypeInvalidRequest,
		Msg:            "No such customer: cus_x",
		HTTPStatusCode: http.StatusBadRequest,
		APIResource:    stripe.APIResource{LastResponse: &stripe.APIResponse{RawJSON: []byte(`{"error":{}}`)}},
	})
	remoteErr, ok := billing.AsError(err)
	require.True(t, ok)
	assert.Equal(t, billing.CategoryInvalidRequest, remoteErr.Category)
	assert.Equal(t, `{"error":{}}`, string(remoteErr.Body))
	assert.True(t, billing.IsCustomerGone(err))

	err = mapError(&stripe.Error{HTTPStatusCode: http.StatusTooManyRequests})
	assert.True(t, billing.IsRateLimited(err))

	err = mapError(&stripe.Error{HTTPStatusCode: http.StatusUnauthorized})
	remoteErr, _ = billing.AsError(err)
	assert.Equal(t, billing.CategoryAuthentication, remoteErr.Category)

	err = mapError(errors.New("dial tcp: connection refused"))
	remoteErr, _ = billing.AsError(err)
	assert.Equal(t, billing.CategoryConnection, remoteErr.Category)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{}, zap.NewNop(), nil)
	assert.ErrorIs(t, err, billing.ErrNotConfigured)
}

func signatureHeader(t *testing.T, payload []byte, secret string, at time.Time) string {
	t.Helper()
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifier(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"ping","data":{"object":{}}}`)
	verifier := NewVerifier("whsec_test", 5*time.Minute)

	assert.NoError(t, verifier.Verify(payload, signatureHeader(t, payload, "whsec_test", time.Now())))

	err := verifier.Verify(payload, signatureHeader(t, payload, "whsec_other", time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	err = verifier.Verify(payload, signatureHeader(t, payload, "whsec_test", time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	err = verifier.Verify(payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
