package syncerr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantKind  error
		wantRetry bool
		wantHTTP  int
	}{
		{"unauthorized asks for reauth", http.StatusUnauthorized, ErrUpstreamAuthExpired, false, http.StatusUnauthorized},
		{"server error is unavailable", http.StatusInternalServerError, ErrUpstreamUnavailable, true, http.StatusBadGateway},
		{"forbidden is unavailable", http.StatusForbidden, ErrUpstreamUnavailable, true, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromStatus("roster", tt.status)
			assert.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.wantRetry, Retryable(err))
			assert.Equal(t, tt.wantHTTP, HTTPStatus(err))

			var ue *UpstreamError
			assert.True(t, errors.As(err, &ue))
			assert.Equal(t, tt.status, ue.StatusCode)
		})
	}
}

func TestWrappedCausesStayVisible(t *testing.T) {
	cause := errors.New("connection reset")
	err := Unavailable("forum", cause)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")

	m := Malformed("abas", errors.New("unexpected token"))
	assert.ErrorIs(t, m, ErrMalformedUpstreamPayload)
	assert.False(t, Retryable(m))
	assert.Equal(t, "MALFORMED_UPSTREAM_PAYLOAD", Code(m))
}

func TestTransaction(t *testing.T) {
	assert.NoError(t, Transaction(nil))

	err := Transaction(errors.New("deadlock detected"))
	assert.ErrorIs(t, err, ErrTransactionFailure)
	assert.True(t, Retryable(err))

	// wrapping twice does not nest the sentinel
	assert.Equal(t, err, Transaction(err))
	assert.Equal(t, "TRANSACTION_FAILURE", Code(err))
	assert.Equal(t, "INTERNAL_ERROR", Code(errors.New("boom")))
}
