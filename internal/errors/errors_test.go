package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaxonomyStatusCodes(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, Unauthorized("x").HTTPStatus)
	assert.Equal(t, http.StatusNotFound, NotFound("x").HTTPStatus)
	assert.Equal(t, http.StatusPaymentRequired, InsufficientCredits(1, 2).HTTPStatus)
	assert.Equal(t, http.StatusBadRequest, InvalidRequest("x").HTTPStatus)
	assert.Equal(t, http.StatusTooManyRequests, RateLimited().HTTPStatus)
	assert.Equal(t, http.StatusServiceUnavailable, Unavailable("x", nil).HTTPStatus)
	assert.Equal(t, http.StatusInternalServerError, Internal("x", nil).HTTPStatus)
}

func TestInsufficientCreditsMessage(t *testing.T) {
	err := InsufficientCredits(5, 30)
	assert.Equal(t, CodeInsufficientCredits, err.Code)
	assert.Contains(t, err.Message, "5")
	assert.Contains(t, err.Message, "30")
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("debit: %w", NotFound("user not found"))
	assert.True(t, errors.Is(err, NotFound("")))
	assert.False(t, errors.Is(err, Unauthorized("")))
}

func TestGetServiceErrorUnwraps(t *testing.T) {
	inner := Unavailable("pool exhausted", errors.New("dial tcp: timeout"))
	wrapped := fmt.Errorf("get balance: %w", inner)

	se := GetServiceError(wrapped)
	require.NotNil(t, se)
	assert.Equal(t, CodeUnavailable, se.Code)

	assert.Nil(t, GetServiceError(errors.New("plain")))
	assert.Nil(t, GetServiceError(nil))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal("debit failed", cause)
	assert.True(t, errors.Is(err, cause))
}
