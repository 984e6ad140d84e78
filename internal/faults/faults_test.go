package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindDispatch(t *testing.T) {
	err := New(ErrInput, "price out of range").With("price", 0)
	assert.ErrorIs(t, err, ErrInput)
	assert.NotErrorIs(t, err, ErrAPI)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ErrConnection, "place order", cause)
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, cause)
}

func TestRedactionInErrorString(t *testing.T) {
	err := New(ErrAuthFailure, "signing failed").
		With("api_key", "k-12345").
		With("private_key_pem", "-----BEGIN RSA-----").
		With("ticker", "KXHIGHNY-26JAN05-B53.5")

	s := err.Error()
	assert.NotContains(t, s, "k-12345")
	assert.NotContains(t, s, "BEGIN RSA")
	assert.Contains(t, s, Redacted)
	assert.Contains(t, s, "KXHIGHNY-26JAN05-B53.5")
}

func TestContextRedaction(t *testing.T) {
	err := New(ErrAPI, "bad gateway").
		With("access_token", "tok").
		With("password", "hunter2").
		With("db_credential", "x").
		With("status", 502)

	ctx := err.Context()
	require.Len(t, ctx, 4)
	assert.Equal(t, Redacted, ctx["access_token"])
	assert.Equal(t, Redacted, ctx["password"])
	assert.Equal(t, Redacted, ctx["db_credential"])
	assert.Equal(t, "502", ctx["status"])
}

func TestIsSecretKey(t *testing.T) {
	for _, k := range []string{"api_key", "SECRET", "Password", "authToken", "private_pem", "credentials"} {
		assert.True(t, IsSecretKey(k), k)
	}
	for _, k := range []string{"ticker", "city", "price_cents"} {
		assert.False(t, IsSecretKey(k), k)
	}
}

func TestErrorFormatting(t *testing.T) {
	err := New(ErrStaleData, "prediction too old").With("age_minutes", 130)
	assert.Equal(t, "stale data: prediction too old (age_minutes=130)", err.Error())
	assert.Equal(t, "stale data: prediction too old (age_minutes=130)", fmt.Sprintf("%v", err))
}
