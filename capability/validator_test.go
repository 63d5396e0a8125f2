package capability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/capability"
	"github.com/toka-systems/toka/ids"
)

func TestIssueAndValidateRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	issuer := capability.NewIssuer(secret)
	validator := capability.NewValidator(secret, capability.NewMemoryNonceCache())

	subject := ids.NewEntityId()
	token, err := issuer.Issue(subject, []string{"scheduler.submit"}, time.Hour, "nonce-1")
	require.NoError(t, err)

	claims, err := validator.Validate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, subject, claims.Subject)
	require.True(t, claims.Has("scheduler.submit"))
}

func TestValidateRejectsBadSignature(t *testing.T) {
	issuer := capability.NewIssuer([]byte("secret-a"))
	validator := capability.NewValidator([]byte("secret-b"), capability.NewMemoryNonceCache())

	token, err := issuer.Issue(ids.NewEntityId(), []string{"agents.spawn"}, time.Hour, "nonce-2")
	require.NoError(t, err)

	_, err = validator.Validate(context.Background(), token)
	require.ErrorIs(t, err, capability.ErrBadSignature)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	secret := []byte("secret")
	issuer := capability.NewIssuer(secret)
	validator := capability.NewValidator(secret, capability.NewMemoryNonceCache())

	token, err := issuer.Issue(ids.NewEntityId(), []string{"agents.spawn"}, -time.Minute, "nonce-3")
	require.NoError(t, err)

	_, err = validator.Validate(context.Background(), token)
	require.ErrorIs(t, err, capability.ErrExpired)
}

func TestValidateRejectsReplayedNonce(t *testing.T) {
	secret := []byte("secret")
	issuer := capability.NewIssuer(secret)
	validator := capability.NewValidator(secret, capability.NewMemoryNonceCache())

	token, err := issuer.Issue(ids.NewEntityId(), []string{"agents.spawn"}, time.Hour, "nonce-4")
	require.NoError(t, err)

	_, err = validator.Validate(context.Background(), token)
	require.NoError(t, err)

	_, err = validator.Validate(context.Background(), token)
	require.ErrorIs(t, err, capability.ErrReplayed)
}

func TestValidateRejectsMalformedToken(t *testing.T) {
	validator := capability.NewValidator([]byte("secret"), capability.NewMemoryNonceCache())
	_, err := validator.Validate(context.Background(), "not-a-token")
	require.ErrorIs(t, err, capability.ErrMalformedToken)
}
